// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"
	"time"

	"github.com/xcherryio/flowengine/common/clock"
	"github.com/xcherryio/flowengine/common/log"
)

type (
	// TimerGate wakes up a single consumer at the earliest of the requested times
	TimerGate interface {
		// FireChan return the signals channel of firing timers
		// after receiving an empty signal, caller should call Update to set up next one
		FireChan() <-chan struct{}
		// NextFireTime returns when the pending timer fires, zero when nothing is pending
		NextFireTime() time.Time
		// Update schedules a fire at nextTime, return true if the schedule changed.
		// A pending fire that is sooner than nextTime is kept
		Update(nextTime time.Time) bool
		// Close stops the pending timer, FireChan is not closed
		Close()
	}

	localTimerGate struct {
		sync.Mutex

		timeSource clock.TimeSource
		logger     log.Logger

		fireChan chan struct{}
		timer    *time.Timer
		// generation invalidates the callback of a timer that was replaced but already running
		generation int64
		nextTime   time.Time
		pending    bool
		closed     bool
	}
)

// NewLocalTimerGate create a new timer gate instance, the wait of Update is computed with timeSource
func NewLocalTimerGate(logger log.Logger, timeSource clock.TimeSource) TimerGate {
	return &localTimerGate{
		timeSource: timeSource,
		logger:     logger,
		// one buffered signal, a poll serves every fire that happened before it
		fireChan: make(chan struct{}, 1),
	}
}

func (tg *localTimerGate) FireChan() <-chan struct{} {
	return tg.fireChan
}

func (tg *localTimerGate) NextFireTime() time.Time {
	tg.Lock()
	defer tg.Unlock()
	if !tg.pending {
		return time.Time{}
	}
	return tg.nextTime
}

func (tg *localTimerGate) Update(nextTime time.Time) bool {
	tg.Lock()
	defer tg.Unlock()
	if tg.closed {
		return false
	}
	if tg.pending && !tg.nextTime.After(nextTime) {
		return false
	}

	if tg.timer != nil {
		tg.timer.Stop()
	}
	tg.generation++
	generation := tg.generation
	tg.nextTime = nextTime
	tg.pending = true
	// negative duration fires right away
	tg.timer = time.AfterFunc(nextTime.Sub(tg.timeSource.Now()), func() {
		tg.fire(generation)
	})
	return true
}

func (tg *localTimerGate) fire(generation int64) {
	tg.Lock()
	if tg.closed || generation != tg.generation {
		tg.Unlock()
		return
	}
	tg.pending = false
	tg.Unlock()

	select {
	case tg.fireChan <- struct{}{}:
	default:
		tg.logger.Debug("timer gate signal is not consumed yet, dropping the fire")
	}
}

func (tg *localTimerGate) Close() {
	tg.Lock()
	defer tg.Unlock()
	tg.closed = true
	tg.pending = false
	if tg.timer != nil {
		tg.timer.Stop()
	}
}
