// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

type (
	// TimeSource is the source of "now" for everything that compares against due dates and lock expirations
	TimeSource interface {
		Now() time.Time
	}

	realTimeSource struct{}

	// FakeTimeSource is a TimeSource that only moves when told to
	FakeTimeSource struct {
		sync.RWMutex
		now time.Time
	}
)

func NewRealTimeSource() TimeSource {
	return &realTimeSource{}
}

func (ts *realTimeSource) Now() time.Time {
	return time.Now().UTC()
}

func NewFakeTimeSource(now time.Time) *FakeTimeSource {
	return &FakeTimeSource{now: now.UTC()}
}

func (ts *FakeTimeSource) Now() time.Time {
	ts.RLock()
	defer ts.RUnlock()
	return ts.now
}

func (ts *FakeTimeSource) Update(now time.Time) {
	ts.Lock()
	defer ts.Unlock()
	ts.now = now.UTC()
}

func (ts *FakeTimeSource) Advance(d time.Duration) {
	ts.Lock()
	defer ts.Unlock()
	ts.now = ts.now.Add(d)
}
