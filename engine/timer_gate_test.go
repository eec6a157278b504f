// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xcherryio/flowengine/common/clock"
	"github.com/xcherryio/flowengine/common/log"
)

func TestTimerGateKeepsTheSoonerFire(t *testing.T) {
	timeSource := clock.NewRealTimeSource()
	gate := NewLocalTimerGate(log.NewNopLogger(), timeSource)
	defer gate.Close()

	soon := timeSource.Now().Add(50 * time.Millisecond)
	assert.True(t, gate.Update(soon))
	assert.False(t, gate.Update(soon.Add(time.Hour)))
	assert.Equal(t, soon, gate.NextFireTime())

	select {
	case <-gate.FireChan():
	case <-time.After(2 * time.Second):
		t.Fatal("timer gate did not fire")
	}
	assert.True(t, gate.NextFireTime().IsZero())
}

func TestTimerGateMovesToAnEarlierTime(t *testing.T) {
	timeSource := clock.NewRealTimeSource()
	gate := NewLocalTimerGate(log.NewNopLogger(), timeSource)
	defer gate.Close()

	assert.True(t, gate.Update(timeSource.Now().Add(time.Hour)))
	assert.True(t, gate.Update(timeSource.Now()))

	select {
	case <-gate.FireChan():
	case <-time.After(2 * time.Second):
		t.Fatal("timer gate did not fire at the earlier time")
	}

	// the replaced hour timer must not fire anymore
	select {
	case <-gate.FireChan():
		t.Fatal("unexpected second fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerGateClose(t *testing.T) {
	timeSource := clock.NewRealTimeSource()
	gate := NewLocalTimerGate(log.NewNopLogger(), timeSource)

	assert.True(t, gate.Update(timeSource.Now().Add(20*time.Millisecond)))
	gate.Close()
	assert.False(t, gate.Update(timeSource.Now()))

	select {
	case <-gate.FireChan():
		t.Fatal("closed timer gate fired")
	case <-time.After(100 * time.Millisecond):
	}
}
