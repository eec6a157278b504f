// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sync"
)

// exclusiveGate admits one job per process instance at a time, waiters are admitted in arrival order.
// Acquire blocks until the instance is free or ctx is done, Release must follow every successful Acquire.
type exclusiveGate struct {
	sync.Mutex
	slots map[string]*gateSlot
}

// gateSlot exists while a job of the instance runs, Release hands it to the first waiter
type gateSlot struct {
	waiters []chan struct{}
}

func newExclusiveGate() *exclusiveGate {
	return &exclusiveGate{slots: map[string]*gateSlot{}}
}

func (g *exclusiveGate) Acquire(ctx context.Context, processInstanceId string) error {
	g.Lock()
	slot, ok := g.slots[processInstanceId]
	if !ok {
		g.slots[processInstanceId] = &gateSlot{}
		g.Unlock()
		return nil
	}
	admitted := make(chan struct{})
	slot.waiters = append(slot.waiters, admitted)
	g.Unlock()

	select {
	case <-admitted:
		return nil
	case <-ctx.Done():
	}

	g.Lock()
	for i, w := range slot.waiters {
		if w == admitted {
			slot.waiters = append(slot.waiters[:i:i], slot.waiters[i+1:]...)
			g.Unlock()
			return ctx.Err()
		}
	}
	g.Unlock()
	// admitted while giving up, pass the slot on
	g.Release(processInstanceId)
	return ctx.Err()
}

func (g *exclusiveGate) Release(processInstanceId string) {
	g.Lock()
	defer g.Unlock()
	slot, ok := g.slots[processInstanceId]
	if !ok {
		return
	}
	if len(slot.waiters) == 0 {
		delete(g.slots, processInstanceId)
		return
	}
	next := slot.waiters[0]
	slot.waiters = slot.waiters[1:]
	close(next)
}

// Held returns the number of instances with a running or waiting job
func (g *exclusiveGate) Held() int {
	g.Lock()
	defer g.Unlock()
	return len(g.slots)
}

// Waiting returns the number of jobs queued behind the running job of an instance
func (g *exclusiveGate) Waiting(processInstanceId string) int {
	g.Lock()
	defer g.Unlock()
	if slot, ok := g.slots[processInstanceId]; ok {
		return len(slot.waiters)
	}
	return 0
}
