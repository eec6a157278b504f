// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package jobs declares, fails, retries and manages jobs.
// The logic a job runs is a Handler registered by handler type when the engine starts.
package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/persistence"
)

const (
	HandlerAsyncContinuation = "async-continuation"
	HandlerTimerTransition   = "timer-intermediate-transition"
	HandlerTimerStartEvent   = "timer-start-event"
	HandlerHistoryCleanup    = "history-cleanup"
)

type Outcome int

const (
	// OutcomeCompleted deletes the job
	OutcomeCompleted Outcome = iota
	// OutcomeRescheduled keeps the job, the handler has moved its due date
	OutcomeRescheduled
)

type (
	Handler interface {
		Type() string
		// Execute runs inside the command of the job. An error rolls it back and fails the job.
		Execute(cctx *command.Context, job *persistence.Job) (Outcome, error)
	}

	// TimerHandler is a handler whose jobs carry a TimerConfiguration, only their due date can be recalculated
	TimerHandler interface {
		Handler
		IsTimerHandler() bool
	}

	// EverLivingHandler jobs are never exhausted by failures, they are rescheduled to the next due date instead
	EverLivingHandler interface {
		Handler
		NextDueDate(cctx *command.Context, job *persistence.Job) (time.Time, error)
	}

	// DueDateListener is notified when an operator recalculates the due date of a job
	DueDateListener func(cctx *command.Context, job *persistence.Job, previousDueDate time.Time)
)

type Registry struct {
	sync.RWMutex
	handlers  map[string]Handler
	listeners []DueDateListener
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(handler Handler) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.handlers[handler.Type()]; ok {
		return errs.Configuration("a job handler of type %s is already registered", handler.Type())
	}
	r.handlers[handler.Type()] = handler
	return nil
}

// Lookup returns an ErrConfiguration error when no handler is registered for the type
func (r *Registry) Lookup(handlerType string) (Handler, error) {
	r.RLock()
	defer r.RUnlock()
	handler, ok := r.handlers[handlerType]
	if !ok {
		return nil, errs.Configuration("no job handler is registered for type %s", handlerType)
	}
	return handler, nil
}

func (r *Registry) IsTimerHandler(handlerType string) bool {
	handler, err := r.Lookup(handlerType)
	if err != nil {
		return false
	}
	timerHandler, ok := handler.(TimerHandler)
	return ok && timerHandler.IsTimerHandler()
}

func (r *Registry) Types() []string {
	r.RLock()
	defer r.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) AddDueDateListener(listener DueDateListener) {
	r.Lock()
	defer r.Unlock()
	r.listeners = append(r.listeners, listener)
}

func (r *Registry) dueDateListeners() []DueDateListener {
	r.RLock()
	defer r.RUnlock()
	return append([]DueDateListener(nil), r.listeners...)
}
