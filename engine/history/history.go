// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package history is the audit side channel of the engine.
// Events are collected during a command and handed to the Sink inside the command's transaction.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"go.uber.org/multierr"
)

type EventType string

const (
	EventProcessInstanceStarted EventType = "process-instance-started"
	EventProcessInstanceEnded   EventType = "process-instance-ended"
	EventExecutionCreated       EventType = "execution-created"
	EventExecutionEnded         EventType = "execution-ended"
	EventActivityStarted        EventType = "activity-started"
	EventJobCreated             EventType = "job-created"
	EventJobFailed              EventType = "job-failed"
	EventJobDueDateChanged      EventType = "job-due-date-changed"
	EventSubscriptionAdded      EventType = "subscription-added"
	EventSubscriptionRemoved    EventType = "subscription-removed"
	EventIncidentCreated        EventType = "incident-created"
	EventIncidentResolved       EventType = "incident-resolved"
)

type Event struct {
	Type                EventType
	Time                time.Time
	ProcessInstanceId   string
	ProcessDefinitionId string
	ExecutionId         string
	ActivityId          string
	JobId               string
	SubscriptionId      string
	IncidentId          string
	EventName           string
	TenantId            string
	Message             string
}

// Sink receives the events of a command before it commits. An error aborts the command.
type Sink interface {
	Record(ctx context.Context, events []Event) error
}

type noopSink struct{}

func NewNoopSink() Sink {
	return noopSink{}
}

func (noopSink) Record(context.Context, []Event) error {
	return nil
}

type loggingSink struct {
	logger log.Logger
}

// NewLoggingSink writes every event as a debug log line
func NewLoggingSink(logger log.Logger) Sink {
	return &loggingSink{logger: logger}
}

func (s *loggingSink) Record(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Debug("history event",
			tag.Value(e.Type),
			tag.ProcessInstanceId(e.ProcessInstanceId),
			tag.ExecutionId(e.ExecutionId),
			tag.ActivityId(e.ActivityId),
			tag.JobId(e.JobId),
			tag.Message(e.Message))
	}
	return nil
}

type compositeSink struct {
	sinks []Sink
}

// NewCompositeSink calls every sink in order, all of them are called even if one fails
func NewCompositeSink(sinks ...Sink) Sink {
	return &compositeSink{sinks: sinks}
}

func (s *compositeSink) Record(ctx context.Context, events []Event) error {
	var err error
	for _, sink := range s.sinks {
		err = multierr.Append(err, sink.Record(ctx, events))
	}
	return err
}

// MemorySink keeps the recorded events, for tests and diagnostics
type MemorySink struct {
	sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(_ context.Context, events []Event) error {
	s.Lock()
	defer s.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.Lock()
	defer s.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *MemorySink) EventsOfType(t EventType) []Event {
	var result []Event
	for _, e := range s.Events() {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}
