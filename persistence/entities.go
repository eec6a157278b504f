// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"time"
)

type EntityType string

const (
	EntityTypeExecution         EntityType = "Execution"
	EntityTypeJob               EntityType = "Job"
	EntityTypeEventSubscription EntityType = "EventSubscription"
	EntityTypeIncident          EntityType = "Incident"
)

// Entity is a revisioned row the session tracks.
// PersistentState is compared between load and flush to detect updates, it must not include the revision.
type Entity interface {
	EntityType() EntityType
	GetId() string
	GetRevision() int32
	SetRevision(revision int32)
	Clone() Entity
	PersistentState() any
}

type EventType string

const (
	EventTypeMessage     EventType = "message"
	EventTypeSignal      EventType = "signal"
	EventTypeTimer       EventType = "timer"
	EventTypeConditional EventType = "conditional"
)

const IncidentTypeFailedJob = "failedJob"

type (
	// Execution is one control flow position of a process instance.
	// The root execution has an empty ParentId and its Id equals the ProcessInstanceId.
	Execution struct {
		Id                  string
		ProcessInstanceId   string
		ParentId            string
		ProcessDefinitionId string
		ActivityId          string
		IsActive            bool
		IsConcurrent        bool
		IsScope             bool
		IsEnded             bool
		BusinessKey         string
		TenantId            string
		// JoinArrivals counts the concurrent children that arrived at a joining gateway, keyed by gateway id
		JoinArrivals map[string]int
		// Variables are only kept on the root execution
		Variables  map[string]any
		CreateTime time.Time
		Revision   int32
	}

	Job struct {
		Id                   string
		HandlerType          string
		HandlerConfiguration string
		DueDate              time.Time
		// LockOwner is empty when the job is not locked
		LockOwner           string
		LockExpirationTime  *time.Time
		Retries             int32
		ExceptionMessage    string
		ExceptionStacktrace string
		Priority            int64
		ExecutionId         string
		ProcessInstanceId   string
		ProcessDefinitionId string
		ActivityId          string
		TenantId            string
		IsExclusive         bool
		Suspended           bool
		// RetryTimeCycle overrides the retry cycle of the activity and the engine default
		RetryTimeCycle string
		CreateTime     time.Time
		Revision       int32
	}

	EventSubscription struct {
		Id        string
		EventType EventType
		EventName string
		// ExecutionId is empty for start event subscriptions, which are owned by the process definition
		ExecutionId         string
		ProcessInstanceId   string
		ProcessDefinitionId string
		ActivityId          string
		TenantId            string
		Configuration       string
		CreateTime          time.Time
		Revision            int32
	}

	Incident struct {
		Id                  string
		IncidentType        string
		JobId               string
		ExecutionId         string
		ProcessInstanceId   string
		ProcessDefinitionId string
		ActivityId          string
		TenantId            string
		Message             string
		CreateTime          time.Time
		Revision            int32
	}
)

var (
	_ Entity = (*Execution)(nil)
	_ Entity = (*Job)(nil)
	_ Entity = (*EventSubscription)(nil)
	_ Entity = (*Incident)(nil)
)

func (e *Execution) EntityType() EntityType { return EntityTypeExecution }
func (e *Execution) GetId() string          { return e.Id }
func (e *Execution) GetRevision() int32     { return e.Revision }
func (e *Execution) SetRevision(r int32)    { e.Revision = r }

func (e *Execution) Clone() Entity {
	c := *e
	if e.JoinArrivals != nil {
		c.JoinArrivals = make(map[string]int, len(e.JoinArrivals))
		for k, v := range e.JoinArrivals {
			c.JoinArrivals[k] = v
		}
	}
	if e.Variables != nil {
		c.Variables = make(map[string]any, len(e.Variables))
		for k, v := range e.Variables {
			c.Variables[k] = v
		}
	}
	return &c
}

func (e *Execution) PersistentState() any {
	c := e.Clone().(*Execution)
	c.Revision = 0
	if len(c.JoinArrivals) == 0 {
		c.JoinArrivals = nil
	}
	if len(c.Variables) == 0 {
		c.Variables = nil
	}
	return *c
}

func (e *Execution) IsProcessInstance() bool {
	return e.ParentId == ""
}

// ArriveAtJoin increments the arrival counter of a gateway and returns the new count
func (e *Execution) ArriveAtJoin(gatewayId string) int {
	if e.JoinArrivals == nil {
		e.JoinArrivals = map[string]int{}
	}
	e.JoinArrivals[gatewayId]++
	return e.JoinArrivals[gatewayId]
}

func (e *Execution) ResetJoin(gatewayId string) {
	delete(e.JoinArrivals, gatewayId)
}

func (j *Job) EntityType() EntityType { return EntityTypeJob }
func (j *Job) GetId() string          { return j.Id }
func (j *Job) GetRevision() int32     { return j.Revision }
func (j *Job) SetRevision(r int32)    { j.Revision = r }

func (j *Job) Clone() Entity {
	c := *j
	if j.LockExpirationTime != nil {
		t := *j.LockExpirationTime
		c.LockExpirationTime = &t
	}
	return &c
}

func (j *Job) PersistentState() any {
	c := j.Clone().(*Job)
	c.Revision = 0
	return *c
}

// IsLocked tells whether a lease on the job is held at now
func (j *Job) IsLocked(now time.Time) bool {
	return j.LockOwner != "" && j.LockExpirationTime != nil && !j.LockExpirationTime.Before(now)
}

func (j *Job) IsAcquirable(now time.Time) bool {
	return !j.DueDate.After(now) && !j.Suspended && j.Retries > 0 && !j.IsLocked(now)
}

// IsTerminal is true once retries are exhausted by a failure
func (j *Job) IsTerminal() bool {
	return j.Retries <= 0 && j.ExceptionMessage != ""
}

func (j *Job) Lock(owner string, until time.Time) {
	j.LockOwner = owner
	j.LockExpirationTime = &until
}

func (j *Job) Unlock() {
	j.LockOwner = ""
	j.LockExpirationTime = nil
}

func (s *EventSubscription) EntityType() EntityType { return EntityTypeEventSubscription }
func (s *EventSubscription) GetId() string          { return s.Id }
func (s *EventSubscription) GetRevision() int32     { return s.Revision }
func (s *EventSubscription) SetRevision(r int32)    { s.Revision = r }

func (s *EventSubscription) Clone() Entity {
	c := *s
	return &c
}

func (s *EventSubscription) PersistentState() any {
	c := *s
	c.Revision = 0
	return c
}

func (s *EventSubscription) IsStartEvent() bool {
	return s.ExecutionId == ""
}

func (i *Incident) EntityType() EntityType { return EntityTypeIncident }
func (i *Incident) GetId() string          { return i.Id }
func (i *Incident) GetRevision() int32     { return i.Revision }
func (i *Incident) SetRevision(r int32)    { i.Revision = r }

func (i *Incident) Clone() Entity {
	c := *i
	return &c
}

func (i *Incident) PersistentState() any {
	c := *i
	c.Revision = 0
	return c
}
