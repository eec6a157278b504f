// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
	"strings"
	"time"
)

type OperationKind int

const (
	OperationInsert OperationKind = iota + 1
	OperationUpdate
	OperationDelete
)

func (k OperationKind) String() string {
	switch k {
	case OperationInsert:
		return "insert"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ConflictResolution is the answer to a conditional write that found another revision
type ConflictResolution int

const (
	// ConflictRethrow rolls back the whole flush
	ConflictRethrow ConflictResolution = iota
	// ConflictIgnore skips the operation and keeps going
	ConflictIgnore
)

type (
	Operation struct {
		Kind   OperationKind
		Entity Entity
	}

	ConflictHandler func(op Operation) ConflictResolution

	FlushRequest struct {
		Operations []Operation
		// ConflictHandler is asked for every update or delete that matched no row.
		// Nil means rethrow.
		ConflictHandler ConflictHandler
		// BeforeCommit runs inside the transaction after all operations are applied.
		// An error rolls the transaction back.
		BeforeCommit func(ctx context.Context) error
	}

	FlushResponse struct {
		// Ignored are the operations skipped by the ConflictHandler
		Ignored []Operation
	}
)

type (
	ExecutionQuery struct {
		ProcessInstanceId string
		// EndedRootsOnly selects ended process instances, oldest first
		EndedRootsOnly bool
		Limit          int
	}

	JobQuery struct {
		ProcessInstanceId          string
		ExecutionId                string
		ProcessDefinitionId        string
		HandlerType                string
		HandlerConfigurationPrefix string
		// TenantId nil matches any tenant, a pointer to "" matches jobs without tenant
		TenantId *string
		Limit    int
	}

	AcquirableJobsQuery struct {
		Now time.Time
		// PriorityMin and PriorityMax are inclusive, nil is unbounded
		PriorityMin *int64
		PriorityMax *int64
		Limit       int
	}

	EventSubscriptionQuery struct {
		EventType           EventType
		EventName           string
		ExecutionId         string
		ProcessInstanceId   string
		ProcessDefinitionId string
		ActivityId          string
		// TenantId nil matches any tenant, a pointer to "" matches subscriptions without tenant
		TenantId        *string
		StartEventsOnly bool
	}

	IncidentQuery struct {
		JobId             string
		ProcessInstanceId string
	}
)

func (q ExecutionQuery) Matches(e *Execution) bool {
	if q.EndedRootsOnly && (!e.IsEnded || !e.IsProcessInstance()) {
		return false
	}
	return matchIfSet(q.ProcessInstanceId, e.ProcessInstanceId)
}

func (q JobQuery) Matches(j *Job) bool {
	return matchIfSet(q.ProcessInstanceId, j.ProcessInstanceId) &&
		matchIfSet(q.ExecutionId, j.ExecutionId) &&
		matchIfSet(q.ProcessDefinitionId, j.ProcessDefinitionId) &&
		matchIfSet(q.HandlerType, j.HandlerType) &&
		strings.HasPrefix(j.HandlerConfiguration, q.HandlerConfigurationPrefix) &&
		matchTenant(q.TenantId, j.TenantId)
}

func (q EventSubscriptionQuery) Matches(s *EventSubscription) bool {
	if q.StartEventsOnly && !s.IsStartEvent() {
		return false
	}
	return matchIfSet(string(q.EventType), string(s.EventType)) &&
		matchIfSet(q.EventName, s.EventName) &&
		matchIfSet(q.ExecutionId, s.ExecutionId) &&
		matchIfSet(q.ProcessInstanceId, s.ProcessInstanceId) &&
		matchIfSet(q.ProcessDefinitionId, s.ProcessDefinitionId) &&
		matchIfSet(q.ActivityId, s.ActivityId) &&
		matchTenant(q.TenantId, s.TenantId)
}

func (q IncidentQuery) Matches(i *Incident) bool {
	return matchIfSet(q.JobId, i.JobId) && matchIfSet(q.ProcessInstanceId, i.ProcessInstanceId)
}

func matchIfSet(want, got string) bool {
	return want == "" || want == got
}

func matchTenant(want *string, got string) bool {
	return want == nil || *want == got
}
