// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

type (
	ExecutionRow struct {
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
		JoinArrivals        types.JSONText
		Variables           types.JSONText
		CreateTime          time.Time
		Revision            int32

		// PreviousRevision is for conditional check in UpdateExecution
		PreviousRevision int32
	}

	JobRow struct {
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
		RetryTimeCycle      string
		CreateTime          time.Time
		Revision            int32

		// PreviousRevision is for conditional check in UpdateJob
		PreviousRevision int32
	}

	EventSubscriptionRow struct {
		Id                  string
		EventType           string
		EventName           string
		ExecutionId         string
		ProcessInstanceId   string
		ProcessDefinitionId string
		ActivityId          string
		TenantId            string
		Configuration       string
		CreateTime          time.Time
		Revision            int32

		// PreviousRevision is for conditional check in UpdateEventSubscription
		PreviousRevision int32
	}

	IncidentRow struct {
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

		// PreviousRevision is for conditional check in UpdateIncident
		PreviousRevision int32
	}
)

type (
	ExecutionFilter struct {
		ProcessInstanceId string
		// EndedRootsOnly selects ended process instances, oldest first
		EndedRootsOnly bool
		Limit          int
	}

	JobFilter struct {
		ProcessInstanceId   string
		ExecutionId         string
		ProcessDefinitionId string
		HandlerType         string
		// HandlerConfigurationPrefix matches jobs whose configuration starts with it
		HandlerConfigurationPrefix string
		// TenantId nil matches any tenant, empty string matches jobs without tenant
		TenantId *string
		Limit    int
	}

	AcquirableJobsFilter struct {
		Now         time.Time
		PriorityMin *int64
		PriorityMax *int64
		Limit       int
	}

	EventSubscriptionFilter struct {
		EventType           string
		EventName           string
		ExecutionId         string
		ProcessInstanceId   string
		ProcessDefinitionId string
		ActivityId          string
		// TenantId nil matches any tenant, empty string matches subscriptions without tenant
		TenantId *string
		// StartEventsOnly selects the subscriptions that are not owned by an execution
		StartEventsOnly bool
	}

	IncidentFilter struct {
		JobId             string
		ProcessInstanceId string
	}
)

// ToDBTime normalizes a time to what all extensions can store and compare
func ToDBTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func ToDBTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := ToDBTime(*t)
	return &v
}
