// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"encoding/json"

	"github.com/jmoiron/sqlx/types"
	"github.com/xcherryio/flowengine/extensions"
	"github.com/xcherryio/flowengine/persistence"
)

func executionFromRow(row extensions.ExecutionRow) (*persistence.Execution, error) {
	e := &persistence.Execution{
		Id:                  row.Id,
		ProcessInstanceId:   row.ProcessInstanceId,
		ParentId:            row.ParentId,
		ProcessDefinitionId: row.ProcessDefinitionId,
		ActivityId:          row.ActivityId,
		IsActive:            row.IsActive,
		IsConcurrent:        row.IsConcurrent,
		IsScope:             row.IsScope,
		IsEnded:             row.IsEnded,
		BusinessKey:         row.BusinessKey,
		TenantId:            row.TenantId,
		CreateTime:          row.CreateTime,
		Revision:            row.Revision,
	}
	if err := unmarshalIfPresent(row.JoinArrivals, &e.JoinArrivals); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(row.Variables, &e.Variables); err != nil {
		return nil, err
	}
	return e, nil
}

func executionToRow(e *persistence.Execution) (extensions.ExecutionRow, error) {
	joinArrivals, err := marshalMap(e.JoinArrivals)
	if err != nil {
		return extensions.ExecutionRow{}, err
	}
	variables, err := marshalMap(e.Variables)
	if err != nil {
		return extensions.ExecutionRow{}, err
	}
	return extensions.ExecutionRow{
		Id:                  e.Id,
		ProcessInstanceId:   e.ProcessInstanceId,
		ParentId:            e.ParentId,
		ProcessDefinitionId: e.ProcessDefinitionId,
		ActivityId:          e.ActivityId,
		IsActive:            e.IsActive,
		IsConcurrent:        e.IsConcurrent,
		IsScope:             e.IsScope,
		IsEnded:             e.IsEnded,
		BusinessKey:         e.BusinessKey,
		TenantId:            e.TenantId,
		JoinArrivals:        joinArrivals,
		Variables:           variables,
		CreateTime:          e.CreateTime,
	}, nil
}

func jobFromRow(row extensions.JobRow) *persistence.Job {
	return &persistence.Job{
		Id:                   row.Id,
		HandlerType:          row.HandlerType,
		HandlerConfiguration: row.HandlerConfiguration,
		DueDate:              row.DueDate,
		LockOwner:            row.LockOwner,
		LockExpirationTime:   row.LockExpirationTime,
		Retries:              row.Retries,
		ExceptionMessage:     row.ExceptionMessage,
		ExceptionStacktrace:  row.ExceptionStacktrace,
		Priority:             row.Priority,
		ExecutionId:          row.ExecutionId,
		ProcessInstanceId:    row.ProcessInstanceId,
		ProcessDefinitionId:  row.ProcessDefinitionId,
		ActivityId:           row.ActivityId,
		TenantId:             row.TenantId,
		IsExclusive:          row.IsExclusive,
		Suspended:            row.Suspended,
		RetryTimeCycle:       row.RetryTimeCycle,
		CreateTime:           row.CreateTime,
		Revision:             row.Revision,
	}
}

func jobToRow(j *persistence.Job) extensions.JobRow {
	return extensions.JobRow{
		Id:                   j.Id,
		HandlerType:          j.HandlerType,
		HandlerConfiguration: j.HandlerConfiguration,
		DueDate:              j.DueDate,
		LockOwner:            j.LockOwner,
		LockExpirationTime:   j.LockExpirationTime,
		Retries:              j.Retries,
		ExceptionMessage:     j.ExceptionMessage,
		ExceptionStacktrace:  j.ExceptionStacktrace,
		Priority:             j.Priority,
		ExecutionId:          j.ExecutionId,
		ProcessInstanceId:    j.ProcessInstanceId,
		ProcessDefinitionId:  j.ProcessDefinitionId,
		ActivityId:           j.ActivityId,
		TenantId:             j.TenantId,
		IsExclusive:          j.IsExclusive,
		Suspended:            j.Suspended,
		RetryTimeCycle:       j.RetryTimeCycle,
		CreateTime:           j.CreateTime,
	}
}

func eventSubscriptionFromRow(row extensions.EventSubscriptionRow) *persistence.EventSubscription {
	return &persistence.EventSubscription{
		Id:                  row.Id,
		EventType:           persistence.EventType(row.EventType),
		EventName:           row.EventName,
		ExecutionId:         row.ExecutionId,
		ProcessInstanceId:   row.ProcessInstanceId,
		ProcessDefinitionId: row.ProcessDefinitionId,
		ActivityId:          row.ActivityId,
		TenantId:            row.TenantId,
		Configuration:       row.Configuration,
		CreateTime:          row.CreateTime,
		Revision:            row.Revision,
	}
}

func eventSubscriptionToRow(s *persistence.EventSubscription) extensions.EventSubscriptionRow {
	return extensions.EventSubscriptionRow{
		Id:                  s.Id,
		EventType:           string(s.EventType),
		EventName:           s.EventName,
		ExecutionId:         s.ExecutionId,
		ProcessInstanceId:   s.ProcessInstanceId,
		ProcessDefinitionId: s.ProcessDefinitionId,
		ActivityId:          s.ActivityId,
		TenantId:            s.TenantId,
		Configuration:       s.Configuration,
		CreateTime:          s.CreateTime,
	}
}

func incidentFromRow(row extensions.IncidentRow) *persistence.Incident {
	return &persistence.Incident{
		Id:                  row.Id,
		IncidentType:        row.IncidentType,
		JobId:               row.JobId,
		ExecutionId:         row.ExecutionId,
		ProcessInstanceId:   row.ProcessInstanceId,
		ProcessDefinitionId: row.ProcessDefinitionId,
		ActivityId:          row.ActivityId,
		TenantId:            row.TenantId,
		Message:             row.Message,
		CreateTime:          row.CreateTime,
		Revision:            row.Revision,
	}
}

func incidentToRow(i *persistence.Incident) extensions.IncidentRow {
	return extensions.IncidentRow{
		Id:                  i.Id,
		IncidentType:        i.IncidentType,
		JobId:               i.JobId,
		ExecutionId:         i.ExecutionId,
		ProcessInstanceId:   i.ProcessInstanceId,
		ProcessDefinitionId: i.ProcessDefinitionId,
		ActivityId:          i.ActivityId,
		TenantId:            i.TenantId,
		Message:             i.Message,
		CreateTime:          i.CreateTime,
	}
}

func marshalMap[V any](m map[string]V) (types.JSONText, error) {
	if len(m) == 0 {
		return types.JSONText("{}"), nil
	}
	bytes, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return types.JSONText(bytes), nil
}

func unmarshalIfPresent[V any](text types.JSONText, m *map[string]V) error {
	if len(text) == 0 {
		return nil
	}
	if err := json.Unmarshal(text, m); err != nil {
		return err
	}
	if len(*m) == 0 {
		*m = nil
	}
	return nil
}
