// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"

	"github.com/xcherryio/flowengine/extensions"
)

func (s *dbSession) SelectExecution(_ context.Context, id string) (*extensions.ExecutionRow, bool, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	row, ok := s.db.executions.get(id)
	return row, ok, nil
}

func (s *dbSession) SelectExecutions(
	_ context.Context, filter extensions.ExecutionFilter,
) ([]extensions.ExecutionRow, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	rows := s.db.executions.filter(func(r extensions.ExecutionRow) bool {
		if filter.EndedRootsOnly && (!r.IsEnded || r.ParentId != "") {
			return false
		}
		return matchIfSet(filter.ProcessInstanceId, r.ProcessInstanceId)
	}, func(a, b extensions.ExecutionRow) bool {
		if a.CreateTime.Equal(b.CreateTime) {
			return a.Id < b.Id
		}
		return a.CreateTime.Before(b.CreateTime)
	})
	return limit(rows, filter.Limit), nil
}

func (s *dbSession) SelectJob(_ context.Context, id string) (*extensions.JobRow, bool, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	row, ok := s.db.jobs.get(id)
	return row, ok, nil
}

func (s *dbSession) SelectJobs(_ context.Context, filter extensions.JobFilter) ([]extensions.JobRow, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	rows := s.db.jobs.filter(func(r extensions.JobRow) bool {
		return matchIfSet(filter.ProcessInstanceId, r.ProcessInstanceId) &&
			matchIfSet(filter.ExecutionId, r.ExecutionId) &&
			matchIfSet(filter.ProcessDefinitionId, r.ProcessDefinitionId) &&
			matchIfSet(filter.HandlerType, r.HandlerType) &&
			hasPrefix(r.HandlerConfiguration, filter.HandlerConfigurationPrefix) &&
			matchTenant(filter.TenantId, r.TenantId)
	}, jobsByDueDate)
	return limit(rows, filter.Limit), nil
}

func (s *dbSession) SelectAcquirableJobs(
	_ context.Context, filter extensions.AcquirableJobsFilter,
) ([]extensions.JobRow, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	now := filter.Now
	lockedExclusive := map[string]map[string]bool{}
	for _, r := range s.db.jobs.rows {
		if r.IsExclusive && r.ProcessInstanceId != "" && r.LockOwner != "" &&
			r.LockExpirationTime != nil && !r.LockExpirationTime.Before(now) {
			if lockedExclusive[r.ProcessInstanceId] == nil {
				lockedExclusive[r.ProcessInstanceId] = map[string]bool{}
			}
			lockedExclusive[r.ProcessInstanceId][r.Id] = true
		}
	}
	rows := s.db.jobs.filter(func(r extensions.JobRow) bool {
		if r.DueDate.After(now) || r.Retries <= 0 || r.Suspended {
			return false
		}
		if r.LockOwner != "" && (r.LockExpirationTime == nil || !r.LockExpirationTime.Before(now)) {
			return false
		}
		if filter.PriorityMin != nil && r.Priority < *filter.PriorityMin {
			return false
		}
		if filter.PriorityMax != nil && r.Priority > *filter.PriorityMax {
			return false
		}
		if r.IsExclusive && r.ProcessInstanceId != "" {
			for id := range lockedExclusive[r.ProcessInstanceId] {
				if id != r.Id {
					return false
				}
			}
		}
		return true
	}, jobsByDueDate)
	return limit(rows, filter.Limit), nil
}

func (s *dbSession) SelectEventSubscription(
	_ context.Context, id string,
) (*extensions.EventSubscriptionRow, bool, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	row, ok := s.db.subscriptions.get(id)
	return row, ok, nil
}

func (s *dbSession) SelectEventSubscriptions(
	_ context.Context, filter extensions.EventSubscriptionFilter,
) ([]extensions.EventSubscriptionRow, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.db.subscriptions.filter(func(r extensions.EventSubscriptionRow) bool {
		if filter.StartEventsOnly && r.ExecutionId != "" {
			return false
		}
		return matchIfSet(filter.EventType, r.EventType) &&
			matchIfSet(filter.EventName, r.EventName) &&
			matchIfSet(filter.ExecutionId, r.ExecutionId) &&
			matchIfSet(filter.ProcessInstanceId, r.ProcessInstanceId) &&
			matchIfSet(filter.ProcessDefinitionId, r.ProcessDefinitionId) &&
			matchIfSet(filter.ActivityId, r.ActivityId) &&
			matchTenant(filter.TenantId, r.TenantId)
	}, func(a, b extensions.EventSubscriptionRow) bool {
		if a.CreateTime.Equal(b.CreateTime) {
			return a.Id < b.Id
		}
		return a.CreateTime.Before(b.CreateTime)
	}), nil
}

func (s *dbSession) SelectIncidents(
	_ context.Context, filter extensions.IncidentFilter,
) ([]extensions.IncidentRow, error) {
	s.db.RLock()
	defer s.db.RUnlock()
	return s.db.incidents.filter(func(r extensions.IncidentRow) bool {
		return matchIfSet(filter.JobId, r.JobId) &&
			matchIfSet(filter.ProcessInstanceId, r.ProcessInstanceId)
	}, func(a, b extensions.IncidentRow) bool {
		if a.CreateTime.Equal(b.CreateTime) {
			return a.Id < b.Id
		}
		return a.CreateTime.Before(b.CreateTime)
	}), nil
}

func jobsByDueDate(a, b extensions.JobRow) bool {
	if a.DueDate.Equal(b.DueDate) {
		return a.Id < b.Id
	}
	return a.DueDate.Before(b.DueDate)
}

func (t *dbTx) InsertExecution(_ context.Context, row extensions.ExecutionRow) error {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	return t.db.executions.insert(t, row.Id, row)
}

func (t *dbTx) UpdateExecution(_ context.Context, row extensions.ExecutionRow) (bool, error) {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	return t.db.executions.update(t, row.Id, row.PreviousRevision, row)
}

func (t *dbTx) DeleteExecution(_ context.Context, id string, revision int32) (bool, error) {
	return t.db.executions.delete(t, id, revision)
}

func (t *dbTx) InsertJob(_ context.Context, row extensions.JobRow) error {
	normalizeJobRow(&row)
	return t.db.jobs.insert(t, row.Id, row)
}

func (t *dbTx) UpdateJob(_ context.Context, row extensions.JobRow) (bool, error) {
	normalizeJobRow(&row)
	return t.db.jobs.update(t, row.Id, row.PreviousRevision, row)
}

func (t *dbTx) DeleteJob(_ context.Context, id string, revision int32) (bool, error) {
	return t.db.jobs.delete(t, id, revision)
}

func (t *dbTx) InsertEventSubscription(_ context.Context, row extensions.EventSubscriptionRow) error {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	return t.db.subscriptions.insert(t, row.Id, row)
}

func (t *dbTx) UpdateEventSubscription(_ context.Context, row extensions.EventSubscriptionRow) (bool, error) {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	return t.db.subscriptions.update(t, row.Id, row.PreviousRevision, row)
}

func (t *dbTx) DeleteEventSubscription(_ context.Context, id string, revision int32) (bool, error) {
	return t.db.subscriptions.delete(t, id, revision)
}

func (t *dbTx) InsertIncident(_ context.Context, row extensions.IncidentRow) error {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	return t.db.incidents.insert(t, row.Id, row)
}

func (t *dbTx) UpdateIncident(_ context.Context, row extensions.IncidentRow) (bool, error) {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	return t.db.incidents.update(t, row.Id, row.PreviousRevision, row)
}

func (t *dbTx) DeleteIncident(_ context.Context, id string, revision int32) (bool, error) {
	return t.db.incidents.delete(t, id, revision)
}

func normalizeJobRow(row *extensions.JobRow) {
	row.DueDate = extensions.ToDBTime(row.DueDate)
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	row.LockExpirationTime = extensions.ToDBTimePtr(row.LockExpirationTime)
}
