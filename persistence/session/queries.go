// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"reflect"
	"sort"

	"github.com/xcherryio/flowengine/persistence"
)

// The Get methods return nil without error when the entity does not exist or was deleted in this session.

func (s *Session) GetExecution(ctx context.Context, id string) (*persistence.Execution, error) {
	return get(ctx, s, persistence.EntityTypeExecution, id, s.store.GetExecution)
}

func (s *Session) GetJob(ctx context.Context, id string) (*persistence.Job, error) {
	return get(ctx, s, persistence.EntityTypeJob, id, s.store.GetJob)
}

func (s *Session) GetEventSubscription(ctx context.Context, id string) (*persistence.EventSubscription, error) {
	return get(ctx, s, persistence.EntityTypeEventSubscription, id, s.store.GetEventSubscription)
}

// FindExecutions merges the database result with what the session inserted, changed or deleted
func (s *Session) FindExecutions(
	ctx context.Context, query persistence.ExecutionQuery,
) ([]*persistence.Execution, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	loaded, err := s.store.FindExecutions(ctx, query)
	if err != nil {
		return nil, err
	}
	return merge(s, loaded, query.Matches, func(a, b *persistence.Execution) bool {
		return byCreateTime(a.CreateTime.UnixNano(), b.CreateTime.UnixNano(), a.Id, b.Id)
	}, query.Limit), nil
}

func (s *Session) FindJobs(ctx context.Context, query persistence.JobQuery) ([]*persistence.Job, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	loaded, err := s.store.FindJobs(ctx, query)
	if err != nil {
		return nil, err
	}
	return merge(s, loaded, query.Matches, jobsByDueDate, query.Limit), nil
}

// FindJobsByConfiguration finds the jobs of a handler type whose configuration starts with configurationPrefix
func (s *Session) FindJobsByConfiguration(
	ctx context.Context, handlerType, configurationPrefix string, tenantId *string,
) ([]*persistence.Job, error) {
	return s.FindJobs(ctx, persistence.JobQuery{
		HandlerType:                handlerType,
		HandlerConfigurationPrefix: configurationPrefix,
		TenantId:                   tenantId,
	})
}

// FindAcquirableJobs only tracks the database result, jobs inserted by this session are not visible to it
func (s *Session) FindAcquirableJobs(
	ctx context.Context, query persistence.AcquirableJobsQuery,
) ([]*persistence.Job, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	loaded, err := s.store.FindAcquirableJobs(ctx, query)
	if err != nil {
		return nil, err
	}
	var jobs []*persistence.Job
	for _, j := range loaded {
		if cached := s.cache(j); cached != nil {
			jobs = append(jobs, cached.(*persistence.Job))
		}
	}
	return jobs, nil
}

func (s *Session) FindEventSubscriptions(
	ctx context.Context, query persistence.EventSubscriptionQuery,
) ([]*persistence.EventSubscription, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	loaded, err := s.store.FindEventSubscriptions(ctx, query)
	if err != nil {
		return nil, err
	}
	return merge(s, loaded, query.Matches, func(a, b *persistence.EventSubscription) bool {
		return byCreateTime(a.CreateTime.UnixNano(), b.CreateTime.UnixNano(), a.Id, b.Id)
	}, 0), nil
}

func (s *Session) FindIncidents(ctx context.Context, query persistence.IncidentQuery) ([]*persistence.Incident, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	loaded, err := s.store.FindIncidents(ctx, query)
	if err != nil {
		return nil, err
	}
	return merge(s, loaded, query.Matches, func(a, b *persistence.Incident) bool {
		return byCreateTime(a.CreateTime.UnixNano(), b.CreateTime.UnixNano(), a.Id, b.Id)
	}, 0), nil
}

func get[T persistence.Entity](
	ctx context.Context, s *Session, entityType persistence.EntityType, id string,
	load func(ctx context.Context, id string) (T, error),
) (T, error) {
	var zero T
	if err := s.checkOpen(); err != nil {
		return zero, err
	}
	if en, ok := s.lookup(entityType, id); ok {
		if en.state == stateDeleted {
			return zero, nil
		}
		return en.entity.(T), nil
	}
	loaded, err := load(ctx, id)
	if err != nil {
		return zero, err
	}
	if reflect.ValueOf(loaded).IsNil() {
		return zero, nil
	}
	return s.cache(loaded).(T), nil
}

// merge replaces loaded entities by the tracked instances, drops the deleted ones,
// re-applies the query to entities changed in memory and adds the tracked ones that match now.
func merge[T persistence.Entity](
	s *Session, loaded []T, matches func(T) bool, less func(a, b T) bool, limit int,
) []T {
	seen := map[entityKey]bool{}
	var result []T
	for _, e := range loaded {
		seen[keyOf(e)] = true
		cached := s.cache(e)
		if cached == nil {
			continue
		}
		if t := cached.(T); matches(t) {
			result = append(result, t)
		}
	}
	for _, key := range s.order {
		if seen[key] {
			continue
		}
		en := s.entries[key]
		if en.state == stateDeleted {
			continue
		}
		if t, ok := en.entity.(T); ok && matches(t) {
			result = append(result, t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return less(result[i], result[j])
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func jobsByDueDate(a, b *persistence.Job) bool {
	if a.DueDate.Equal(b.DueDate) {
		return a.Id < b.Id
	}
	return a.DueDate.Before(b.DueDate)
}

func byCreateTime(a, b int64, idA, idB string) bool {
	if a == b {
		return idA < idB
	}
	return a < b
}
