// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package storetest holds the EntityStore tests shared by every extension
package storetest

import (
	"context"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/ptr"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/persistence"
)

var baseTime = time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC)

func NewTestJob(processInstanceId string, dueDate time.Time, priority int64, exclusive bool) *persistence.Job {
	return &persistence.Job{
		Id:                uuid.MustNewUUID(),
		HandlerType:       "test-handler",
		DueDate:           dueDate,
		Retries:           3,
		Priority:          priority,
		ProcessInstanceId: processInstanceId,
		IsExclusive:       exclusive,
		CreateTime:        baseTime,
	}
}

func flushOps(ctx context.Context, store persistence.EntityStore, ops ...persistence.Operation) error {
	_, err := store.Flush(ctx, persistence.FlushRequest{Operations: ops})
	return err
}

func insert(e persistence.Entity) persistence.Operation {
	return persistence.Operation{Kind: persistence.OperationInsert, Entity: e}
}

func update(e persistence.Entity) persistence.Operation {
	return persistence.Operation{Kind: persistence.OperationUpdate, Entity: e}
}

func remove(e persistence.Entity) persistence.Operation {
	return persistence.Operation{Kind: persistence.OperationDelete, Entity: e}
}

// SQLBasicTest writes every entity type and reads it back
func SQLBasicTest(ass *assert.Assertions, store persistence.EntityStore) {
	ctx := context.Background()
	piId := uuid.MustNewUUID()

	root := &persistence.Execution{
		Id:                  piId,
		ProcessInstanceId:   piId,
		ProcessDefinitionId: "order:1:abc",
		ActivityId:          "start",
		IsActive:            true,
		IsScope:             true,
		BusinessKey:         "order-42",
		JoinArrivals:        map[string]int{"join": 1},
		Variables:           map[string]any{"amount": 12.5, "customer": "ada"},
		CreateTime:          baseTime,
	}
	child := &persistence.Execution{
		Id:                uuid.MustNewUUID(),
		ProcessInstanceId: piId,
		ParentId:          piId,
		ActivityId:        "task",
		IsActive:          true,
		IsConcurrent:      true,
		CreateTime:        baseTime.Add(time.Second),
	}
	job := NewTestJob(piId, baseTime, 10, true)
	job.HandlerConfiguration = "timer:PT5M"
	sub := &persistence.EventSubscription{
		Id:                  uuid.MustNewUUID(),
		EventType:           persistence.EventTypeMessage,
		EventName:           "order-received",
		ProcessDefinitionId: "order:1:abc",
		ActivityId:          "start",
		CreateTime:          baseTime,
	}
	incident := &persistence.Incident{
		Id:                uuid.MustNewUUID(),
		IncidentType:      persistence.IncidentTypeFailedJob,
		JobId:             job.Id,
		ProcessInstanceId: piId,
		Message:           "boom",
		CreateTime:        baseTime,
	}

	err := flushOps(ctx, store, insert(root), insert(child), insert(job), insert(sub), insert(incident))
	ass.Nil(err)

	gotRoot, err := store.GetExecution(ctx, piId)
	ass.Nil(err)
	ass.Equal(int32(1), gotRoot.Revision)
	ass.Equal(map[string]int{"join": 1}, gotRoot.JoinArrivals)
	ass.Equal(map[string]any{"amount": 12.5, "customer": "ada"}, gotRoot.Variables)
	ass.Equal("order-42", gotRoot.BusinessKey)
	ass.True(gotRoot.IsScope)

	executions, err := store.FindExecutions(ctx, persistence.ExecutionQuery{ProcessInstanceId: piId})
	ass.Nil(err)
	ass.Equal(2, len(executions))
	ass.Equal(piId, executions[0].Id)
	ass.Equal(child.Id, executions[1].Id)
	ass.Nil(executions[1].JoinArrivals)

	gotJob, err := store.GetJob(ctx, job.Id)
	ass.Nil(err)
	ass.Equal(job.Priority, gotJob.Priority)
	ass.True(gotJob.IsExclusive)
	ass.True(gotJob.DueDate.Equal(baseTime))
	ass.Nil(gotJob.LockExpirationTime)

	byConfig, err := store.FindJobsByConfiguration(ctx, "test-handler", "timer:", nil)
	ass.Nil(err)
	ass.Equal(1, len(byConfig))
	byConfig, err = store.FindJobsByConfiguration(ctx, "test-handler", "timer:", ptr.Any("tenant-a"))
	ass.Nil(err)
	ass.Equal(0, len(byConfig))

	subs, err := store.FindEventSubscriptions(ctx, persistence.EventSubscriptionQuery{
		EventType: persistence.EventTypeMessage, EventName: "order-received", StartEventsOnly: true,
	})
	ass.Nil(err)
	ass.Equal(1, len(subs))
	ass.True(subs[0].IsStartEvent())

	incidents, err := store.FindIncidents(ctx, persistence.IncidentQuery{JobId: job.Id})
	ass.Nil(err)
	ass.Equal(1, len(incidents))
	ass.Equal("boom", incidents[0].Message)

	missing, err := store.GetJob(ctx, uuid.MustNewUUID())
	ass.Nil(err)
	ass.Nil(missing)

	// duplicated insert
	err = flushOps(ctx, store, insert(sub))
	ass.True(errs.Is(err, errs.ErrInvalidState))
}

// SQLOptimisticLockingTest checks the conditional writes
func SQLOptimisticLockingTest(ass *assert.Assertions, store persistence.EntityStore) {
	ctx := context.Background()
	job := NewTestJob(uuid.MustNewUUID(), baseTime, 0, false)
	ass.Nil(flushOps(ctx, store, insert(job)))

	loaded1, err := store.GetJob(ctx, job.Id)
	ass.Nil(err)
	loaded2, err := store.GetJob(ctx, job.Id)
	ass.Nil(err)

	loaded1.Retries = 2
	ass.Nil(flushOps(ctx, store, update(loaded1)))
	current, err := store.GetJob(ctx, job.Id)
	ass.Nil(err)
	ass.Equal(int32(2), current.Revision)
	ass.Equal(int32(2), current.Retries)

	// stale revision
	loaded2.Retries = 1
	err = flushOps(ctx, store, update(loaded2))
	ass.True(errs.IsOptimisticLockingConflict(err))
	conflict, ok := errs.AsConflict(err)
	ass.True(ok)
	ass.Equal(job.Id, conflict.Id)
	ass.Equal(int32(1), conflict.Revision)

	err = flushOps(ctx, store, remove(loaded2))
	ass.True(errs.IsOptimisticLockingConflict(err))

	// ignored conflicts are reported and the rest is committed
	other := NewTestJob(uuid.MustNewUUID(), baseTime, 0, false)
	resp, err := store.Flush(ctx, persistence.FlushRequest{
		Operations: []persistence.Operation{insert(other), update(loaded2)},
		ConflictHandler: func(op persistence.Operation) persistence.ConflictResolution {
			return persistence.ConflictIgnore
		},
	})
	ass.Nil(err)
	ass.Equal(1, len(resp.Ignored))
	gotOther, err := store.GetJob(ctx, other.Id)
	ass.Nil(err)
	ass.NotNil(gotOther)

	// a rethrown conflict rolls back everything
	rolledBack := NewTestJob(uuid.MustNewUUID(), baseTime, 0, false)
	err = flushOps(ctx, store, insert(rolledBack), update(loaded2))
	ass.True(errs.IsOptimisticLockingConflict(err))
	gotRolledBack, err := store.GetJob(ctx, rolledBack.Id)
	ass.Nil(err)
	ass.Nil(gotRolledBack)

	err = flushOps(ctx, store, remove(current))
	ass.Nil(err)
	gone, err := store.GetJob(ctx, job.Id)
	ass.Nil(err)
	ass.Nil(gone)

	// a failing before commit hook rolls back too
	hookErr := errs.InvalidState("history sink failed")
	_, err = store.Flush(ctx, persistence.FlushRequest{
		Operations:   []persistence.Operation{insert(rolledBack)},
		BeforeCommit: func(ctx context.Context) error { return hookErr },
	})
	ass.True(errs.Is(err, hookErr))
	gotRolledBack, err = store.GetJob(ctx, rolledBack.Id)
	ass.Nil(err)
	ass.Nil(gotRolledBack)
}

// SQLPanicInBeforeCommitTest checks a panicking hook rolls back and leaves the store usable
func SQLPanicInBeforeCommitTest(ass *assert.Assertions, store persistence.EntityStore) {
	ctx := context.Background()
	job := NewTestJob(uuid.MustNewUUID(), baseTime, 0, false)

	ass.Panics(func() {
		_, _ = store.Flush(ctx, persistence.FlushRequest{
			Operations:   []persistence.Operation{insert(job)},
			BeforeCommit: func(ctx context.Context) error { panic("history sink bug") },
		})
	})

	got, err := store.GetJob(ctx, job.Id)
	ass.Nil(err)
	ass.Nil(got)
	ass.Nil(flushOps(ctx, store, insert(job)))
	got, err = store.GetJob(ctx, job.Id)
	ass.Nil(err)
	ass.NotNil(got)
}

// SQLAcquirableJobsTest checks the acquisition query filters and ordering
func SQLAcquirableJobsTest(ass *assert.Assertions, store persistence.EntityStore) {
	ctx := context.Background()
	now := baseTime.Add(time.Hour)

	pi := uuid.MustNewUUID()
	early := NewTestJob("", now.Add(-2*time.Minute), 10, false)
	late := NewTestJob("", now.Add(-time.Minute), 10, false)
	future := NewTestJob("", now.Add(time.Minute), 10, false)
	tooHigh := NewTestJob("", now.Add(-time.Minute), 20, false)
	suspended := NewTestJob("", now.Add(-time.Minute), 10, false)
	suspended.Suspended = true
	exhausted := NewTestJob("", now.Add(-time.Minute), 10, false)
	exhausted.Retries = 0
	locked := NewTestJob("", now.Add(-time.Minute), 10, false)
	locked.Lock("other-node", now.Add(time.Minute))
	expired := NewTestJob("", now.Add(-time.Minute), 10, false)
	expired.Lock("crashed-node", now.Add(-time.Second))

	exclusiveLocked := NewTestJob(pi, now.Add(-time.Minute), 10, true)
	exclusiveLocked.Lock("other-node", now.Add(time.Minute))
	exclusiveWaiting := NewTestJob(pi, now.Add(-time.Minute), 10, true)
	nonExclusiveSameInstance := NewTestJob(pi, now.Add(-time.Minute), 10, false)

	ass.Nil(flushOps(ctx, store,
		insert(early), insert(late), insert(future), insert(tooHigh), insert(suspended), insert(exhausted),
		insert(locked), insert(expired), insert(exclusiveLocked), insert(exclusiveWaiting),
		insert(nonExclusiveSameInstance)))

	jobs, err := store.FindAcquirableJobs(ctx, persistence.AcquirableJobsQuery{
		Now: now, PriorityMin: ptr.Any(int64(5)), PriorityMax: ptr.Any(int64(15)), Limit: 100,
	})
	ass.Nil(err)
	ids := map[string]bool{}
	for _, j := range jobs {
		ids[j.Id] = true
	}
	ass.True(ids[early.Id])
	ass.True(ids[late.Id])
	ass.True(ids[expired.Id])
	ass.True(ids[nonExclusiveSameInstance.Id])
	ass.False(ids[future.Id])
	ass.False(ids[tooHigh.Id])
	ass.False(ids[suspended.Id])
	ass.False(ids[exhausted.Id])
	ass.False(ids[locked.Id])
	ass.False(ids[exclusiveLocked.Id])
	ass.False(ids[exclusiveWaiting.Id])
	ass.Equal(early.Id, jobs[0].Id)

	limited, err := store.FindAcquirableJobs(ctx, persistence.AcquirableJobsQuery{Now: now, Limit: 1})
	ass.Nil(err)
	ass.Equal(1, len(limited))
	ass.Equal(early.Id, limited[0].Id)

	unbounded, err := store.FindAcquirableJobs(ctx, persistence.AcquirableJobsQuery{Now: now, Limit: 100})
	ass.Nil(err)
	found := false
	for _, j := range unbounded {
		found = found || j.Id == tooHigh.Id
	}
	ass.True(found)
}
