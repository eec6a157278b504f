// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/flowengine/common/clock"
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/ptr"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/extensions/memory"
	"github.com/xcherryio/flowengine/persistence"
	"github.com/xcherryio/flowengine/persistence/store"
)

const owner = "node-1"

type funcHandler struct {
	handlerType string
	run         func(cctx *command.Context, job *persistence.Job) error
}

func (h *funcHandler) Type() string {
	return h.handlerType
}

func (h *funcHandler) Execute(cctx *command.Context, job *persistence.Job) (jobs.Outcome, error) {
	return jobs.OutcomeCompleted, h.run(cctx, job)
}

func newTestJobExecutor(
	t *testing.T, adjust func(cfg *config.JobExecutorConfig), handlers ...jobs.Handler,
) (*jobExecutorImpl, *command.Executor) {
	logger := log.NewDevelopmentLogger()
	s, err := store.NewSQLEntityStore(config.SQL{
		DBExtensionName: memory.ExtensionName,
		DatabaseName:    uuid.MustNewUUID(),
	}, logger)
	require.NoError(t, err)
	cfg := config.JobExecutorConfig{
		LockOwner:      owner,
		WaitTimeMin:    10 * time.Millisecond,
		WaitTimeMax:    50 * time.Millisecond,
		IntervalJitter: time.Millisecond,
	}
	if adjust != nil {
		adjust(&cfg)
	}
	require.NoError(t, cfg.ValidateAndSetDefaults())

	registry := jobs.NewRegistry()
	for _, h := range handlers {
		require.NoError(t, registry.Register(h))
	}
	repo := definition.NewRepository(definition.NewCache(), logger)
	executor := command.NewExecutor(s, logger, clock.NewRealTimeSource(), repo, nil, nil, cfg)
	return newJobExecutor(cfg, executor, registry, logger), executor
}

func newTestJob(processInstanceId string, exclusive bool) *persistence.Job {
	now := time.Now()
	return &persistence.Job{
		Id:                uuid.MustNewUUID(),
		HandlerType:       "test-job",
		DueDate:           now.Add(-time.Second),
		Retries:           3,
		ProcessInstanceId: processInstanceId,
		IsExclusive:       exclusive,
		CreateTime:        now,
	}
}

func insertJobs(t *testing.T, executor *command.Executor, toInsert ...*persistence.Job) {
	require.NoError(t, executor.ExecuteFunc(context.Background(), "Insert", func(cctx *command.Context) error {
		for _, job := range toInsert {
			if err := cctx.Session.Insert(job); err != nil {
				return err
			}
		}
		return nil
	}))
}

func getJob(t *testing.T, executor *command.Executor, id string) *persistence.Job {
	job, err := executor.Store().GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func stopping(p *jobConcurrentProcessor) func() bool {
	return func() bool {
		select {
		case <-p.quit:
			return true
		default:
			return false
		}
	}
}

func TestExclusiveJobsOfAnInstanceNeverRunConcurrently(t *testing.T) {
	var lock sync.Mutex
	running := map[string]int{}
	maxRunning := map[string]int{}
	var done atomic.Int32
	handler := &funcHandler{handlerType: "test-job", run: func(_ *command.Context, job *persistence.Job) error {
		lock.Lock()
		running[job.ProcessInstanceId]++
		if running[job.ProcessInstanceId] > maxRunning[job.ProcessInstanceId] {
			maxRunning[job.ProcessInstanceId] = running[job.ProcessInstanceId]
		}
		lock.Unlock()
		time.Sleep(5 * time.Millisecond)
		lock.Lock()
		running[job.ProcessInstanceId]--
		lock.Unlock()
		done.Add(1)
		return nil
	}}
	e, executor := newTestJobExecutor(t, func(cfg *config.JobExecutorConfig) {
		cfg.ProcessorConcurrency = 6
		cfg.MaxJobsPerAcquisition = 10
	}, handler)

	instances := []string{uuid.MustNewUUID(), uuid.MustNewUUID(), uuid.MustNewUUID()}
	var toInsert []*persistence.Job
	for _, pi := range instances {
		for i := 0; i < 4; i++ {
			toInsert = append(toInsert, newTestJob(pi, true))
		}
	}
	insertJobs(t, executor, toInsert...)

	require.NoError(t, e.Start())
	require.Eventually(t, func() bool { return done.Load() == 12 }, 10*time.Second, 10*time.Millisecond)
	require.NoError(t, e.Stop(context.Background()))

	for _, pi := range instances {
		assert.Equal(t, 1, maxRunning[pi], pi)
	}
	remaining, err := executor.Store().FindJobs(context.Background(), persistence.JobQuery{HandlerType: "test-job"})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestAcquireBatchPriorityRange(t *testing.T) {
	e, executor := newTestJobExecutor(t, nil)
	low := newTestJob(uuid.MustNewUUID(), true)
	low.Priority = 10
	high := newTestJob(uuid.MustNewUUID(), true)
	high.Priority = 20
	insertJobs(t, executor, low, high)

	acquired, err := e.AcquireBatch(context.Background(), ptr.Any(int64(5)), ptr.Any(int64(15)), 10)
	require.NoError(t, err)
	require.Equal(t, 1, len(acquired))
	assert.Equal(t, low.Id, acquired[0].Id)
	assert.Equal(t, owner, getJob(t, executor, low.Id).LockOwner)
	assert.Equal(t, "", getJob(t, executor, high.Id).LockOwner)

	// already locked
	acquired, err = e.AcquireBatch(context.Background(), ptr.Any(int64(5)), ptr.Any(int64(15)), 10)
	require.NoError(t, err)
	assert.Empty(t, acquired)

	_, err = e.AcquireBatch(context.Background(), nil, nil, 0)
	assert.True(t, errs.Is(err, errs.ErrInvalidArgument))
	_, err = e.AcquireBatch(context.Background(), ptr.Any(int64(15)), ptr.Any(int64(5)), 10)
	assert.True(t, errs.Is(err, errs.ErrInvalidArgument))
}

func TestFollowUpJobRunsWithoutAnotherAcquisition(t *testing.T) {
	pi := uuid.MustNewUUID()
	var ran sync.Map
	handler := &funcHandler{handlerType: "test-job", run: func(cctx *command.Context, job *persistence.Job) error {
		if _, loaded := ran.LoadOrStore(job.Id, true); loaded {
			return nil
		}
		if job.ActivityId == "" {
			followUp := newTestJob(pi, true)
			followUp.DueDate = cctx.Now()
			followUp.ActivityId = "next"
			return jobs.Schedule(cctx, followUp)
		}
		return nil
	}}
	e, executor := newTestJobExecutor(t, func(cfg *config.JobExecutorConfig) {
		// no second poll within the test
		cfg.WaitTimeMin = time.Minute
		cfg.WaitTimeMax = time.Minute
	}, handler)
	first := newTestJob(pi, true)
	insertJobs(t, executor, first)

	require.NoError(t, e.Start())
	defer func() {
		require.NoError(t, e.Stop(context.Background()))
	}()
	require.Eventually(t, func() bool {
		remaining, err := executor.Store().FindJobs(context.Background(), persistence.JobQuery{ProcessInstanceId: pi})
		require.NoError(t, err)
		count := 0
		ran.Range(func(any, any) bool {
			count++
			return true
		})
		return len(remaining) == 0 && count == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownLeavesFollowUpJobsUnlocked(t *testing.T) {
	pi := uuid.MustNewUUID()
	entered := make(chan struct{})
	release := make(chan struct{})
	var followUpId atomic.Value
	handler := &funcHandler{handlerType: "test-job", run: func(cctx *command.Context, job *persistence.Job) error {
		if job.ActivityId != "" {
			return nil
		}
		close(entered)
		<-release
		followUp := newTestJob(pi, true)
		followUp.DueDate = cctx.Now()
		followUp.ActivityId = "next"
		followUpId.Store(followUp.Id)
		return jobs.Schedule(cctx, followUp)
	}}
	e, executor := newTestJobExecutor(t, nil, handler)
	first := newTestJob(pi, true)
	insertJobs(t, executor, first)

	require.NoError(t, e.Start())
	<-entered
	stopped := make(chan error)
	go func() {
		stopped <- e.Stop(context.Background())
	}()
	require.Eventually(t, stopping(e.processor), time.Second, time.Millisecond)
	close(release)
	require.NoError(t, <-stopped)

	// the in-flight job committed, its follow-up waits for the next executor
	assert.Nil(t, getJob(t, executor, first.Id))
	followUp := getJob(t, executor, followUpId.Load().(string))
	require.NotNil(t, followUp)
	assert.Equal(t, "", followUp.LockOwner)
	assert.Nil(t, followUp.LockExpirationTime)
}

func TestShutdownUnlocksBufferedJobs(t *testing.T) {
	entered := make(chan struct{}, 3)
	release := make(chan struct{})
	handler := &funcHandler{handlerType: "test-job", run: func(*command.Context, *persistence.Job) error {
		entered <- struct{}{}
		<-release
		return nil
	}}
	e, executor := newTestJobExecutor(t, func(cfg *config.JobExecutorConfig) {
		cfg.ProcessorConcurrency = 1
		cfg.MaxJobsPerAcquisition = 10
	}, handler)
	toInsert := []*persistence.Job{
		newTestJob(uuid.MustNewUUID(), false),
		newTestJob(uuid.MustNewUUID(), false),
		newTestJob(uuid.MustNewUUID(), false),
	}
	insertJobs(t, executor, toInsert...)

	require.NoError(t, e.Start())
	<-entered
	stopped := make(chan error)
	go func() {
		stopped <- e.Stop(context.Background())
	}()
	require.Eventually(t, stopping(e.processor), time.Second, time.Millisecond)
	close(release)
	require.NoError(t, <-stopped)

	remaining, err := executor.Store().FindJobs(context.Background(), persistence.JobQuery{HandlerType: "test-job"})
	require.NoError(t, err)
	require.Equal(t, 2, len(remaining))
	for _, job := range remaining {
		assert.Equal(t, "", job.LockOwner)
		assert.Equal(t, int32(3), job.Retries)
	}
}

func TestFailingAndPanickingJobsAreRetriedThenIncident(t *testing.T) {
	handler := &funcHandler{handlerType: "test-job", run: func(_ *command.Context, job *persistence.Job) error {
		if job.Priority == 1 {
			panic("handler bug")
		}
		return errs.InvalidState("downstream unavailable")
	}}
	e, executor := newTestJobExecutor(t, nil, handler)
	failing := newTestJob(uuid.MustNewUUID(), true)
	failing.Retries = 1
	panicking := newTestJob(uuid.MustNewUUID(), true)
	panicking.Retries = 1
	panicking.Priority = 1
	insertJobs(t, executor, failing, panicking)

	require.NoError(t, e.Start())
	defer func() {
		require.NoError(t, e.Stop(context.Background()))
	}()
	for _, job := range []*persistence.Job{failing, panicking} {
		require.Eventually(t, func() bool {
			incidents, err := executor.Store().FindIncidents(context.Background(), persistence.IncidentQuery{JobId: job.Id})
			require.NoError(t, err)
			return len(incidents) == 1
		}, 5*time.Second, 10*time.Millisecond)
		stored := getJob(t, executor, job.Id)
		require.NotNil(t, stored)
		assert.Equal(t, int32(0), stored.Retries)
		assert.Equal(t, "", stored.LockOwner)
	}
	assert.Contains(t, getJob(t, executor, panicking.Id).ExceptionMessage, "handler bug")
	assert.Contains(t, getJob(t, executor, failing.Id).ExceptionMessage, "downstream unavailable")
}

func TestUnknownHandlerTypeFailsTheJob(t *testing.T) {
	e, executor := newTestJobExecutor(t, nil)
	job := newTestJob(uuid.MustNewUUID(), false)
	require.Equal(t, int32(3), job.Retries)
	insertJobs(t, executor, job)

	require.NoError(t, e.Start())
	defer func() {
		require.NoError(t, e.Stop(context.Background()))
	}()
	require.Eventually(t, func() bool {
		incidents, err := executor.Store().FindIncidents(context.Background(), persistence.IncidentQuery{JobId: job.Id})
		require.NoError(t, err)
		return len(incidents) == 1
	}, 5*time.Second, 10*time.Millisecond)
	stored := getJob(t, executor, job.Id)
	require.NotNil(t, stored)
	assert.Equal(t, int32(0), stored.Retries)
	assert.Contains(t, stored.ExceptionMessage, "test-job")
}

func TestAcquisitionBackoff(t *testing.T) {
	cfg := config.JobExecutorConfig{
		MaxJobsPerAcquisition: 3,
		WaitTimeMin:           100 * time.Millisecond,
		WaitTimeMax:           time.Second,
		WaitIncreaseFactor:    2,
		BackoffTimeMin:        50 * time.Millisecond,
		BackoffTimeMax:        150 * time.Millisecond,
	}
	b := newAcquisitionBackoff(cfg)

	assert.Equal(t, time.Duration(0), b.next(acquisitionResult{found: 3, acquired: 3}))
	assert.Equal(t, 100*time.Millisecond, b.next(acquisitionResult{found: 1, acquired: 1}))

	assert.Equal(t, 100*time.Millisecond, b.next(acquisitionResult{}))
	assert.Equal(t, 200*time.Millisecond, b.next(acquisitionResult{}))
	assert.Equal(t, 400*time.Millisecond, b.next(acquisitionResult{failed: true}))
	assert.Equal(t, 800*time.Millisecond, b.next(acquisitionResult{}))
	assert.Equal(t, time.Second, b.next(acquisitionResult{}))

	assert.Equal(t, 50*time.Millisecond, b.next(acquisitionResult{found: 2, lost: 2}))
	assert.Equal(t, 100*time.Millisecond, b.next(acquisitionResult{found: 2, lost: 2}))
	assert.Equal(t, 150*time.Millisecond, b.next(acquisitionResult{found: 2, lost: 2}))

	assert.Equal(t, 100*time.Millisecond, b.next(acquisitionResult{found: 2, acquired: 1, lost: 1}))
	assert.Equal(t, 100*time.Millisecond, b.next(acquisitionResult{}))
}

func TestExclusiveGate(t *testing.T) {
	g := newExclusiveGate()
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx, "pi-1"))
	require.NoError(t, g.Acquire(ctx, "pi-2"))
	assert.Equal(t, 2, g.Held())

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Acquire(timeout, "pi-1"), context.DeadlineExceeded)

	admitted := make(chan struct{})
	go func() {
		if g.Acquire(ctx, "pi-1") == nil {
			close(admitted)
		}
	}()
	select {
	case <-admitted:
		require.FailNow(t, "admitted while the instance is held")
	case <-time.After(20 * time.Millisecond):
	}
	g.Release("pi-1")
	<-admitted
	g.Release("pi-1")
	g.Release("pi-2")
	assert.Equal(t, 0, g.Held())
}

func TestExclusiveGateAdmitsInArrivalOrder(t *testing.T) {
	g := newExclusiveGate()
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx, "pi-1"))

	admitted := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func(i int) {
			if g.Acquire(ctx, "pi-1") == nil {
				admitted <- i
			}
		}(i)
		require.Eventually(t, func() bool { return g.Waiting("pi-1") == i+1 }, time.Second, time.Millisecond)
	}

	// a waiter that gives up leaves the queue
	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Acquire(timeout, "pi-1"), context.DeadlineExceeded)
	assert.Equal(t, 3, g.Waiting("pi-1"))

	for i := 0; i < 3; i++ {
		g.Release("pi-1")
		select {
		case got := <-admitted:
			assert.Equal(t, i, got)
		case <-time.After(time.Second):
			require.FailNow(t, "waiter not admitted")
		}
	}
	g.Release("pi-1")
	assert.Equal(t, 0, g.Held())
}
