// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/persistence"
	"golang.org/x/time/rate"
)

type jobExecutorImpl struct {
	cfg      config.JobExecutorConfig
	executor *command.Executor
	logger   log.Logger

	processor *jobConcurrentProcessor
	// pollTimer fires the next acquisition
	pollTimer TimerGate
	backoff   *acquisitionBackoff
	// hintLimiter bounds the acquisitions caused by hints, a burst of new jobs is served by one poll
	hintLimiter *rate.Limiter

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	loopDone chan struct{}
}

func NewJobExecutor(
	cfg config.JobExecutorConfig, executor *command.Executor, registry *jobs.Registry, logger log.Logger,
) JobExecutor {
	return newJobExecutor(cfg, executor, registry, logger)
}

func newJobExecutor(
	cfg config.JobExecutorConfig, executor *command.Executor, registry *jobs.Registry, logger log.Logger,
) *jobExecutorImpl {
	logger = logger.WithTags(tag.LockOwner(cfg.LockOwner))
	return &jobExecutorImpl{
		cfg:         cfg,
		executor:    executor,
		logger:      logger,
		processor:   newJobConcurrentProcessor(cfg, executor, registry, logger),
		pollTimer:   NewLocalTimerGate(logger, executor.Clock()),
		backoff:     newAcquisitionBackoff(cfg),
		hintLimiter: rate.NewLimiter(rate.Limit(cfg.HintRateLimit), 1),
		stopChan:    make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
}

func (e *jobExecutorImpl) Start() error {
	if !e.started.CompareAndSwap(false, true) {
		return errs.InvalidState("job executor %s is already started", e.cfg.LockOwner)
	}
	if err := e.processor.Start(); err != nil {
		return err
	}

	// fire immediately to make the first acquisition
	e.pollTimer.Update(e.executor.Clock().Now())

	go func() {
		defer close(e.loopDone)
		for {
			select {
			case <-e.pollTimer.FireChan():
				e.acquireAndDispatchAndPrepareNext()
			case <-e.stopChan:
				e.logger.Info("job acquisition is stopped")
				return
			}
		}
	}()
	e.logger.Info("job executor started",
		tag.Value(e.cfg.ProcessorConcurrency), tag.Count(e.cfg.MaxJobsPerAcquisition))
	return nil
}

func (e *jobExecutorImpl) TriggerAcquisition(hint JobHint) {
	if !e.started.Load() || e.isStopping() {
		return
	}
	next := hint.DueDate
	now := e.executor.Clock().Now()
	if next.IsZero() || !next.After(now) {
		if !e.hintLimiter.Allow() {
			return
		}
		next = now
	}
	e.pollTimer.Update(next)
}

func (e *jobExecutorImpl) AcquireBatch(
	ctx context.Context, priorityMin, priorityMax *int64, limit int,
) ([]*persistence.Job, error) {
	if limit <= 0 {
		return nil, errs.InvalidArgument("limit must be positive, got %d", limit)
	}
	if priorityMin != nil && priorityMax != nil && *priorityMin > *priorityMax {
		return nil, errs.InvalidArgument("priority range [%d, %d] is empty", *priorityMin, *priorityMax)
	}
	cmd, err := e.acquire(ctx, priorityMin, priorityMax, limit)
	if err != nil {
		return nil, err
	}
	acquired := cmd.Acquired()
	if e.started.Load() {
		e.dispatch(acquired)
	}
	return acquired, nil
}

func (e *jobExecutorImpl) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.pollTimer.Close()
	})
	if e.started.Load() {
		select {
		case <-e.loopDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.processor.Stop(ctx)
}

func (e *jobExecutorImpl) isStopping() bool {
	select {
	case <-e.stopChan:
		return true
	default:
		return false
	}
}

func (e *jobExecutorImpl) acquire(
	ctx context.Context, priorityMin, priorityMax *int64, limit int,
) (*jobs.AcquireJobs, error) {
	cmd := &jobs.AcquireJobs{
		Query: persistence.AcquirableJobsQuery{
			PriorityMin: priorityMin,
			PriorityMax: priorityMax,
			Limit:       limit,
		},
		LockOwner:    e.cfg.LockOwner,
		LockDuration: e.cfg.LockDuration,
	}
	if err := e.executor.Execute(ctx, cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (e *jobExecutorImpl) acquireAndDispatchAndPrepareNext() {
	if e.isStopping() {
		return
	}
	cmd, err := e.acquire(context.Background(), e.cfg.PriorityRangeMin, e.cfg.PriorityRangeMax, e.cfg.MaxJobsPerAcquisition)

	var result acquisitionResult
	if err != nil {
		e.logger.Error("failed at acquiring jobs", tag.Error(err))
		result.failed = true
	} else {
		acquired := cmd.Acquired()
		result = acquisitionResult{found: cmd.Found(), acquired: len(acquired), lost: cmd.Lost()}
		e.dispatch(acquired)
		e.logger.Debug("acquisition succeeded",
			tag.Count(len(acquired)), tag.Value(result.found))
	}

	wait := e.backoff.next(result)
	if !e.isStopping() {
		e.pollTimer.Update(getNextPollTime(e.executor.Clock().Now(), wait, e.cfg.IntervalJitter))
	}
}

// dispatch hands the jobs to the processor, blocking while its buffer is full.
// Jobs not taken because of a stop are unlocked.
func (e *jobExecutorImpl) dispatch(acquired []*persistence.Job) {
	for i, job := range acquired {
		if e.processor.Submit(job, e.stopChan) {
			continue
		}
		var ids []string
		for _, rest := range acquired[i:] {
			ids = append(ids, rest.Id)
		}
		if err := unlockJobs(context.Background(), e.executor, e.cfg.LockOwner, ids); err != nil {
			e.logger.Warn("failed to unlock acquired jobs, their leases will expire", tag.Error(err))
		}
		return
	}
}

// NewJobCreatedNotifier returns a hook that sends a hint for every job created by a command once it commits
func NewJobCreatedNotifier(notifier JobNotifier) command.JobCreatedHook {
	return func(cctx *command.Context, job *persistence.Job) {
		hint := JobHint{
			ProcessInstanceId: job.ProcessInstanceId,
			JobId:             job.Id,
			DueDate:           job.DueDate,
		}
		cctx.OnCommit(func() {
			notifier.NotifyNewJobs(hint)
		})
	}
}
