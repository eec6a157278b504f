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
)

type jobConcurrentProcessor struct {
	rootCtx        context.Context
	cancelRootCtx  context.CancelFunc
	cfg            config.JobExecutorConfig
	jobsToProcess  chan *persistence.Job
	executor       *command.Executor
	registry       *jobs.Registry
	gate           *exclusiveGate
	logger         log.Logger
	quit           chan struct{}
	workers        sync.WaitGroup
	shuttingDown   atomic.Bool
	onJobProcessed func(job *persistence.Job, err error)
}

func NewJobConcurrentProcessor(
	cfg config.JobExecutorConfig, executor *command.Executor, registry *jobs.Registry, logger log.Logger,
) JobProcessor {
	return newJobConcurrentProcessor(cfg, executor, registry, logger)
}

func newJobConcurrentProcessor(
	cfg config.JobExecutorConfig, executor *command.Executor, registry *jobs.Registry, logger log.Logger,
) *jobConcurrentProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &jobConcurrentProcessor{
		rootCtx:       ctx,
		cancelRootCtx: cancel,
		cfg:           cfg,
		jobsToProcess: make(chan *persistence.Job, cfg.ProcessorBufferSize),
		executor:      executor,
		registry:      registry,
		gate:          newExclusiveGate(),
		logger:        logger,
		quit:          make(chan struct{}),
	}
}

func (p *jobConcurrentProcessor) Start() error {
	for i := 0; i < p.cfg.ProcessorConcurrency; i++ {
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			for {
				// stopping wins over buffered jobs, they are unlocked by Stop
				select {
				case <-p.quit:
					return
				default:
				}
				select {
				case <-p.quit:
					return
				case job := <-p.jobsToProcess:
					p.process(job)
				}
			}
		}()
	}
	return nil
}

func (p *jobConcurrentProcessor) Submit(job *persistence.Job, cancel <-chan struct{}) bool {
	if p.shuttingDown.Load() {
		return false
	}
	select {
	case p.jobsToProcess <- job:
		return true
	case <-p.quit:
		return false
	case <-cancel:
		return false
	}
}

// trySubmit never blocks, a follow-up job that does not fit is left to the next acquisition
func (p *jobConcurrentProcessor) trySubmit(job *persistence.Job) bool {
	if p.shuttingDown.Load() {
		return false
	}
	select {
	case p.jobsToProcess <- job:
		return true
	default:
		return false
	}
}

func (p *jobConcurrentProcessor) Stop(ctx context.Context) error {
	if !p.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	close(p.quit)

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		// the running jobs are interrupted, their leases expire and another node retries them
		p.cancelRootCtx()
		err = ctx.Err()
	}

	var buffered []string
	for {
		select {
		case job := <-p.jobsToProcess:
			buffered = append(buffered, job.Id)
			continue
		default:
		}
		break
	}
	if len(buffered) > 0 {
		if unlockErr := unlockJobs(context.Background(), p.executor, p.cfg.LockOwner, buffered); unlockErr != nil {
			p.logger.Warn("failed to unlock buffered jobs, their leases will expire", tag.Error(unlockErr))
		} else {
			p.logger.Info("unlocked buffered jobs on shutdown", tag.Count(len(buffered)))
		}
	}
	p.cancelRootCtx()
	return err
}

func (p *jobConcurrentProcessor) process(job *persistence.Job) {
	logger := p.logger.WithTags(tag.JobId(job.Id), tag.JobHandlerType(job.HandlerType))
	if job.IsExclusive && job.ProcessInstanceId != "" {
		if err := p.gate.Acquire(p.rootCtx, job.ProcessInstanceId); err != nil {
			logger.Info("job not started, the processor is stopping", tag.Error(err))
			return
		}
		defer p.gate.Release(job.ProcessInstanceId)
	}

	logger.Debug("start executing job")
	err := p.execute(job)
	if err != nil {
		logger.Info("job failed", tag.Error(err))
		if failErr := p.executor.Execute(p.rootCtx, &jobs.FailJob{
			JobId:    job.Id,
			Cause:    err,
			Registry: p.registry,
		}); failErr != nil {
			// the lease expires and the job is retried without consuming a retry
			logger.Error("failed to record the job failure", tag.Error(failErr))
		}
	}
	if p.onJobProcessed != nil {
		p.onJobProcessed(job, err)
	}
}

func (p *jobConcurrentProcessor) execute(job *persistence.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Newf("job handler panicked: %v", r)
		}
	}()
	return p.executor.Execute(p.rootCtx, &jobs.ExecuteJob{
		JobId:     job.Id,
		LockOwner: p.cfg.LockOwner,
		Registry:  p.registry,
	}, command.WithJobCreatedHook(p.followUpHook(job)))
}

// followUpHook locks the exclusive jobs a job creates for its own process instance, when they are due,
// and submits them after the commit. During shutdown they are left for the next acquisition.
func (p *jobConcurrentProcessor) followUpHook(running *persistence.Job) command.JobCreatedHook {
	return func(cctx *command.Context, created *persistence.Job) {
		if p.shuttingDown.Load() || !created.IsExclusive || created.Suspended ||
			created.ProcessInstanceId == "" || created.ProcessInstanceId != running.ProcessInstanceId ||
			created.DueDate.After(cctx.Now()) {
			return
		}
		created.Lock(p.cfg.LockOwner, cctx.Now().Add(p.cfg.LockDuration))
		cctx.OnCommit(func() {
			if p.trySubmit(created) {
				return
			}
			if err := unlockJobs(context.Background(), p.executor, p.cfg.LockOwner, []string{created.Id}); err != nil {
				p.logger.Warn("failed to unlock follow-up job, its lease will expire",
					tag.JobId(created.Id), tag.Error(err))
			}
		})
	}
}

// unlockJobs releases the leases this node holds on jobs, conflicts mean someone else has changed them
func unlockJobs(ctx context.Context, executor *command.Executor, lockOwner string, jobIds []string) error {
	return executor.ExecuteFunc(ctx, "UnlockJobs", func(cctx *command.Context) error {
		for _, id := range jobIds {
			job, err := cctx.Session.GetJob(cctx.Context(), id)
			if err != nil {
				return err
			}
			if job != nil && job.LockOwner == lockOwner {
				job.Unlock()
			}
		}
		return nil
	}, command.WithConflictListener(func(persistence.Operation) persistence.ConflictResolution {
		return persistence.ConflictIgnore
	}))
}
