// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"time"

	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/persistence"
)

// AcquireJobs finds acquirable jobs and locks them for LockOwner in one command.
// A lock that loses against another node is skipped. Each process instance gets at most one
// exclusive job per batch, and the other unlocked exclusive jobs of the instance are touched so that
// a node locking one of them at the same time conflicts with this batch.
type AcquireJobs struct {
	Query        persistence.AcquirableJobsQuery
	LockOwner    string
	LockDuration time.Duration

	candidates map[string]*persistence.Job
	lost       map[string]bool
	found      int
}

func (c *AcquireJobs) Name() string {
	return "AcquireJobs"
}

func (c *AcquireJobs) Execute(cctx *command.Context) error {
	ctx := cctx.Context()
	now := cctx.Now()
	query := c.Query
	if query.Now.IsZero() {
		query.Now = now
	}
	jobs, err := cctx.Session.FindAcquirableJobs(ctx, query)
	if err != nil {
		return err
	}
	c.found = len(jobs)
	c.candidates = map[string]*persistence.Job{}
	c.lost = map[string]bool{}
	cctx.Session.AddConflictListener(func(op persistence.Operation) persistence.ConflictResolution {
		if op.Kind != persistence.OperationUpdate || op.Entity.EntityType() != persistence.EntityTypeJob {
			return persistence.ConflictRethrow
		}
		if _, ok := c.candidates[op.Entity.GetId()]; !ok {
			// a touched sibling was locked by someone else, the exclusive lock of this batch is unsafe
			return persistence.ConflictRethrow
		}
		c.lost[op.Entity.GetId()] = true
		return persistence.ConflictIgnore
	})

	exclusiveInstances := map[string]bool{}
	until := now.Add(c.LockDuration)
	for _, job := range jobs {
		if job.IsExclusive && job.ProcessInstanceId != "" {
			if exclusiveInstances[job.ProcessInstanceId] {
				continue
			}
			exclusiveInstances[job.ProcessInstanceId] = true
			siblings, err := cctx.Session.FindJobs(ctx, persistence.JobQuery{ProcessInstanceId: job.ProcessInstanceId})
			if err != nil {
				return err
			}
			for _, sibling := range siblings {
				if sibling.Id != job.Id && sibling.IsExclusive && !sibling.IsLocked(now) {
					if err := cctx.Session.Touch(sibling); err != nil {
						return err
					}
				}
			}
		}
		job.Lock(c.LockOwner, until)
		c.candidates[job.Id] = job
	}
	return nil
}

// Found is the number of acquirable jobs the query returned
func (c *AcquireJobs) Found() int {
	return c.found
}

// Acquired returns the jobs locked by the committed command, ordered by due date
func (c *AcquireJobs) Acquired() []*persistence.Job {
	var acquired []*persistence.Job
	for _, job := range c.candidates {
		if !c.lost[job.Id] {
			acquired = append(acquired, job)
		}
	}
	sortByDueDate(acquired)
	return acquired
}

// Lost is the number of candidates another node locked first
func (c *AcquireJobs) Lost() int {
	return len(c.lost)
}
