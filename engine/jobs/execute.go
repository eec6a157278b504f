// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"sort"

	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/persistence"
)

// ExecuteJob runs the handler of a job locked by LockOwner.
// The job is deleted when the handler completes, all in the command's transaction.
type ExecuteJob struct {
	JobId     string
	LockOwner string
	Registry  *Registry

	skipped bool
}

func (c *ExecuteJob) Name() string {
	return "ExecuteJob"
}

func (c *ExecuteJob) Execute(cctx *command.Context) error {
	job, err := cctx.Session.GetJob(cctx.Context(), c.JobId)
	if err != nil {
		return err
	}
	if job == nil {
		// deleted since acquisition, e.g. its process instance ended
		c.skipped = true
		cctx.Logger.Debug("acquired job no longer exists", tag.JobId(c.JobId))
		return nil
	}
	if job.LockOwner != c.LockOwner {
		c.skipped = true
		cctx.Logger.Warn("job is locked by another owner, its lease probably expired",
			tag.JobId(job.Id), tag.LockOwner(job.LockOwner))
		return nil
	}

	handler, err := c.Registry.Lookup(job.HandlerType)
	if err != nil {
		return err
	}
	outcome, err := handler.Execute(cctx, job)
	if err != nil {
		return err
	}

	switch outcome {
	case OutcomeRescheduled:
		job.Unlock()
		job.ExceptionMessage = ""
		job.ExceptionStacktrace = ""
		return nil
	default:
		return cctx.Session.Delete(job)
	}
}

// Skipped tells whether the job was gone or owned by someone else when the command ran
func (c *ExecuteJob) Skipped() bool {
	return c.skipped
}

func sortByDueDate(jobs []*persistence.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].DueDate.Equal(jobs[j].DueDate) {
			return jobs[i].Id < jobs[j].Id
		}
		return jobs[i].DueDate.Before(jobs[j].DueDate)
	})
}
