// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/engine/authorization"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/persistence"
)

func loadJob(cctx *command.Context, jobId string) (*persistence.Job, error) {
	if jobId == "" {
		return nil, errs.InvalidArgument("job id is required")
	}
	job, err := cctx.Session.GetJob(cctx.Context(), jobId)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, errs.NotFound("no job found with id %s", jobId)
	}
	return job, nil
}

func jobUpdateCheck(jobId string) []authorization.Check {
	return []authorization.Check{{
		Permission:   authorization.PermissionUpdate,
		ResourceType: authorization.ResourceJob,
		ResourceId:   jobId,
	}}
}

// RecalculateJobDueDate computes the due date of a timer job again from its timer expression
type RecalculateJobDueDate struct {
	JobId               string
	SkipCustomListeners bool
	// CreationDateBased uses the creation time of the job instead of now as the base of the computation
	CreationDateBased bool
	Registry          *Registry
}

func (c *RecalculateJobDueDate) Name() string {
	return "RecalculateJobDueDate"
}

func (c *RecalculateJobDueDate) AuthorizationChecks(*command.Context) ([]authorization.Check, error) {
	return jobUpdateCheck(c.JobId), nil
}

func (c *RecalculateJobDueDate) Execute(cctx *command.Context) error {
	job, err := loadJob(cctx, c.JobId)
	if err != nil {
		return err
	}
	if !c.Registry.IsTimerHandler(job.HandlerType) {
		return errs.UnsupportedOperation("only timer jobs can be recalculated, job %s has handler type %s",
			job.Id, job.HandlerType)
	}
	conf, err := DecodeTimerConfiguration(job.HandlerConfiguration)
	if err != nil {
		return err
	}
	base := cctx.Now()
	if c.CreationDateBased {
		base = job.CreateTime
	}
	due, err := conf.Timer().NextDueDate(base)
	if err != nil {
		return err
	}

	previous := job.DueDate
	job.DueDate = due
	if !c.SkipCustomListeners {
		for _, listener := range c.Registry.dueDateListeners() {
			listener(cctx, job, previous)
		}
	}
	cctx.RecordHistory(history.Event{
		Type:              history.EventJobDueDateChanged,
		ProcessInstanceId: job.ProcessInstanceId,
		ExecutionId:       job.ExecutionId,
		ActivityId:        job.ActivityId,
		JobId:             job.Id,
		TenantId:          job.TenantId,
	})
	cctx.Logger.Info("job due date recalculated", tag.JobId(job.Id), tag.JobDueDate(job.DueDate))
	return nil
}

// SetJobRetries gives a job new retries. Incidents of the job are resolved when the job can run again.
type SetJobRetries struct {
	JobId   string
	Retries int32
}

func (c *SetJobRetries) Name() string {
	return "SetJobRetries"
}

func (c *SetJobRetries) AuthorizationChecks(*command.Context) ([]authorization.Check, error) {
	return jobUpdateCheck(c.JobId), nil
}

func (c *SetJobRetries) Execute(cctx *command.Context) error {
	if c.Retries < 0 {
		return errs.InvalidArgument("retries cannot be negative")
	}
	job, err := loadJob(cctx, c.JobId)
	if err != nil {
		return err
	}
	job.Retries = c.Retries
	if c.Retries == 0 {
		return nil
	}
	incidents, err := cctx.Session.FindIncidents(cctx.Context(), persistence.IncidentQuery{JobId: job.Id})
	if err != nil {
		return err
	}
	for _, incident := range incidents {
		if err := cctx.Session.Delete(incident); err != nil {
			return err
		}
		cctx.RecordHistory(history.Event{
			Type:              history.EventIncidentResolved,
			ProcessInstanceId: incident.ProcessInstanceId,
			JobId:             job.Id,
			IncidentId:        incident.Id,
			TenantId:          incident.TenantId,
		})
	}
	return nil
}

// ForceUnlock releases the lease of a job, e.g. when its node is known to be gone
type ForceUnlock struct {
	JobId string
}

func (c *ForceUnlock) Name() string {
	return "ForceUnlock"
}

func (c *ForceUnlock) AuthorizationChecks(*command.Context) ([]authorization.Check, error) {
	return jobUpdateCheck(c.JobId), nil
}

func (c *ForceUnlock) Execute(cctx *command.Context) error {
	job, err := loadJob(cctx, c.JobId)
	if err != nil {
		return err
	}
	if job.LockOwner != "" {
		cctx.Logger.Info("job lock released by operator", tag.JobId(job.Id), tag.LockOwner(job.LockOwner))
	}
	job.Unlock()
	return nil
}

// SetJobSuspended suspends or activates a job, a suspended job is never acquired
type SetJobSuspended struct {
	JobId     string
	Suspended bool
}

func (c *SetJobSuspended) Name() string {
	if c.Suspended {
		return "SuspendJob"
	}
	return "ActivateJob"
}

func (c *SetJobSuspended) AuthorizationChecks(*command.Context) ([]authorization.Check, error) {
	return jobUpdateCheck(c.JobId), nil
}

func (c *SetJobSuspended) Execute(cctx *command.Context) error {
	job, err := loadJob(cctx, c.JobId)
	if err != nil {
		return err
	}
	job.Suspended = c.Suspended
	return nil
}
