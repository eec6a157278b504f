// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/isoduration"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/persistence"
)

// FailJob applies the retry policy to a job whose command failed.
// It runs in a command of its own, after the failed command was rolled back.
type FailJob struct {
	JobId    string
	Cause    error
	Registry *Registry
}

func (c *FailJob) Name() string {
	return "FailJob"
}

func (c *FailJob) Execute(cctx *command.Context) error {
	job, err := cctx.Session.GetJob(cctx.Context(), c.JobId)
	if err != nil {
		return err
	}
	if job == nil {
		cctx.Logger.Info("failed job no longer exists", tag.JobId(c.JobId), tag.Error(c.Cause))
		return nil
	}
	var handler Handler
	if c.Registry != nil {
		handler, _ = c.Registry.Lookup(job.HandlerType)
	}
	return ApplyFailure(cctx, job, c.Cause, handler)
}

// ApplyFailure updates a job loaded in the command's session after its execution failed:
//   - a conflict makes the job due again at once, the attempt does not count
//   - ever-living jobs get their retries back and move to their next due date
//   - a configuration error, e.g. no handler for the job's type, uses up every retry at once
//   - with a retry cycle (job, then activity, then engine default) the first failure sets the retries
//     to the cycle's repeats, every failure consumes one and moves the due date by the cycle's interval
//   - without a cycle every failure consumes one retry and the job is due again at once
//   - a job without retries left keeps its row, unlocked, and gets one failedJob incident
func ApplyFailure(cctx *command.Context, job *persistence.Job, cause error, handler Handler) error {
	now := cctx.Now()
	job.Unlock()

	if errs.IsOptimisticLockingConflict(cause) {
		job.DueDate = now
		cctx.Logger.Debug("job lost a concurrent update and is due again",
			tag.JobId(job.Id), tag.Error(cause))
		return nil
	}

	firstFailure := job.ExceptionMessage == ""
	job.ExceptionMessage = errs.Truncate(cause.Error(), cctx.Config.MaxExceptionMessageSize)
	if job.ExceptionMessage == "" {
		job.ExceptionMessage = "job failed"
	}
	job.ExceptionStacktrace = errs.Stacktrace(cause, cctx.Config.MaxExceptionStacktraceSize)
	recordJobFailed(cctx, job)

	if everLiving, ok := handler.(EverLivingHandler); ok {
		next, err := everLiving.NextDueDate(cctx, job)
		if err != nil {
			cctx.Logger.Warn("cannot compute the next due date of an ever-living job",
				tag.JobId(job.Id), tag.Error(err))
			next = now
		}
		job.Retries = cctx.Config.DefaultRetries
		job.DueDate = next
		return nil
	}

	if errs.Is(cause, errs.ErrConfiguration) {
		job.Retries = 0
		cctx.Logger.Warn("job failed on a configuration error and is not retried",
			tag.JobId(job.Id), tag.JobHandlerType(job.HandlerType), tag.Error(cause))
		return createIncident(cctx, job)
	}

	if cycle, ok := retryCycleOf(cctx, job); ok {
		if firstFailure {
			job.Retries = int32(cycle.Retries)
		}
		job.Retries--
		if job.Retries > 0 {
			job.DueDate = cycle.IntervalFor(int(job.Retries)).AddTo(now)
		}
	} else {
		job.Retries--
	}

	if job.Retries <= 0 {
		job.Retries = 0
		return createIncident(cctx, job)
	}
	cctx.Logger.Info("job failed and will be retried",
		tag.JobId(job.Id), tag.JobRetries(job.Retries), tag.JobDueDate(job.DueDate), tag.Error(cause))
	return nil
}

func retryCycleOf(cctx *command.Context, job *persistence.Job) (isoduration.RetryCycle, bool) {
	if job.RetryTimeCycle != "" {
		cycle, err := isoduration.ParseRetryCycle(job.RetryTimeCycle)
		if err == nil {
			return cycle, true
		}
		cctx.Logger.Warn("ignoring the malformed retry time cycle of a job",
			tag.JobId(job.Id), tag.Value(job.RetryTimeCycle), tag.Error(err))
	}
	if job.ProcessDefinitionId != "" && job.ActivityId != "" && cctx.Definitions != nil {
		activity, err := cctx.Definitions.GetActivity(job.ProcessDefinitionId, job.ActivityId)
		if err == nil && activity.RetryTimeCycle != "" {
			if cycle, err := isoduration.ParseRetryCycle(activity.RetryTimeCycle); err == nil {
				return cycle, true
			}
		}
	}
	if cctx.Config.DefaultRetryTimeCycle != "" {
		if cycle, err := isoduration.ParseRetryCycle(cctx.Config.DefaultRetryTimeCycle); err == nil {
			return cycle, true
		}
	}
	return isoduration.RetryCycle{}, false
}

func createIncident(cctx *command.Context, job *persistence.Job) error {
	existing, err := cctx.Session.FindIncidents(cctx.Context(), persistence.IncidentQuery{JobId: job.Id})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	incident := &persistence.Incident{
		Id:                  uuid.MustNewUUID(),
		IncidentType:        persistence.IncidentTypeFailedJob,
		JobId:               job.Id,
		ExecutionId:         job.ExecutionId,
		ProcessInstanceId:   job.ProcessInstanceId,
		ProcessDefinitionId: job.ProcessDefinitionId,
		ActivityId:          job.ActivityId,
		TenantId:            job.TenantId,
		Message:             job.ExceptionMessage,
		CreateTime:          cctx.Now(),
	}
	if err := cctx.Session.Insert(incident); err != nil {
		return err
	}
	cctx.RecordHistory(history.Event{
		Type:                history.EventIncidentCreated,
		ProcessInstanceId:   job.ProcessInstanceId,
		ProcessDefinitionId: job.ProcessDefinitionId,
		ExecutionId:         job.ExecutionId,
		ActivityId:          job.ActivityId,
		JobId:               job.Id,
		IncidentId:          incident.Id,
		TenantId:            job.TenantId,
		Message:             incident.Message,
	})
	cctx.Logger.Warn("job retries are exhausted, incident created",
		tag.JobId(job.Id), tag.ProcessInstanceId(job.ProcessInstanceId), tag.ID(incident.Id))
	return nil
}

func recordJobFailed(cctx *command.Context, job *persistence.Job) {
	cctx.RecordHistory(history.Event{
		Type:                history.EventJobFailed,
		ProcessInstanceId:   job.ProcessInstanceId,
		ProcessDefinitionId: job.ProcessDefinitionId,
		ExecutionId:         job.ExecutionId,
		ActivityId:          job.ActivityId,
		JobId:               job.Id,
		TenantId:            job.TenantId,
		Message:             job.ExceptionMessage,
	})
}
