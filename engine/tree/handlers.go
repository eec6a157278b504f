// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/persistence"
)

// RegisterJobHandlers registers the handlers of the jobs the flow schedules
func (f *Flow) RegisterJobHandlers(registry *jobs.Registry) error {
	for _, h := range []jobs.Handler{
		&asyncContinuationHandler{flow: f},
		&timerTransitionHandler{flow: f},
		&timerStartHandler{flow: f},
	} {
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	return nil
}

type asyncContinuationHandler struct {
	flow *Flow
}

func (h *asyncContinuationHandler) Type() string {
	return jobs.HandlerAsyncContinuation
}

func (h *asyncContinuationHandler) Execute(cctx *command.Context, job *persistence.Job) (jobs.Outcome, error) {
	e, w, ok, err := h.flow.loadForJob(cctx, job)
	if !ok || err != nil {
		return jobs.OutcomeCompleted, err
	}
	activity, err := w.def.Activity(job.ActivityId)
	if err != nil {
		return jobs.OutcomeCompleted, err
	}
	e.ActivityId = activity.Id
	e.IsActive = true
	return jobs.OutcomeCompleted, h.flow.execute(w, e, activity)
}

type timerTransitionHandler struct {
	flow *Flow
}

func (h *timerTransitionHandler) Type() string {
	return jobs.HandlerTimerTransition
}

func (h *timerTransitionHandler) IsTimerHandler() bool {
	return true
}

func (h *timerTransitionHandler) Execute(cctx *command.Context, job *persistence.Job) (jobs.Outcome, error) {
	e, w, ok, err := h.flow.loadForJob(cctx, job)
	if !ok || err != nil {
		return jobs.OutcomeCompleted, err
	}
	conf, err := jobs.DecodeTimerConfiguration(job.HandlerConfiguration)
	if err != nil {
		return jobs.OutcomeCompleted, err
	}
	if e.ActivityId != conf.ActivityId || !e.IsActive {
		cctx.Logger.Info("timer fired for an execution that moved on",
			tag.JobId(job.Id), tag.ExecutionId(e.Id), tag.ActivityId(conf.ActivityId))
		return jobs.OutcomeCompleted, nil
	}
	activity, err := w.def.Activity(e.ActivityId)
	if err != nil {
		return jobs.OutcomeCompleted, err
	}
	return jobs.OutcomeCompleted, h.flow.leaveWaitState(w, e, activity)
}

type timerStartHandler struct {
	flow *Flow
}

func (h *timerStartHandler) Type() string {
	return jobs.HandlerTimerStartEvent
}

func (h *timerStartHandler) IsTimerHandler() bool {
	return true
}

func (h *timerStartHandler) Execute(cctx *command.Context, job *persistence.Job) (jobs.Outcome, error) {
	conf, err := jobs.DecodeTimerConfiguration(job.HandlerConfiguration)
	if err != nil {
		return jobs.OutcomeCompleted, err
	}
	def, err := cctx.Definitions.GetDefinition(job.ProcessDefinitionId)
	if err != nil {
		return jobs.OutcomeCompleted, err
	}
	if _, err := h.flow.StartProcessInstance(cctx, StartRequest{
		Definition:      def,
		StartActivityId: conf.ActivityId,
	}); err != nil {
		return jobs.OutcomeCompleted, err
	}
	repeat, err := jobs.RescheduleRepeatingTimer(job)
	if err != nil {
		return jobs.OutcomeCompleted, err
	}
	if repeat {
		return jobs.OutcomeRescheduled, nil
	}
	return jobs.OutcomeCompleted, nil
}

// loadForJob returns ok false when the execution of the job is gone, the job then completes silently
func (f *Flow) loadForJob(cctx *command.Context, job *persistence.Job) (*persistence.Execution, *walk, bool, error) {
	e, err := cctx.Session.GetExecution(cctx.Context(), job.ExecutionId)
	if err != nil {
		return nil, nil, false, err
	}
	if e == nil || e.IsEnded {
		cctx.Logger.Info("job execution no longer exists", tag.JobId(job.Id), tag.ExecutionId(job.ExecutionId))
		return nil, nil, false, nil
	}
	t, err := Load(cctx, e.ProcessInstanceId)
	if err != nil {
		return nil, nil, false, err
	}
	w, err := f.newWalk(cctx, t)
	if err != nil {
		return nil, nil, false, err
	}
	return e, w, true, nil
}
