// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"encoding/json"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/isoduration"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/persistence"
)

// TimerConfiguration is the handler configuration of timer jobs.
// ProcessDefinitionKey must stay the first field, FindJobsByConfiguration searches by its prefix.
type TimerConfiguration struct {
	ProcessDefinitionKey string               `json:"processDefinitionKey,omitempty"`
	ActivityId           string               `json:"activityId"`
	TimerType            definition.TimerType `json:"timerType"`
	Expression           string               `json:"expression"`
	// Fired counts the firings of a repeating timer
	Fired int `json:"fired,omitempty"`
}

func (c TimerConfiguration) Timer() definition.TimerDefinition {
	return definition.TimerDefinition{Type: c.TimerType, Expression: c.Expression}
}

func (c TimerConfiguration) Encode() string {
	encoded, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	return string(encoded)
}

func DecodeTimerConfiguration(s string) (TimerConfiguration, error) {
	var c TimerConfiguration
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return c, errs.Configuration("malformed timer job configuration %q: %v", s, err)
	}
	return c, nil
}

// StartTimerConfigurationPrefix matches the configuration of every timer start job of a process key
func StartTimerConfigurationPrefix(processDefinitionKey string) string {
	quoted, _ := json.Marshal(processDefinitionKey)
	return `{"processDefinitionKey":` + string(quoted) + `,`
}

func newJob(cctx *command.Context, handlerType string) *persistence.Job {
	now := cctx.Now()
	return &persistence.Job{
		Id:          uuid.MustNewUUID(),
		HandlerType: handlerType,
		DueDate:     now,
		Retries:     cctx.Config.DefaultRetries,
		IsExclusive: true,
		CreateTime:  now,
	}
}

func bindToActivity(job *persistence.Job, execution *persistence.Execution, activity *definition.Activity) {
	job.ExecutionId = execution.Id
	job.ProcessInstanceId = execution.ProcessInstanceId
	job.ProcessDefinitionId = execution.ProcessDefinitionId
	job.TenantId = execution.TenantId
	job.ActivityId = activity.Id
	job.IsExclusive = activity.IsExclusive()
	job.Priority = activity.JobPriority
}

// NewAsyncContinuationJob continues an execution at an async-before activity
func NewAsyncContinuationJob(
	cctx *command.Context, execution *persistence.Execution, activity *definition.Activity,
) *persistence.Job {
	job := newJob(cctx, HandlerAsyncContinuation)
	bindToActivity(job, execution, activity)
	return job
}

// NewTimerJob is the job of an intermediate timer catch event the execution waits at
func NewTimerJob(
	cctx *command.Context, execution *persistence.Execution, activity *definition.Activity,
) (*persistence.Job, error) {
	if activity.Timer == nil {
		return nil, errs.Configuration("activity %s has no timer definition", activity.Id)
	}
	due, err := activity.Timer.NextDueDate(cctx.Now())
	if err != nil {
		return nil, err
	}
	job := newJob(cctx, HandlerTimerTransition)
	bindToActivity(job, execution, activity)
	job.DueDate = due
	job.HandlerConfiguration = TimerConfiguration{
		ActivityId: activity.Id,
		TimerType:  activity.Timer.Type,
		Expression: activity.Timer.Expression,
	}.Encode()
	return job, nil
}

// NewTimerStartJob starts a new process instance when it fires, it is owned by the definition
func NewTimerStartJob(
	cctx *command.Context, def *definition.ProcessDefinition, activity *definition.Activity,
) (*persistence.Job, error) {
	if activity.Timer == nil {
		return nil, errs.Configuration("activity %s has no timer definition", activity.Id)
	}
	due, err := activity.Timer.NextDueDate(cctx.Now())
	if err != nil {
		return nil, err
	}
	job := newJob(cctx, HandlerTimerStartEvent)
	job.ProcessDefinitionId = def.Id
	job.TenantId = def.TenantId
	job.ActivityId = activity.Id
	job.IsExclusive = activity.IsExclusive()
	job.Priority = activity.JobPriority
	job.DueDate = due
	job.HandlerConfiguration = TimerConfiguration{
		ProcessDefinitionKey: def.Key,
		ActivityId:           activity.Id,
		TimerType:            activity.Timer.Type,
		Expression:           activity.Timer.Expression,
	}.Encode()
	return job, nil
}

// NewMaintenanceJob creates an ever-living job whose configuration is its repeating interval, e.g. R/PT1H
func NewMaintenanceJob(cctx *command.Context, handlerType, cycle string) (*persistence.Job, error) {
	ri, err := isoduration.ParseRepeatingInterval(cycle)
	if err != nil {
		return nil, errs.Configuration("malformed maintenance cycle %q: %v", cycle, err)
	}
	job := newJob(cctx, handlerType)
	job.IsExclusive = false
	job.HandlerConfiguration = cycle
	if ri.Start != nil && ri.Start.After(job.DueDate) {
		job.DueDate = *ri.Start
	}
	return job, nil
}

// Schedule inserts a job in the command's session and notifies the job created hooks
func Schedule(cctx *command.Context, job *persistence.Job) error {
	if err := cctx.Session.Insert(job); err != nil {
		return err
	}
	cctx.RecordHistory(history.Event{
		Type:                history.EventJobCreated,
		ProcessInstanceId:   job.ProcessInstanceId,
		ProcessDefinitionId: job.ProcessDefinitionId,
		ExecutionId:         job.ExecutionId,
		ActivityId:          job.ActivityId,
		JobId:               job.Id,
		TenantId:            job.TenantId,
	})
	cctx.NotifyJobCreated(job)
	return nil
}

// RescheduleRepeatingTimer moves a repeating timer job to its next firing.
// It returns false when the timer has fired for the last time.
func RescheduleRepeatingTimer(job *persistence.Job) (bool, error) {
	conf, err := DecodeTimerConfiguration(job.HandlerConfiguration)
	if err != nil {
		return false, err
	}
	timer := conf.Timer()
	if !timer.IsRepeating() {
		return false, nil
	}
	conf.Fired++
	if repeats := timer.Repeats(); repeats != isoduration.RepeatInfinite && conf.Fired >= repeats {
		return false, nil
	}
	due, err := timer.NextDueDate(job.DueDate)
	if err != nil {
		return false, err
	}
	job.DueDate = due
	job.HandlerConfiguration = conf.Encode()
	return true, nil
}
