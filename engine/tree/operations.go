// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/persistence"
)

type StartRequest struct {
	Definition *definition.ProcessDefinition
	// StartActivityId defaults to the initial activity of the definition
	StartActivityId string
	BusinessKey     string
	Variables       map[string]any
}

// StartProcessInstance creates the root execution at the start activity and runs it
// until every path waits or ends
func (f *Flow) StartProcessInstance(cctx *command.Context, req StartRequest) (*persistence.Execution, error) {
	def := req.Definition
	startId := req.StartActivityId
	if startId == "" {
		startId = def.InitialActivityId
	}
	if startId == "" {
		return nil, errs.InvalidArgument("process definition %s has no initial activity, a start activity is required", def.Id)
	}
	start, err := def.Activity(startId)
	if err != nil {
		return nil, err
	}
	if !start.IsStartEvent() {
		return nil, errs.InvalidArgument("activity %s is not a start event", startId)
	}

	id := uuid.MustNewUUID()
	root := &persistence.Execution{
		Id:                  id,
		ProcessInstanceId:   id,
		ProcessDefinitionId: def.Id,
		ActivityId:          start.Id,
		IsActive:            true,
		IsScope:             true,
		BusinessKey:         req.BusinessKey,
		TenantId:            def.TenantId,
		Variables:           copyVariables(req.Variables),
		CreateTime:          cctx.Now(),
	}
	if err := cctx.Session.Insert(root); err != nil {
		return nil, err
	}
	w := &walk{cctx: cctx, tree: newTree(root), def: def}
	w.record(history.EventProcessInstanceStarted, root, "")
	cctx.Logger.Info("process instance started",
		tag.ProcessInstanceId(id), tag.ProcessDefinitionId(def.Id), tag.ActivityId(start.Id))
	if err := f.enter(w, root, start); err != nil {
		return nil, err
	}
	return root, nil
}

// CreateChild adds an active concurrent leaf under parentId, the parent stops being a leaf
func (f *Flow) CreateChild(cctx *command.Context, parentId string) (*persistence.Execution, error) {
	parent, w, err := f.load(cctx, parentId)
	if err != nil {
		return nil, err
	}
	if parent.IsEnded || w.tree.Root().IsEnded {
		return nil, errs.InvalidState("execution %s has ended", parentId)
	}
	return f.newChild(w, parent)
}

// Signal moves an execution waiting at its activity along the outgoing transitions.
// The payload is merged into the process instance variables.
func (f *Flow) Signal(cctx *command.Context, executionId, signalName string, payload map[string]any) error {
	e, w, err := f.load(cctx, executionId)
	if err != nil {
		return err
	}
	if e.IsEnded || w.tree.Root().IsEnded {
		return errs.InvalidState("execution %s has ended", executionId)
	}
	activity, err := w.def.Activity(e.ActivityId)
	if err != nil {
		return err
	}
	if !e.IsActive || !activity.IsWaitState() {
		return errs.InvalidState("execution %s is not waiting at activity %s", executionId, activity.Id)
	}
	cctx.Logger.Debug("signal execution",
		tag.ExecutionId(e.Id), tag.ActivityId(activity.Id), tag.EventName(signalName))
	mergeVariables(w.tree.Root(), payload)
	return f.leaveWaitState(w, e, activity)
}

// End ends an execution and propagates to its scope, ending the root ends the process instance.
// Ending an execution that already ended does nothing.
func (f *Flow) End(cctx *command.Context, executionId, reason string) error {
	if executionId == "" {
		return errs.InvalidArgument("execution id is required")
	}
	e, err := cctx.Session.GetExecution(cctx.Context(), executionId)
	if err != nil {
		return err
	}
	if e == nil {
		return errs.NotFound("execution %s does not exist", executionId)
	}
	if e.IsEnded {
		return nil
	}
	t, err := Load(cctx, e.ProcessInstanceId)
	if err != nil {
		return err
	}
	w, err := f.newWalk(cctx, t)
	if err != nil {
		return err
	}
	if e.IsProcessInstance() {
		return f.endRoot(w, reason)
	}
	if t.Root().IsEnded {
		return nil
	}
	return f.endPath(w, e, reason)
}

// Trigger delivers an event to a subscription: a start subscription starts a new process instance,
// an intermediate one moves its waiting execution on
func (f *Flow) Trigger(
	cctx *command.Context, sub *persistence.EventSubscription, payload map[string]any,
) (*persistence.Execution, error) {
	if sub.IsStartEvent() {
		def, err := cctx.Definitions.GetDefinition(sub.ProcessDefinitionId)
		if err != nil {
			return nil, err
		}
		return f.StartProcessInstance(cctx, StartRequest{
			Definition:      def,
			StartActivityId: sub.ActivityId,
			Variables:       payload,
		})
	}
	e, w, err := f.load(cctx, sub.ExecutionId)
	if err != nil {
		return nil, err
	}
	if e.ActivityId != sub.ActivityId || !e.IsActive {
		return nil, errs.InvalidState("execution %s no longer waits at activity %s", e.Id, sub.ActivityId)
	}
	activity, err := w.def.Activity(e.ActivityId)
	if err != nil {
		return nil, err
	}
	mergeVariables(w.tree.Root(), payload)
	return e, f.leaveWaitState(w, e, activity)
}

// GetTree loads the executions of a process instance
func (f *Flow) GetTree(cctx *command.Context, processInstanceId string) (*Tree, error) {
	return Load(cctx, processInstanceId)
}

func (f *Flow) load(cctx *command.Context, executionId string) (*persistence.Execution, *walk, error) {
	if executionId == "" {
		return nil, nil, errs.InvalidArgument("execution id is required")
	}
	e, err := cctx.Session.GetExecution(cctx.Context(), executionId)
	if err != nil {
		return nil, nil, err
	}
	if e == nil {
		return nil, nil, errs.NotFound("execution %s does not exist", executionId)
	}
	t, err := Load(cctx, e.ProcessInstanceId)
	if err != nil {
		return nil, nil, err
	}
	w, err := f.newWalk(cctx, t)
	if err != nil {
		return nil, nil, err
	}
	return e, w, nil
}

func copyVariables(variables map[string]any) map[string]any {
	if len(variables) == 0 {
		return nil
	}
	c := make(map[string]any, len(variables))
	for k, v := range variables {
		c[k] = v
	}
	return c
}

func mergeVariables(root *persistence.Execution, payload map[string]any) {
	if len(payload) == 0 {
		return
	}
	if root.Variables == nil {
		root.Variables = map[string]any{}
	}
	for k, v := range payload {
		root.Variables[k] = v
	}
}
