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
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/engine/subscription"
	"github.com/xcherryio/flowengine/persistence"
)

// Flow moves the executions of a tree through the activities of their definition.
// Every method runs inside the command of cctx, nothing is written before the command flushes.
type Flow struct {
	delegates *Delegates
}

func NewFlow(delegates *Delegates) *Flow {
	if delegates == nil {
		delegates = NewDelegates()
	}
	return &Flow{delegates: delegates}
}

// walk is the state of one traversal, the tree and definition of one process instance
type walk struct {
	cctx *command.Context
	tree *Tree
	def  *definition.ProcessDefinition
}

func (f *Flow) newWalk(cctx *command.Context, t *Tree) (*walk, error) {
	def, err := cctx.Definitions.GetDefinition(t.Root().ProcessDefinitionId)
	if err != nil {
		return nil, err
	}
	return &walk{cctx: cctx, tree: t, def: def}, nil
}

// enter moves an execution to an activity and executes it, or schedules an async continuation
func (f *Flow) enter(w *walk, e *persistence.Execution, activity *definition.Activity) error {
	e.ActivityId = activity.Id
	e.IsActive = true
	w.record(history.EventActivityStarted, e, "")
	if activity.AsyncBefore {
		return jobs.Schedule(w.cctx, jobs.NewAsyncContinuationJob(w.cctx, e, activity))
	}
	return f.execute(w, e, activity)
}

func (f *Flow) execute(w *walk, e *persistence.Execution, activity *definition.Activity) error {
	switch activity.Type {
	case definition.ActivityStartEvent, definition.ActivityMessageStartEvent,
		definition.ActivitySignalStartEvent, definition.ActivityTimerStartEvent:
		return f.leave(w, e, activity)
	case definition.ActivityServiceTask:
		if activity.DelegateName != "" {
			delegate, err := f.delegates.lookup(activity.DelegateName)
			if err != nil {
				return err
			}
			if w.tree.Root().Variables == nil {
				w.tree.Root().Variables = map[string]any{}
			}
			if err := delegate(w.cctx, e, w.tree.Root().Variables); err != nil {
				return errs.Wrapf(err, "service task %s", activity.Id)
			}
		}
		return f.leave(w, e, activity)
	case definition.ActivityUserTask, definition.ActivityReceiveTask:
		return nil
	case definition.ActivityTimerCatchEvent:
		job, err := jobs.NewTimerJob(w.cctx, e, activity)
		if err != nil {
			return err
		}
		return jobs.Schedule(w.cctx, job)
	case definition.ActivityMessageCatchEvent, definition.ActivitySignalCatchEvent:
		eventType := persistence.EventTypeMessage
		if activity.Type == definition.ActivitySignalCatchEvent {
			eventType = persistence.EventTypeSignal
		}
		_, err := subscription.Subscribe(w.cctx, subscription.SubscribeRequest{
			EventType:  eventType,
			EventName:  activity.EventName,
			ActivityId: activity.Id,
			Execution:  e,
		})
		return err
	case definition.ActivityParallelGateway:
		return f.gateway(w, e, activity)
	case definition.ActivityEndEvent:
		return f.endPath(w, e, "end event "+activity.Id)
	case definition.ActivityTerminateEndEvent:
		return f.endRoot(w, "terminated by "+activity.Id)
	default:
		return errs.Configuration("activity %s has unsupported type %s", activity.Id, activity.Type)
	}
}

// leave takes the outgoing transitions of an activity, more than one forks
func (f *Flow) leave(w *walk, e *persistence.Execution, activity *definition.Activity) error {
	switch len(activity.Outgoing) {
	case 0:
		return f.endPath(w, e, "no outgoing transition from "+activity.Id)
	case 1:
		next, err := w.def.Activity(activity.Outgoing[0])
		if err != nil {
			return err
		}
		return f.enter(w, e, next)
	default:
		return f.fork(w, e, activity.Outgoing)
	}
}

// leaveWaitState removes what the execution was waiting with and leaves the activity
func (f *Flow) leaveWaitState(w *walk, e *persistence.Execution, activity *definition.Activity) error {
	if err := f.clearWaitState(w, e); err != nil {
		return err
	}
	return f.leave(w, e, activity)
}

func (f *Flow) clearWaitState(w *walk, e *persistence.Execution) error {
	if err := subscription.CancelForExecution(w.cctx, e.Id); err != nil {
		return err
	}
	pending, err := w.cctx.Session.FindJobs(w.cctx.Context(), persistence.JobQuery{ExecutionId: e.Id})
	if err != nil {
		return err
	}
	for _, job := range pending {
		if err := w.cctx.Session.Delete(job); err != nil {
			return err
		}
	}
	return nil
}

// fork creates one concurrent child per target under the scope of e. A concurrent e is reused
// for the first target, so a nested fork keeps every path at the same scope.
func (f *Flow) fork(w *walk, e *persistence.Execution, targets []string) error {
	activities := make([]*definition.Activity, 0, len(targets))
	for _, target := range targets {
		activity, err := w.def.Activity(target)
		if err != nil {
			return err
		}
		activities = append(activities, activity)
	}

	var scope *persistence.Execution
	var paths []*persistence.Execution
	if e.IsConcurrent {
		scope = w.tree.Parent(e)
		paths = append(paths, e)
	} else {
		scope = e
		scope.IsActive = false
	}
	for len(paths) < len(activities) {
		child, err := f.newChild(w, scope)
		if err != nil {
			return err
		}
		paths = append(paths, child)
	}
	// all paths exist before any is entered, a join reached by the first one waits for the others
	for i, path := range paths {
		path.ActivityId = activities[i].Id
	}
	for i, path := range paths {
		if _, ok := w.tree.Get(path.Id); !ok || path.IsEnded {
			// ended while an earlier path ran, e.g. by a terminate end event
			continue
		}
		if err := f.enter(w, path, activities[i]); err != nil {
			return err
		}
	}
	return nil
}

// gateway joins when the gateway has more than one incoming transition, then leaves it
func (f *Flow) gateway(w *walk, e *persistence.Execution, activity *definition.Activity) error {
	incoming := w.def.Incoming(activity.Id)
	if len(incoming) <= 1 {
		return f.leave(w, e, activity)
	}

	scope := e
	if e.IsConcurrent {
		scope = w.tree.Parent(e)
	}
	// the counter is read and incremented in this session, a concurrent arrival conflicts on the scope's revision
	arrived := scope.ArriveAtJoin(activity.Id)
	if err := w.cctx.Session.Touch(scope); err != nil {
		return err
	}
	e.IsActive = false
	if arrived < len(incoming) {
		w.cctx.Logger.Debug("execution waits at join",
			tag.ExecutionId(e.Id), tag.ActivityId(activity.Id), tag.Count(arrived))
		return nil
	}

	scope.ResetJoin(activity.Id)
	if e.IsConcurrent {
		for _, child := range w.tree.Children(scope.Id) {
			if child.ActivityId == activity.Id && !child.IsActive {
				if err := f.remove(w, child, "joined at "+activity.Id); err != nil {
					return err
				}
			}
		}
	}

	next := scope
	if len(w.tree.Children(scope.Id)) > 0 {
		child, err := f.newChild(w, scope)
		if err != nil {
			return err
		}
		next = child
	} else if err := f.purgeEnded(w, scope); err != nil {
		return err
	}
	next.ActivityId = activity.Id
	next.IsActive = true
	w.cctx.Logger.Debug("join activated", tag.ExecutionId(next.Id), tag.ActivityId(activity.Id))
	return f.leave(w, next, activity)
}

// endPath ends one path of control. The last path of a scope ends the scope, the root ends the instance.
func (f *Flow) endPath(w *walk, e *persistence.Execution, reason string) error {
	if e.IsProcessInstance() {
		return f.endRoot(w, reason)
	}
	parent := w.tree.Parent(e)
	if err := f.retire(w, e, reason); err != nil {
		return err
	}
	if parent == nil || parent.IsActive || len(w.tree.Children(parent.Id)) > 0 {
		return nil
	}
	return f.endPath(w, parent, reason)
}

// endRoot ends the process instance: descendants are deleted with their jobs and subscriptions,
// ended ones included, the root is kept as ended
func (f *Flow) endRoot(w *walk, reason string) error {
	root := w.tree.Root()
	if root.IsEnded {
		return nil
	}
	for _, e := range w.tree.Descendants(root.Id) {
		if err := f.remove(w, e, reason); err != nil {
			return err
		}
	}
	for _, e := range w.tree.allEnded() {
		if err := w.cctx.Session.Delete(e); err != nil {
			return err
		}
	}
	ctx := w.cctx.Context()
	pending, err := w.cctx.Session.FindJobs(ctx, persistence.JobQuery{ProcessInstanceId: root.ProcessInstanceId})
	if err != nil {
		return err
	}
	for _, job := range pending {
		if err := w.cctx.Session.Delete(job); err != nil {
			return err
		}
	}
	if err := subscription.CancelForExecution(w.cctx, root.Id); err != nil {
		return err
	}
	root.IsEnded = true
	root.IsActive = false
	root.JoinArrivals = nil
	w.record(history.EventProcessInstanceEnded, root, reason)
	w.cctx.Logger.Info("process instance ended",
		tag.ProcessInstanceId(root.ProcessInstanceId), tag.Message(reason))
	return nil
}

func (f *Flow) newChild(w *walk, parent *persistence.Execution) (*persistence.Execution, error) {
	child := &persistence.Execution{
		Id:                  uuid.MustNewUUID(),
		ProcessInstanceId:   parent.ProcessInstanceId,
		ParentId:            parent.Id,
		ProcessDefinitionId: parent.ProcessDefinitionId,
		ActivityId:          parent.ActivityId,
		IsActive:            true,
		IsConcurrent:        true,
		TenantId:            parent.TenantId,
		BusinessKey:         parent.BusinessKey,
		CreateTime:          w.cctx.Now(),
	}
	if err := w.cctx.Session.Insert(child); err != nil {
		return nil, err
	}
	parent.IsActive = false
	w.tree.add(child)
	w.record(history.EventExecutionCreated, child, "")
	return child, nil
}

// retire ends a non root execution and keeps it as ended until its scope completes,
// the ended executions below it are deleted
func (f *Flow) retire(w *walk, e *persistence.Execution, reason string) error {
	if err := f.clearWaitState(w, e); err != nil {
		return err
	}
	if err := f.purgeEnded(w, e); err != nil {
		return err
	}
	e.IsEnded = true
	e.IsActive = false
	e.JoinArrivals = nil
	w.tree.retire(e)
	w.record(history.EventExecutionEnded, e, reason)
	return nil
}

// purgeEnded deletes the ended executions below a scope that completed
func (f *Flow) purgeEnded(w *walk, scope *persistence.Execution) error {
	for _, e := range w.tree.Ended(scope.Id) {
		if err := w.cctx.Session.Delete(e); err != nil {
			return err
		}
	}
	w.tree.forgetEnded(scope.Id)
	return nil
}

// remove deletes a non root execution and what it waits with
func (f *Flow) remove(w *walk, e *persistence.Execution, reason string) error {
	if err := f.clearWaitState(w, e); err != nil {
		return err
	}
	if err := w.cctx.Session.Delete(e); err != nil {
		return err
	}
	w.tree.remove(e)
	w.record(history.EventExecutionEnded, e, reason)
	return nil
}

func (w *walk) record(eventType history.EventType, e *persistence.Execution, message string) {
	w.cctx.RecordHistory(history.Event{
		Type:                eventType,
		ProcessInstanceId:   e.ProcessInstanceId,
		ProcessDefinitionId: e.ProcessDefinitionId,
		ExecutionId:         e.Id,
		ActivityId:          e.ActivityId,
		TenantId:            e.TenantId,
		Message:             message,
	})
}
