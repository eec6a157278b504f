// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package subscription

import (
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/persistence"
)

type RedeployRequest struct {
	Definition *definition.ProcessDefinition
	// IsKnown tells whether a definition id is still deployed. Start subscriptions and timer start jobs
	// of unknown definitions are orphans and removed. Nil keeps them.
	IsKnown func(definitionId string) bool
}

// Redeploy moves the start events of a process key to a new version in the command's session:
// the start subscriptions and timer start jobs of the key and the orphans are removed and the
// new version's ones inserted, so that one flush swaps them.
func Redeploy(cctx *command.Context, req RedeployRequest) error {
	def := req.Definition
	if err := checkAmbiguity(cctx, req); err != nil {
		return err
	}

	ctx := cctx.Context()
	existing, err := cctx.Session.FindEventSubscriptions(ctx, persistence.EventSubscriptionQuery{StartEventsOnly: true})
	if err != nil {
		return err
	}
	removed := 0
	for _, sub := range existing {
		if sub.ProcessDefinitionId == def.Id {
			continue
		}
		if isSameKey(def, sub.ProcessDefinitionId, sub.TenantId) || isOrphan(req, sub.ProcessDefinitionId) {
			if err := remove(cctx, sub); err != nil {
				return err
			}
			removed++
		}
	}

	timerJobs, err := cctx.Session.FindJobs(ctx, persistence.JobQuery{HandlerType: jobs.HandlerTimerStartEvent})
	if err != nil {
		return err
	}
	for _, job := range timerJobs {
		if job.ProcessDefinitionId == def.Id {
			continue
		}
		if isSameKey(def, job.ProcessDefinitionId, job.TenantId) || isOrphan(req, job.ProcessDefinitionId) {
			if err := cctx.Session.Delete(job); err != nil {
				return err
			}
			removed++
		}
	}

	for _, activity := range def.StartActivities() {
		switch activity.Type {
		case definition.ActivityMessageStartEvent, definition.ActivitySignalStartEvent:
			eventType := persistence.EventTypeMessage
			if activity.Type == definition.ActivitySignalStartEvent {
				eventType = persistence.EventTypeSignal
			}
			if _, err := Subscribe(cctx, SubscribeRequest{
				EventType:  eventType,
				EventName:  activity.EventName,
				ActivityId: activity.Id,
				Definition: def,
			}); err != nil {
				return err
			}
		case definition.ActivityTimerStartEvent:
			job, err := jobs.NewTimerStartJob(cctx, def, activity)
			if err != nil {
				return err
			}
			if err := jobs.Schedule(cctx, job); err != nil {
				return err
			}
		}
	}
	cctx.Logger.Info("start events swapped to the new process definition",
		tag.ProcessDefinitionId(def.Id), tag.Count(removed))
	return nil
}

// checkAmbiguity rejects a version whose message start names are not unique for its tenant
func checkAmbiguity(cctx *command.Context, req RedeployRequest) error {
	def := req.Definition
	names := map[string]string{}
	for _, activity := range def.StartActivities() {
		if activity.Type != definition.ActivityMessageStartEvent {
			continue
		}
		if other, ok := names[activity.EventName]; ok {
			return errs.Configuration("message start events %s and %s of process %s share the message name %s",
				other, activity.Id, def.Key, activity.EventName)
		}
		names[activity.EventName] = activity.Id

		subs, err := cctx.Session.FindEventSubscriptions(cctx.Context(), persistence.EventSubscriptionQuery{
			EventType:       persistence.EventTypeMessage,
			EventName:       activity.EventName,
			TenantId:        &def.TenantId,
			StartEventsOnly: true,
		})
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if definition.KeyFromId(sub.ProcessDefinitionId) != def.Key && !isOrphan(req, sub.ProcessDefinitionId) {
				return errs.Configuration("message start event name %s is already used by process definition %s",
					activity.EventName, sub.ProcessDefinitionId)
			}
		}
	}
	return nil
}

func isSameKey(def *definition.ProcessDefinition, definitionId, tenantId string) bool {
	return definition.KeyFromId(definitionId) == def.Key && tenantId == def.TenantId
}

func isOrphan(req RedeployRequest, definitionId string) bool {
	return req.IsKnown != nil && definitionId != req.Definition.Id && !req.IsKnown(definitionId)
}
