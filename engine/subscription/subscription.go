// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package subscription is the event subscription index: it links message, signal and timer names
// to the executions waiting for them, or to the process definitions they start.
package subscription

import (
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/persistence"
)

// SubscribeRequest is owned by either an Execution (intermediate event) or a Definition (start event)
type SubscribeRequest struct {
	EventType     persistence.EventType
	EventName     string
	ActivityId    string
	Configuration string
	Execution     *persistence.Execution
	Definition    *definition.ProcessDefinition
}

// NoTenant makes a correlation match only subscriptions without tenant, where nil matches every tenant
func NoTenant() *string {
	noTenant := ""
	return &noTenant
}

func Subscribe(cctx *command.Context, req SubscribeRequest) (*persistence.EventSubscription, error) {
	if req.EventName == "" {
		return nil, errs.InvalidArgument("event name is required to subscribe")
	}
	if (req.Execution == nil) == (req.Definition == nil) {
		return nil, errs.InvalidArgument("a subscription is owned by either an execution or a process definition")
	}
	sub := &persistence.EventSubscription{
		Id:            uuid.MustNewUUID(),
		EventType:     req.EventType,
		EventName:     req.EventName,
		ActivityId:    req.ActivityId,
		Configuration: req.Configuration,
		CreateTime:    cctx.Now(),
	}
	if req.Execution != nil {
		sub.ExecutionId = req.Execution.Id
		sub.ProcessInstanceId = req.Execution.ProcessInstanceId
		sub.ProcessDefinitionId = req.Execution.ProcessDefinitionId
		sub.TenantId = req.Execution.TenantId
	} else {
		sub.ProcessDefinitionId = req.Definition.Id
		sub.TenantId = req.Definition.TenantId
	}
	if err := cctx.Session.Insert(sub); err != nil {
		return nil, err
	}
	record(cctx, history.EventSubscriptionAdded, sub)
	return sub, nil
}

// Correlate returns the subscriptions of an exact event name and tenant, start and intermediate ones alike
func Correlate(
	cctx *command.Context, eventType persistence.EventType, eventName string, tenantId *string,
) ([]*persistence.EventSubscription, error) {
	return cctx.Session.FindEventSubscriptions(cctx.Context(), persistence.EventSubscriptionQuery{
		EventType: eventType,
		EventName: eventName,
		TenantId:  tenantId,
	})
}

// Cancel removes a subscription, ErrNotFound when it does not exist
func Cancel(cctx *command.Context, subscriptionId string) error {
	sub, err := cctx.Session.GetEventSubscription(cctx.Context(), subscriptionId)
	if err != nil {
		return err
	}
	if sub == nil {
		return errs.NotFound("no event subscription found with id %s", subscriptionId)
	}
	return remove(cctx, sub)
}

// CancelForExecution removes the subscriptions of an execution leaving its wait state
func CancelForExecution(cctx *command.Context, executionId string) error {
	subs, err := cctx.Session.FindEventSubscriptions(cctx.Context(), persistence.EventSubscriptionQuery{
		ExecutionId: executionId,
	})
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.IsStartEvent() {
			continue
		}
		if err := remove(cctx, sub); err != nil {
			return err
		}
	}
	return nil
}

func remove(cctx *command.Context, sub *persistence.EventSubscription) error {
	if err := cctx.Session.Delete(sub); err != nil {
		return err
	}
	record(cctx, history.EventSubscriptionRemoved, sub)
	return nil
}

func record(cctx *command.Context, eventType history.EventType, sub *persistence.EventSubscription) {
	cctx.RecordHistory(history.Event{
		Type:                eventType,
		ProcessInstanceId:   sub.ProcessInstanceId,
		ProcessDefinitionId: sub.ProcessDefinitionId,
		ExecutionId:         sub.ExecutionId,
		ActivityId:          sub.ActivityId,
		SubscriptionId:      sub.Id,
		EventName:           sub.EventName,
		TenantId:            sub.TenantId,
	})
	cctx.Logger.Debug(string(eventType), tag.ID(sub.Id), tag.EventName(sub.EventName), tag.ExecutionId(sub.ExecutionId))
}
