// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package runtime is the API of the engine for applications and operators.
// Each method runs one command, so each call commits or fails as a whole.
package runtime

import (
	"context"
	"sync"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/engine/authorization"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/engine/subscription"
	"github.com/xcherryio/flowengine/engine/tree"
	"github.com/xcherryio/flowengine/persistence"
)

type Service struct {
	executor *command.Executor
	repo     *definition.Repository
	flow     *tree.Flow
	registry *jobs.Registry
	logger   log.Logger

	// deployments of one node are serialized, versions are numbered in memory
	deployLock sync.Mutex
}

func NewService(
	executor *command.Executor, repo *definition.Repository, flow *tree.Flow, registry *jobs.Registry, logger log.Logger,
) *Service {
	return &Service{
		executor: executor,
		repo:     repo,
		flow:     flow,
		registry: registry,
		logger:   logger,
	}
}

// Deploy registers a new version of a process definition and swaps its start events in one command.
// Deploying content equal to the latest version of the key returns that version.
func (s *Service) Deploy(ctx context.Context, def *definition.ProcessDefinition) (*definition.ProcessDefinition, error) {
	s.deployLock.Lock()
	defer s.deployLock.Unlock()

	deployment, err := s.repo.Prepare(def)
	if err != nil {
		return nil, err
	}
	if deployment.Unchanged {
		s.logger.Info("process definition is unchanged, deployment skipped",
			tag.ProcessDefinitionId(deployment.Definition.Id))
		return deployment.Definition, nil
	}
	err = s.executor.Execute(ctx, newGuarded("Deploy", authorization.PermissionCreate,
		authorization.ResourceDeployment, deployment.Definition.Key,
		func(cctx *command.Context) error {
			return subscription.Redeploy(cctx, subscription.RedeployRequest{
				Definition: deployment.Definition,
				IsKnown:    s.repo.IsKnown,
			})
		}))
	if err != nil {
		return nil, err
	}
	s.repo.Register(deployment.Definition)
	return deployment.Definition, nil
}

// DeployFile deploys every process of a definition file in order
func (s *Service) DeployFile(ctx context.Context, path string) ([]*definition.ProcessDefinition, error) {
	defs, err := definition.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s.deployAll(ctx, defs, path)
}

// DeployDocument deploys every process of a definition document in order
func (s *Service) DeployDocument(ctx context.Context, content []byte) ([]*definition.ProcessDefinition, error) {
	defs, err := definition.Parse(content)
	if err != nil {
		return nil, err
	}
	return s.deployAll(ctx, defs, "document")
}

func (s *Service) deployAll(
	ctx context.Context, defs []*definition.ProcessDefinition, source string,
) ([]*definition.ProcessDefinition, error) {
	deployed := make([]*definition.ProcessDefinition, 0, len(defs))
	for _, def := range defs {
		d, err := s.Deploy(ctx, def)
		if err != nil {
			return deployed, errs.Wrapf(err, "deploy process %s from %s", def.Key, source)
		}
		deployed = append(deployed, d)
	}
	return deployed, nil
}

type StartRequest struct {
	ProcessDefinitionKey string
	TenantId             string
	BusinessKey          string
	Variables            map[string]any
}

// StartProcessInstanceByKey starts the latest version of a process at its initial activity
func (s *Service) StartProcessInstanceByKey(ctx context.Context, req StartRequest) (*persistence.Execution, error) {
	def, err := s.repo.GetLatestByKey(req.ProcessDefinitionKey, req.TenantId)
	if err != nil {
		return nil, err
	}
	var root *persistence.Execution
	err = s.executor.Execute(ctx, newGuarded("StartProcessInstance", authorization.PermissionCreateInstance,
		authorization.ResourceProcessDefinition, def.Key,
		func(cctx *command.Context) error {
			var err error
			root, err = s.flow.StartProcessInstance(cctx, tree.StartRequest{
				Definition:  def,
				BusinessKey: req.BusinessKey,
				Variables:   req.Variables,
			})
			return err
		}))
	if err != nil {
		return nil, err
	}
	return root, nil
}

// Signal moves on an execution waiting at a task or catch event
func (s *Service) Signal(ctx context.Context, executionId, signalName string, payload map[string]any) error {
	return s.executor.Execute(ctx, newGuarded("Signal", authorization.PermissionUpdate,
		authorization.ResourceProcessInstance, executionId,
		func(cctx *command.Context) error {
			return s.flow.Signal(cctx, executionId, signalName, payload)
		}))
}

// CorrelateMessage delivers a message to the one start event or waiting execution subscribed to it.
// No subscription is ErrNotFound, more than one is ErrInvalidState.
func (s *Service) CorrelateMessage(
	ctx context.Context, messageName string, tenantId *string, payload map[string]any,
) (*persistence.Execution, error) {
	var correlated *persistence.Execution
	err := s.executor.Execute(ctx, newGuarded("CorrelateMessage", authorization.PermissionUpdate,
		authorization.ResourceProcessInstance, "",
		func(cctx *command.Context) error {
			subs, err := subscription.Correlate(cctx, persistence.EventTypeMessage, messageName, tenantId)
			if err != nil {
				return err
			}
			switch len(subs) {
			case 0:
				return errs.NotFound("no subscription for message %s", messageName)
			case 1:
			default:
				return errs.InvalidState("message %s correlates to %d subscriptions", messageName, len(subs))
			}
			correlated, err = s.flow.Trigger(cctx, subs[0], payload)
			return err
		}))
	if err != nil {
		return nil, err
	}
	return correlated, nil
}

// SignalEventReceived delivers a signal to every start event and waiting execution subscribed to it
// and returns how many were triggered
func (s *Service) SignalEventReceived(
	ctx context.Context, signalName string, tenantId *string, payload map[string]any,
) (int, error) {
	triggered := 0
	err := s.executor.Execute(ctx, newGuarded("SignalEventReceived", authorization.PermissionUpdate,
		authorization.ResourceProcessInstance, "",
		func(cctx *command.Context) error {
			triggered = 0
			subs, err := subscription.Correlate(cctx, persistence.EventTypeSignal, signalName, tenantId)
			if err != nil {
				return err
			}
			for _, sub := range subs {
				if !sub.IsStartEvent() {
					// an earlier trigger of this signal may have ended the execution
					e, err := cctx.Session.GetExecution(cctx.Context(), sub.ExecutionId)
					if err != nil {
						return err
					}
					if e == nil || !e.IsActive || e.ActivityId != sub.ActivityId {
						continue
					}
				}
				if _, err := s.flow.Trigger(cctx, sub, payload); err != nil {
					return err
				}
				triggered++
			}
			return nil
		}))
	return triggered, err
}

// EndExecution ends an execution, ending the process instance when it is the root
func (s *Service) EndExecution(ctx context.Context, executionId, reason string) error {
	return s.executor.Execute(ctx, newGuarded("EndExecution", authorization.PermissionDelete,
		authorization.ResourceProcessInstance, executionId,
		func(cctx *command.Context) error {
			return s.flow.End(cctx, executionId, reason)
		}))
}

// GetExecutions returns the executions of a process instance ordered by creation, the root first
func (s *Service) GetExecutions(ctx context.Context, processInstanceId string) ([]*persistence.Execution, error) {
	var executions []*persistence.Execution
	err := s.executor.Execute(ctx, newGuarded("GetExecutions", authorization.PermissionRead,
		authorization.ResourceProcessInstance, processInstanceId,
		func(cctx *command.Context) error {
			t, err := s.flow.GetTree(cctx, processInstanceId)
			if err != nil {
				return err
			}
			executions = append([]*persistence.Execution{t.Root()}, t.Descendants(t.Root().Id)...)
			return nil
		}))
	if err != nil {
		return nil, err
	}
	return executions, nil
}

func (s *Service) RecalculateJobDueDate(ctx context.Context, jobId string, skipCustomListeners bool) error {
	return s.executor.Execute(ctx, &jobs.RecalculateJobDueDate{
		JobId:               jobId,
		SkipCustomListeners: skipCustomListeners,
		Registry:            s.registry,
	})
}

func (s *Service) SetJobRetries(ctx context.Context, jobId string, retries int32) error {
	return s.executor.Execute(ctx, &jobs.SetJobRetries{JobId: jobId, Retries: retries})
}

func (s *Service) ForceUnlock(ctx context.Context, jobId string) error {
	return s.executor.Execute(ctx, &jobs.ForceUnlock{JobId: jobId})
}

func (s *Service) SuspendJob(ctx context.Context, jobId string) error {
	return s.executor.Execute(ctx, &jobs.SetJobSuspended{JobId: jobId, Suspended: true})
}

func (s *Service) ActivateJob(ctx context.Context, jobId string) error {
	return s.executor.Execute(ctx, &jobs.SetJobSuspended{JobId: jobId, Suspended: false})
}

// EnsureMaintenanceJobs creates, reconfigures or removes the history cleanup job of the configured cycle
func (s *Service) EnsureMaintenanceJobs(ctx context.Context, historyCleanupCycle string) error {
	return s.executor.Execute(ctx, &jobs.EnsureMaintenanceJob{
		HandlerType: jobs.HandlerHistoryCleanup,
		Cycle:       historyCleanupCycle,
	})
}
