// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/runtime"
	"github.com/xcherryio/flowengine/service/common"
)

type serviceImpl struct {
	cfg     config.Config
	runtime *runtime.Service
	logger  log.Logger
}

func NewServiceImpl(cfg config.Config, runtimeService *runtime.Service, logger log.Logger) Service {
	return &serviceImpl{
		cfg:     cfg,
		runtime: runtimeService,
		logger:  logger,
	}
}

func (s serviceImpl) Deploy(ctx context.Context, document []byte) (*DeployResponse, *common.ErrorWithStatus) {
	defs, err := s.runtime.DeployDocument(ctx, document)
	if err != nil {
		if errs.Is(err, errs.ErrConfiguration) {
			return nil, common.NewErrorWithStatus(http.StatusBadRequest, err.Error())
		}
		return nil, s.handleError(err)
	}
	resp := &DeployResponse{Definitions: []DeployedDefinition{}}
	for _, def := range defs {
		resp.Definitions = append(resp.Definitions, DeployedDefinition{
			Id:      def.Id,
			Key:     def.Key,
			Version: def.Version,
		})
	}
	return resp, nil
}

func (s serviceImpl) StartProcess(
	ctx context.Context, request StartProcessRequest,
) (*StartProcessResponse, *common.ErrorWithStatus) {
	root, err := s.runtime.StartProcessInstanceByKey(ctx, runtime.StartRequest{
		ProcessDefinitionKey: request.ProcessDefinitionKey,
		TenantId:             request.TenantId,
		BusinessKey:          request.BusinessKey,
		Variables:            request.Variables,
	})
	if err != nil {
		return nil, s.handleError(err)
	}
	return &StartProcessResponse{ProcessInstanceId: root.Id}, nil
}

func (s serviceImpl) DescribeProcess(
	ctx context.Context, request DescribeProcessRequest,
) (*DescribeProcessResponse, *common.ErrorWithStatus) {
	executions, err := s.runtime.GetExecutions(ctx, request.ProcessInstanceId)
	if err != nil {
		return nil, s.handleError(err)
	}
	root := executions[0]
	resp := &DescribeProcessResponse{
		ProcessInstanceId:   root.Id,
		ProcessDefinitionId: root.ProcessDefinitionId,
		BusinessKey:         root.BusinessKey,
		Variables:           root.Variables,
		Executions:          make([]ExecutionResponse, 0, len(executions)),
	}
	for _, e := range executions {
		resp.Executions = append(resp.Executions, ExecutionResponse{
			Id:           e.Id,
			ParentId:     e.ParentId,
			ActivityId:   e.ActivityId,
			IsActive:     e.IsActive,
			IsConcurrent: e.IsConcurrent,
			IsScope:      e.IsScope,
			IsEnded:      e.IsEnded,
		})
	}
	return resp, nil
}

func (s serviceImpl) Signal(ctx context.Context, request SignalExecutionRequest) *common.ErrorWithStatus {
	if err := s.runtime.Signal(ctx, request.ExecutionId, request.SignalName, request.Variables); err != nil {
		return s.handleError(err)
	}
	return nil
}

func (s serviceImpl) CorrelateMessage(
	ctx context.Context, request CorrelateMessageRequest,
) (*CorrelateMessageResponse, *common.ErrorWithStatus) {
	execution, err := s.runtime.CorrelateMessage(ctx, request.MessageName, request.TenantId, request.Variables)
	if err != nil {
		return nil, s.handleError(err)
	}
	return &CorrelateMessageResponse{
		ProcessInstanceId: execution.ProcessInstanceId,
		ExecutionId:       execution.Id,
	}, nil
}

func (s serviceImpl) BroadcastSignal(
	ctx context.Context, request BroadcastSignalRequest,
) (*BroadcastSignalResponse, *common.ErrorWithStatus) {
	triggered, err := s.runtime.SignalEventReceived(ctx, request.SignalName, request.TenantId, request.Variables)
	if err != nil {
		return nil, s.handleError(err)
	}
	return &BroadcastSignalResponse{Triggered: triggered}, nil
}

func (s serviceImpl) EndExecution(ctx context.Context, request EndExecutionRequest) *common.ErrorWithStatus {
	if err := s.runtime.EndExecution(ctx, request.ExecutionId, request.Reason); err != nil {
		return s.handleError(err)
	}
	return nil
}

func (s serviceImpl) handleError(err error) *common.ErrorWithStatus {
	errResp := common.NewErrorFromEngine(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.logger.Error("encounter server error", tag.Error(err))
	}
	return errResp
}
