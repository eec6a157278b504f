// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"

	"github.com/xcherryio/flowengine/service/common"
)

type Server interface {
	// Start will start running on the background
	Start() error
	Stop(ctx context.Context) error
}

// Service is the interface of API service, which decoupled from REST server framework like Gin
// So that users can choose to use other REST frameworks to serve requests
type Service interface {
	Deploy(ctx context.Context, document []byte) (*DeployResponse, *common.ErrorWithStatus)
	StartProcess(ctx context.Context, request StartProcessRequest) (*StartProcessResponse, *common.ErrorWithStatus)
	DescribeProcess(ctx context.Context, request DescribeProcessRequest) (*DescribeProcessResponse, *common.ErrorWithStatus)
	Signal(ctx context.Context, request SignalExecutionRequest) *common.ErrorWithStatus
	CorrelateMessage(ctx context.Context, request CorrelateMessageRequest) (*CorrelateMessageResponse, *common.ErrorWithStatus)
	BroadcastSignal(ctx context.Context, request BroadcastSignalRequest) (*BroadcastSignalResponse, *common.ErrorWithStatus)
	EndExecution(ctx context.Context, request EndExecutionRequest) *common.ErrorWithStatus
}

type (
	DeployedDefinition struct {
		Id      string `json:"id"`
		Key     string `json:"key"`
		Version int    `json:"version"`
	}

	DeployResponse struct {
		Definitions []DeployedDefinition `json:"definitions"`
	}

	StartProcessRequest struct {
		ProcessDefinitionKey string         `json:"processDefinitionKey" binding:"required"`
		TenantId             string         `json:"tenantId,omitempty"`
		BusinessKey          string         `json:"businessKey,omitempty"`
		Variables            map[string]any `json:"variables,omitempty"`
	}

	StartProcessResponse struct {
		ProcessInstanceId string `json:"processInstanceId"`
	}

	DescribeProcessRequest struct {
		ProcessInstanceId string `json:"processInstanceId" binding:"required"`
	}

	ExecutionResponse struct {
		Id           string `json:"id"`
		ParentId     string `json:"parentId,omitempty"`
		ActivityId   string `json:"activityId,omitempty"`
		IsActive     bool   `json:"isActive"`
		IsConcurrent bool   `json:"isConcurrent"`
		IsScope      bool   `json:"isScope"`
		IsEnded      bool   `json:"isEnded"`
	}

	DescribeProcessResponse struct {
		ProcessInstanceId   string              `json:"processInstanceId"`
		ProcessDefinitionId string              `json:"processDefinitionId"`
		BusinessKey         string              `json:"businessKey,omitempty"`
		Variables           map[string]any      `json:"variables,omitempty"`
		Executions          []ExecutionResponse `json:"executions"`
	}

	SignalExecutionRequest struct {
		ExecutionId string         `json:"executionId" binding:"required"`
		SignalName  string         `json:"signalName,omitempty"`
		Variables   map[string]any `json:"variables,omitempty"`
	}

	CorrelateMessageRequest struct {
		MessageName string         `json:"messageName" binding:"required"`
		TenantId    *string        `json:"tenantId,omitempty"`
		Variables   map[string]any `json:"variables,omitempty"`
	}

	CorrelateMessageResponse struct {
		ProcessInstanceId string `json:"processInstanceId"`
		ExecutionId       string `json:"executionId"`
	}

	BroadcastSignalRequest struct {
		SignalName string         `json:"signalName" binding:"required"`
		TenantId   *string        `json:"tenantId,omitempty"`
		Variables  map[string]any `json:"variables,omitempty"`
	}

	BroadcastSignalResponse struct {
		Triggered int `json:"triggered"`
	}

	EndExecutionRequest struct {
		ExecutionId string `json:"executionId" binding:"required"`
		Reason      string `json:"reason,omitempty"`
	}
)
