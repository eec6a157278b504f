// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"context"

	"github.com/xcherryio/flowengine/engine"
	"github.com/xcherryio/flowengine/persistence"
)

type Server interface {
	// Start will start running on the background
	Start() error
	Stop(ctx context.Context) error
}

// Service owns the job executor of this node and routes new job hints to the executors that should act on them
type Service interface {
	Start() error
	// NotifyNewJobs routes a hint: to the pulsar topic when configured, to the node owning
	// the process instance in cluster mode, otherwise to the local job executor
	engine.JobNotifier
	// NotifyLocalJobs wakes up the local job executor only
	NotifyLocalJobs(hint engine.JobHint)
	AcquireBatch(ctx context.Context, priorityMin, priorityMax *int64, limit int) ([]*persistence.Job, error)
	Stop(ctx context.Context) error
}

// Membership is the view of this node on the cluster
type Membership interface {
	GetServerAddress() string
	// GetServerAddressFor returns the internal server address of the node owning a process instance
	GetServerAddressFor(processInstanceId string) string
	Stop(ctx context.Context) error
}

// JobManagement is the operator surface on jobs, implemented by runtime.Service
type JobManagement interface {
	RecalculateJobDueDate(ctx context.Context, jobId string, skipCustomListeners bool) error
	SetJobRetries(ctx context.Context, jobId string, retries int32) error
	ForceUnlock(ctx context.Context, jobId string) error
	SuspendJob(ctx context.Context, jobId string) error
	ActivateJob(ctx context.Context, jobId string) error
}
