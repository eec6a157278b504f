// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"time"

	"github.com/xcherryio/flowengine/persistence"
)

// JobHint tells that a job was created and may be acquired from DueDate on
type JobHint struct {
	ProcessInstanceId string    `json:"processInstanceId,omitempty"`
	JobId             string    `json:"jobId,omitempty"`
	DueDate           time.Time `json:"dueDate"`
}

// JobNotifier is to notify the job executors that there are new jobs,
// so that they don't wait for their next poll.
// This is needed because creating a job and acquiring jobs happen in different goroutines or nodes.
// Note that this is not guaranteed to be delivered. The notification is "best effort",
// a job is always found by the next regular acquisition.
type JobNotifier interface {
	NotifyNewJobs(hint JobHint)
}

// JobExecutor acquires due jobs with a lease and runs them on a pool of goroutines
type JobExecutor interface {
	Start() error
	// TriggerAcquisition exposes an API to be called by JobNotifier
	TriggerAcquisition(hint JobHint)
	// AcquireBatch runs one acquisition with explicit bounds. The acquired jobs are executed
	// when the executor is started, otherwise they stay locked until their lease expires.
	AcquireBatch(ctx context.Context, priorityMin, priorityMax *int64, limit int) ([]*persistence.Job, error)
	// Stop stops acquiring at once, waits for the running jobs and unlocks the buffered ones
	Stop(ctx context.Context) error
}

type JobProcessor interface {
	Start() error
	// Submit hands an acquired job to the processor, blocking while its buffer is full.
	// It returns false when the processor is stopping and the job was not taken.
	Submit(job *persistence.Job, cancel <-chan struct{}) bool
	Stop(ctx context.Context) error
}
