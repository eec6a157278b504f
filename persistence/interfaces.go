// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package persistence

import (
	"context"
)

// EntityStore is for reading entities from the database, and writing them in one revision-checked batch
type (
	EntityStore interface {
		Close() error

		GetExecution(ctx context.Context, id string) (*Execution, error)
		FindExecutions(ctx context.Context, query ExecutionQuery) ([]*Execution, error)

		GetJob(ctx context.Context, id string) (*Job, error)
		FindJobs(ctx context.Context, query JobQuery) ([]*Job, error)
		FindJobsByConfiguration(
			ctx context.Context, handlerType, configurationPrefix string, tenantId *string,
		) ([]*Job, error)
		FindAcquirableJobs(ctx context.Context, query AcquirableJobsQuery) ([]*Job, error)

		GetEventSubscription(ctx context.Context, id string) (*EventSubscription, error)
		FindEventSubscriptions(ctx context.Context, query EventSubscriptionQuery) ([]*EventSubscription, error)

		FindIncidents(ctx context.Context, query IncidentQuery) ([]*Incident, error)

		// Flush applies the inserts, then the updates, then the deletes in one transaction.
		// Updates and deletes are conditional on the revision of the entity.
		// It does not change the revision of the entities in the request.
		Flush(ctx context.Context, request FlushRequest) (*FlushResponse, error)
	}
)
