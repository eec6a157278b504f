// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"context"
	"database/sql"

	"github.com/xcherryio/flowengine/config"
)

type SQLDBExtension interface {
	// StartDBSession starts the session for regular business logic
	StartDBSession(cfg *config.SQL) (SQLDBSession, error)
	// StartAdminDBSession starts the session for admin operation like DDL
	StartAdminDBSession(cfg *config.SQL) (SQLAdminDBSession, error)
}

type SQLDBSession interface {
	nonTransactionalCRUD
	ErrorChecker
	StartTransaction(ctx context.Context, opts *sql.TxOptions) (SQLTransaction, error)
	Close() error
}

type SQLTransaction interface {
	transactionalCRUD
	Commit() error
	Rollback() error
}

type SQLAdminDBSession interface {
	CreateDatabase(ctx context.Context, database string) error
	DropDatabase(ctx context.Context, database string) error
	ExecuteSchemaDDL(ctx context.Context, ddlQuery string) error
	Close() error
}

// transactionalCRUD holds the writes of a flush.
// Update and Delete are conditional on the PreviousRevision / revision given,
// and report applied=false instead of an error when no row matched.
type transactionalCRUD interface {
	InsertExecution(ctx context.Context, row ExecutionRow) error
	UpdateExecution(ctx context.Context, row ExecutionRow) (applied bool, err error)
	DeleteExecution(ctx context.Context, id string, revision int32) (applied bool, err error)

	InsertJob(ctx context.Context, row JobRow) error
	UpdateJob(ctx context.Context, row JobRow) (applied bool, err error)
	DeleteJob(ctx context.Context, id string, revision int32) (applied bool, err error)

	InsertEventSubscription(ctx context.Context, row EventSubscriptionRow) error
	UpdateEventSubscription(ctx context.Context, row EventSubscriptionRow) (applied bool, err error)
	DeleteEventSubscription(ctx context.Context, id string, revision int32) (applied bool, err error)

	InsertIncident(ctx context.Context, row IncidentRow) error
	UpdateIncident(ctx context.Context, row IncidentRow) (applied bool, err error)
	DeleteIncident(ctx context.Context, id string, revision int32) (applied bool, err error)
}

type nonTransactionalCRUD interface {
	SelectExecution(ctx context.Context, id string) (*ExecutionRow, bool, error)
	SelectExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionRow, error)

	SelectJob(ctx context.Context, id string) (*JobRow, bool, error)
	SelectJobs(ctx context.Context, filter JobFilter) ([]JobRow, error)
	SelectAcquirableJobs(ctx context.Context, filter AcquirableJobsFilter) ([]JobRow, error)

	SelectEventSubscription(ctx context.Context, id string) (*EventSubscriptionRow, bool, error)
	SelectEventSubscriptions(ctx context.Context, filter EventSubscriptionFilter) ([]EventSubscriptionRow, error)

	SelectIncidents(ctx context.Context, filter IncidentFilter) ([]IncidentRow, error)
}

type ErrorChecker interface {
	IsDupEntryError(err error) bool
	IsNotFoundError(err error) bool
	IsTimeoutError(err error) bool
	IsThrottlingError(err error) bool
}
