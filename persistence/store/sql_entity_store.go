// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/extensions"
	"github.com/xcherryio/flowengine/persistence"
	"go.uber.org/multierr"
)

type sqlEntityStoreImpl struct {
	session extensions.SQLDBSession
	logger  log.Logger
}

var defaultTxOpts *sql.TxOptions = &sql.TxOptions{
	Isolation: sql.LevelReadCommitted,
}

func NewSQLEntityStore(sqlConfig config.SQL, logger log.Logger) (persistence.EntityStore, error) {
	session, err := extensions.NewSQLSession(&sqlConfig)
	if err != nil {
		return nil, err
	}
	return NewEntityStoreWithSession(session, logger), nil
}

func NewEntityStoreWithSession(session extensions.SQLDBSession, logger log.Logger) persistence.EntityStore {
	return &sqlEntityStoreImpl{
		session: session,
		logger:  logger,
	}
}

func (p sqlEntityStoreImpl) Close() error {
	return p.session.Close()
}

func (p sqlEntityStoreImpl) GetExecution(ctx context.Context, id string) (*persistence.Execution, error) {
	row, found, err := p.session.SelectExecution(ctx, id)
	if err != nil || !found {
		return nil, err
	}
	return executionFromRow(*row)
}

func (p sqlEntityStoreImpl) FindExecutions(
	ctx context.Context, query persistence.ExecutionQuery,
) ([]*persistence.Execution, error) {
	rows, err := p.session.SelectExecutions(ctx, extensions.ExecutionFilter{
		ProcessInstanceId: query.ProcessInstanceId,
		EndedRootsOnly:    query.EndedRootsOnly,
		Limit:             query.Limit,
	})
	if err != nil {
		return nil, err
	}
	executions := make([]*persistence.Execution, 0, len(rows))
	for _, row := range rows {
		e, err := executionFromRow(row)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, nil
}

func (p sqlEntityStoreImpl) GetJob(ctx context.Context, id string) (*persistence.Job, error) {
	row, found, err := p.session.SelectJob(ctx, id)
	if err != nil || !found {
		return nil, err
	}
	return jobFromRow(*row), nil
}

func (p sqlEntityStoreImpl) FindJobs(ctx context.Context, query persistence.JobQuery) ([]*persistence.Job, error) {
	rows, err := p.session.SelectJobs(ctx, extensions.JobFilter{
		ProcessInstanceId:          query.ProcessInstanceId,
		ExecutionId:                query.ExecutionId,
		ProcessDefinitionId:        query.ProcessDefinitionId,
		HandlerType:                query.HandlerType,
		HandlerConfigurationPrefix: query.HandlerConfigurationPrefix,
		TenantId:                   query.TenantId,
		Limit:                      query.Limit,
	})
	if err != nil {
		return nil, err
	}
	return jobsFromRows(rows), nil
}

func (p sqlEntityStoreImpl) FindJobsByConfiguration(
	ctx context.Context, handlerType, configurationPrefix string, tenantId *string,
) ([]*persistence.Job, error) {
	return p.FindJobs(ctx, persistence.JobQuery{
		HandlerType:                handlerType,
		HandlerConfigurationPrefix: configurationPrefix,
		TenantId:                   tenantId,
	})
}

func (p sqlEntityStoreImpl) FindAcquirableJobs(
	ctx context.Context, query persistence.AcquirableJobsQuery,
) ([]*persistence.Job, error) {
	if query.Limit <= 0 {
		return nil, errs.InvalidArgument("limit must be positive, got %d", query.Limit)
	}
	rows, err := p.session.SelectAcquirableJobs(ctx, extensions.AcquirableJobsFilter{
		Now:         query.Now,
		PriorityMin: query.PriorityMin,
		PriorityMax: query.PriorityMax,
		Limit:       query.Limit,
	})
	if err != nil {
		return nil, err
	}
	return jobsFromRows(rows), nil
}

func (p sqlEntityStoreImpl) GetEventSubscription(
	ctx context.Context, id string,
) (*persistence.EventSubscription, error) {
	row, found, err := p.session.SelectEventSubscription(ctx, id)
	if err != nil || !found {
		return nil, err
	}
	return eventSubscriptionFromRow(*row), nil
}

func (p sqlEntityStoreImpl) FindEventSubscriptions(
	ctx context.Context, query persistence.EventSubscriptionQuery,
) ([]*persistence.EventSubscription, error) {
	rows, err := p.session.SelectEventSubscriptions(ctx, extensions.EventSubscriptionFilter{
		EventType:           string(query.EventType),
		EventName:           query.EventName,
		ExecutionId:         query.ExecutionId,
		ProcessInstanceId:   query.ProcessInstanceId,
		ProcessDefinitionId: query.ProcessDefinitionId,
		ActivityId:          query.ActivityId,
		TenantId:            query.TenantId,
		StartEventsOnly:     query.StartEventsOnly,
	})
	if err != nil {
		return nil, err
	}
	subscriptions := make([]*persistence.EventSubscription, 0, len(rows))
	for _, row := range rows {
		subscriptions = append(subscriptions, eventSubscriptionFromRow(row))
	}
	return subscriptions, nil
}

func (p sqlEntityStoreImpl) FindIncidents(
	ctx context.Context, query persistence.IncidentQuery,
) ([]*persistence.Incident, error) {
	rows, err := p.session.SelectIncidents(ctx, extensions.IncidentFilter{
		JobId:             query.JobId,
		ProcessInstanceId: query.ProcessInstanceId,
	})
	if err != nil {
		return nil, err
	}
	incidents := make([]*persistence.Incident, 0, len(rows))
	for _, row := range rows {
		incidents = append(incidents, incidentFromRow(row))
	}
	return incidents, nil
}

func (p sqlEntityStoreImpl) Flush(
	ctx context.Context, request persistence.FlushRequest,
) (*persistence.FlushResponse, error) {
	tx, err := p.session.StartTransaction(ctx, defaultTxOpts)
	if err != nil {
		return nil, err
	}
	finished := false
	defer func() {
		if finished {
			return
		}
		// a panic, e.g. in BeforeCommit, must not leave the transaction and its locks behind
		if err := tx.Rollback(); err != nil {
			p.logger.Error("error on rollback transaction after panic", tag.Error(err))
		}
	}()

	resp, err := p.doFlushTx(ctx, tx, request)
	finished = true
	if err != nil {
		err2 := tx.Rollback()
		if err2 != nil {
			p.logger.Error("error on rollback transaction", tag.Error(err2))
			err = multierr.Append(err, err2)
		}
		return nil, err
	}
	err = tx.Commit()
	if err != nil {
		p.logger.Error("error on committing transaction", tag.Error(err))
		return nil, err
	}
	return resp, nil
}

func (p sqlEntityStoreImpl) doFlushTx(
	ctx context.Context, tx extensions.SQLTransaction, request persistence.FlushRequest,
) (*persistence.FlushResponse, error) {
	resp := &persistence.FlushResponse{}
	for _, kind := range []persistence.OperationKind{
		persistence.OperationInsert, persistence.OperationUpdate, persistence.OperationDelete,
	} {
		for _, op := range request.Operations {
			if op.Kind != kind {
				continue
			}
			applied, err := p.applyOperation(ctx, tx, op)
			if err != nil {
				return nil, err
			}
			if applied {
				continue
			}

			e := op.Entity
			if request.ConflictHandler != nil && request.ConflictHandler(op) == persistence.ConflictIgnore {
				p.logger.Debug("ignored optimistic locking conflict",
					tag.EntityType(string(e.EntityType())), tag.ID(e.GetId()), tag.Value(op.Kind))
				resp.Ignored = append(resp.Ignored, op)
				continue
			}
			return nil, errs.OptimisticLockingConflict(string(e.EntityType()), e.GetId(), e.GetRevision())
		}
	}

	if request.BeforeCommit != nil {
		if err := request.BeforeCommit(ctx); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// applyOperation returns false when a conditional write matched no row.
// Inserts are written with revision 1, updates with the entity revision plus one.
func (p sqlEntityStoreImpl) applyOperation(
	ctx context.Context, tx extensions.SQLTransaction, op persistence.Operation,
) (bool, error) {
	switch op.Kind {
	case persistence.OperationInsert:
		return true, p.insert(ctx, tx, op.Entity)
	case persistence.OperationUpdate:
		return p.update(ctx, tx, op.Entity)
	case persistence.OperationDelete:
		return p.delete(ctx, tx, op.Entity)
	default:
		return false, errs.Newf("unknown operation kind %v", op.Kind)
	}
}

func (p sqlEntityStoreImpl) insert(ctx context.Context, tx extensions.SQLTransaction, entity persistence.Entity) error {
	var err error
	switch e := entity.(type) {
	case *persistence.Execution:
		row, convErr := executionToRow(e)
		if convErr != nil {
			return convErr
		}
		row.Revision = 1
		err = tx.InsertExecution(ctx, row)
	case *persistence.Job:
		row := jobToRow(e)
		row.Revision = 1
		err = tx.InsertJob(ctx, row)
	case *persistence.EventSubscription:
		row := eventSubscriptionToRow(e)
		row.Revision = 1
		err = tx.InsertEventSubscription(ctx, row)
	case *persistence.Incident:
		row := incidentToRow(e)
		row.Revision = 1
		err = tx.InsertIncident(ctx, row)
	default:
		return errs.Newf("unsupported entity %T", entity)
	}
	if err != nil && p.session.IsDupEntryError(err) {
		return errs.InvalidState("%s %s already exists", entity.EntityType(), entity.GetId())
	}
	return err
}

func (p sqlEntityStoreImpl) update(
	ctx context.Context, tx extensions.SQLTransaction, entity persistence.Entity,
) (bool, error) {
	previous := entity.GetRevision()
	switch e := entity.(type) {
	case *persistence.Execution:
		row, err := executionToRow(e)
		if err != nil {
			return false, err
		}
		row.Revision = previous + 1
		row.PreviousRevision = previous
		return tx.UpdateExecution(ctx, row)
	case *persistence.Job:
		row := jobToRow(e)
		row.Revision = previous + 1
		row.PreviousRevision = previous
		return tx.UpdateJob(ctx, row)
	case *persistence.EventSubscription:
		row := eventSubscriptionToRow(e)
		row.Revision = previous + 1
		row.PreviousRevision = previous
		return tx.UpdateEventSubscription(ctx, row)
	case *persistence.Incident:
		row := incidentToRow(e)
		row.Revision = previous + 1
		row.PreviousRevision = previous
		return tx.UpdateIncident(ctx, row)
	default:
		return false, errs.Newf("unsupported entity %T", entity)
	}
}

func (p sqlEntityStoreImpl) delete(
	ctx context.Context, tx extensions.SQLTransaction, entity persistence.Entity,
) (bool, error) {
	switch entity.(type) {
	case *persistence.Execution:
		return tx.DeleteExecution(ctx, entity.GetId(), entity.GetRevision())
	case *persistence.Job:
		return tx.DeleteJob(ctx, entity.GetId(), entity.GetRevision())
	case *persistence.EventSubscription:
		return tx.DeleteEventSubscription(ctx, entity.GetId(), entity.GetRevision())
	case *persistence.Incident:
		return tx.DeleteIncident(ctx, entity.GetId(), entity.GetRevision())
	default:
		return false, errs.Newf("unsupported entity %T", entity)
	}
}

func jobsFromRows(rows []extensions.JobRow) []*persistence.Job {
	jobs := make([]*persistence.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, jobFromRow(row))
	}
	return jobs
}
