// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sqlcommon

import (
	"context"
	"database/sql"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/extensions"
)

func (d dbTx) InsertExecution(ctx context.Context, row extensions.ExecutionRow) error {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	_, err := d.tx.NamedExecContext(ctx, insertExecutionQuery, row)
	return err
}

func (d dbTx) UpdateExecution(ctx context.Context, row extensions.ExecutionRow) (bool, error) {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	result, err := d.tx.NamedExecContext(ctx, updateExecutionQuery, row)
	return checkSingleRowAffected(result, err)
}

func (d dbTx) DeleteExecution(ctx context.Context, id string, revision int32) (bool, error) {
	result, err := d.tx.ExecContext(ctx, d.tx.Rebind(deleteExecutionQuery), id, revision)
	return checkSingleRowAffected(result, err)
}

func (d dbTx) InsertJob(ctx context.Context, row extensions.JobRow) error {
	normalizeJobRow(&row)
	_, err := d.tx.NamedExecContext(ctx, insertJobQuery, row)
	return err
}

func (d dbTx) UpdateJob(ctx context.Context, row extensions.JobRow) (bool, error) {
	normalizeJobRow(&row)
	result, err := d.tx.NamedExecContext(ctx, updateJobQuery, row)
	return checkSingleRowAffected(result, err)
}

func (d dbTx) DeleteJob(ctx context.Context, id string, revision int32) (bool, error) {
	result, err := d.tx.ExecContext(ctx, d.tx.Rebind(deleteJobQuery), id, revision)
	return checkSingleRowAffected(result, err)
}

func (d dbTx) InsertEventSubscription(ctx context.Context, row extensions.EventSubscriptionRow) error {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	_, err := d.tx.NamedExecContext(ctx, insertEventSubscriptionQuery, row)
	return err
}

func (d dbTx) UpdateEventSubscription(ctx context.Context, row extensions.EventSubscriptionRow) (bool, error) {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	result, err := d.tx.NamedExecContext(ctx, updateEventSubscriptionQuery, row)
	return checkSingleRowAffected(result, err)
}

func (d dbTx) DeleteEventSubscription(ctx context.Context, id string, revision int32) (bool, error) {
	result, err := d.tx.ExecContext(ctx, d.tx.Rebind(deleteEventSubscriptionQuery), id, revision)
	return checkSingleRowAffected(result, err)
}

func (d dbTx) InsertIncident(ctx context.Context, row extensions.IncidentRow) error {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	_, err := d.tx.NamedExecContext(ctx, insertIncidentQuery, row)
	return err
}

func (d dbTx) UpdateIncident(ctx context.Context, row extensions.IncidentRow) (bool, error) {
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	result, err := d.tx.NamedExecContext(ctx, updateIncidentQuery, row)
	return checkSingleRowAffected(result, err)
}

func (d dbTx) DeleteIncident(ctx context.Context, id string, revision int32) (bool, error) {
	result, err := d.tx.ExecContext(ctx, d.tx.Rebind(deleteIncidentQuery), id, revision)
	return checkSingleRowAffected(result, err)
}

func normalizeJobRow(row *extensions.JobRow) {
	row.DueDate = extensions.ToDBTime(row.DueDate)
	row.CreateTime = extensions.ToDBTime(row.CreateTime)
	row.LockExpirationTime = extensions.ToDBTimePtr(row.LockExpirationTime)
}

// checkSingleRowAffected turns a revision mismatch into applied=false
func checkSingleRowAffected(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rowsAffected > 1 {
		return false, errs.Newf("unexpected number of affected rows: %d", rowsAffected)
	}
	return rowsAffected == 1, nil
}
