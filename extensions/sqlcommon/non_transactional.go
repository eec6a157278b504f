// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sqlcommon

import (
	"context"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/extensions"
)

func (d dbSession) SelectExecution(ctx context.Context, id string) (*extensions.ExecutionRow, bool, error) {
	var rows []extensions.ExecutionRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(selectExecutionQuery), id)
	return singleRow(rows, id, err)
}

func (d dbSession) SelectExecutions(
	ctx context.Context, filter extensions.ExecutionFilter,
) ([]extensions.ExecutionRow, error) {
	var where whereBuilder
	where.addIfSet("process_instance_id", filter.ProcessInstanceId)
	order := " ORDER BY create_time ASC, id ASC"
	if filter.EndedRootsOnly {
		where.add("is_ended = ?", true)
		where.add("parent_id = ''")
	}
	query := selectQuery(extensions.TableExecutions, executionColumns) + where.String() + order
	args := where.args
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []extensions.ExecutionRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), args...)
	return rows, err
}

func (d dbSession) SelectJob(ctx context.Context, id string) (*extensions.JobRow, bool, error) {
	var rows []extensions.JobRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(selectJobQuery), id)
	return singleRow(rows, id, err)
}

func (d dbSession) SelectJobs(ctx context.Context, filter extensions.JobFilter) ([]extensions.JobRow, error) {
	var where whereBuilder
	where.addIfSet("process_instance_id", filter.ProcessInstanceId)
	where.addIfSet("execution_id", filter.ExecutionId)
	where.addIfSet("process_definition_id", filter.ProcessDefinitionId)
	where.addIfSet("handler_type", filter.HandlerType)
	if filter.HandlerConfigurationPrefix != "" {
		where.add("handler_configuration LIKE ?", filter.HandlerConfigurationPrefix+"%")
	}
	if filter.TenantId != nil {
		where.add("tenant_id = ?", *filter.TenantId)
	}
	query := selectQuery(extensions.TableJobs, jobColumns) + where.String() + " ORDER BY due_date ASC, id ASC"
	args := where.args
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []extensions.JobRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), args...)
	return rows, err
}

func (d dbSession) SelectAcquirableJobs(
	ctx context.Context, filter extensions.AcquirableJobsFilter,
) ([]extensions.JobRow, error) {
	now := extensions.ToDBTime(filter.Now)
	query := selectAcquirableJobsQuery
	args := []interface{}{now, false, now, false, true, now}
	if filter.PriorityMin != nil {
		query += " AND j.priority >= ?"
		args = append(args, *filter.PriorityMin)
	}
	if filter.PriorityMax != nil {
		query += " AND j.priority <= ?"
		args = append(args, *filter.PriorityMax)
	}
	query += " ORDER BY j.due_date ASC, j.id ASC LIMIT ?"
	args = append(args, filter.Limit)

	var rows []extensions.JobRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), args...)
	return rows, err
}

func (d dbSession) SelectEventSubscription(
	ctx context.Context, id string,
) (*extensions.EventSubscriptionRow, bool, error) {
	var rows []extensions.EventSubscriptionRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(selectEventSubscriptionQuery), id)
	return singleRow(rows, id, err)
}

func (d dbSession) SelectEventSubscriptions(
	ctx context.Context, filter extensions.EventSubscriptionFilter,
) ([]extensions.EventSubscriptionRow, error) {
	var where whereBuilder
	where.addIfSet("event_type", filter.EventType)
	where.addIfSet("event_name", filter.EventName)
	where.addIfSet("execution_id", filter.ExecutionId)
	where.addIfSet("process_instance_id", filter.ProcessInstanceId)
	where.addIfSet("process_definition_id", filter.ProcessDefinitionId)
	where.addIfSet("activity_id", filter.ActivityId)
	if filter.TenantId != nil {
		where.add("tenant_id = ?", *filter.TenantId)
	}
	if filter.StartEventsOnly {
		where.add("execution_id = ''")
	}
	query := selectQuery(extensions.TableEventSubscriptions, eventSubscriptionColumns) + where.String() +
		" ORDER BY create_time ASC, id ASC"

	var rows []extensions.EventSubscriptionRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), where.args...)
	return rows, err
}

func (d dbSession) SelectIncidents(
	ctx context.Context, filter extensions.IncidentFilter,
) ([]extensions.IncidentRow, error) {
	var where whereBuilder
	where.addIfSet("job_id", filter.JobId)
	where.addIfSet("process_instance_id", filter.ProcessInstanceId)
	query := selectQuery(extensions.TableIncidents, incidentColumns) + where.String() +
		" ORDER BY create_time ASC, id ASC"

	var rows []extensions.IncidentRow
	err := d.db.SelectContext(ctx, &rows, d.db.Rebind(query), where.args...)
	return rows, err
}

func singleRow[T any](rows []T, id string, err error) (*T, bool, error) {
	if err != nil {
		return nil, false, err
	}
	if len(rows) > 1 {
		return nil, false, errs.InvalidState("more than one row found for id %s", id)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return &rows[0], true, nil
}
