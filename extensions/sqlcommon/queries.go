// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sqlcommon

import (
	"strings"

	"github.com/xcherryio/flowengine/extensions"
)

var executionColumns = []string{
	"id", "process_instance_id", "parent_id", "process_definition_id", "activity_id",
	"is_active", "is_concurrent", "is_scope", "is_ended", "business_key", "tenant_id",
	"join_arrivals", "variables", "create_time", "revision",
}

var jobColumns = []string{
	"id", "handler_type", "handler_configuration", "due_date", "lock_owner", "lock_expiration_time",
	"retries", "exception_message", "exception_stacktrace", "priority", "execution_id",
	"process_instance_id", "process_definition_id", "activity_id", "tenant_id", "is_exclusive",
	"suspended", "retry_time_cycle", "create_time", "revision",
}

var eventSubscriptionColumns = []string{
	"id", "event_type", "event_name", "execution_id", "process_instance_id", "process_definition_id",
	"activity_id", "tenant_id", "configuration", "create_time", "revision",
}

var incidentColumns = []string{
	"id", "incident_type", "job_id", "execution_id", "process_instance_id", "process_definition_id",
	"activity_id", "tenant_id", "message", "create_time", "revision",
}

var (
	selectExecutionQuery = selectQuery(extensions.TableExecutions, executionColumns) + " WHERE id = ?"
	insertExecutionQuery = insertQuery(extensions.TableExecutions, executionColumns)
	updateExecutionQuery = updateQuery(extensions.TableExecutions, executionColumns)
	deleteExecutionQuery = deleteQuery(extensions.TableExecutions)

	selectJobQuery = selectQuery(extensions.TableJobs, jobColumns) + " WHERE id = ?"
	insertJobQuery = insertQuery(extensions.TableJobs, jobColumns)
	updateJobQuery = updateQuery(extensions.TableJobs, jobColumns)
	deleteJobQuery = deleteQuery(extensions.TableJobs)

	selectEventSubscriptionQuery = selectQuery(extensions.TableEventSubscriptions, eventSubscriptionColumns) + " WHERE id = ?"
	insertEventSubscriptionQuery = insertQuery(extensions.TableEventSubscriptions, eventSubscriptionColumns)
	updateEventSubscriptionQuery = updateQuery(extensions.TableEventSubscriptions, eventSubscriptionColumns)
	deleteEventSubscriptionQuery = deleteQuery(extensions.TableEventSubscriptions)

	insertIncidentQuery = insertQuery(extensions.TableIncidents, incidentColumns)
	updateIncidentQuery = updateQuery(extensions.TableIncidents, incidentColumns)
	deleteIncidentQuery = deleteQuery(extensions.TableIncidents)
)

// selectAcquirableJobsQuery is completed by the optional priority range, the ordering and the limit.
// An exclusive job is skipped while another exclusive job of its process instance holds an unexpired lock.
var selectAcquirableJobsQuery = selectQuery(extensions.TableJobs+" j", jobColumns) + `
WHERE j.due_date <= ? AND j.retries > 0 AND j.suspended = ?
AND (j.lock_owner = '' OR j.lock_expiration_time < ?)
AND (j.is_exclusive = ? OR j.process_instance_id = '' OR NOT EXISTS (
	SELECT 1 FROM ` + extensions.TableJobs + ` o
	WHERE o.process_instance_id = j.process_instance_id AND o.id <> j.id
	AND o.is_exclusive = ? AND o.lock_owner <> '' AND o.lock_expiration_time >= ?))`

func selectQuery(table string, columns []string) string {
	return "SELECT " + strings.Join(columns, ", ") + " FROM " + table
}

func insertQuery(table string, columns []string) string {
	return "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (:" +
		strings.Join(columns, ", :") + ")"
}

// updateQuery sets every column but id, conditional on the revision read before
func updateQuery(table string, columns []string) string {
	var sets []string
	for _, c := range columns {
		if c == "id" {
			continue
		}
		sets = append(sets, c+" = :"+c)
	}
	return "UPDATE " + table + " SET " + strings.Join(sets, ", ") +
		" WHERE id = :id AND revision = :previous_revision"
}

func deleteQuery(table string) string {
	return "DELETE FROM " + table + " WHERE id = ? AND revision = ?"
}

// whereBuilder collects the optional conditions of a filter
type whereBuilder struct {
	conditions []string
	args       []interface{}
}

func (w *whereBuilder) add(condition string, args ...interface{}) {
	w.conditions = append(w.conditions, condition)
	w.args = append(w.args, args...)
}

func (w *whereBuilder) addIfSet(column, value string) {
	if value != "" {
		w.add(column+" = ?", value)
	}
}

func (w *whereBuilder) String() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conditions, " AND ")
}
