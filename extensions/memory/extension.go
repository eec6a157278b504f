// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package memory is a pure Go extension keeping all rows in process.
// A transaction holds the database exclusively and records an undo log, reads share the lock.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/extensions"
)

const ExtensionName = "memory"

var errDupEntry = errors.New("duplicate entry")
var errTxDone = errors.New("transaction has already been committed or rolled back")

type extension struct{}

var _ extensions.SQLDBExtension = (*extension)(nil)

var (
	databasesLock sync.Mutex
	databases     = map[string]*database{}
)

func init() {
	extensions.RegisterSQLDBExtension(ExtensionName, &extension{})
}

type database struct {
	sync.RWMutex
	executions    *table[extensions.ExecutionRow]
	jobs          *table[extensions.JobRow]
	subscriptions *table[extensions.EventSubscriptionRow]
	incidents     *table[extensions.IncidentRow]
}

func newDatabase() *database {
	return &database{
		executions: newTable(func(r extensions.ExecutionRow) int32 { return r.Revision }),
		jobs:       newTable(func(r extensions.JobRow) int32 { return r.Revision }),
		subscriptions: newTable(func(r extensions.EventSubscriptionRow) int32 {
			return r.Revision
		}),
		incidents: newTable(func(r extensions.IncidentRow) int32 { return r.Revision }),
	}
}

func getOrCreateDatabase(name string) *database {
	databasesLock.Lock()
	defer databasesLock.Unlock()
	db, ok := databases[name]
	if !ok {
		db = newDatabase()
		databases[name] = db
	}
	return db
}

func (d *extension) StartDBSession(cfg *config.SQL) (extensions.SQLDBSession, error) {
	return &dbSession{db: getOrCreateDatabase(cfg.DatabaseName)}, nil
}

func (d *extension) StartAdminDBSession(cfg *config.SQL) (extensions.SQLAdminDBSession, error) {
	return adminDBSession{}, nil
}

type adminDBSession struct{}

func (adminDBSession) CreateDatabase(_ context.Context, database string) error {
	getOrCreateDatabase(database)
	return nil
}

func (adminDBSession) DropDatabase(_ context.Context, database string) error {
	databasesLock.Lock()
	defer databasesLock.Unlock()
	delete(databases, database)
	return nil
}

func (adminDBSession) ExecuteSchemaDDL(context.Context, string) error {
	return nil
}

func (adminDBSession) Close() error {
	return nil
}

type dbSession struct {
	db *database
}

var _ extensions.SQLDBSession = (*dbSession)(nil)

func (s *dbSession) StartTransaction(ctx context.Context, _ *sql.TxOptions) (extensions.SQLTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.Lock()
	return &dbTx{db: s.db}, nil
}

func (s *dbSession) Close() error {
	return nil
}

func (s *dbSession) IsDupEntryError(err error) bool {
	return errors.Is(err, errDupEntry)
}

func (s *dbSession) IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (s *dbSession) IsTimeoutError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (s *dbSession) IsThrottlingError(error) bool {
	return false
}

type dbTx struct {
	db   *database
	undo []func()
	done bool
}

var _ extensions.SQLTransaction = (*dbTx)(nil)

func (t *dbTx) Commit() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.undo = nil
	t.db.Unlock()
	return nil
}

func (t *dbTx) Rollback() error {
	if t.done {
		return errTxDone
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.db.Unlock()
	return nil
}

// table is a map of rows keyed by id, with revision-conditional writes
type table[T any] struct {
	rows     map[string]T
	revision func(T) int32
}

func newTable[T any](revision func(T) int32) *table[T] {
	return &table[T]{rows: map[string]T{}, revision: revision}
}

func (t *table[T]) get(id string) (*T, bool) {
	row, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	return &row, true
}

func (t *table[T]) insert(tx *dbTx, id string, row T) error {
	if tx.done {
		return errTxDone
	}
	if _, ok := t.rows[id]; ok {
		return errDupEntry
	}
	t.rows[id] = row
	tx.undo = append(tx.undo, func() { delete(t.rows, id) })
	return nil
}

func (t *table[T]) update(tx *dbTx, id string, previousRevision int32, row T) (bool, error) {
	if tx.done {
		return false, errTxDone
	}
	old, ok := t.rows[id]
	if !ok || t.revision(old) != previousRevision {
		return false, nil
	}
	t.rows[id] = row
	tx.undo = append(tx.undo, func() { t.rows[id] = old })
	return true, nil
}

func (t *table[T]) delete(tx *dbTx, id string, revision int32) (bool, error) {
	if tx.done {
		return false, errTxDone
	}
	old, ok := t.rows[id]
	if !ok || t.revision(old) != revision {
		return false, nil
	}
	delete(t.rows, id)
	tx.undo = append(tx.undo, func() { t.rows[id] = old })
	return true, nil
}

func (t *table[T]) filter(match func(T) bool, less func(a, b T) bool) []T {
	var result []T
	for _, row := range t.rows {
		if match(row) {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return less(result[i], result[j])
	})
	return result
}

func matchIfSet(want, got string) bool {
	return want == "" || want == got
}

func matchTenant(want *string, got string) bool {
	return want == nil || *want == got
}

func limit[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

func hasPrefix(s, prefix string) bool {
	return prefix == "" || strings.HasPrefix(s, prefix)
}
