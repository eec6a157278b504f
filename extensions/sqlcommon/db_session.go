// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package sqlcommon implements the row CRUD of the SQL extensions on top of sqlx.
// Queries are written with "?" bind vars and rebound to the driver's style.
package sqlcommon

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/xcherryio/flowengine/extensions"
)

type dbSession struct {
	extensions.ErrorChecker
	db *sqlx.DB
}

type dbTx struct {
	tx *sqlx.Tx
}

var _ extensions.SQLDBSession = (*dbSession)(nil)
var _ extensions.SQLTransaction = (*dbTx)(nil)

// NewDBSession wraps a connected sqlx.DB, the error checker is dialect specific
func NewDBSession(db *sqlx.DB, checker extensions.ErrorChecker) extensions.SQLDBSession {
	return &dbSession{
		ErrorChecker: checker,
		db:           db,
	}
}

func (d dbSession) StartTransaction(ctx context.Context, opts *sql.TxOptions) (extensions.SQLTransaction, error) {
	tx, err := d.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return dbTx{
		tx: tx,
	}, nil
}

func (d dbSession) Close() error {
	return d.db.Close()
}

func (d dbTx) Commit() error {
	return d.tx.Commit()
}

func (d dbTx) Rollback() error {
	return d.tx.Rollback()
}

// ExecuteStatements runs a DDL script statement by statement,
// since not every driver accepts multiple statements in one Exec
func ExecuteStatements(ctx context.Context, db *sqlx.DB, ddl string) error {
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
