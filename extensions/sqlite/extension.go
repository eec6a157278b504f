// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"os"

	"github.com/iancoleman/strcase"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/extensions"
	"github.com/xcherryio/flowengine/extensions/sqlcommon"
)

const (
	ExtensionName = "sqlite"

	driverName     = "sqlite3"
	memoryDatabase = ":memory:"
)

//go:embed schema/flowengine.sql
var SchemaDDL string

type extension struct{}

var _ extensions.SQLDBExtension = (*extension)(nil)

func init() {
	extensions.RegisterSQLDBExtension(ExtensionName, &extension{})
}

// StartDBSession opens the database file. An in-memory database gets the schema installed
// right away since nothing else can reach it.
func (d *extension) StartDBSession(cfg *config.SQL) (extensions.SQLDBSession, error) {
	db, err := openDB(cfg.DatabaseName)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseName == memoryDatabase {
		if err := sqlcommon.ExecuteStatements(context.Background(), db, SchemaDDL); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return sqlcommon.NewDBSession(db, errorChecker{}), nil
}

func (d *extension) StartAdminDBSession(cfg *config.SQL) (extensions.SQLAdminDBSession, error) {
	return &adminDBSession{path: cfg.DatabaseName}, nil
}

func openDB(path string) (*sqlx.DB, error) {
	dsn := path
	if path != memoryDatabase {
		dsn = "file:" + path + "?_busy_timeout=5000&_foreign_keys=off"
	}
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, err
	}
	// a single connection serializes transactions, and keeps an in-memory database alive
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	// Maps struct names in CamelCase to snake without need for db struct tags.
	db.MapperFunc(strcase.ToSnake)
	return db, nil
}

// adminDBSession treats a database as a file, an empty path is not a database yet
type adminDBSession struct {
	path string
	db   *sqlx.DB
}

func (a *adminDBSession) CreateDatabase(ctx context.Context, database string) error {
	db, err := openDB(database)
	if err != nil {
		return err
	}
	return db.Close()
}

func (a *adminDBSession) DropDatabase(ctx context.Context, database string) error {
	if database == memoryDatabase {
		return nil
	}
	err := os.Remove(database)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (a *adminDBSession) ExecuteSchemaDDL(ctx context.Context, ddlQuery string) error {
	if a.db == nil {
		db, err := openDB(a.path)
		if err != nil {
			return err
		}
		a.db = db
	}
	return sqlcommon.ExecuteStatements(ctx, a.db, ddlQuery)
}

func (a *adminDBSession) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

type errorChecker struct{}

func (errorChecker) IsDupEntryError(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func (errorChecker) IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (errorChecker) IsTimeoutError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func (errorChecker) IsThrottlingError(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked)
}
