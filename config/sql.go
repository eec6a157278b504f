// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/xcherryio/flowengine/common/uuid"
)

type (
	// SQL is the configuration for connecting to a SQL backed datastore
	SQL struct {
		// User is the username to be used for connecting to database
		User string `yaml:"user"`
		// Password is the password corresponding to the username
		Password string `yaml:"password"`
		// DatabaseName is the name of SQL database to connect to.
		// For sqlite it is the file path, or ":memory:"
		DatabaseName string `yaml:"databaseName"`
		// ConnectAddr is the remote addr of the database
		ConnectAddr string `yaml:"connectAddr"`
		// DBExtensionName is the name of the extension, postgres, sqlite or memory
		DBExtensionName string `yaml:"dbExtensionName"`
		// MaxOpenConns is the max number of open connections, zero means the driver default
		MaxOpenConns int `yaml:"maxOpenConns"`
		// MaxIdleConns is the max number of idle connections kept in the pool, zero means the driver default
		MaxIdleConns int `yaml:"maxIdleConns"`
		// MaxConnLifetime closes pooled connections older than this, zero keeps them forever
		MaxConnLifetime time.Duration `yaml:"maxConnLifetime"`
		// ConnectAttributes are appended to the DSN of postgres, e.g. sslmode. sslmode defaults to disable
		ConnectAttributes map[string]string `yaml:"connectAttributes"`
	}
)

// RequiresNetwork tells whether the extension connects to a remote server
func (s *SQL) RequiresNetwork() bool {
	return s.DBExtensionName != "sqlite" && s.DBExtensionName != "memory"
}

func newLockOwnerSuffix() string {
	return uuid.MustNewUUID()
}
