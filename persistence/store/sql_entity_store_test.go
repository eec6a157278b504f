// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/extensions/memory"
	"github.com/xcherryio/flowengine/extensions/sqlite"
	"github.com/xcherryio/flowengine/persistence"
	"github.com/xcherryio/flowengine/persistence/store/storetest"
)

func newStores(t *testing.T) map[string]persistence.EntityStore {
	stores := map[string]persistence.EntityStore{}
	for name, sqlConfig := range map[string]config.SQL{
		memory.ExtensionName: {DBExtensionName: memory.ExtensionName, DatabaseName: uuid.MustNewUUID()},
		sqlite.ExtensionName: {DBExtensionName: sqlite.ExtensionName, DatabaseName: ":memory:"},
	} {
		store, err := NewSQLEntityStore(sqlConfig, log.NewDevelopmentLogger())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		stores[name] = store
	}
	return stores
}

func TestSQLBasic(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			storetest.SQLBasicTest(assert.New(t), store)
		})
	}
}

func TestSQLOptimisticLocking(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			storetest.SQLOptimisticLockingTest(assert.New(t), store)
		})
	}
}

func TestSQLAcquirableJobs(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			storetest.SQLAcquirableJobsTest(assert.New(t), store)
		})
	}
}

func TestSQLPanicInBeforeCommit(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			storetest.SQLPanicInBeforeCommitTest(assert.New(t), store)
		})
	}
}
