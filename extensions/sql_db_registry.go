// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xcherryio/flowengine/config"
)

var (
	sqlRegistryLock sync.RWMutex
	sqlRegistry     = map[string]SQLDBExtension{}
)

// RegisterSQLDBExtension will register a SQL extension
func RegisterSQLDBExtension(name string, ext SQLDBExtension) {
	sqlRegistryLock.Lock()
	defer sqlRegistryLock.Unlock()
	if _, ok := sqlRegistry[name]; ok {
		panic("SQL extension " + name + " already registered")
	}
	sqlRegistry[name] = ext
}

// NewSQLSession returns a regular session
func NewSQLSession(cfg *config.SQL) (SQLDBSession, error) {
	ext, err := getExtension(cfg.DBExtensionName)
	if err != nil {
		return nil, err
	}
	return ext.StartDBSession(cfg)
}

// NewSQLAdminSession returns a AdminDB
func NewSQLAdminSession(cfg *config.SQL) (SQLAdminDBSession, error) {
	ext, err := getExtension(cfg.DBExtensionName)
	if err != nil {
		return nil, err
	}
	return ext.StartAdminDBSession(cfg)
}

func getExtension(name string) (SQLDBExtension, error) {
	sqlRegistryLock.RLock()
	defer sqlRegistryLock.RUnlock()
	ext, ok := sqlRegistry[name]
	if !ok {
		var names []string
		for n := range sqlRegistry {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("not supported SQLDBExtensionName %v, only supported: %v", name, names)
	}
	return ext, nil
}
