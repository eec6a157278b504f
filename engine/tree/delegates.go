// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"sync"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/persistence"
)

// Delegate implements a service task. It runs inside the command that reaches the task,
// variables are the process instance variables and may be changed in place.
type Delegate func(cctx *command.Context, execution *persistence.Execution, variables map[string]any) error

type Delegates struct {
	sync.RWMutex
	delegates map[string]Delegate
}

func NewDelegates() *Delegates {
	return &Delegates{delegates: map[string]Delegate{}}
}

func (d *Delegates) Register(name string, delegate Delegate) {
	d.Lock()
	defer d.Unlock()
	d.delegates[name] = delegate
}

func (d *Delegates) lookup(name string) (Delegate, error) {
	d.RLock()
	defer d.RUnlock()
	delegate, ok := d.delegates[name]
	if !ok {
		return nil, errs.Configuration("no delegate is registered under the name %s", name)
	}
	return delegate, nil
}
