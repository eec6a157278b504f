// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"time"

	"github.com/xcherryio/flowengine/common/clock"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/persistence"
	"github.com/xcherryio/flowengine/persistence/session"
)

// JobCreatedHook is called for every job a command schedules, before the command flushes
type JobCreatedHook func(cctx *Context, job *persistence.Job)

// Context is what a command runs against. It lives as long as one command and is not shared between goroutines.
type Context struct {
	ctx         context.Context
	name        string
	Session     *session.Session
	Logger      log.Logger
	Clock       clock.TimeSource
	Definitions definition.Provider
	Config      config.JobExecutorConfig

	history         []history.Event
	jobCreatedHooks []JobCreatedHook
}

func (c *Context) Context() context.Context {
	return c.ctx
}

func (c *Context) CommandName() string {
	return c.name
}

func (c *Context) Now() time.Time {
	return c.Clock.Now()
}

// RecordHistory buffers an event, the sink receives all of them inside the command's transaction
func (c *Context) RecordHistory(event history.Event) {
	if event.Time.IsZero() {
		event.Time = c.Now()
	}
	c.history = append(c.history, event)
}

func (c *Context) History() []history.Event {
	return c.history
}

func (c *Context) AddJobCreatedHook(hook JobCreatedHook) {
	c.jobCreatedHooks = append(c.jobCreatedHooks, hook)
}

func (c *Context) NotifyJobCreated(job *persistence.Job) {
	for _, hook := range c.jobCreatedHooks {
		hook(c, job)
	}
}

// OnCommit runs fn after the command's transaction committed
func (c *Context) OnCommit(fn func()) {
	c.Session.OnCommit(fn)
}
