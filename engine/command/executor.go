// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package command is the transaction boundary of the engine.
// One command runs against one session, and the session is flushed once when the command returns without error.
package command

import (
	"context"

	"github.com/xcherryio/flowengine/common/clock"
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/authorization"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/persistence"
	"github.com/xcherryio/flowengine/persistence/session"
)

type Command interface {
	Name() string
	Execute(cctx *Context) error
}

// Authorized is implemented by commands that need permission checks before they run
type Authorized interface {
	AuthorizationChecks(cctx *Context) ([]authorization.Check, error)
}

type funcCommand struct {
	name string
	fn   func(cctx *Context) error
}

func (c *funcCommand) Name() string {
	return c.name
}

func (c *funcCommand) Execute(cctx *Context) error {
	return c.fn(cctx)
}

type (
	Option func(o *options)

	options struct {
		jobCreatedHooks   []JobCreatedHook
		conflictListeners []session.ConflictListener
	}
)

func WithJobCreatedHook(hook JobCreatedHook) Option {
	return func(o *options) {
		o.jobCreatedHooks = append(o.jobCreatedHooks, hook)
	}
}

func WithConflictListener(listener session.ConflictListener) Option {
	return func(o *options) {
		o.conflictListeners = append(o.conflictListeners, listener)
	}
}

type Executor struct {
	store       persistence.EntityStore
	logger      log.Logger
	clock       clock.TimeSource
	definitions definition.Provider
	authorizer  authorization.Checker
	historySink history.Sink
	config      config.JobExecutorConfig

	jobCreatedHooks []JobCreatedHook
}

func NewExecutor(
	store persistence.EntityStore,
	logger log.Logger,
	timeSource clock.TimeSource,
	definitions definition.Provider,
	authorizer authorization.Checker,
	historySink history.Sink,
	cfg config.JobExecutorConfig,
) *Executor {
	if authorizer == nil {
		authorizer = authorization.NewAllowAllChecker()
	}
	if historySink == nil {
		historySink = history.NewNoopSink()
	}
	return &Executor{
		store:       store,
		logger:      logger,
		clock:       timeSource,
		definitions: definitions,
		authorizer:  authorizer,
		historySink: historySink,
		config:      cfg,
	}
}

// AddJobCreatedHook registers a hook for the jobs scheduled by every command, e.g. to notify the job executor
func (e *Executor) AddJobCreatedHook(hook JobCreatedHook) {
	e.jobCreatedHooks = append(e.jobCreatedHooks, hook)
}

func (e *Executor) Store() persistence.EntityStore {
	return e.store
}

func (e *Executor) Clock() clock.TimeSource {
	return e.clock
}

func (e *Executor) Config() config.JobExecutorConfig {
	return e.config
}

func (e *Executor) Definitions() definition.Provider {
	return e.definitions
}

// Execute runs the command in a new session and flushes it.
// Nothing is written when the authorization fails or the command returns an error.
func (e *Executor) Execute(ctx context.Context, cmd Command, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	sess := session.New(e.store, e.logger)
	for _, listener := range o.conflictListeners {
		sess.AddConflictListener(listener)
	}
	cctx := &Context{
		ctx:             ctx,
		name:            cmd.Name(),
		Session:         sess,
		Logger:          e.logger.WithTags(tag.Command(cmd.Name())),
		Clock:           e.clock,
		Definitions:     e.definitions,
		Config:          e.config,
		jobCreatedHooks: append(append([]JobCreatedHook{}, e.jobCreatedHooks...), o.jobCreatedHooks...),
	}

	if err := e.authorize(cctx, cmd); err != nil {
		sess.Discard()
		return err
	}

	if err := cmd.Execute(cctx); err != nil {
		sess.Discard()
		return err
	}

	if events := cctx.History(); len(events) > 0 {
		sess.BeforeCommit(func(ctx context.Context) error {
			return e.historySink.Record(ctx, events)
		})
	}
	if _, err := sess.Flush(ctx); err != nil {
		if errs.IsOptimisticLockingConflict(err) {
			cctx.Logger.Debug("command aborted by a concurrent update", tag.Error(err))
		}
		return err
	}
	return nil
}

func (e *Executor) ExecuteFunc(ctx context.Context, name string, fn func(cctx *Context) error, opts ...Option) error {
	return e.Execute(ctx, &funcCommand{name: name, fn: fn}, opts...)
}

// Run executes fn as a command and returns its result once committed
func Run[T any](
	ctx context.Context, e *Executor, name string, fn func(cctx *Context) (T, error), opts ...Option,
) (T, error) {
	var result T
	err := e.ExecuteFunc(ctx, name, func(cctx *Context) error {
		var err error
		result, err = fn(cctx)
		return err
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (e *Executor) authorize(cctx *Context, cmd Command) error {
	authorized, ok := cmd.(Authorized)
	if !ok {
		return nil
	}
	checks, err := authorized.AuthorizationChecks(cctx)
	if err != nil {
		return err
	}
	subject := authorization.SubjectFrom(cctx.Context())
	for _, check := range checks {
		allowed, err := e.authorizer.IsAuthorized(cctx.Context(), subject, check)
		if err != nil {
			return errs.Wrapf(err, "authorization check of %s failed", cmd.Name())
		}
		if !allowed {
			return errs.Unauthorized("%q is not allowed to %s %s %s",
				subject, check.Permission, check.ResourceType, check.ResourceId)
		}
	}
	return nil
}
