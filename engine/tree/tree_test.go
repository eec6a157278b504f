// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/flowengine/common/clock"
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/extensions/memory"
	"github.com/xcherryio/flowengine/persistence"
	"github.com/xcherryio/flowengine/persistence/store"
)

var now = time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC)

const owner = "node-1"

type testEnv struct {
	executor  *command.Executor
	repo      *definition.Repository
	registry  *jobs.Registry
	delegates *Delegates
	flow      *Flow
	history   *history.MemorySink
}

func newTestEnv(t *testing.T) *testEnv {
	logger := log.NewDevelopmentLogger()
	s, err := store.NewSQLEntityStore(config.SQL{
		DBExtensionName: memory.ExtensionName,
		DatabaseName:    uuid.MustNewUUID(),
	}, logger)
	require.NoError(t, err)
	cfg := config.JobExecutorConfig{LockOwner: owner}
	require.NoError(t, cfg.ValidateAndSetDefaults())

	env := &testEnv{
		repo:      definition.NewRepository(definition.NewCache(), logger),
		registry:  jobs.NewRegistry(),
		delegates: NewDelegates(),
		history:   history.NewMemorySink(),
	}
	env.flow = NewFlow(env.delegates)
	require.NoError(t, env.flow.RegisterJobHandlers(env.registry))
	env.executor = command.NewExecutor(s, logger, clock.NewFakeTimeSource(now), env.repo, nil, env.history, cfg)
	return env
}

func (env *testEnv) deploy(t *testing.T, b *definition.Builder) *definition.ProcessDefinition {
	def, err := b.Build()
	require.NoError(t, err)
	deployment, err := env.repo.Prepare(def)
	require.NoError(t, err)
	env.repo.Register(deployment.Definition)
	return deployment.Definition
}

func (env *testEnv) start(t *testing.T, def *definition.ProcessDefinition, variables map[string]any) *persistence.Execution {
	root, err := command.Run(context.Background(), env.executor, "StartProcessInstance",
		func(cctx *command.Context) (*persistence.Execution, error) {
			return env.flow.StartProcessInstance(cctx, StartRequest{Definition: def, Variables: variables})
		})
	require.NoError(t, err)
	return root
}

func (env *testEnv) signal(executionId string, payload map[string]any) error {
	return env.executor.ExecuteFunc(context.Background(), "Signal", func(cctx *command.Context) error {
		return env.flow.Signal(cctx, executionId, "continue", payload)
	})
}

func (env *testEnv) end(executionId string) error {
	return env.executor.ExecuteFunc(context.Background(), "End", func(cctx *command.Context) error {
		return env.flow.End(cctx, executionId, "cancelled")
	})
}

func (env *testEnv) executions(t *testing.T, processInstanceId string) []*persistence.Execution {
	executions, err := env.executor.Store().FindExecutions(context.Background(),
		persistence.ExecutionQuery{ProcessInstanceId: processInstanceId})
	require.NoError(t, err)
	return executions
}

func (env *testEnv) at(t *testing.T, processInstanceId, activityId string) *persistence.Execution {
	for _, e := range env.executions(t, processInstanceId) {
		if e.ActivityId == activityId && e.IsActive {
			return e
		}
	}
	require.FailNow(t, "no active execution", "at activity %s", activityId)
	return nil
}

func (env *testEnv) execution(t *testing.T, processInstanceId, executionId string) *persistence.Execution {
	for _, e := range env.executions(t, processInstanceId) {
		if e.Id == executionId {
			return e
		}
	}
	require.FailNow(t, "no execution", "with id %s", executionId)
	return nil
}

func (env *testEnv) started(activityId string) int {
	count := 0
	for _, e := range env.history.EventsOfType(history.EventActivityStarted) {
		if e.ActivityId == activityId {
			count++
		}
	}
	return count
}

func forkJoinProcess() *definition.Builder {
	return definition.NewProcess("approval").
		StartEvent("start").
		ParallelGateway("fork").
		UserTask("legal").
		UserTask("finance").
		ParallelGateway("join").
		UserTask("archive").
		EndEvent("end").
		Flow("start", "fork").
		Flow("fork", "legal", "finance").
		Flow("legal", "join").
		Flow("finance", "join").
		Sequence("join", "archive", "end")
}

func TestForkCreatesConcurrentChildrenUnderTheScope(t *testing.T) {
	env := newTestEnv(t)
	def := env.deploy(t, forkJoinProcess())
	root := env.start(t, def, nil)

	executions := env.executions(t, root.Id)
	require.Equal(t, 3, len(executions))
	for _, e := range executions {
		if e.IsProcessInstance() {
			assert.True(t, e.IsScope)
			assert.False(t, e.IsActive)
			continue
		}
		assert.Equal(t, root.Id, e.ParentId)
		assert.True(t, e.IsConcurrent)
		assert.True(t, e.IsActive)
		assert.False(t, e.IsScope)
	}
	env.at(t, root.Id, "legal")
	env.at(t, root.Id, "finance")
}

func TestJoinActivatesOnceInEitherOrder(t *testing.T) {
	for _, order := range [][]string{{"legal", "finance"}, {"finance", "legal"}} {
		t.Run(order[0]+" first", func(t *testing.T) {
			env := newTestEnv(t)
			def := env.deploy(t, forkJoinProcess())
			root := env.start(t, def, nil)

			require.NoError(t, env.signal(env.at(t, root.Id, order[0]).Id, nil))
			assert.Equal(t, 0, env.started("archive"))
			assert.Equal(t, 3, len(env.executions(t, root.Id)))

			require.NoError(t, env.signal(env.at(t, root.Id, order[1]).Id, nil))
			assert.Equal(t, 1, env.started("archive"))
			executions := env.executions(t, root.Id)
			require.Equal(t, 1, len(executions))
			assert.Equal(t, "archive", executions[0].ActivityId)
			assert.True(t, executions[0].IsActive)
			assert.Empty(t, executions[0].JoinArrivals)

			require.NoError(t, env.signal(root.Id, nil))
			executions = env.executions(t, root.Id)
			require.Equal(t, 1, len(executions))
			assert.True(t, executions[0].IsEnded)
			assert.Equal(t, 1, len(env.history.EventsOfType(history.EventProcessInstanceEnded)))
		})
	}
}

func TestConcurrentArrivalsAtJoinConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	def := env.deploy(t, forkJoinProcess())
	root := env.start(t, def, nil)
	legal := env.at(t, root.Id, "legal")
	finance := env.at(t, root.Id, "finance")

	err := env.executor.ExecuteFunc(ctx, "Signal", func(cctx *command.Context) error {
		if err := env.flow.Signal(cctx, legal.Id, "continue", nil); err != nil {
			return err
		}
		// the other branch arrives and commits while this command has not flushed yet
		return env.signal(finance.Id, nil)
	})
	require.Error(t, err)
	assert.True(t, errs.IsOptimisticLockingConflict(err))
	assert.True(t, errs.IsRetryable(err))
	assert.Equal(t, 0, env.started("archive"))

	// retried, the arrival is counted on top of the committed one
	require.NoError(t, env.signal(legal.Id, nil))
	assert.Equal(t, 1, env.started("archive"))
	env.at(t, root.Id, "archive")
}

func TestEndIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	def := env.deploy(t, forkJoinProcess())
	root := env.start(t, def, nil)

	require.NoError(t, env.end(root.Id))
	require.NoError(t, env.end(root.Id))

	executions := env.executions(t, root.Id)
	require.Equal(t, 1, len(executions))
	assert.True(t, executions[0].IsEnded)
	assert.Equal(t, 1, len(env.history.EventsOfType(history.EventProcessInstanceEnded)))
	assert.Equal(t, 2, len(env.history.EventsOfType(history.EventExecutionEnded)))

	err := env.end(uuid.MustNewUUID())
	assert.True(t, errs.Is(err, errs.ErrNotFound))
}

func TestEndingTheLastConcurrentPathEndsTheScope(t *testing.T) {
	env := newTestEnv(t)
	def := env.deploy(t, forkJoinProcess())
	root := env.start(t, def, nil)

	legal := env.at(t, root.Id, "legal")
	require.NoError(t, env.end(legal.Id))
	assert.Equal(t, 3, len(env.executions(t, root.Id)))
	assert.Equal(t, 0, len(env.history.EventsOfType(history.EventProcessInstanceEnded)))

	require.NoError(t, env.end(env.at(t, root.Id, "finance").Id))
	executions := env.executions(t, root.Id)
	require.Equal(t, 1, len(executions))
	assert.True(t, executions[0].IsEnded)
}

func TestEndingAConcurrentPathTwice(t *testing.T) {
	env := newTestEnv(t)
	def := env.deploy(t, forkJoinProcess())
	root := env.start(t, def, nil)
	legal := env.at(t, root.Id, "legal")

	require.NoError(t, env.end(legal.Id))
	require.NoError(t, env.end(legal.Id))

	ended := 0
	for _, e := range env.executions(t, root.Id) {
		if e.Id == legal.Id {
			assert.True(t, e.IsEnded)
			assert.False(t, e.IsActive)
			ended++
		}
	}
	assert.Equal(t, 1, ended)
	assert.Equal(t, 1, len(env.history.EventsOfType(history.EventExecutionEnded)))
	assert.Equal(t, 0, len(env.history.EventsOfType(history.EventProcessInstanceEnded)))

	err := env.signal(legal.Id, nil)
	assert.True(t, errs.Is(err, errs.ErrInvalidState))
	env.at(t, root.Id, "finance")
}

func TestSignalErrors(t *testing.T) {
	env := newTestEnv(t)
	def := env.deploy(t, forkJoinProcess())
	root := env.start(t, def, nil)

	err := env.signal(uuid.MustNewUUID(), nil)
	assert.True(t, errs.Is(err, errs.ErrNotFound))

	// the root is the inactive scope of the fork
	err = env.signal(root.Id, nil)
	assert.True(t, errs.Is(err, errs.ErrInvalidState))

	// a new version without the activity the execution waits at
	legal := env.at(t, root.Id, "legal")
	require.NoError(t, env.executor.ExecuteFunc(context.Background(), "Migrate", func(cctx *command.Context) error {
		e, err := cctx.Session.GetExecution(cctx.Context(), legal.Id)
		if err != nil {
			return err
		}
		e.ActivityId = "removedTask"
		return nil
	}))
	err = env.signal(legal.Id, nil)
	assert.True(t, errs.Is(err, errs.ErrActivityNotFound))

	require.NoError(t, env.end(root.Id))
	err = env.signal(root.Id, nil)
	assert.True(t, errs.Is(err, errs.ErrInvalidState))
}

func TestCreateChild(t *testing.T) {
	env := newTestEnv(t)
	def := env.deploy(t, definition.NewProcess("review").
		StartEvent("start").UserTask("review").EndEvent("end").
		Sequence("start", "review", "end"))
	root := env.start(t, def, nil)

	child, err := command.Run(context.Background(), env.executor, "CreateChild",
		func(cctx *command.Context) (*persistence.Execution, error) {
			return env.flow.CreateChild(cctx, root.Id)
		})
	require.NoError(t, err)
	assert.True(t, child.IsActive)
	assert.False(t, child.IsScope)
	assert.Equal(t, root.Id, child.ParentId)

	executions := env.executions(t, root.Id)
	require.Equal(t, 2, len(executions))
	for _, e := range executions {
		assert.Equal(t, !e.IsProcessInstance(), e.IsActive)
	}

	require.NoError(t, env.end(root.Id))
	_, err = command.Run(context.Background(), env.executor, "CreateChild",
		func(cctx *command.Context) (*persistence.Execution, error) {
			return env.flow.CreateChild(cctx, root.Id)
		})
	assert.True(t, errs.Is(err, errs.ErrInvalidState))
}

func TestServiceTaskDelegateAndVariables(t *testing.T) {
	env := newTestEnv(t)
	env.delegates.Register("approve", func(cctx *command.Context, e *persistence.Execution, variables map[string]any) error {
		if variables["amount"] == "too much" {
			return errs.InvalidArgument("amount rejected")
		}
		variables["approved"] = "yes"
		return nil
	})
	def := env.deploy(t, definition.NewProcess("payment").
		StartEvent("start").ServiceTask("approve", "approve").UserTask("pay").EndEvent("end").
		Sequence("start", "approve", "pay", "end"))

	root := env.start(t, def, map[string]any{"amount": "fine"})
	pay := env.at(t, root.Id, "pay")
	assert.Equal(t, "yes", pay.Variables["approved"])

	require.NoError(t, env.signal(pay.Id, map[string]any{"receipt": "r-1"}))
	executions := env.executions(t, root.Id)
	require.Equal(t, 1, len(executions))
	assert.True(t, executions[0].IsEnded)
	assert.Equal(t, "r-1", executions[0].Variables["receipt"])

	_, err := command.Run(context.Background(), env.executor, "StartProcessInstance",
		func(cctx *command.Context) (*persistence.Execution, error) {
			return env.flow.StartProcessInstance(cctx, StartRequest{Definition: def, Variables: map[string]any{"amount": "too much"}})
		})
	assert.True(t, errs.Is(err, errs.ErrInvalidArgument))
}

func TestAsyncContinuationJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	calls := 0
	env.delegates.Register("notify", func(*command.Context, *persistence.Execution, map[string]any) error {
		calls++
		return nil
	})
	def := env.deploy(t, definition.NewProcess("notification").
		StartEvent("start").ServiceTask("notify", "notify", definition.AsyncBefore()).EndEvent("end").
		Sequence("start", "notify", "end"))
	root := env.start(t, def, nil)
	assert.Equal(t, 0, calls)

	pending, err := env.executor.Store().FindJobs(ctx, persistence.JobQuery{ProcessInstanceId: root.Id})
	require.NoError(t, err)
	require.Equal(t, 1, len(pending))
	job := pending[0]
	assert.Equal(t, jobs.HandlerAsyncContinuation, job.HandlerType)
	assert.Equal(t, "notify", job.ActivityId)
	assert.True(t, job.IsExclusive)

	acquire := &jobs.AcquireJobs{Query: persistence.AcquirableJobsQuery{Limit: 10}, LockOwner: owner, LockDuration: time.Minute}
	require.NoError(t, env.executor.Execute(ctx, acquire))
	require.Equal(t, 1, len(acquire.Acquired()))
	require.NoError(t, env.executor.Execute(ctx, &jobs.ExecuteJob{JobId: job.Id, LockOwner: owner, Registry: env.registry}))
	assert.Equal(t, 1, calls)

	executions := env.executions(t, root.Id)
	require.Equal(t, 1, len(executions))
	assert.True(t, executions[0].IsEnded)
	gone, err := env.executor.Store().GetJob(ctx, job.Id)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestTimerAndMessageCatchEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	def := env.deploy(t, definition.NewProcess("shipment").
		StartEvent("start").
		ParallelGateway("fork").
		TimerCatchEvent("wait", definition.TimerDefinition{Type: definition.TimerDuration, Expression: "PT10M"}).
		MessageCatchEvent("delivered", "parcel-delivered").
		EndEvent("timedOut").
		EndEvent("done").
		Flow("start", "fork").
		Flow("fork", "wait", "delivered").
		Flow("wait", "timedOut").
		Flow("delivered", "done"))
	root := env.start(t, def, nil)

	timers, err := env.executor.Store().FindJobs(ctx, persistence.JobQuery{ProcessInstanceId: root.Id})
	require.NoError(t, err)
	require.Equal(t, 1, len(timers))
	assert.Equal(t, jobs.HandlerTimerTransition, timers[0].HandlerType)
	assert.Equal(t, now.Add(10*time.Minute), timers[0].DueDate)
	subs, err := env.executor.Store().FindEventSubscriptions(ctx, persistence.EventSubscriptionQuery{ProcessInstanceId: root.Id})
	require.NoError(t, err)
	require.Equal(t, 1, len(subs))
	assert.Equal(t, "parcel-delivered", subs[0].EventName)

	// the message path ends, the timer path still waits
	_, err = command.Run(ctx, env.executor, "Correlate", func(cctx *command.Context) (*persistence.Execution, error) {
		return env.flow.Trigger(cctx, subs[0], map[string]any{"by": "courier"})
	})
	require.NoError(t, err)
	executions := env.executions(t, root.Id)
	assert.Equal(t, 3, len(executions))
	assert.True(t, env.execution(t, root.Id, subs[0].ExecutionId).IsEnded)
	subs, err = env.executor.Store().FindEventSubscriptions(ctx, persistence.EventSubscriptionQuery{ProcessInstanceId: root.Id})
	require.NoError(t, err)
	assert.Empty(t, subs)

	// the timer fires and the last path ends the instance
	require.NoError(t, env.executor.ExecuteFunc(ctx, "Lock", func(cctx *command.Context) error {
		job, err := cctx.Session.GetJob(cctx.Context(), timers[0].Id)
		if err != nil {
			return err
		}
		job.Lock(owner, now.Add(time.Minute))
		return nil
	}))
	require.NoError(t, env.executor.Execute(ctx, &jobs.ExecuteJob{JobId: timers[0].Id, LockOwner: owner, Registry: env.registry}))
	executions = env.executions(t, root.Id)
	require.Equal(t, 1, len(executions))
	assert.True(t, executions[0].IsEnded)
	assert.Equal(t, "courier", executions[0].Variables["by"])
}

func TestEndingTheInstanceRemovesJobsAndSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	def := env.deploy(t, definition.NewProcess("shipment").
		StartEvent("start").
		ParallelGateway("fork").
		TimerCatchEvent("wait", definition.TimerDefinition{Type: definition.TimerDuration, Expression: "PT10M"}).
		SignalCatchEvent("recalled", "recall").
		TerminateEndEvent("terminate").
		EndEvent("end").
		Flow("start", "fork").
		Flow("fork", "wait", "recalled").
		Flow("wait", "end").
		Flow("recalled", "terminate"))
	root := env.start(t, def, nil)

	require.NoError(t, env.signal(env.at(t, root.Id, "recalled").Id, nil))

	executions := env.executions(t, root.Id)
	require.Equal(t, 1, len(executions))
	assert.True(t, executions[0].IsEnded)
	pending, err := env.executor.Store().FindJobs(ctx, persistence.JobQuery{ProcessInstanceId: root.Id})
	require.NoError(t, err)
	assert.Empty(t, pending)
	subs, err := env.executor.Store().FindEventSubscriptions(ctx, persistence.EventSubscriptionQuery{ProcessInstanceId: root.Id})
	require.NoError(t, err)
	assert.Empty(t, subs)
}
