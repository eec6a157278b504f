// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
)

func orderProcess(t *testing.T, messageName string) *ProcessDefinition {
	def, err := NewProcess("order").
		StartEvent("start").
		MessageStartEvent("received", messageName).
		ParallelGateway("fork").
		ServiceTask("charge", "charge", AsyncBefore(), RetryCycle("R5/PT5M"), Priority(10)).
		UserTask("pack").
		ParallelGateway("join").
		EndEvent("end").
		Flow("start", "fork").
		Flow("received", "fork").
		Flow("fork", "charge", "pack").
		Flow("charge", "join").
		Flow("pack", "join").
		Sequence("join", "end").
		Build()
	require.NoError(t, err)
	return def
}

func TestBuilderAndGraph(t *testing.T) {
	def := orderProcess(t, "order-received")
	assert.Equal(t, "start", def.InitialActivityId)
	assert.Equal(t, []string{"charge", "pack"}, def.Incoming("join"))

	charge, err := def.Activity("charge")
	require.NoError(t, err)
	assert.True(t, charge.AsyncBefore)
	assert.True(t, charge.IsExclusive())
	assert.Equal(t, int64(10), charge.JobPriority)

	_, err = def.Activity("missing")
	assert.True(t, errs.Is(err, errs.ErrActivityNotFound))

	starts := def.StartActivities()
	require.Equal(t, 1, len(starts))
	assert.Equal(t, "received", starts[0].Id)
}

func TestValidate(t *testing.T) {
	_, err := NewProcess("a:b").StartEvent("start").Build()
	assert.True(t, errs.Is(err, errs.ErrConfiguration))

	_, err = NewProcess("p").StartEvent("start").Flow("start", "nowhere").Build()
	assert.True(t, errs.Is(err, errs.ErrConfiguration))

	_, err = NewProcess("p").StartEvent("start").ServiceTask("task", "x", RetryCycle("every minute")).Build()
	assert.True(t, errs.Is(err, errs.ErrConfiguration))

	_, err = NewProcess("p").TimerStartEvent("start", TimerDefinition{Type: TimerCron, Expression: "not cron"}).Build()
	assert.True(t, errs.Is(err, errs.ErrConfiguration))

	_, err = NewProcess("p").StartEvent("start").StartEvent("start").Build()
	assert.True(t, errs.Is(err, errs.ErrConfiguration))
}

func TestTimerNextDueDate(t *testing.T) {
	base := time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC)

	due, err := TimerDefinition{Type: TimerDuration, Expression: "PT5M"}.NextDueDate(base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(5*time.Minute), due)

	due, err = TimerDefinition{Type: TimerDate, Expression: "2023-10-02T00:00:00Z"}.NextDueDate(base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC), due)

	cycle := TimerDefinition{Type: TimerCycle, Expression: "R3/PT1H"}
	due, err = cycle.NextDueDate(base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), due)
	assert.True(t, cycle.IsRepeating())
	assert.Equal(t, 3, cycle.Repeats())

	cron := TimerDefinition{Type: TimerCron, Expression: "30 * * * *"}
	due, err = cron.NextDueDate(base)
	require.NoError(t, err)
	assert.Equal(t, base.Add(30*time.Minute), due)

	_, err = TimerDefinition{Type: "weekly", Expression: "x"}.NextDueDate(base)
	assert.True(t, errs.Is(err, errs.ErrConfiguration))
}

func TestRepositoryVersionsAndCache(t *testing.T) {
	cache := NewCache()
	repo := NewRepository(cache, log.NewDevelopmentLogger())

	_, err := repo.GetLatestByKey("order", "")
	assert.True(t, errs.Is(err, errs.ErrNotFound))

	first, err := repo.Prepare(orderProcess(t, "order-received"))
	require.NoError(t, err)
	assert.Nil(t, first.Previous)
	assert.Equal(t, 1, first.Definition.Version)
	assert.Equal(t, "order", KeyFromId(first.Definition.Id))
	assert.False(t, repo.IsKnown(first.Definition.Id))
	repo.Register(first.Definition)
	assert.True(t, repo.IsKnown(first.Definition.Id))

	latest, err := repo.GetLatestByKey("order", "")
	require.NoError(t, err)
	assert.Equal(t, first.Definition.Id, latest.Id)
	assert.Equal(t, 1, cache.Size())

	same, err := repo.Prepare(orderProcess(t, "order-received"))
	require.NoError(t, err)
	assert.True(t, same.Unchanged)
	assert.Equal(t, first.Definition.Id, same.Definition.Id)

	second, err := repo.Prepare(orderProcess(t, "order-placed"))
	require.NoError(t, err)
	assert.Equal(t, 2, second.Definition.Version)
	assert.Equal(t, first.Definition.Id, second.Previous.Id)
	repo.Register(second.Definition)
	assert.Equal(t, 0, cache.Size())

	latest, err = repo.GetLatestByKey("order", "")
	require.NoError(t, err)
	assert.Equal(t, second.Definition.Id, latest.Id)

	// older versions stay resolvable for running instances
	activity, err := repo.GetActivity(first.Definition.Id, "received")
	require.NoError(t, err)
	assert.Equal(t, "order-received", activity.EventName)

	_, err = repo.GetActivity(first.Definition.Id, "gone")
	assert.True(t, errs.Is(err, errs.ErrActivityNotFound))

	_, err = repo.GetLatestByKey("order", "tenant-a")
	assert.True(t, errs.Is(err, errs.ErrNotFound))
}

func TestParse(t *testing.T) {
	defs, err := Parse([]byte(`
processes:
  - key: invoice
    tenantId: tenant-a
    activities:
      - {id: start, type: startEvent, outgoing: [wait]}
      - id: wait
        type: timerCatchEvent
        timer: {type: duration, expression: PT1H}
        outgoing: [end]
      - {id: end, type: endEvent}
`))
	require.NoError(t, err)
	require.Equal(t, 1, len(defs))
	assert.Equal(t, "tenant-a", defs[0].TenantId)
	assert.Equal(t, "start", defs[0].InitialActivityId)
	wait, err := defs[0].Activity("wait")
	require.NoError(t, err)
	assert.True(t, wait.IsWaitState())
	assert.Equal(t, TimerDuration, wait.Timer.Type)

	_, err = Parse([]byte(`
processes:
  - key: broken
    activities:
      - {id: start, type: startEvent, outgoing: [missing]}
`))
	assert.True(t, errs.Is(err, errs.ErrConfiguration))
}
