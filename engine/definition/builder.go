// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"github.com/xcherryio/flowengine/common/errs"
)

type ActivityOption func(a *Activity)

func AsyncBefore() ActivityOption {
	return func(a *Activity) { a.AsyncBefore = true }
}

func NotExclusive() ActivityOption {
	return func(a *Activity) {
		exclusive := false
		a.Exclusive = &exclusive
	}
}

func Priority(priority int64) ActivityOption {
	return func(a *Activity) { a.JobPriority = priority }
}

func RetryCycle(cycle string) ActivityOption {
	return func(a *Activity) { a.RetryTimeCycle = cycle }
}

func Scope() ActivityOption {
	return func(a *Activity) { a.IsScope = true }
}

// Builder assembles a ProcessDefinition in code.
// Activities are declared first and connected with Flow or Sequence.
type Builder struct {
	def *ProcessDefinition
	err error
}

func NewProcess(key string) *Builder {
	return &Builder{def: &ProcessDefinition{Key: key, Activities: map[string]*Activity{}}}
}

func (b *Builder) TenantId(tenantId string) *Builder {
	b.def.TenantId = tenantId
	return b
}

func (b *Builder) Name(name string) *Builder {
	b.def.Name = name
	return b
}

func (b *Builder) Activity(id string, activityType ActivityType, opts ...ActivityOption) *Builder {
	if _, ok := b.def.Activities[id]; ok && b.err == nil {
		b.err = errs.Configuration("activity %s is declared twice", id)
		return b
	}
	a := &Activity{Id: id, Type: activityType}
	for _, opt := range opts {
		opt(a)
	}
	b.def.Activities[id] = a
	return b
}

func (b *Builder) StartEvent(id string, opts ...ActivityOption) *Builder {
	b.Activity(id, ActivityStartEvent, opts...)
	if b.def.InitialActivityId == "" {
		b.def.InitialActivityId = id
	}
	return b
}

func (b *Builder) MessageStartEvent(id, messageName string, opts ...ActivityOption) *Builder {
	return b.eventActivity(id, ActivityMessageStartEvent, messageName, opts)
}

func (b *Builder) SignalStartEvent(id, signalName string, opts ...ActivityOption) *Builder {
	return b.eventActivity(id, ActivitySignalStartEvent, signalName, opts)
}

func (b *Builder) TimerStartEvent(id string, timer TimerDefinition, opts ...ActivityOption) *Builder {
	return b.timerActivity(id, ActivityTimerStartEvent, timer, opts)
}

func (b *Builder) ServiceTask(id, delegateName string, opts ...ActivityOption) *Builder {
	b.Activity(id, ActivityServiceTask, opts...)
	if a, ok := b.def.Activities[id]; ok {
		a.DelegateName = delegateName
	}
	return b
}

func (b *Builder) UserTask(id string, opts ...ActivityOption) *Builder {
	return b.Activity(id, ActivityUserTask, opts...)
}

func (b *Builder) ReceiveTask(id string, opts ...ActivityOption) *Builder {
	return b.Activity(id, ActivityReceiveTask, opts...)
}

func (b *Builder) ParallelGateway(id string, opts ...ActivityOption) *Builder {
	return b.Activity(id, ActivityParallelGateway, opts...)
}

func (b *Builder) TimerCatchEvent(id string, timer TimerDefinition, opts ...ActivityOption) *Builder {
	return b.timerActivity(id, ActivityTimerCatchEvent, timer, opts)
}

func (b *Builder) MessageCatchEvent(id, messageName string, opts ...ActivityOption) *Builder {
	return b.eventActivity(id, ActivityMessageCatchEvent, messageName, opts)
}

func (b *Builder) SignalCatchEvent(id, signalName string, opts ...ActivityOption) *Builder {
	return b.eventActivity(id, ActivitySignalCatchEvent, signalName, opts)
}

func (b *Builder) EndEvent(id string) *Builder {
	return b.Activity(id, ActivityEndEvent)
}

func (b *Builder) TerminateEndEvent(id string) *Builder {
	return b.Activity(id, ActivityTerminateEndEvent)
}

// Flow adds transitions from one activity to each of the targets
func (b *Builder) Flow(from string, to ...string) *Builder {
	a, ok := b.def.Activities[from]
	if !ok {
		if b.err == nil {
			b.err = errs.Configuration("flow from undeclared activity %s", from)
		}
		return b
	}
	a.Outgoing = append(a.Outgoing, to...)
	return b
}

// Sequence connects the activities one after another
func (b *Builder) Sequence(ids ...string) *Builder {
	for i := 0; i+1 < len(ids); i++ {
		b.Flow(ids[i], ids[i+1])
	}
	return b
}

func (b *Builder) Build() (*ProcessDefinition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	return b.def, nil
}

func (b *Builder) eventActivity(id string, t ActivityType, name string, opts []ActivityOption) *Builder {
	b.Activity(id, t, opts...)
	if a, ok := b.def.Activities[id]; ok {
		a.EventName = name
	}
	return b
}

func (b *Builder) timerActivity(id string, t ActivityType, timer TimerDefinition, opts []ActivityOption) *Builder {
	b.Activity(id, t, opts...)
	if a, ok := b.def.Activities[id]; ok {
		a.Timer = &timer
	}
	return b
}
