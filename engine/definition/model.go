// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package definition is the read-only, versioned graph the engine executes.
// Parsing a modeling language into it is left to the callers, Builder and LoadFile cover the rest.
package definition

import (
	"sort"
	"strings"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/isoduration"
)

type ActivityType string

const (
	ActivityStartEvent        ActivityType = "startEvent"
	ActivityMessageStartEvent ActivityType = "messageStartEvent"
	ActivitySignalStartEvent  ActivityType = "signalStartEvent"
	ActivityTimerStartEvent   ActivityType = "timerStartEvent"
	ActivityServiceTask       ActivityType = "serviceTask"
	ActivityUserTask          ActivityType = "userTask"
	ActivityReceiveTask       ActivityType = "receiveTask"
	ActivityParallelGateway   ActivityType = "parallelGateway"
	ActivityTimerCatchEvent   ActivityType = "timerCatchEvent"
	ActivityMessageCatchEvent ActivityType = "messageCatchEvent"
	ActivitySignalCatchEvent  ActivityType = "signalCatchEvent"
	ActivityEndEvent          ActivityType = "endEvent"
	ActivityTerminateEndEvent ActivityType = "terminateEndEvent"
)

var knownActivityTypes = map[ActivityType]bool{
	ActivityStartEvent:        true,
	ActivityMessageStartEvent: true,
	ActivitySignalStartEvent:  true,
	ActivityTimerStartEvent:   true,
	ActivityServiceTask:       true,
	ActivityUserTask:          true,
	ActivityReceiveTask:       true,
	ActivityParallelGateway:   true,
	ActivityTimerCatchEvent:   true,
	ActivityMessageCatchEvent: true,
	ActivitySignalCatchEvent:  true,
	ActivityEndEvent:          true,
	ActivityTerminateEndEvent: true,
}

type (
	Activity struct {
		Id       string       `yaml:"id" json:"id"`
		Type     ActivityType `yaml:"type" json:"type"`
		Outgoing []string     `yaml:"outgoing,omitempty" json:"outgoing,omitempty"`
		IsScope  bool         `yaml:"isScope,omitempty" json:"isScope,omitempty"`
		// AsyncBefore makes the engine commit before entering the activity and continue in a job
		AsyncBefore bool `yaml:"asyncBefore,omitempty" json:"asyncBefore,omitempty"`
		// Exclusive is the flag of the jobs created for the activity, nil means exclusive
		Exclusive      *bool            `yaml:"exclusive,omitempty" json:"exclusive,omitempty"`
		JobPriority    int64            `yaml:"jobPriority,omitempty" json:"jobPriority,omitempty"`
		RetryTimeCycle string           `yaml:"retryTimeCycle,omitempty" json:"retryTimeCycle,omitempty"`
		Timer          *TimerDefinition `yaml:"timer,omitempty" json:"timer,omitempty"`
		// EventName is the message or signal name of message and signal events
		EventName string `yaml:"eventName,omitempty" json:"eventName,omitempty"`
		// DelegateName selects the service task implementation
		DelegateName string `yaml:"delegateName,omitempty" json:"delegateName,omitempty"`
	}

	ProcessDefinition struct {
		// Id is assigned at deployment as key:version:digest
		Id       string `yaml:"-" json:"-"`
		Key      string `yaml:"key" json:"key"`
		Version  int    `yaml:"-" json:"-"`
		TenantId string `yaml:"tenantId,omitempty" json:"tenantId,omitempty"`
		Name     string `yaml:"name,omitempty" json:"name,omitempty"`
		// InitialActivityId is the none start event used when an instance is started by key
		InitialActivityId string               `yaml:"initialActivityId,omitempty" json:"initialActivityId,omitempty"`
		Activities        map[string]*Activity `yaml:"-" json:"activities"`
	}
)

func (a *Activity) IsExclusive() bool {
	return a.Exclusive == nil || *a.Exclusive
}

func (a *Activity) IsStartEvent() bool {
	switch a.Type {
	case ActivityStartEvent, ActivityMessageStartEvent, ActivitySignalStartEvent, ActivityTimerStartEvent:
		return true
	}
	return false
}

// IsWaitState tells whether an execution stays at the activity until it is signaled or triggered
func (a *Activity) IsWaitState() bool {
	switch a.Type {
	case ActivityUserTask, ActivityReceiveTask, ActivityTimerCatchEvent,
		ActivityMessageCatchEvent, ActivitySignalCatchEvent:
		return true
	}
	return false
}

// Activity returns the activity or an ErrActivityNotFound error
func (d *ProcessDefinition) Activity(id string) (*Activity, error) {
	a, ok := d.Activities[id]
	if !ok {
		return nil, errs.ActivityNotFound("activity %s does not exist in process definition %s", id, d.Id)
	}
	return a, nil
}

// Incoming returns the ids of the activities with an outgoing transition to id, sorted
func (d *ProcessDefinition) Incoming(id string) []string {
	var incoming []string
	for _, a := range d.Activities {
		for _, target := range a.Outgoing {
			if target == id {
				incoming = append(incoming, a.Id)
			}
		}
	}
	sort.Strings(incoming)
	return incoming
}

// StartActivities returns the start events that are triggered from outside, sorted by id
func (d *ProcessDefinition) StartActivities() []*Activity {
	var starts []*Activity
	for _, a := range d.Activities {
		switch a.Type {
		case ActivityMessageStartEvent, ActivitySignalStartEvent, ActivityTimerStartEvent:
			starts = append(starts, a)
		}
	}
	sort.Slice(starts, func(i, j int) bool {
		return starts[i].Id < starts[j].Id
	})
	return starts
}

// Validate checks the graph. A missing InitialActivityId defaults to the only none start event.
func (d *ProcessDefinition) Validate() error {
	if d.Key == "" {
		return errs.Configuration("process definition key is required")
	}
	if strings.Contains(d.Key, ":") {
		return errs.Configuration("process definition key %q cannot contain ':'", d.Key)
	}
	if len(d.Activities) == 0 {
		return errs.Configuration("process definition %s has no activities", d.Key)
	}

	var noneStarts []string
	for id, a := range d.Activities {
		if a == nil || a.Id != id {
			return errs.Configuration("activity %s of process %s is registered under another id", id, d.Key)
		}
		if !knownActivityTypes[a.Type] {
			return errs.Configuration("activity %s has unknown type %q", id, a.Type)
		}
		for _, target := range a.Outgoing {
			if _, ok := d.Activities[target]; !ok {
				return errs.Configuration("activity %s has a transition to unknown activity %s", id, target)
			}
		}
		if err := validateActivity(a); err != nil {
			return err
		}
		if a.Type == ActivityStartEvent {
			noneStarts = append(noneStarts, id)
		}
	}

	if d.InitialActivityId == "" && len(noneStarts) == 1 {
		d.InitialActivityId = noneStarts[0]
	}
	if d.InitialActivityId != "" {
		initial, ok := d.Activities[d.InitialActivityId]
		if !ok {
			return errs.Configuration("initial activity %s does not exist", d.InitialActivityId)
		}
		if !initial.IsStartEvent() {
			return errs.Configuration("initial activity %s is not a start event", d.InitialActivityId)
		}
	}
	return nil
}

func validateActivity(a *Activity) error {
	switch a.Type {
	case ActivityTimerStartEvent, ActivityTimerCatchEvent:
		if a.Timer == nil {
			return errs.Configuration("timer activity %s has no timer definition", a.Id)
		}
		if err := a.Timer.Validate(); err != nil {
			return errs.Wrapf(err, "timer of activity %s", a.Id)
		}
	case ActivityMessageStartEvent, ActivitySignalStartEvent, ActivityMessageCatchEvent, ActivitySignalCatchEvent:
		if a.EventName == "" {
			return errs.Configuration("event activity %s has no event name", a.Id)
		}
	case ActivityEndEvent, ActivityTerminateEndEvent:
		if len(a.Outgoing) > 0 {
			return errs.Configuration("end event %s cannot have outgoing transitions", a.Id)
		}
	}
	if a.RetryTimeCycle != "" {
		if _, err := isoduration.ParseRetryCycle(a.RetryTimeCycle); err != nil {
			return errs.Configuration("malformed retry time cycle %q of activity %s: %v", a.RetryTimeCycle, a.Id, err)
		}
	}
	return nil
}

// KeyFromId returns the process key part of a definition id
func KeyFromId(definitionId string) string {
	key, _, _ := strings.Cut(definitionId, ":")
	return key
}
