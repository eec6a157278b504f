// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/isoduration"
)

type TimerType string

const (
	// TimerDate fires once at an RFC3339 date
	TimerDate TimerType = "date"
	// TimerDuration fires once after an ISO-8601 duration
	TimerDuration TimerType = "duration"
	// TimerCycle fires repeatedly on an ISO-8601 repeating interval such as R3/PT10M
	TimerCycle TimerType = "cycle"
	// TimerCron fires repeatedly on a standard five field cron expression
	TimerCron TimerType = "cron"
)

type TimerDefinition struct {
	Type       TimerType `yaml:"type" json:"type"`
	Expression string    `yaml:"expression" json:"expression"`
}

func (t TimerDefinition) Validate() error {
	switch t.Type {
	case TimerDate:
		if _, err := time.Parse(time.RFC3339, t.Expression); err != nil {
			return errs.Configuration("malformed timer date %q: %v", t.Expression, err)
		}
	case TimerDuration:
		if _, err := isoduration.ParseDuration(t.Expression); err != nil {
			return errs.Configuration("malformed timer duration %q: %v", t.Expression, err)
		}
	case TimerCycle:
		if _, err := isoduration.ParseRepeatingInterval(t.Expression); err != nil {
			return errs.Configuration("malformed timer cycle %q: %v", t.Expression, err)
		}
	case TimerCron:
		if _, err := cron.ParseStandard(t.Expression); err != nil {
			return errs.Configuration("malformed cron expression %q: %v", t.Expression, err)
		}
	default:
		return errs.Configuration("unknown timer type %q", t.Type)
	}
	return nil
}

// IsRepeating tells whether the timer fires more than once
func (t TimerDefinition) IsRepeating() bool {
	return t.Type == TimerCycle || t.Type == TimerCron
}

// Repeats is the number of firings of the timer, isoduration.RepeatInfinite when unbounded
func (t TimerDefinition) Repeats() int {
	switch t.Type {
	case TimerCycle:
		ri, err := isoduration.ParseRepeatingInterval(t.Expression)
		if err != nil {
			return 1
		}
		return ri.Repeats
	case TimerCron:
		return isoduration.RepeatInfinite
	}
	return 1
}

// NextDueDate computes the next firing after base.
// Dates are absolute, so a date in the past is returned as is.
func (t TimerDefinition) NextDueDate(base time.Time) (time.Time, error) {
	switch t.Type {
	case TimerDate:
		due, err := time.Parse(time.RFC3339, t.Expression)
		if err != nil {
			return time.Time{}, errs.Configuration("malformed timer date %q: %v", t.Expression, err)
		}
		return due, nil
	case TimerDuration:
		d, err := isoduration.ParseDuration(t.Expression)
		if err != nil {
			return time.Time{}, errs.Configuration("malformed timer duration %q: %v", t.Expression, err)
		}
		return d.AddTo(base), nil
	case TimerCycle:
		ri, err := isoduration.ParseRepeatingInterval(t.Expression)
		if err != nil {
			return time.Time{}, errs.Configuration("malformed timer cycle %q: %v", t.Expression, err)
		}
		if ri.Start != nil && base.Before(*ri.Start) {
			return *ri.Start, nil
		}
		return ri.Interval.AddTo(base), nil
	case TimerCron:
		schedule, err := cron.ParseStandard(t.Expression)
		if err != nil {
			return time.Time{}, errs.Configuration("malformed cron expression %q: %v", t.Expression, err)
		}
		return schedule.Next(base), nil
	}
	return time.Time{}, errs.Configuration("unknown timer type %q", t.Type)
}
