// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

// Package isoduration parses ISO-8601 durations (P1DT2H) and repeating intervals (R5/PT5M).
package isoduration

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Duration keeps calendar parts apart from clock parts, since a month is not a fixed number of seconds.
type Duration struct {
	Years   int
	Months  int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds float64
}

// RepeatInfinite is the Repeats value of an unbounded interval such as R/PT1H
const RepeatInfinite = -1

// RepeatingInterval is the R<n>[/<start>]/<duration> form
type RepeatingInterval struct {
	Repeats  int
	Start    *time.Time
	Interval Duration
}

func ParseDuration(s string) (Duration, error) {
	var d Duration
	orig := s
	if !strings.HasPrefix(s, "P") || len(s) < 2 {
		return d, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]
	inTime := false
	seen := false
	for len(s) > 0 {
		if s[0] == 'T' {
			if inTime {
				return d, fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			inTime = true
			s = s[1:]
			continue
		}
		i := 0
		for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == ',') {
			i++
		}
		if i == 0 || i == len(s) {
			return d, fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}
		num := strings.Replace(s[:i], ",", ".", 1)
		unit := s[i]
		s = s[i+1:]
		value, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return d, fmt.Errorf("invalid ISO-8601 duration %q: %v", orig, err)
		}
		if unit != 'S' && value != math.Trunc(value) {
			return d, fmt.Errorf("fractions are only supported for seconds in %q", orig)
		}
		switch {
		case !inTime && unit == 'Y':
			d.Years = int(value)
		case !inTime && unit == 'M':
			d.Months = int(value)
		case !inTime && unit == 'W':
			d.Weeks = int(value)
		case !inTime && unit == 'D':
			d.Days = int(value)
		case inTime && unit == 'H':
			d.Hours = int(value)
		case inTime && unit == 'M':
			d.Minutes = int(value)
		case inTime && unit == 'S':
			d.Seconds = value
		default:
			return d, fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}
		seen = true
	}
	if !seen {
		return d, fmt.Errorf("invalid ISO-8601 duration %q", orig)
	}
	return d, nil
}

// AddTo returns t shifted by the duration, applying calendar parts first
func (d Duration) AddTo(t time.Time) time.Time {
	t = t.AddDate(d.Years, d.Months, d.Weeks*7+d.Days)
	return t.Add(d.clock())
}

// Approximate converts to a time.Duration assuming 30 day months and 365 day years
func (d Duration) Approximate() time.Duration {
	days := d.Years*365 + d.Months*30 + d.Weeks*7 + d.Days
	return time.Duration(days)*24*time.Hour + d.clock()
}

func (d Duration) IsZero() bool {
	return d == Duration{}
}

func (d Duration) clock() time.Duration {
	return time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds*float64(time.Second))
}

func (d Duration) String() string {
	var sb strings.Builder
	sb.WriteString("P")
	writePart := func(v int, unit string) {
		if v != 0 {
			sb.WriteString(strconv.Itoa(v))
			sb.WriteString(unit)
		}
	}
	writePart(d.Years, "Y")
	writePart(d.Months, "M")
	writePart(d.Weeks, "W")
	writePart(d.Days, "D")
	if d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0 {
		sb.WriteString("T")
		writePart(d.Hours, "H")
		writePart(d.Minutes, "M")
		if d.Seconds != 0 {
			sb.WriteString(strconv.FormatFloat(d.Seconds, 'f', -1, 64))
			sb.WriteString("S")
		}
	}
	if sb.Len() == 1 {
		return "PT0S"
	}
	return sb.String()
}

func ParseRepeatingInterval(s string) (RepeatingInterval, error) {
	var ri RepeatingInterval
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || !strings.HasPrefix(parts[0], "R") {
		return ri, fmt.Errorf("invalid ISO-8601 repeating interval %q", s)
	}
	if parts[0] == "R" {
		ri.Repeats = RepeatInfinite
	} else {
		n, err := strconv.Atoi(parts[0][1:])
		if err != nil || n < 0 {
			return ri, fmt.Errorf("invalid repeat count in %q", s)
		}
		ri.Repeats = n
	}
	durationPart := parts[len(parts)-1]
	if len(parts) == 3 {
		start, err := time.Parse(time.RFC3339, parts[1])
		if err != nil {
			return ri, fmt.Errorf("invalid start date in %q: %v", s, err)
		}
		ri.Start = &start
	}
	d, err := ParseDuration(durationPart)
	if err != nil {
		return ri, err
	}
	ri.Interval = d
	return ri, nil
}

func IsRepeatingInterval(s string) bool {
	return strings.HasPrefix(s, "R")
}

// RetryCycle is a retry time cycle, either a repeating interval (R5/PT5M)
// or a comma separated list of durations (PT1M,PT5M,PT10M), one per retry.
type RetryCycle struct {
	Retries   int
	Intervals []Duration
}

func ParseRetryCycle(s string) (RetryCycle, error) {
	s = strings.TrimSpace(s)
	if IsRepeatingInterval(s) {
		ri, err := ParseRepeatingInterval(s)
		if err != nil {
			return RetryCycle{}, err
		}
		if ri.Repeats == RepeatInfinite || ri.Repeats == 0 {
			return RetryCycle{}, fmt.Errorf("retry cycle %q needs a positive repeat count", s)
		}
		return RetryCycle{Retries: ri.Repeats, Intervals: []Duration{ri.Interval}}, nil
	}
	var cycle RetryCycle
	for _, part := range strings.Split(s, ",") {
		d, err := ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return RetryCycle{}, err
		}
		cycle.Intervals = append(cycle.Intervals, d)
	}
	cycle.Retries = len(cycle.Intervals)
	return cycle, nil
}

// IntervalFor returns the wait before the next attempt when retriesLeft attempts remain after it
func (c RetryCycle) IntervalFor(retriesLeft int) Duration {
	if len(c.Intervals) == 1 {
		return c.Intervals[0]
	}
	index := c.Retries - retriesLeft - 1
	if index < 0 {
		index = 0
	}
	if index >= len(c.Intervals) {
		index = len(c.Intervals) - 1
	}
	return c.Intervals[index]
}
