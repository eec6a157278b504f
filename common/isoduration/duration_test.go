// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package isoduration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("PT5M")
	require.NoError(t, err)
	assert.Equal(t, Duration{Minutes: 5}, d)
	assert.Equal(t, 5*time.Minute, d.Approximate())

	d, err = ParseDuration("P1DT2H30.5S")
	require.NoError(t, err)
	assert.Equal(t, Duration{Days: 1, Hours: 2, Seconds: 30.5}, d)
	assert.Equal(t, "P1DT2H30.5S", d.String())

	d, err = ParseDuration("P1Y2M3W")
	require.NoError(t, err)
	assert.Equal(t, Duration{Years: 1, Months: 2, Weeks: 3}, d)

	for _, invalid := range []string{"", "P", "PT", "5M", "PT5", "P1.5D", "PT1H2X", "P1H"} {
		_, err = ParseDuration(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestDurationAddTo(t *testing.T) {
	base := time.Date(2023, 1, 31, 10, 0, 0, 0, time.UTC)
	d, err := ParseDuration("P1MT1H")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 3, 3, 11, 0, 0, 0, time.UTC), d.AddTo(base))
}

func TestParseRepeatingInterval(t *testing.T) {
	ri, err := ParseRepeatingInterval("R5/PT5M")
	require.NoError(t, err)
	assert.Equal(t, 5, ri.Repeats)
	assert.Nil(t, ri.Start)
	assert.Equal(t, Duration{Minutes: 5}, ri.Interval)

	ri, err = ParseRepeatingInterval("R/PT1H")
	require.NoError(t, err)
	assert.Equal(t, RepeatInfinite, ri.Repeats)

	ri, err = ParseRepeatingInterval("R3/2023-10-01T10:00:00Z/P1D")
	require.NoError(t, err)
	assert.Equal(t, 3, ri.Repeats)
	require.NotNil(t, ri.Start)
	assert.Equal(t, 2023, ri.Start.Year())

	for _, invalid := range []string{"PT5M", "R5", "Rx/PT5M", "R-1/PT5M", "R5/PT5M/x/y", "R5/notadate/PT1M"} {
		_, err = ParseRepeatingInterval(invalid)
		assert.Error(t, err, invalid)
	}
	assert.True(t, IsRepeatingInterval("R5/PT5M"))
	assert.False(t, IsRepeatingInterval("PT5M"))
}

func TestParseRetryCycle(t *testing.T) {
	cycle, err := ParseRetryCycle("R5/PT5M")
	require.NoError(t, err)
	assert.Equal(t, 5, cycle.Retries)
	assert.Equal(t, Duration{Minutes: 5}, cycle.IntervalFor(4))
	assert.Equal(t, Duration{Minutes: 5}, cycle.IntervalFor(0))

	cycle, err = ParseRetryCycle("PT1M, PT5M,PT10M")
	require.NoError(t, err)
	assert.Equal(t, 3, cycle.Retries)
	assert.Equal(t, Duration{Minutes: 1}, cycle.IntervalFor(2))
	assert.Equal(t, Duration{Minutes: 5}, cycle.IntervalFor(1))
	assert.Equal(t, Duration{Minutes: 10}, cycle.IntervalFor(0))

	for _, invalid := range []string{"R/PT5M", "R0/PT5M", "PT5M,soon", ""} {
		_, err = ParseRetryCycle(invalid)
		assert.Error(t, err, invalid)
	}
}
