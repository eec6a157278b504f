// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"math"
	"math/rand"
	"time"

	"github.com/xcherryio/flowengine/config"
)

type acquisitionResult struct {
	found    int
	acquired int
	lost     int
	failed   bool
}

// acquisitionBackoff computes the wait before the next acquisition.
// A full batch polls again at once, a partial batch waits WaitTimeMin.
// Finding nothing grows the idle wait up to WaitTimeMax, losing every candidate
// to other nodes grows the backoff up to BackoffTimeMax. Acquiring anything resets both.
type acquisitionBackoff struct {
	cfg          config.JobExecutorConfig
	idleLevel    int
	backoffLevel int
}

func newAcquisitionBackoff(cfg config.JobExecutorConfig) *acquisitionBackoff {
	return &acquisitionBackoff{cfg: cfg}
}

func (b *acquisitionBackoff) next(r acquisitionResult) time.Duration {
	switch {
	case r.acquired > 0:
		b.idleLevel = 0
		b.backoffLevel = 0
		if r.acquired >= b.cfg.MaxJobsPerAcquisition {
			return 0
		}
		return b.cfg.WaitTimeMin
	case !r.failed && r.found > 0 && r.lost > 0:
		b.idleLevel = 0
		b.backoffLevel++
		return grow(b.cfg.BackoffTimeMin, b.cfg.BackoffTimeMax, b.cfg.WaitIncreaseFactor, b.backoffLevel)
	default:
		b.backoffLevel = 0
		b.idleLevel++
		return grow(b.cfg.WaitTimeMin, b.cfg.WaitTimeMax, b.cfg.WaitIncreaseFactor, b.idleLevel)
	}
}

func grow(min, max time.Duration, factor float64, level int) time.Duration {
	wait := float64(min) * math.Pow(factor, float64(level-1))
	if wait > float64(max) {
		return max
	}
	return time.Duration(wait)
}

func getNextPollTime(now time.Time, interval, jitter time.Duration) time.Time {
	if jitter <= 0 {
		return now.Add(interval)
	}
	jitterD := time.Duration(rand.Int63n(int64(jitter)))
	return now.Add(interval).Add(jitterD)
}
