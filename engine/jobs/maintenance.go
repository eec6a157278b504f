// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"time"

	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/isoduration"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/persistence"
)

// HistoryCleanupHandler removes ended process instances and their incidents.
// Its job lives forever: it reschedules itself after every run and after every failure.
type HistoryCleanupHandler struct {
	BatchSize int
}

var _ EverLivingHandler = (*HistoryCleanupHandler)(nil)

func (h *HistoryCleanupHandler) Type() string {
	return HandlerHistoryCleanup
}

func (h *HistoryCleanupHandler) Execute(cctx *command.Context, job *persistence.Job) (Outcome, error) {
	ctx := cctx.Context()
	roots, err := cctx.Session.FindExecutions(ctx, persistence.ExecutionQuery{EndedRootsOnly: true, Limit: h.BatchSize})
	if err != nil {
		return OutcomeCompleted, err
	}
	for _, root := range roots {
		incidents, err := cctx.Session.FindIncidents(ctx, persistence.IncidentQuery{ProcessInstanceId: root.ProcessInstanceId})
		if err != nil {
			return OutcomeCompleted, err
		}
		for _, incident := range incidents {
			if err := cctx.Session.Delete(incident); err != nil {
				return OutcomeCompleted, err
			}
		}
		if err := cctx.Session.Delete(root); err != nil {
			return OutcomeCompleted, err
		}
	}
	if len(roots) > 0 {
		cctx.Logger.Info("history cleanup removed ended process instances", tag.Count(len(roots)))
	}

	next, err := h.NextDueDate(cctx, job)
	if err != nil {
		return OutcomeCompleted, err
	}
	job.DueDate = next
	job.Retries = cctx.Config.DefaultRetries
	return OutcomeRescheduled, nil
}

func (h *HistoryCleanupHandler) NextDueDate(cctx *command.Context, job *persistence.Job) (time.Time, error) {
	ri, err := isoduration.ParseRepeatingInterval(job.HandlerConfiguration)
	if err != nil {
		return time.Time{}, errs.Configuration("malformed maintenance cycle %q: %v", job.HandlerConfiguration, err)
	}
	return ri.Interval.AddTo(cctx.Now()), nil
}

// EnsureMaintenanceJob makes the single job of an ever-living handler type follow cycle.
// An empty cycle removes the job. Nodes starting together may all reconfigure it,
// so conflicts on it are ignored and the last writer wins.
type EnsureMaintenanceJob struct {
	HandlerType string
	Cycle       string
}

func (c *EnsureMaintenanceJob) Name() string {
	return "EnsureMaintenanceJob"
}

func (c *EnsureMaintenanceJob) Execute(cctx *command.Context) error {
	existing, err := cctx.Session.FindJobsByConfiguration(cctx.Context(), c.HandlerType, "", nil)
	if err != nil {
		return err
	}
	cctx.Session.AddConflictListener(func(op persistence.Operation) persistence.ConflictResolution {
		if job, ok := op.Entity.(*persistence.Job); ok && job.HandlerType == c.HandlerType {
			return persistence.ConflictIgnore
		}
		return persistence.ConflictRethrow
	})

	if c.Cycle == "" {
		for _, job := range existing {
			if err := cctx.Session.Delete(job); err != nil {
				return err
			}
		}
		return nil
	}

	if len(existing) == 0 {
		job, err := NewMaintenanceJob(cctx, c.HandlerType, c.Cycle)
		if err != nil {
			return err
		}
		return Schedule(cctx, job)
	}
	for i, job := range existing {
		if i > 0 {
			// duplicates created by concurrent first starts
			if err := cctx.Session.Delete(job); err != nil {
				return err
			}
			continue
		}
		if job.HandlerConfiguration != c.Cycle {
			if _, err := isoduration.ParseRepeatingInterval(c.Cycle); err != nil {
				return errs.Configuration("malformed maintenance cycle %q: %v", c.Cycle, err)
			}
			job.HandlerConfiguration = c.Cycle
			job.DueDate = cctx.Now()
			cctx.Logger.Info("maintenance job reconfigured", tag.JobId(job.Id), tag.Value(c.Cycle))
		}
	}
	return nil
}
