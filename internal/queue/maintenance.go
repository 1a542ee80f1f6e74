package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/formqueue/internal/common"
	"github.com/ternarybob/formqueue/internal/models"
)

// Maintainer runs the periodic cleanup the queue needs to stay healthy:
// reaping workers that stopped heartbeating, and failing processing jobs
// whose claiming worker went silent (orphans). Worker reaping alone cleans
// only the registry; without orphan reconciliation a dead worker would
// strand its job in the processing set forever.
type Maintainer struct {
	manager  *Manager
	registry *Registry
	cron     *cron.Cron
	config   Config
	logger   arbor.ILogger

	now func() time.Time
}

// NewMaintainer creates a new maintenance runner.
func NewMaintainer(manager *Manager, registry *Registry, config Config, logger arbor.ILogger) *Maintainer {
	return &Maintainer{
		manager:  manager,
		registry: registry,
		cron:     cron.New(cron.WithSeconds()),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins the scheduled maintenance sweep.
func (m *Maintainer) Start(schedule string) error {
	if schedule == "" {
		// Default: every minute
		schedule = "0 * * * * *"
	}

	_, err := m.cron.AddFunc(schedule, func() {
		m.runSweep()
	})
	if err != nil {
		return err
	}

	m.cron.Start()
	m.logger.Info().
		Str("schedule", schedule).
		Msg("Queue maintenance scheduler started")

	return nil
}

// Stop stops the scheduler.
func (m *Maintainer) Stop() {
	m.cron.Stop()
	m.logger.Info().Msg("Queue maintenance scheduler stopped")
}

// RunNow triggers an immediate sweep.
func (m *Maintainer) RunNow() {
	m.logger.Info().Msg("Triggering immediate maintenance sweep")
	common.SafeGo(m.logger, "maintenanceSweep", func() {
		m.runSweep()
	})
}

func (m *Maintainer) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := m.registry.RemoveStaleWorkers(ctx, m.config.ReapAfter)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Stale worker reaping failed")
	}

	failed, err := m.ReconcileOrphans(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Orphan reconciliation failed")
	}

	if removed > 0 || failed > 0 {
		m.logger.Info().
			Int("workers_removed", removed).
			Int("jobs_orphaned", failed).
			Msg("Maintenance sweep completed")
	}
}

// ReconcileOrphans cross-references the processing set against live worker
// records and fails jobs whose claiming worker has been silent past the
// orphan grace period. Orphans are failed, never re-queued: a claimed job
// must not re-enter pending. Jobs lost between the pending pop and
// StartProcessing never reach the processing set and are outside this
// sweep's reach. Returns the number of jobs failed.
func (m *Maintainer) ReconcileOrphans(ctx context.Context) (int, error) {
	jobIDs, err := m.manager.broker.SetMembers(ctx, m.manager.keys.Processing())
	if err != nil {
		return 0, fmt.Errorf("failed to read processing set: %w", err)
	}

	now := m.now()
	failed := 0
	for _, jobID := range jobIDs {
		record, err := m.manager.GetJobDetails(ctx, jobID)
		if err != nil {
			return failed, err
		}
		if record == nil {
			// Set member with no record: drop the dangling membership
			if err := m.manager.broker.SetRemove(ctx, m.manager.keys.Processing(), jobID); err != nil {
				return failed, err
			}
			m.logger.Warn().
				Str("job_id", jobID).
				Msg("Removed processing entry with no job record")
			continue
		}
		if !m.workerLost(ctx, record.WorkerID, now) {
			continue
		}

		result := &models.JobResult{
			JobID: jobID,
			Error: fmt.Sprintf("worker lost: %s", record.WorkerID),
		}
		if err := m.manager.FailJob(ctx, result); err != nil {
			m.logger.Warn().
				Err(err).
				Str("job_id", jobID).
				Msg("Failed to fail orphaned job")
			continue
		}
		failed++

		m.logger.Warn().
			Str("job_id", jobID).
			Str("worker_id", record.WorkerID).
			Msg("Failed orphaned processing job")
	}
	return failed, nil
}

// workerLost reports whether the claiming worker is gone: no registry
// record at all, or a heartbeat older than the orphan grace period.
func (m *Maintainer) workerLost(ctx context.Context, workerID string, now time.Time) bool {
	if workerID == "" {
		return true
	}
	info, err := m.registry.GetWorker(ctx, workerID)
	if err != nil {
		m.logger.Warn().
			Err(err).
			Str("worker_id", workerID).
			Msg("Could not read worker record during reconciliation")
		return false
	}
	if info == nil {
		return true
	}
	return common.IsStale(info.HeartbeatTime(), now, m.config.OrphanGrace)
}
