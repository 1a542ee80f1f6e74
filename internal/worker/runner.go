// Package worker runs the worker-side loops against the queue: polling for
// jobs, dispatching them to an executor, and heartbeating the registry.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/formqueue/internal/common"
	"github.com/ternarybob/formqueue/internal/interfaces"
	"github.com/ternarybob/formqueue/internal/models"
)

// Config holds per-runner tuning
type Config struct {
	// WorkerID identifies this worker instance (generated when empty)
	WorkerID string

	// Hostname reported at registration (default: os.Hostname)
	Hostname string

	// PollTimeout is the blocking window of each GetJob call
	PollTimeout time.Duration

	// HeartbeatInterval is how often the heartbeat loop publishes status
	HeartbeatInterval time.Duration

	// ClaimRate caps claim attempts per second (0 = unlimited)
	ClaimRate int
}

// Runner hosts one worker: a job-poll loop and a heartbeat loop running as
// independent goroutines. They must not be serialized into one loop - a
// worker legitimately blocked in GetJob would otherwise look stale to the
// registry while waiting for work.
type Runner struct {
	config   Config
	service  interfaces.QueueService
	registry interfaces.WorkerRegistry
	executor interfaces.JobExecutor
	logger   arbor.ILogger
	limiter  *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	status       models.WorkerStatus
	currentJobID string
}

// NewRunner creates a worker runner. The executor performs the actual work
// of a job; everything else here is queue plumbing.
func NewRunner(config Config, service interfaces.QueueService, registry interfaces.WorkerRegistry, executor interfaces.JobExecutor, logger arbor.ILogger) *Runner {
	if config.WorkerID == "" {
		config.WorkerID = common.NewWorkerID()
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = 5 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		config:   config,
		service:  service,
		registry: registry,
		executor: executor,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		status:   models.WorkerStatusIdle,
	}
	if config.ClaimRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(config.ClaimRate), config.ClaimRate)
	}
	return r
}

// WorkerID returns this runner's worker id.
func (r *Runner) WorkerID() string {
	return r.config.WorkerID
}

// Start registers the worker and launches the poll and heartbeat loops.
func (r *Runner) Start() error {
	if err := r.registry.RegisterWorker(r.ctx, r.config.WorkerID, r.config.Hostname); err != nil {
		return err
	}

	r.logger.Info().
		Str("worker_id", r.config.WorkerID).
		Dur("poll_timeout", r.config.PollTimeout).
		Dur("heartbeat_interval", r.config.HeartbeatInterval).
		Msg("Starting worker")

	r.wg.Add(2)
	common.SafeGo(r.logger, "workerHeartbeat", r.heartbeatLoop)
	common.SafeGo(r.logger, "workerPoll", r.pollLoop)

	return nil
}

// Stop cancels the loops and publishes a final idle status.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()

	// Best-effort final status; the registry reaps us if this never lands
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.registry.UpdateWorkerStatus(ctx, r.config.WorkerID, models.WorkerStatusIdle, ""); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to publish final worker status")
	}

	r.logger.Info().
		Str("worker_id", r.config.WorkerID).
		Msg("Worker stopped")
}

// heartbeatLoop publishes status on a fixed interval. Any status update
// refreshes the heartbeat, so this alone keeps the worker alive in the
// registry even when the poll loop is blocked waiting for work.
func (r *Runner) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			status, jobID := r.state()
			if err := r.registry.UpdateWorkerStatus(r.ctx, r.config.WorkerID, status, jobID); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn().
					Err(err).
					Str("worker_id", r.config.WorkerID).
					Msg("Heartbeat update failed")
			}
		}
	}
}

// pollLoop claims and processes jobs until the runner stops.
func (r *Runner) pollLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(r.ctx); err != nil {
				return
			}
		}

		job, err := r.service.GetJob(r.ctx, r.config.PollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Warn().
				Err(err).
				Str("worker_id", r.config.WorkerID).
				Msg("Error polling for job")
			// Back off briefly so a broken broker doesn't spin the loop
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			// Timeout: no work available, poll again
			continue
		}

		r.process(job)
	}
}

// process runs one claimed job through its lifecycle.
func (r *Runner) process(job *models.Job) {
	if err := r.service.StartProcessing(r.ctx, job, r.config.WorkerID); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			r.logger.Warn().
				Str("job_id", job.JobID).
				Msg("Skipping job with unexpected status")
		} else {
			r.logger.Error().
				Err(err).
				Str("job_id", job.JobID).
				Msg("Failed to mark job processing")
		}
		return
	}

	r.setState(models.WorkerStatusBusy, job.JobID)
	r.publishState()

	startTime := time.Now()
	result, execErr := r.executor.Execute(r.ctx, job)
	duration := time.Since(startTime)

	if result == nil {
		result = &models.JobResult{JobID: job.JobID}
	}
	if result.JobID == "" {
		result.JobID = job.JobID
	}
	if execErr != nil && result.Error == "" {
		result.Error = execErr.Error()
	}

	if execErr != nil || result.Error != "" {
		r.logger.Error().
			Err(execErr).
			Str("job_id", job.JobID).
			Dur("duration", duration).
			Msg("Job execution failed")

		if err := r.service.FailJob(r.ctx, result); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to record job failure")
		}
		if err := r.registry.IncrementWorkerStats(r.ctx, r.config.WorkerID, false); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to increment worker stats")
		}
	} else {
		r.logger.Info().
			Str("job_id", job.JobID).
			Dur("duration", duration).
			Msg("Job completed")

		if err := r.service.CompleteJob(r.ctx, result); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to record job completion")
		}
		if err := r.registry.IncrementWorkerStats(r.ctx, r.config.WorkerID, true); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to increment worker stats")
		}
	}

	r.setState(models.WorkerStatusIdle, "")
	r.publishState()
}

func (r *Runner) state() (models.WorkerStatus, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.currentJobID
}

func (r *Runner) setState(status models.WorkerStatus, jobID string) {
	r.mu.Lock()
	r.status = status
	r.currentJobID = jobID
	r.mu.Unlock()
}

func (r *Runner) publishState() {
	status, jobID := r.state()
	if err := r.registry.UpdateWorkerStatus(r.ctx, r.config.WorkerID, status, jobID); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn().
			Err(err).
			Str("worker_id", r.config.WorkerID).
			Msg("Failed to publish worker status")
	}
}
