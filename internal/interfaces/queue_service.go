package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/formqueue/internal/models"
)

// QueueService is the job lifecycle surface consumed by producers (AddJob,
// stats, lookups) and workers (GetJob through FailJob).
type QueueService interface {
	// IsConnected reports broker liveness. Failure is downgraded to false
	// because the probe is advisory, not load-bearing.
	IsConnected() bool

	// AddJob persists the job record and enqueues the job id. Generates a
	// job id when the caller did not assign one.
	AddJob(ctx context.Context, job *models.Job) (string, error)

	// GetJob claims the next pending job, blocking up to timeout. Returns
	// nil (not an error) when no job becomes available.
	GetJob(ctx context.Context, timeout time.Duration) (*models.Job, error)

	// StartProcessing marks a claimed job as processing by workerID.
	StartProcessing(ctx context.Context, job *models.Job, workerID string) error

	// CompleteJob and FailJob record the terminal outcome of a job.
	CompleteJob(ctx context.Context, result *models.JobResult) error
	FailJob(ctx context.Context, result *models.JobResult) error

	// GetJobDetails returns the job record, or nil when unknown.
	GetJobDetails(ctx context.Context, jobID string) (*models.JobRecord, error)

	// GetRecentJobs returns an approximate recent-activity view drawn from
	// the completed and failed lists.
	GetRecentJobs(ctx context.Context, limit int) ([]*models.JobRecord, error)

	// GetStats returns the eventually-consistent queue/worker snapshot.
	GetStats(ctx context.Context) (*models.JobStats, error)
}

// WorkerRegistry tracks worker identity, liveness and counters. It is
// observability only: a worker can claim jobs without ever registering.
type WorkerRegistry interface {
	RegisterWorker(ctx context.Context, workerID, hostname string) error
	UpdateWorkerStatus(ctx context.Context, workerID string, status models.WorkerStatus, currentJobID string) error
	IncrementWorkerStats(ctx context.Context, workerID string, completed bool) error
	GetWorkers(ctx context.Context) ([]*models.WorkerInfo, error)
	RemoveStaleWorkers(ctx context.Context, maxAge time.Duration) (int, error)
}

// JobExecutor performs the actual work of a job (driving a browser,
// filling a form). Implementations live outside this core; the worker
// runner only dispatches to them.
type JobExecutor interface {
	Execute(ctx context.Context, job *models.Job) (*models.JobResult, error)
}
