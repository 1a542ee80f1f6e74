package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/formqueue/internal/broker"
	"github.com/ternarybob/formqueue/internal/common"
	"github.com/ternarybob/formqueue/internal/models"
)

// Manager is the job store and lifecycle state machine. All state lives in
// the broker; the manager holds no locks because atomicity here means one
// broker round-trip, not one critical section.
type Manager struct {
	broker   broker.Broker
	keys     broker.Keys
	registry *Registry
	config   Config
	logger   arbor.ILogger
	validate *validator.Validate
}

// NewManager creates a new queue manager.
func NewManager(b broker.Broker, keys broker.Keys, registry *Registry, config Config, logger arbor.ILogger) *Manager {
	return &Manager{
		broker:   b,
		keys:     keys,
		registry: registry,
		config:   config,
		logger:   logger,
		validate: validator.New(),
	}
}

// IsConnected probes the broker and downgrades any failure to false.
// The probe is advisory; every other operation propagates broker errors.
func (m *Manager) IsConnected() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.broker.Ping(ctx) == nil
}

// AddJob persists the job record and pushes the job id onto the pending
// queue. A job id is generated when the caller did not assign one. Once
// this returns, the job is visible to exactly one future GetJob caller.
func (m *Manager) AddJob(ctx context.Context, job *models.Job) (string, error) {
	if job == nil {
		return "", fmt.Errorf("job is required")
	}
	if job.JobID == "" {
		job.JobID = common.NewJobID()
	}
	if err := m.validate.Struct(job); err != nil {
		return "", fmt.Errorf("invalid job: %w", err)
	}

	// Job id uniqueness is a hard precondition. Reject re-submission so a
	// producer retrying an uncertain AddJob cannot create a double claim.
	if _, ok, err := m.broker.HashGet(ctx, m.keys.Job(job.JobID), models.FieldStatus); err != nil {
		return "", fmt.Errorf("failed to check job record: %w", err)
	} else if ok {
		return "", fmt.Errorf("job %s: %w", job.JobID, models.ErrJobExists)
	}

	data, err := job.ToJSON()
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	fields := map[string]string{
		models.FieldData:      string(data),
		models.FieldStatus:    string(models.JobStatusPending),
		models.FieldCreatedAt: models.FormatTimestamp(time.Now()),
	}
	if err := m.broker.HashSet(ctx, m.keys.Job(job.JobID), fields); err != nil {
		return "", fmt.Errorf("failed to store job record: %w", err)
	}

	if err := m.broker.ListPush(ctx, m.keys.Pending(), job.JobID); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Debug().
		Str("job_id", job.JobID).
		Msg("Job added to pending queue")

	return job.JobID, nil
}

// GetJob claims the next pending job id, blocking up to timeout, and
// returns the deserialized job body. Returns nil with no error on timeout:
// absence of work is the expected steady state of an idle worker. The job
// is NOT marked processing; the caller commits the claim separately via
// StartProcessing.
func (m *Manager) GetJob(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	jobID, ok, err := m.broker.ListPop(ctx, m.keys.Pending(), timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to pop pending queue: %w", err)
	}
	if !ok {
		return nil, nil
	}

	data, found, err := m.broker.HashGet(ctx, m.keys.Job(jobID), models.FieldData)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if !found {
		// Id popped but record missing: inconsistent state, skip it
		m.logger.Warn().
			Str("job_id", jobID).
			Msg("Pending job id has no job record, skipping")
		return nil, nil
	}

	job, err := models.JobFromJSON([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return job, nil
}

// StartProcessing marks a claimed job as processing by workerID. The job
// must currently be pending; claiming is serialized upstream by the atomic
// pop in GetJob, so this guard catches misuse rather than races.
func (m *Manager) StartProcessing(ctx context.Context, job *models.Job, workerID string) error {
	if job == nil || job.JobID == "" {
		return fmt.Errorf("job with job_id is required")
	}

	status, err := m.currentStatus(ctx, job.JobID)
	if err != nil {
		return err
	}
	if status != models.JobStatusPending {
		return fmt.Errorf("start processing job %s with status %q: %w", job.JobID, status, models.ErrInvalidTransition)
	}

	fields := map[string]string{
		models.FieldStatus:    string(models.JobStatusProcessing),
		models.FieldWorkerID:  workerID,
		models.FieldStartedAt: models.FormatTimestamp(time.Now()),
	}
	if err := m.broker.HashSet(ctx, m.keys.Job(job.JobID), fields); err != nil {
		return fmt.Errorf("failed to update job record: %w", err)
	}
	if err := m.broker.SetAdd(ctx, m.keys.Processing(), job.JobID); err != nil {
		return fmt.Errorf("failed to add job to processing set: %w", err)
	}

	m.logger.Debug().
		Str("job_id", job.JobID).
		Str("worker_id", workerID).
		Msg("Job processing started")

	return nil
}

// CompleteJob records a successful terminal outcome.
func (m *Manager) CompleteJob(ctx context.Context, result *models.JobResult) error {
	return m.finishJob(ctx, result, models.JobStatusCompleted)
}

// FailJob records a failed terminal outcome.
func (m *Manager) FailJob(ctx context.Context, result *models.JobResult) error {
	return m.finishJob(ctx, result, models.JobStatusFailed)
}

// finishJob applies a terminal transition: remove from the processing set,
// write the result into the job record, append to the terminal list and
// trim it to the retention window.
func (m *Manager) finishJob(ctx context.Context, result *models.JobResult, status models.JobStatus) error {
	if result == nil || result.JobID == "" {
		return fmt.Errorf("result with job_id is required")
	}

	current, err := m.currentStatus(ctx, result.JobID)
	if err != nil {
		return err
	}
	if current.IsTerminal() {
		return fmt.Errorf("finish job %s already %q: %w", result.JobID, current, models.ErrInvalidTransition)
	}

	if err := m.broker.SetRemove(ctx, m.keys.Processing(), result.JobID); err != nil {
		return fmt.Errorf("failed to remove job from processing set: %w", err)
	}

	data, err := result.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	fields := map[string]string{
		models.FieldStatus:      string(status),
		models.FieldResult:      string(data),
		models.FieldCompletedAt: models.FormatTimestamp(time.Now()),
	}

	listKey := m.keys.Completed()
	retention := m.config.CompletedRetention
	if status == models.JobStatusFailed {
		listKey = m.keys.Failed()
		retention = m.config.FailedRetention

		errMsg := result.Error
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		fields[models.FieldError] = errMsg
	}

	if err := m.broker.HashSet(ctx, m.keys.Job(result.JobID), fields); err != nil {
		return fmt.Errorf("failed to update job record: %w", err)
	}
	if err := m.broker.ListPush(ctx, listKey, result.JobID); err != nil {
		return fmt.Errorf("failed to append job to %s list: %w", status, err)
	}
	if retention > 0 {
		if err := m.broker.ListTrim(ctx, listKey, retention); err != nil {
			return fmt.Errorf("failed to trim %s list: %w", status, err)
		}
	}

	m.logger.Debug().
		Str("job_id", result.JobID).
		Str("status", string(status)).
		Msg("Job finished")

	return nil
}

// GetJobDetails returns the job record, or nil when the job is unknown.
// Absence is a normal outcome for point lookups, not an error.
func (m *Manager) GetJobDetails(ctx context.Context, jobID string) (*models.JobRecord, error) {
	fields, err := m.broker.HashGetAll(ctx, m.keys.Job(jobID))
	if err != nil {
		return nil, fmt.Errorf("failed to load job record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return models.JobRecordFromFields(jobID, fields), nil
}

// GetRecentJobs returns up to limit/2 records from each of the completed
// and failed lists, newest first. This is a recent-activity view, not a
// globally ordered history.
func (m *Manager) GetRecentJobs(ctx context.Context, limit int) ([]*models.JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	half := int64(limit / 2)

	records := make([]*models.JobRecord, 0, limit)
	for _, listKey := range []string{m.keys.Completed(), m.keys.Failed()} {
		ids, err := m.broker.ListRange(ctx, listKey, half)
		if err != nil {
			return nil, fmt.Errorf("failed to read recent job ids: %w", err)
		}
		for _, jobID := range ids {
			record, err := m.GetJobDetails(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if record != nil {
				records = append(records, record)
			}
		}
	}
	return records, nil
}

// GetStats aggregates queue depths and live worker counts. Each metric is
// an independent broker read, so the snapshot is eventually consistent:
// pending may be read at t0 and processing at t0+e.
func (m *Manager) GetStats(ctx context.Context) (*models.JobStats, error) {
	pending, err := m.broker.ListLen(ctx, m.keys.Pending())
	if err != nil {
		return nil, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	processing, err := m.broker.SetCard(ctx, m.keys.Processing())
	if err != nil {
		return nil, fmt.Errorf("failed to count processing jobs: %w", err)
	}
	completed, err := m.broker.ListLen(ctx, m.keys.Completed())
	if err != nil {
		return nil, fmt.Errorf("failed to count completed jobs: %w", err)
	}
	failed, err := m.broker.ListLen(ctx, m.keys.Failed())
	if err != nil {
		return nil, fmt.Errorf("failed to count failed jobs: %w", err)
	}

	active, idle, err := m.registry.LiveCounts(ctx)
	if err != nil {
		return nil, err
	}

	return &models.JobStats{
		Pending:       pending,
		Processing:    processing,
		Completed:     completed,
		Failed:        failed,
		WorkersActive: active,
		WorkersIdle:   idle,
	}, nil
}

// currentStatus reads a job's stored status. Returns ErrInvalidTransition
// for jobs that have no record at all.
func (m *Manager) currentStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	status, ok, err := m.broker.HashGet(ctx, m.keys.Job(jobID), models.FieldStatus)
	if err != nil {
		return "", fmt.Errorf("failed to read job status: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("job %s has no record: %w", jobID, models.ErrInvalidTransition)
	}
	return models.JobStatus(status), nil
}
