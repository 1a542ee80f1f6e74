package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidTransition is returned when a job lifecycle operation is applied
// to a job that is not in the expected state (e.g. completing an already
// terminal job, or starting processing on a job that was never pending).
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrJobExists is returned by AddJob when a record already exists for the
// given job id. Job id uniqueness is a hard precondition: a producer
// retrying an uncertain AddJob learns from this error that the job landed.
var ErrJobExists = errors.New("job already exists")

// JobStatus represents the lifecycle state of a job.
// Transitions are monotonic: pending -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal returns true for completed and failed states.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is an immutable unit of work handed to a worker.
// The payload is opaque to the queue: producers and workers agree on its
// schema (target URL, profile reference, recording reference, etc.), the
// queue only stores and moves it.
type Job struct {
	JobID   string          `json:"job_id" validate:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToJSON serializes the job for storage in the job record.
func (j *Job) ToJSON() ([]byte, error) {
	return json.Marshal(j)
}

// JobFromJSON deserializes a job stored by AddJob.
func JobFromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// JobResult is the outcome of executing a job, written once by the worker
// via CompleteJob or FailJob. Error is set only on failure. The result
// payload is opaque to the queue, same as the job payload.
type JobResult struct {
	JobID   string          `json:"job_id" validate:"required"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToJSON serializes the result for storage in the job record.
func (r *JobResult) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// JobStats is a point-in-time snapshot of queue depth and worker liveness.
// Each metric is sourced from an independent broker read, so the snapshot
// is eventually consistent, not transactional.
type JobStats struct {
	Pending       int64 `json:"pending"`
	Processing    int64 `json:"processing"`
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	WorkersActive int   `json:"workers_active"`
	WorkersIdle   int   `json:"workers_idle"`
}

// JobRecord is the durable, mutable record of a job's life in the job store.
// Timestamps are set once per transition and never overwritten.
type JobRecord struct {
	JobID       string     `json:"job_id"`
	Job         *Job       `json:"job,omitempty"`
	Status      JobStatus  `json:"status"`
	WorkerID    string     `json:"worker_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitzero"`
	StartedAt   time.Time  `json:"started_at,omitzero"`
	CompletedAt time.Time  `json:"completed_at,omitzero"`
	Result      *JobResult `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Job record hash field names. These are part of the persisted-state
// contract: external tooling reads the same fields.
const (
	FieldData        = "data"
	FieldStatus      = "status"
	FieldWorkerID    = "worker_id"
	FieldCreatedAt   = "created_at"
	FieldStartedAt   = "started_at"
	FieldCompletedAt = "completed_at"
	FieldResult      = "result"
	FieldError       = "error"
)

// JobRecordFromFields reconstructs a JobRecord from the stored hash fields.
// Unparseable optional fields are skipped rather than failing the read.
func JobRecordFromFields(jobID string, fields map[string]string) *JobRecord {
	record := &JobRecord{
		JobID:  jobID,
		Status: JobStatus(fields[FieldStatus]),
		Error:  fields[FieldError],
	}

	if data := fields[FieldData]; data != "" {
		if job, err := JobFromJSON([]byte(data)); err == nil {
			record.Job = job
		}
	}
	if data := fields[FieldResult]; data != "" {
		var result JobResult
		if err := json.Unmarshal([]byte(data), &result); err == nil {
			record.Result = &result
		}
	}
	record.WorkerID = fields[FieldWorkerID]
	record.CreatedAt = parseTimestamp(fields[FieldCreatedAt])
	record.StartedAt = parseTimestamp(fields[FieldStartedAt])
	record.CompletedAt = parseTimestamp(fields[FieldCompletedAt])

	return record
}

// FormatTimestamp renders a timestamp for hash storage.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
