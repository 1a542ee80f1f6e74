package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewWorkerID generates a unique worker ID with the "worker_" prefix
// Format: worker_<uuid>
func NewWorkerID() string {
	return "worker_" + uuid.New().String()
}
