package models

import "time"

// WorkerStatus represents a worker's liveness/assignment state.
// "offline" is derived at read time from heartbeat age, never stored.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusOffline WorkerStatus = "offline"
)

// WorkerInfo is a worker's registration record in the registry hash.
// LastHeartbeat is stored as a unix timestamp so any broker-side tooling
// can compare it against the clock without parsing.
type WorkerInfo struct {
	WorkerID      string       `json:"worker_id"`
	Hostname      string       `json:"hostname,omitempty"`
	Status        WorkerStatus `json:"status"`
	CurrentJobID  string       `json:"current_job_id,omitempty"`
	LastHeartbeat int64        `json:"last_heartbeat"`
	JobsCompleted int          `json:"jobs_completed"`
	JobsFailed    int          `json:"jobs_failed"`
	RegisteredAt  time.Time    `json:"registered_at,omitzero"`
}

// HeartbeatTime returns the last heartbeat as a time.Time.
func (w *WorkerInfo) HeartbeatTime() time.Time {
	if w.LastHeartbeat == 0 {
		return time.Time{}
	}
	return time.Unix(w.LastHeartbeat, 0).UTC()
}

// HeartbeatAge returns how long ago the worker last heartbeated.
func (w *WorkerInfo) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(w.HeartbeatTime())
}
