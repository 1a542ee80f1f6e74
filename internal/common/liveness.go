// Package common provides shared utilities across the application.
package common

import (
	"time"

	"github.com/ternarybob/formqueue/internal/models"
)

// ClassifyWorkerStatus derives a worker's effective status from its stored
// status and heartbeat age. The "offline" classification is computed in the
// read path and never persisted: two successive reads of the same record can
// differ without any intervening write.
func ClassifyWorkerStatus(stored models.WorkerStatus, lastHeartbeat time.Time, now time.Time, offlineAfter time.Duration) models.WorkerStatus {
	if IsStale(lastHeartbeat, now, offlineAfter) {
		return models.WorkerStatusOffline
	}
	if stored == "" {
		return models.WorkerStatusIdle
	}
	return stored
}

// IsStale reports whether a heartbeat is older than maxAge.
// A zero heartbeat (never recorded) is always stale.
func IsStale(lastHeartbeat time.Time, now time.Time, maxAge time.Duration) bool {
	if lastHeartbeat.IsZero() {
		return true
	}
	return now.Sub(lastHeartbeat) > maxAge
}
