package queue

import "time"

// Config holds tuning for the queue manager and registry
type Config struct {
	// CompletedRetention is the number of completed job ids kept
	CompletedRetention int64

	// FailedRetention is the number of failed job ids kept
	FailedRetention int64

	// OfflineAfter is the heartbeat age after which a worker reads as offline.
	// Used by both GetStats counting and GetWorkers listing.
	OfflineAfter time.Duration

	// ReapAfter is the heartbeat age after which RemoveStaleWorkers deletes
	// a registry record by default
	ReapAfter time.Duration

	// OrphanGrace is the heartbeat age after which a processing job whose
	// worker went silent is failed by maintenance
	OrphanGrace time.Duration
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		CompletedRetention: 1000,
		FailedRetention:    1000,
		OfflineAfter:       60 * time.Second,
		ReapAfter:          300 * time.Second,
		OrphanGrace:        300 * time.Second,
	}
}
