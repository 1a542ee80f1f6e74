package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/formqueue/internal/broker"
	"github.com/ternarybob/formqueue/internal/common"
	"github.com/ternarybob/formqueue/internal/models"
)

// Registry tracks worker identity, liveness and counters in the broker's
// workers hash. It never gates job claiming: registration is a courtesy
// for observability and capacity decisions, not a permission.
type Registry struct {
	broker broker.Broker
	keys   broker.Keys
	config Config
	logger arbor.ILogger

	// now is swappable for tests
	now func() time.Time
}

// NewRegistry creates a new worker registry.
func NewRegistry(b broker.Broker, keys broker.Keys, config Config, logger arbor.ILogger) *Registry {
	return &Registry{
		broker: b,
		keys:   keys,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterWorker upserts a fresh worker record with status idle and zeroed
// counters. Re-registering resets the record: a worker that was reaped and
// reconnects starts from scratch.
func (r *Registry) RegisterWorker(ctx context.Context, workerID, hostname string) error {
	if workerID == "" {
		return fmt.Errorf("worker_id is required")
	}
	if hostname == "" {
		if h, err := os.Hostname(); err == nil {
			hostname = h
		}
	}

	now := r.now()
	info := &models.WorkerInfo{
		WorkerID:      workerID,
		Hostname:      hostname,
		Status:        models.WorkerStatusIdle,
		LastHeartbeat: now.Unix(),
		RegisteredAt:  now.UTC(),
	}
	if err := r.writeWorker(ctx, info); err != nil {
		return err
	}

	r.logger.Info().
		Str("worker_id", workerID).
		Str("hostname", hostname).
		Msg("Worker registered")

	return nil
}

// UpdateWorkerStatus merges status and current assignment into the worker
// record, preserving counters and registration fields, and refreshes the
// heartbeat. This is the sole heartbeat mechanism: any status update
// counts as a heartbeat.
func (r *Registry) UpdateWorkerStatus(ctx context.Context, workerID string, status models.WorkerStatus, currentJobID string) error {
	if workerID == "" {
		return fmt.Errorf("worker_id is required")
	}

	info, err := r.readWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if info == nil {
		// Status update from an unregistered worker still creates a record
		info = &models.WorkerInfo{WorkerID: workerID}
	}

	info.Status = status
	info.CurrentJobID = currentJobID
	info.LastHeartbeat = r.now().Unix()

	return r.writeWorker(ctx, info)
}

// IncrementWorkerStats bumps the completed or failed counter. This is a
// read-modify-write: safe because a worker is the only writer to its own
// record in normal operation, but not enforced by the API.
func (r *Registry) IncrementWorkerStats(ctx context.Context, workerID string, completed bool) error {
	info, err := r.readWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if info == nil {
		return nil
	}

	if completed {
		info.JobsCompleted++
	} else {
		info.JobsFailed++
	}
	return r.writeWorker(ctx, info)
}

// GetWorkers returns all registered workers with status classified against
// the heartbeat at read time: records past the offline threshold read as
// offline without any stored mutation.
func (r *Registry) GetWorkers(ctx context.Context) ([]*models.WorkerInfo, error) {
	entries, err := r.broker.HashGetAll(ctx, r.keys.Workers())
	if err != nil {
		return nil, fmt.Errorf("failed to read worker registry: %w", err)
	}

	now := r.now()
	workers := make([]*models.WorkerInfo, 0, len(entries))
	for workerID, data := range entries {
		var info models.WorkerInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			r.logger.Warn().
				Err(err).
				Str("worker_id", workerID).
				Msg("Skipping unparseable worker record")
			continue
		}
		info.Status = common.ClassifyWorkerStatus(info.Status, info.HeartbeatTime(), now, r.config.OfflineAfter)
		workers = append(workers, &info)
	}
	return workers, nil
}

// GetWorker returns a single worker record without liveness classification,
// or nil when the worker is unknown.
func (r *Registry) GetWorker(ctx context.Context, workerID string) (*models.WorkerInfo, error) {
	return r.readWorker(ctx, workerID)
}

// RemoveStaleWorkers hard-deletes records whose heartbeat is older than
// maxAge (the configured reap threshold when maxAge <= 0). This is the
// garbage-collection boundary of the registry: a reaped worker that later
// reconnects re-registers from scratch and loses its prior counters.
// Returns the number of records removed.
func (r *Registry) RemoveStaleWorkers(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = r.config.ReapAfter
	}

	entries, err := r.broker.HashGetAll(ctx, r.keys.Workers())
	if err != nil {
		return 0, fmt.Errorf("failed to read worker registry: %w", err)
	}

	now := r.now()
	removed := 0
	for workerID, data := range entries {
		var info models.WorkerInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			// Unparseable records are reaped too
			info = models.WorkerInfo{WorkerID: workerID}
		}
		if !common.IsStale(info.HeartbeatTime(), now, maxAge) {
			continue
		}

		if err := r.broker.HashDelete(ctx, r.keys.Workers(), workerID); err != nil {
			return removed, fmt.Errorf("failed to remove worker %s: %w", workerID, err)
		}
		removed++

		r.logger.Info().
			Str("worker_id", workerID).
			Msg("Removed stale worker")
	}
	return removed, nil
}

// LiveCounts returns how many live workers are busy (active) and idle.
// Workers past the offline threshold count as neither.
func (r *Registry) LiveCounts(ctx context.Context) (active int, idle int, err error) {
	workers, err := r.GetWorkers(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, w := range workers {
		switch w.Status {
		case models.WorkerStatusBusy:
			active++
		case models.WorkerStatusIdle:
			idle++
		}
	}
	return active, idle, nil
}

func (r *Registry) readWorker(ctx context.Context, workerID string) (*models.WorkerInfo, error) {
	data, ok, err := r.broker.HashGet(ctx, r.keys.Workers(), workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker record: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var info models.WorkerInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("failed to decode worker record: %w", err)
	}
	return &info, nil
}

func (r *Registry) writeWorker(ctx context.Context, info *models.WorkerInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode worker record: %w", err)
	}
	if err := r.broker.HashSet(ctx, r.keys.Workers(), map[string]string{info.WorkerID: string(data)}); err != nil {
		return fmt.Errorf("failed to write worker record: %w", err)
	}
	return nil
}
