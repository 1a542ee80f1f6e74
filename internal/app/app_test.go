package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/formqueue/internal/common"
	"github.com/ternarybob/formqueue/internal/models"
	"github.com/ternarybob/formqueue/internal/worker"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Broker.Badger.Path = filepath.Join(t.TempDir(), "broker")
	config.Queue.PollInterval = "10ms"

	application, err := New(config, arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(application.Close)
	return application
}

func TestNew_UnknownBrokerType(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Broker.Type = "kafka"

	_, err := New(config, arbor.NewLogger())
	require.Error(t, err)
}

func TestApp_BrokerProbe(t *testing.T) {
	application := newTestApp(t)

	assert.True(t, application.QueueManager.IsConnected())
}

// submitExecutor completes every job, recording a confirmation payload.
type submitExecutor struct{}

func (submitExecutor) Execute(ctx context.Context, job *models.Job) (*models.JobResult, error) {
	return &models.JobResult{
		JobID:   job.JobID,
		Payload: json.RawMessage(`{"confirmation":"accepted"}`),
	}, nil
}

// End-to-end through the wired app: producer submits jobs, a worker runner
// claims and completes them, stats and worker counters line up at the end.
func TestApp_EndToEnd(t *testing.T) {
	application := newTestApp(t)
	ctx := context.Background()

	const jobCount = 5
	jobIDs := make([]string, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"form":"contact","seq":%d}`, i))
		jobID, err := application.QueueManager.AddJob(ctx, &models.Job{Payload: payload})
		require.NoError(t, err)
		jobIDs = append(jobIDs, jobID)
	}

	stats, err := application.QueueManager.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(jobCount), stats.Pending)

	runner := worker.NewRunner(worker.Config{
		WorkerID:    "worker-e2e",
		Hostname:    "test-host",
		PollTimeout: 50 * time.Millisecond,
	}, application.QueueManager, application.Registry, submitExecutor{}, application.Logger)
	require.NoError(t, runner.Start())

	require.Eventually(t, func() bool {
		stats, err := application.QueueManager.GetStats(ctx)
		return err == nil && stats.Completed == int64(jobCount)
	}, 5*time.Second, 20*time.Millisecond, "worker should drain the queue")

	runner.Stop()

	stats, err = application.QueueManager.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Processing)
	assert.Zero(t, stats.Failed)

	for _, jobID := range jobIDs {
		record, err := application.QueueManager.GetJobDetails(ctx, jobID)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, models.JobStatusCompleted, record.Status)
		assert.Equal(t, "worker-e2e", record.WorkerID)
		require.NotNil(t, record.Result)
	}

	info, err := application.Registry.GetWorker(ctx, "worker-e2e")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, jobCount, info.JobsCompleted)
	assert.Zero(t, info.JobsFailed)

	recent, err := application.QueueManager.GetRecentJobs(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, recent, jobCount)
}

// The maintenance sweep fails jobs stranded by a vanished worker.
func TestApp_MaintenanceFailsOrphans(t *testing.T) {
	application := newTestApp(t)
	ctx := context.Background()

	job := &models.Job{JobID: "job-stranded", Payload: json.RawMessage(`{}`)}
	_, err := application.QueueManager.AddJob(ctx, job)
	require.NoError(t, err)
	claimed, err := application.QueueManager.GetJob(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, application.QueueManager.StartProcessing(ctx, claimed, "worker-vanished"))

	// The claiming worker never registered, so the job is an orphan
	failed, err := application.Maintainer.ReconcileOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	record, err := application.QueueManager.GetJobDetails(ctx, "job-stranded")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, record.Status)
	assert.Equal(t, "worker lost: worker-vanished", record.Error)
}
