package common

import (
	"testing"
	"time"

	"github.com/ternarybob/formqueue/internal/models"
)

func TestClassifyWorkerStatus(t *testing.T) {
	now := time.Now()
	offlineAfter := 60 * time.Second

	tests := []struct {
		name          string
		stored        models.WorkerStatus
		lastHeartbeat time.Time
		expected      models.WorkerStatus
	}{
		{"fresh busy", models.WorkerStatusBusy, now.Add(-5 * time.Second), models.WorkerStatusBusy},
		{"fresh idle", models.WorkerStatusIdle, now.Add(-5 * time.Second), models.WorkerStatusIdle},
		{"stale busy reads offline", models.WorkerStatusBusy, now.Add(-90 * time.Second), models.WorkerStatusOffline},
		{"stale idle reads offline", models.WorkerStatusIdle, now.Add(-90 * time.Second), models.WorkerStatusOffline},
		{"exactly at threshold still live", models.WorkerStatusIdle, now.Add(-60 * time.Second), models.WorkerStatusIdle},
		{"no heartbeat reads offline", models.WorkerStatusIdle, time.Time{}, models.WorkerStatusOffline},
		{"empty stored status defaults idle", "", now.Add(-5 * time.Second), models.WorkerStatusIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyWorkerStatus(tt.stored, tt.lastHeartbeat, now, offlineAfter)
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		lastHeartbeat time.Time
		maxAge        time.Duration
		expected      bool
	}{
		{"recent heartbeat", now.Add(-10 * time.Second), 60 * time.Second, false},
		{"old heartbeat", now.Add(-120 * time.Second), 60 * time.Second, true},
		{"at threshold", now.Add(-60 * time.Second), 60 * time.Second, false},
		{"just past threshold", now.Add(-60*time.Second - time.Millisecond), 60 * time.Second, true},
		{"zero heartbeat", time.Time{}, 60 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(tt.lastHeartbeat, now, tt.maxAge); got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}
