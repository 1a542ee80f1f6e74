package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		expected bool
	}{
		{JobStatusPending, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.expected {
				t.Errorf("IsTerminal(%q): got %v, want %v", tt.status, got, tt.expected)
			}
		})
	}
}

func TestJob_JSONRoundTrip(t *testing.T) {
	job := &Job{
		JobID:   "job_123",
		Payload: json.RawMessage(`{"form":"contact","fields":{"name":"Ada"}}`),
	}

	data, err := job.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	decoded, err := JobFromJSON(data)
	if err != nil {
		t.Fatalf("JobFromJSON failed: %v", err)
	}
	if decoded.JobID != "job_123" {
		t.Errorf("job_id: got %q, want job_123", decoded.JobID)
	}

	// Payload is opaque: it survives the round trip byte-comparable
	var original, roundTripped map[string]interface{}
	if err := json.Unmarshal(job.Payload, &original); err != nil {
		t.Fatalf("unmarshal original payload: %v", err)
	}
	if err := json.Unmarshal(decoded.Payload, &roundTripped); err != nil {
		t.Fatalf("unmarshal decoded payload: %v", err)
	}
	if roundTripped["form"] != "contact" {
		t.Errorf("payload lost through round trip: %v", roundTripped)
	}
}

func TestJobFromJSON_Invalid(t *testing.T) {
	if _, err := JobFromJSON([]byte("not json")); err == nil {
		t.Error("JobFromJSON should reject malformed input")
	}
}

func TestJobRecordFromFields(t *testing.T) {
	fields := map[string]string{
		FieldData:        `{"job_id":"job_1"}`,
		FieldStatus:      "failed",
		FieldWorkerID:    "worker_9",
		FieldCreatedAt:   "2026-01-01T10:00:00Z",
		FieldStartedAt:   "2026-01-01T10:00:05Z",
		FieldCompletedAt: "2026-01-01T10:00:30Z",
		FieldResult:      `{"job_id":"job_1","error":"timeout"}`,
		FieldError:       "timeout",
	}

	record := JobRecordFromFields("job_1", fields)
	if record.JobID != "job_1" {
		t.Errorf("job_id: got %q", record.JobID)
	}
	if record.Status != JobStatusFailed {
		t.Errorf("status: got %q, want failed", record.Status)
	}
	if record.WorkerID != "worker_9" {
		t.Errorf("worker_id: got %q", record.WorkerID)
	}
	if record.Error != "timeout" {
		t.Errorf("error: got %q", record.Error)
	}
	if record.CreatedAt.IsZero() || !record.CreatedAt.Equal(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at: got %v", record.CreatedAt)
	}
	if record.Result == nil || record.Result.Error != "timeout" {
		t.Errorf("result not decoded: %+v", record.Result)
	}
	if record.Job == nil || record.Job.JobID != "job_1" {
		t.Errorf("job body not decoded: %+v", record.Job)
	}
}

func TestJobRecordFromFields_UnparseableOptionalFields(t *testing.T) {
	fields := map[string]string{
		FieldStatus:    "pending",
		FieldData:      "not json",
		FieldCreatedAt: "yesterday",
	}

	record := JobRecordFromFields("job_1", fields)
	if record.Status != JobStatusPending {
		t.Errorf("status: got %q, want pending", record.Status)
	}
	if record.Job != nil {
		t.Error("malformed job body should be skipped, not fail the read")
	}
	if !record.CreatedAt.IsZero() {
		t.Error("malformed timestamp should read as zero")
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 15, 9, 30, 0, 0, time.FixedZone("AEST", 10*3600))
	formatted := FormatTimestamp(ts)

	parsed, err := time.Parse(time.RFC3339Nano, formatted)
	if err != nil {
		t.Fatalf("formatted timestamp not RFC3339: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("timestamp changed: got %v, want %v", parsed, ts)
	}
	if parsed.Location() != time.UTC {
		t.Error("timestamp should be normalized to UTC")
	}
}

func TestWorkerInfo_HeartbeatAge(t *testing.T) {
	now := time.Now()
	info := &WorkerInfo{
		WorkerID:      "worker_1",
		LastHeartbeat: now.Add(-45 * time.Second).Unix(),
	}

	age := info.HeartbeatAge(now)
	if age < 44*time.Second || age > 46*time.Second {
		t.Errorf("heartbeat age: got %v, want ~45s", age)
	}

	// Never heartbeated
	fresh := &WorkerInfo{WorkerID: "worker_2"}
	if !fresh.HeartbeatTime().IsZero() {
		t.Error("zero heartbeat should map to the zero time")
	}
}
