package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "formqueue.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	if config.Broker.Type != "badger" {
		t.Errorf("default broker: got %q, want badger", config.Broker.Type)
	}
	if config.Queue.CompletedRetention != 1000 {
		t.Errorf("default completed retention: got %d, want 1000", config.Queue.CompletedRetention)
	}
	if config.Queue.FailedRetention != 1000 {
		t.Errorf("default failed retention: got %d, want 1000", config.Queue.FailedRetention)
	}
	if config.Liveness.OfflineAfterDuration() != 60*time.Second {
		t.Errorf("default offline_after: got %v, want 60s", config.Liveness.OfflineAfterDuration())
	}
	if config.Liveness.ReapAfterDuration() != 300*time.Second {
		t.Errorf("default reap_after: got %v, want 300s", config.Liveness.ReapAfterDuration())
	}
}

func TestLoadFromFiles_NoFiles(t *testing.T) {
	config, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles with no files failed: %v", err)
	}
	if config.Broker.Type != "badger" {
		t.Errorf("expected defaults, got broker %q", config.Broker.Type)
	}
}

func TestLoadFromFiles_SingleFile(t *testing.T) {
	path := writeConfigFile(t, `
environment = "production"

[broker]
type = "redis"

[broker.redis]
url = "redis://queue.internal:6379/2"

[queue]
completed_retention = 500
failed_retention = 250
`)

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	if config.Environment != "production" {
		t.Errorf("environment: got %q, want production", config.Environment)
	}
	if config.Broker.Type != "redis" {
		t.Errorf("broker type: got %q, want redis", config.Broker.Type)
	}
	if config.Broker.Redis.URL != "redis://queue.internal:6379/2" {
		t.Errorf("redis url: got %q", config.Broker.Redis.URL)
	}
	if config.Queue.CompletedRetention != 500 || config.Queue.FailedRetention != 250 {
		t.Errorf("retention: got %d/%d, want 500/250", config.Queue.CompletedRetention, config.Queue.FailedRetention)
	}
	// Unset fields keep their defaults
	if config.Worker.PollTimeout != "5s" {
		t.Errorf("poll_timeout default lost: got %q", config.Worker.PollTimeout)
	}
}

func TestLoadFromFiles_LaterFileOverrides(t *testing.T) {
	base := writeConfigFile(t, `
[queue]
completed_retention = 100
failed_retention = 100
`)
	override := writeConfigFile(t, `
[queue]
completed_retention = 999
`)

	config, err := LoadFromFiles(base, override)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	if config.Queue.CompletedRetention != 999 {
		t.Errorf("later file should win: got %d, want 999", config.Queue.CompletedRetention)
	}
	if config.Queue.FailedRetention != 100 {
		t.Errorf("earlier file value lost: got %d, want 100", config.Queue.FailedRetention)
	}
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	if _, err := LoadFromFiles("/nonexistent/formqueue.toml"); err == nil {
		t.Error("LoadFromFiles should fail for a missing file")
	}
}

func TestLoadFromFiles_InvalidBrokerType(t *testing.T) {
	path := writeConfigFile(t, `
[broker]
type = "rabbitmq"
`)

	if _, err := LoadFromFiles(path); err == nil {
		t.Error("LoadFromFiles should reject an unsupported broker type")
	}
}

func TestLoadFromFiles_InvalidDuration(t *testing.T) {
	path := writeConfigFile(t, `
[liveness]
offline_after = "sixty seconds"
`)

	if _, err := LoadFromFiles(path); err == nil {
		t.Error("LoadFromFiles should reject an unparseable duration")
	}
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("FORMQUEUE_BROKER_TYPE", "redis")
	t.Setenv("FORMQUEUE_REDIS_URL", "redis://env-host:6379/0")
	t.Setenv("FORMQUEUE_COMPLETED_RETENTION", "42")
	t.Setenv("FORMQUEUE_LOG_LEVEL", "debug")
	t.Setenv("FORMQUEUE_LOG_OUTPUT", "stdout, file")

	path := writeConfigFile(t, `
[broker]
type = "badger"
`)

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}
	if config.Broker.Type != "redis" {
		t.Errorf("env should override file: got %q, want redis", config.Broker.Type)
	}
	if config.Broker.Redis.URL != "redis://env-host:6379/0" {
		t.Errorf("redis url: got %q", config.Broker.Redis.URL)
	}
	if config.Queue.CompletedRetention != 42 {
		t.Errorf("completed retention: got %d, want 42", config.Queue.CompletedRetention)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("log level: got %q, want debug", config.Logging.Level)
	}
	if len(config.Logging.Output) != 2 || config.Logging.Output[1] != "file" {
		t.Errorf("log output: got %v, want [stdout file]", config.Logging.Output)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback time.Duration
		expected time.Duration
	}{
		{"valid", "90s", time.Second, 90 * time.Second},
		{"empty uses fallback", "", 5 * time.Second, 5 * time.Second},
		{"invalid uses fallback", "ninety", 5 * time.Second, 5 * time.Second},
		{"milliseconds", "250ms", time.Second, 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDuration(tt.value, tt.fallback); got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}
