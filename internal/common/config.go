package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Broker      BrokerConfig      `toml:"broker"`
	Queue       QueueConfig       `toml:"queue"`
	Worker      WorkerConfig      `toml:"worker"`
	Liveness    LivenessConfig    `toml:"liveness"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Logging     LoggingConfig     `toml:"logging"`
}

// BrokerConfig selects and configures the shared broker backend
type BrokerConfig struct {
	Type      string       `toml:"type" validate:"oneof=badger redis"` // "badger" (embedded) or "redis" (shared service)
	Namespace string       `toml:"namespace"`                          // Optional key prefix, e.g. "formqueue:"
	Badger    BadgerConfig `toml:"badger"`
	Redis     RedisConfig  `toml:"redis"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RedisConfig represents the Redis broker connection
type RedisConfig struct {
	URL string `toml:"url"` // e.g. "redis://localhost:6379/0"
}

type QueueConfig struct {
	CompletedRetention int64  `toml:"completed_retention" validate:"gt=0"` // Most-recent completed job ids kept
	FailedRetention    int64  `toml:"failed_retention" validate:"gt=0"`    // Most-recent failed job ids kept
	PollInterval       string `toml:"poll_interval"`                       // e.g. "100ms" - claim poll interval for the embedded broker
}

type WorkerConfig struct {
	Hostname          string `toml:"hostname"`           // Override reported hostname (default: os.Hostname)
	PollTimeout       string `toml:"poll_timeout"`       // e.g. "5s" - GetJob blocking window per poll
	HeartbeatInterval string `toml:"heartbeat_interval"` // e.g. "10s" - status/heartbeat publish interval
	ClaimRate         int    `toml:"claim_rate"`         // Max claim attempts per second (0 = unlimited)
}

// LivenessConfig holds the single set of staleness thresholds.
// OfflineAfter is used for both stats counting and worker listing; the
// reference system used 30s and 60s for those two reads, which was an
// oversight rather than a two-tier liveness model.
type LivenessConfig struct {
	OfflineAfter string `toml:"offline_after"` // e.g. "60s" - heartbeat age before a worker reads as offline
	ReapAfter    string `toml:"reap_after"`    // e.g. "300s" - heartbeat age before the registry record is deleted
	OrphanGrace  string `toml:"orphan_grace"`  // e.g. "300s" - heartbeat age before a processing job is failed as orphaned
}

type MaintenanceConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`       // Cron schedule format (with seconds)
	StatsInterval string `toml:"stats_interval"` // e.g. "30s" - queue stats log interval (empty = disabled)
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// NewDefaultConfig creates a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Broker: BrokerConfig{
			Type:      "badger",
			Namespace: "",
			Badger: BadgerConfig{
				Path:           "./data/formqueue",
				ResetOnStartup: false,
			},
			Redis: RedisConfig{
				URL: "redis://localhost:6379/0",
			},
		},
		Queue: QueueConfig{
			CompletedRetention: 1000,
			FailedRetention:    1000,
			PollInterval:       "100ms",
		},
		Worker: WorkerConfig{
			PollTimeout:       "5s",
			HeartbeatInterval: "10s",
			ClaimRate:         0,
		},
		Liveness: LivenessConfig{
			OfflineAfter: "60s",
			ReapAfter:    "300s",
			OrphanGrace:  "300s",
		},
		Maintenance: MaintenanceConfig{
			Enabled:       true,
			Schedule:      "0 * * * * *", // Every minute
			StatsInterval: "30s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05.000",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FORMQUEUE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Broker configuration
	if brokerType := os.Getenv("FORMQUEUE_BROKER_TYPE"); brokerType != "" {
		config.Broker.Type = brokerType
	}
	if namespace := os.Getenv("FORMQUEUE_BROKER_NAMESPACE"); namespace != "" {
		config.Broker.Namespace = namespace
	}
	if badgerPath := os.Getenv("FORMQUEUE_BADGER_PATH"); badgerPath != "" {
		config.Broker.Badger.Path = badgerPath
	}
	if redisURL := os.Getenv("FORMQUEUE_REDIS_URL"); redisURL != "" {
		config.Broker.Redis.URL = redisURL
	}

	// Queue configuration
	if retention := os.Getenv("FORMQUEUE_COMPLETED_RETENTION"); retention != "" {
		if r, err := strconv.ParseInt(retention, 10, 64); err == nil {
			config.Queue.CompletedRetention = r
		}
	}
	if retention := os.Getenv("FORMQUEUE_FAILED_RETENTION"); retention != "" {
		if r, err := strconv.ParseInt(retention, 10, 64); err == nil {
			config.Queue.FailedRetention = r
		}
	}
	if pollInterval := os.Getenv("FORMQUEUE_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}

	// Worker configuration
	if hostname := os.Getenv("FORMQUEUE_WORKER_HOSTNAME"); hostname != "" {
		config.Worker.Hostname = hostname
	}
	if pollTimeout := os.Getenv("FORMQUEUE_WORKER_POLL_TIMEOUT"); pollTimeout != "" {
		config.Worker.PollTimeout = pollTimeout
	}
	if heartbeat := os.Getenv("FORMQUEUE_WORKER_HEARTBEAT_INTERVAL"); heartbeat != "" {
		config.Worker.HeartbeatInterval = heartbeat
	}

	// Liveness configuration
	if offlineAfter := os.Getenv("FORMQUEUE_OFFLINE_AFTER"); offlineAfter != "" {
		config.Liveness.OfflineAfter = offlineAfter
	}
	if reapAfter := os.Getenv("FORMQUEUE_REAP_AFTER"); reapAfter != "" {
		config.Liveness.ReapAfter = reapAfter
	}
	if orphanGrace := os.Getenv("FORMQUEUE_ORPHAN_GRACE"); orphanGrace != "" {
		config.Liveness.OrphanGrace = orphanGrace
	}

	// Maintenance configuration
	if enabled := os.Getenv("FORMQUEUE_MAINTENANCE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Maintenance.Enabled = e
		}
	}
	if schedule := os.Getenv("FORMQUEUE_MAINTENANCE_SCHEDULE"); schedule != "" {
		config.Maintenance.Schedule = schedule
	}

	// Logging configuration
	if level := os.Getenv("FORMQUEUE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FORMQUEUE_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// validateConfig checks structural constraints and that every duration
// field parses, so misconfiguration fails at startup rather than at use.
func validateConfig(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":       config.Queue.PollInterval,
		"worker.poll_timeout":       config.Worker.PollTimeout,
		"worker.heartbeat_interval": config.Worker.HeartbeatInterval,
		"liveness.offline_after":    config.Liveness.OfflineAfter,
		"liveness.reap_after":       config.Liveness.ReapAfter,
		"liveness.orphan_grace":     config.Liveness.OrphanGrace,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", field, err)
		}
	}

	return nil
}

// ParseDuration parses a duration config value, falling back to a default
// when the value is empty or invalid.
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// OfflineAfterDuration returns the parsed offline threshold.
func (c *LivenessConfig) OfflineAfterDuration() time.Duration {
	return ParseDuration(c.OfflineAfter, 60*time.Second)
}

// ReapAfterDuration returns the parsed reap threshold.
func (c *LivenessConfig) ReapAfterDuration() time.Duration {
	return ParseDuration(c.ReapAfter, 300*time.Second)
}

// OrphanGraceDuration returns the parsed orphan grace period.
func (c *LivenessConfig) OrphanGraceDuration() time.Duration {
	return ParseDuration(c.OrphanGrace, 300*time.Second)
}
