package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/formqueue/internal/app"
	"github.com/ternarybob/formqueue/internal/common"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	brokerURL    = flag.String("broker", "", "Redis broker URL (overrides config and selects the redis broker)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("FormQueue version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		// Check current directory first
		if _, err := os.Stat("formqueue.toml"); err == nil {
			configFiles = append(configFiles, "formqueue.toml")
		} else if _, err := os.Stat("deployments/local/formqueue.toml"); err == nil {
			// Fallback for users running from the project root
			configFiles = append(configFiles, "deployments/local/formqueue.toml")
		}
	}

	// 1. Load configuration (defaults -> file1 -> file2 -> ... -> env -> CLI)
	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	// 2. Apply command-line flag overrides (highest priority)
	if *brokerURL != "" {
		config.Broker.Type = "redis"
		config.Broker.Redis.URL = *brokerURL
	}

	// 3. Initialize logger with final configuration
	logger = common.InitLogger(config)

	// 4. Print banner
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("broker", config.Broker.Type).
		Str("log_level", config.Logging.Level).
		Msg("Application configuration loaded")

	// Initialize application
	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	if !application.QueueManager.IsConnected() {
		logger.Warn().Msg("Broker liveness probe failed - continuing, operations will surface errors")
	}

	// Start maintenance sweep
	if config.Maintenance.Enabled {
		if err := application.Maintainer.Start(config.Maintenance.Schedule); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start maintenance scheduler")
		}
	}

	// Periodic queue stats reporting
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if interval := common.ParseDuration(config.Maintenance.StatsInterval, 0); interval > 0 {
		common.SafeGoWithContext(ctx, logger, "statsReporter", func() {
			reportStats(ctx, application, interval)
		})
	}

	logger.Info().Msg("FormQueue daemon ready - Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received, shutting down")
	cancel()
}

// reportStats logs the queue snapshot on a fixed interval.
func reportStats(ctx context.Context, application *app.App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statsCtx, statsCancel := context.WithTimeout(ctx, 10*time.Second)
			stats, err := application.QueueManager.GetStats(statsCtx)
			statsCancel()
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to collect queue stats")
				continue
			}

			logger.Info().
				Int("pending", int(stats.Pending)).
				Int("processing", int(stats.Processing)).
				Int("completed", int(stats.Completed)).
				Int("failed", int(stats.Failed)).
				Int("workers_active", stats.WorkersActive).
				Int("workers_idle", stats.WorkersIdle).
				Msg("Queue stats")
		}
	}
}
