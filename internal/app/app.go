// Package app wires the broker, queue manager, registry and maintenance
// together. Everything is constructed once here and passed down explicitly;
// there is no global accessor.
package app

import (
	"fmt"
	"os"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/formqueue/internal/broker"
	"github.com/ternarybob/formqueue/internal/common"
	"github.com/ternarybob/formqueue/internal/queue"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Broker       broker.Broker
	QueueManager *queue.Manager
	Registry     *queue.Registry
	Maintainer   *queue.Maintainer
}

// New initializes the application components from configuration.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	b, err := newBroker(config, logger)
	if err != nil {
		return nil, err
	}

	keys := broker.Keys{Namespace: config.Broker.Namespace}
	queueConfig := queue.Config{
		CompletedRetention: config.Queue.CompletedRetention,
		FailedRetention:    config.Queue.FailedRetention,
		OfflineAfter:       config.Liveness.OfflineAfterDuration(),
		ReapAfter:          config.Liveness.ReapAfterDuration(),
		OrphanGrace:        config.Liveness.OrphanGraceDuration(),
	}

	registry := queue.NewRegistry(b, keys, queueConfig, logger)
	manager := queue.NewManager(b, keys, registry, queueConfig, logger)
	maintainer := queue.NewMaintainer(manager, registry, queueConfig, logger)

	logger.Info().
		Str("broker", config.Broker.Type).
		Str("namespace", config.Broker.Namespace).
		Msg("Queue components initialized")

	return &App{
		Config:       config,
		Logger:       logger,
		Broker:       b,
		QueueManager: manager,
		Registry:     registry,
		Maintainer:   maintainer,
	}, nil
}

// Close stops maintenance and releases the broker connection.
func (a *App) Close() {
	if a.Maintainer != nil {
		a.Maintainer.Stop()
	}
	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close broker")
		}
	}
}

func newBroker(config *common.Config, logger arbor.ILogger) (broker.Broker, error) {
	switch config.Broker.Type {
	case "redis":
		logger.Debug().Str("url", config.Broker.Redis.URL).Msg("Connecting to Redis broker")
		return broker.NewRedisBroker(config.Broker.Redis.URL)

	case "badger", "":
		path := config.Broker.Badger.Path
		if config.Broker.Badger.ResetOnStartup {
			if _, err := os.Stat(path); err == nil {
				logger.Debug().Str("path", path).Msg("Deleting existing database (reset_on_startup=true)")
				if err := os.RemoveAll(path); err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("Failed to delete database directory")
				}
			}
		}
		logger.Debug().Str("path", path).Msg("Opening embedded Badger broker")
		return broker.OpenBadgerBroker(path, common.ParseDuration(config.Queue.PollInterval, 0))

	default:
		return nil, fmt.Errorf("unknown broker type %q", config.Broker.Type)
	}
}
