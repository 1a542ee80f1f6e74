package worker

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/formqueue/internal/interfaces"
)

// Pool manages a fixed set of runners sharing one executor. Each runner is
// a fully independent worker with its own id, heartbeat and poll loop, so
// a slow job on one runner never stalls the others.
type Pool struct {
	runners []*Runner
	logger  arbor.ILogger
}

// NewPool creates numWorkers runners from the same base config. Worker ids
// are derived from config.WorkerID with an index suffix, or generated when
// the base id is empty.
func NewPool(config Config, numWorkers int, service interfaces.QueueService, registry interfaces.WorkerRegistry, executor interfaces.JobExecutor, logger arbor.ILogger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}

	runners := make([]*Runner, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		runnerConfig := config
		if config.WorkerID != "" {
			runnerConfig.WorkerID = fmt.Sprintf("%s-%d", config.WorkerID, i)
		}
		runners = append(runners, NewRunner(runnerConfig, service, registry, executor, logger))
	}

	return &Pool{
		runners: runners,
		logger:  logger,
	}
}

// WorkerIDs returns the ids of all runners in the pool.
func (p *Pool) WorkerIDs() []string {
	ids := make([]string, len(p.runners))
	for i, r := range p.runners {
		ids[i] = r.WorkerID()
	}
	return ids
}

// Start launches every runner. On a registration failure the already
// started runners are stopped so the pool never runs partially.
func (p *Pool) Start() error {
	p.logger.Info().
		Int("num_workers", len(p.runners)).
		Msg("Starting worker pool")

	for i, r := range p.runners {
		if err := r.Start(); err != nil {
			for _, started := range p.runners[:i] {
				started.Stop()
			}
			return fmt.Errorf("failed to start worker %s: %w", r.WorkerID(), err)
		}
	}
	return nil
}

// Stop stops all runners and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.logger.Info().Msg("Stopping worker pool")
	for _, r := range p.runners {
		r.Stop()
	}
	p.logger.Info().Msg("Worker pool stopped")
}
