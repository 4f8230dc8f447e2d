package workers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/models"
	"github.com/ternarybob/relay/internal/queue"
)

// ConsumerPool polls the queues of every registered worker and feeds their
// messages through the runtime. One pool serves all workers in the process.
type ConsumerPool struct {
	queues   *queue.Manager
	registry *Registry
	runtime  *Runtime
	config   *common.Config
	logger   arbor.ILogger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConsumerPool creates a consumer pool
func NewConsumerPool(logger arbor.ILogger, config *common.Config, queues *queue.Manager, registry *Registry, runtime *Runtime) *ConsumerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConsumerPool{
		queues:   queues,
		registry: registry,
		runtime:  runtime,
		config:   config,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the consumer goroutines for every registered worker
func (p *ConsumerPool) Start() error {
	workerIDs := p.registry.IDs()
	concurrency := p.config.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	p.logger.Info().
		Int("workers", len(workerIDs)).
		Int("concurrency", concurrency).
		Msg("Starting consumer pool")

	for _, workerID := range workerIDs {
		q, err := p.queues.QueueFor(workerID)
		if err != nil {
			return err
		}
		for i := 0; i < concurrency; i++ {
			go p.consume(workerID, q, i)
		}
	}
	return nil
}

// Stop cancels every consumer loop
func (p *ConsumerPool) Stop() {
	p.logger.Info().Msg("Stopping consumer pool")
	p.cancel()
}

// consume is one polling loop over a worker's queue
func (p *ConsumerPool) consume(workerID string, q interfaces.Queue, slot int) {
	pollInterval := p.config.Queue.PollInterval.Std()
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	// Stagger slot starts so consumers do not poll in lockstep
	stagger := (pollInterval / time.Duration(p.config.Queue.Concurrency+1)) * time.Duration(slot)
	if stagger > 0 {
		time.Sleep(stagger)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug().Str("worker_id", workerID).Int("slot", slot).Msg("Consumer stopped")
			return
		case <-ticker.C:
			// Drain the queue before sleeping again
			for p.processOne(workerID, q) {
			}
		}
	}
}

// processOne receives and processes one message; it reports whether a
// message was available.
func (p *ConsumerPool) processOne(workerID string, q interfaces.Queue) bool {
	msg, ack, err := q.Receive(p.ctx)
	if err != nil {
		if !models.IsNotFound(err) {
			p.logger.Warn().Err(err).Str("worker_id", workerID).Msg("Failed to receive message")
		}
		return false
	}

	processErr := p.runtime.Process(p.ctx, msg)
	if ackErr := ack(p.ctx); ackErr != nil {
		p.logger.Warn().Err(ackErr).Str("job_id", msg.JobID).Msg("Failed to ack message")
	}

	if processErr != nil {
		p.redeliver(q, msg, processErr)
	}
	return true
}

// redeliver re-sends a failed message while it is under the receive bound.
// Messages at the bound are dropped as poison; their job record already
// holds the failure.
func (p *ConsumerPool) redeliver(q interfaces.Queue, msg *models.QueueMessage, cause error) {
	maxReceive := p.config.Queue.MaxReceive
	if maxReceive <= 0 {
		maxReceive = 3
	}
	if msg.Receives >= maxReceive {
		p.logger.Warn().
			Err(cause).
			Str("job_id", msg.JobID).
			Int("receives", msg.Receives).
			Msg("Dropping poison message")
		return
	}

	backoff := time.Duration(msg.Receives) * time.Second
	if err := q.Send(p.ctx, msg, backoff); err != nil {
		p.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to redeliver message")
	}
}
