package queue

import (
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
)

// Manager hands out one queue per worker id. Resolution order:
//  1. WORKER_QUEUE_URL_<UPPER_SNAKE(workerId)> points at a dedicated redis
//     queue for that worker
//  2. queue mode "redis" shares the configured redis instance, one list per
//     worker
//  3. otherwise an in-process local queue
type Manager struct {
	config *common.Config
	logger arbor.ILogger

	mu     sync.Mutex
	queues map[string]interfaces.Queue
	shared *goredis.Client
}

// NewManager creates the queue manager
func NewManager(logger arbor.ILogger, config *common.Config) *Manager {
	return &Manager{
		config: config,
		logger: logger,
		queues: make(map[string]interfaces.Queue),
	}
}

// QueueFor resolves the queue for a worker id, creating it on first use
func (m *Manager) QueueFor(workerID string) (interfaces.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[workerID]; ok {
		return q, nil
	}

	q, err := m.buildQueue(workerID)
	if err != nil {
		return nil, err
	}
	m.queues[workerID] = q
	return q, nil
}

func (m *Manager) buildQueue(workerID string) (interfaces.Queue, error) {
	if url := common.WorkerQueueURL(workerID); url != "" {
		m.logger.Info().Str("worker_id", workerID).Msg("Using dedicated queue from environment")
		return NewRedisQueueFromURL(url, workerID, m.logger)
	}

	if m.config.Queue.Mode == "redis" {
		client, err := m.sharedClient()
		if err != nil {
			return nil, err
		}
		m.logger.Info().Str("worker_id", workerID).Msg("Using shared redis queue")
		return NewRedisQueue(client, workerID, m.logger), nil
	}

	m.logger.Info().Str("worker_id", workerID).Msg("Using local in-process queue")
	return NewLocalQueue(m.logger), nil
}

func (m *Manager) sharedClient() (*goredis.Client, error) {
	if m.shared != nil {
		return m.shared, nil
	}
	m.shared = goredis.NewClient(&goredis.Options{
		Addr:     m.config.Storage.Redis.Addr,
		Password: m.config.Storage.Redis.Password,
		DB:       m.config.Storage.Redis.DB,
	})
	return m.shared, nil
}

// Queues returns a snapshot of the queues created so far, keyed by worker id
func (m *Manager) Queues() map[string]interfaces.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interfaces.Queue, len(m.queues))
	for id, q := range m.queues {
		out[id] = q
	}
	return out
}

// Close releases every queue that owns a connection
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, q := range m.queues {
		switch typed := q.(type) {
		case *LocalQueue:
			typed.Close()
		case *RedisQueue:
			if err := typed.Close(); err != nil {
				m.logger.Warn().Err(err).Str("worker_id", id).Msg("Failed to close queue")
			}
		}
	}
	if m.shared != nil {
		_ = m.shared.Close()
	}
	m.queues = make(map[string]interfaces.Queue)
}
