package redis

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
)

// Manager implements the StorageManager interface for redis
type Manager struct {
	conn   *Conn
	runs   *RunRegistry
	jobs   *JobStore
	logger arbor.ILogger
}

// NewManager creates a new redis storage manager
func NewManager(logger arbor.ILogger, config *common.StorageConfig) (interfaces.StorageManager, error) {
	conn, err := NewConn(logger, &config.Redis)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		conn:   conn,
		runs:   NewRunRegistry(conn, config.JobTTL.Std(), logger),
		jobs:   NewJobStore(conn, config.JobTTL.Std(), logger),
		logger: logger,
	}

	logger.Info().Str("addr", config.Redis.Addr).Msg("Redis storage manager initialized")

	return manager, nil
}

// RunRegistry returns the run registry
func (m *Manager) RunRegistry() interfaces.RunRegistry { return m.runs }

// JobStore returns the job store
func (m *Manager) JobStore() interfaces.JobStore { return m.jobs }

// Close closes the redis connection
func (m *Manager) Close() error {
	return m.conn.Close()
}
