package mongo

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
)

// Manager implements the StorageManager interface for MongoDB
type Manager struct {
	conn   *Conn
	runs   *RunRegistry
	jobs   *JobStore
	logger arbor.ILogger
}

// NewManager creates a new mongo storage manager
func NewManager(logger arbor.ILogger, config *common.StorageConfig) (interfaces.StorageManager, error) {
	conn, err := NewConn(logger, &config.Mongo)
	if err != nil {
		return nil, err
	}

	runs, err := NewRunRegistry(conn, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	jobs, err := NewJobStore(conn, config.JobTTL.Std(), logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Info().Str("database", config.Mongo.Database).Msg("MongoDB storage manager initialized")

	return &Manager{conn: conn, runs: runs, jobs: jobs, logger: logger}, nil
}

// RunRegistry returns the run registry
func (m *Manager) RunRegistry() interfaces.RunRegistry { return m.runs }

// JobStore returns the job store
func (m *Manager) JobStore() interfaces.JobStore { return m.jobs }

// Close disconnects from MongoDB
func (m *Manager) Close() error {
	return m.conn.Close()
}
