package badger

import (
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
)

// gcInterval is how often the value log garbage collector runs
const gcInterval = 10 * time.Minute

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	runs   *RunRegistry
	jobs   *JobStore
	logger arbor.ILogger
	stopGC chan struct{}
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		runs:   NewRunRegistry(db, logger),
		jobs:   NewJobStore(db, logger),
		logger: logger,
		stopGC: make(chan struct{}),
	}

	go manager.runGC()

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

// RunRegistry returns the run registry
func (m *Manager) RunRegistry() interfaces.RunRegistry { return m.runs }

// JobStore returns the job store
func (m *Manager) JobStore() interfaces.JobStore { return m.jobs }

// runGC reclaims value log space periodically. RunValueLogGC rewrites at
// most one file per call, so loop until it reports nothing to collect.
func (m *Manager) runGC() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			db := m.db.Store().Badger()
			for {
				if err := db.RunValueLogGC(0.5); err != nil {
					if err != badgerdb.ErrNoRewrite {
						m.logger.Warn().Err(err).Msg("Badger value log GC failed")
					}
					break
				}
			}
		case <-m.stopGC:
			return
		}
	}
}

// Close stops the GC loop and closes the database connection
func (m *Manager) Close() error {
	close(m.stopGC)
	return m.db.Close()
}
