// Package memory provides an in-process storage backend for development and
// tests. Runs keep their in-memory plan (including closure-valued fields),
// which the durable backends cannot do.
package memory

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/relay/internal/interfaces"
)

// Manager implements interfaces.StorageManager over process memory
type Manager struct {
	runs *RunRegistry
	jobs *JobStore
}

// NewManager creates the in-memory storage manager
func NewManager(logger arbor.ILogger) *Manager {
	return &Manager{
		runs: NewRunRegistry(),
		jobs: NewJobStore(),
	}
}

// RunRegistry returns the run registry
func (m *Manager) RunRegistry() interfaces.RunRegistry { return m.runs }

// JobStore returns the job store
func (m *Manager) JobStore() interfaces.JobStore { return m.jobs }

// Close is a no-op for the memory backend
func (m *Manager) Close() error { return nil }
