package workers

import (
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/models"
)

// HandlerFunc processes one job. The returned map becomes the job output.
type HandlerFunc func(hc *HandlerContext) (map[string]any, error)

// Worker binds a handler to a worker id. RequiredOutput lists keys the
// output must contain; ValidateOutput runs after that check when set.
type Worker struct {
	ID             string
	Handler        HandlerFunc
	RequiredOutput []string
	ValidateOutput func(output map[string]any) error
}

// validate applies the declared output schema to a handler result
func (w *Worker) validate(output map[string]any) error {
	for _, key := range w.RequiredOutput {
		if _, ok := output[key]; !ok {
			return models.ValidationError("worker %s output is missing %q", w.ID, key)
		}
	}
	if w.ValidateOutput != nil {
		if err := w.ValidateOutput(output); err != nil {
			return models.ValidationError("worker %s output: %v", w.ID, err)
		}
	}
	return nil
}

// Registry holds the workers this process can run
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	logger  arbor.ILogger
}

// NewRegistry creates an empty worker registry
func NewRegistry(logger arbor.ILogger) *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		logger:  logger,
	}
}

// Register adds a worker. Re-registering an id replaces the previous entry.
func (r *Registry) Register(worker *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[worker.ID] = worker
	r.logger.Debug().Str("worker_id", worker.ID).Msg("Registered worker")
}

// Get returns the worker for an id
func (r *Registry) Get(workerID string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	worker, ok := r.workers[workerID]
	return worker, ok
}

// IDs returns the registered worker ids, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
