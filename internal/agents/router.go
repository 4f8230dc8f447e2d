package agents

import (
	"context"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/models"
)

// AgentFunc is an in-process agent handler resolved by path. Agents run
// synchronously inside the interpreter's request.
type AgentFunc func(ctx context.Context, call *Call) (map[string]any, error)

// Call carries everything an agent sees for one invocation. Depth counts
// agent-to-agent hops for the cycle bound.
type Call struct {
	Path      string
	Input     map[string]any
	RequestID string
	Depth     int

	router *Router
	logger arbor.ILogger
}

// Logger returns a logger scoped to this invocation
func (c *Call) Logger() arbor.ILogger {
	return c.logger
}

// Invoke calls another agent from inside a handler. The sub-call inherits
// the request id and increments the depth.
func (c *Call) Invoke(ctx context.Context, path string, input map[string]any) (map[string]any, error) {
	return c.router.invoke(ctx, path, input, c.RequestID, c.Depth+1)
}

// Router resolves agent paths to registered handlers and bounds call depth
type Router struct {
	mu       sync.RWMutex
	agents   map[string]AgentFunc
	maxDepth int
	logger   arbor.ILogger
}

// NewRouter creates an agent router. maxDepth bounds nested agent calls;
// zero or negative falls back to 10.
func NewRouter(logger arbor.ILogger, maxDepth int) *Router {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return &Router{
		agents:   make(map[string]AgentFunc),
		maxDepth: maxDepth,
		logger:   logger,
	}
}

// Register binds a handler to an agent path. Re-registering a path replaces
// the previous handler.
func (r *Router) Register(path string, fn AgentFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[path] = fn
	r.logger.Debug().Str("path", path).Msg("Registered agent")
}

// Paths returns the registered agent paths, sorted
func (r *Router) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.agents))
	for path := range r.agents {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Invoke runs the agent registered at path with the given input
func (r *Router) Invoke(ctx context.Context, path string, input map[string]any, requestID string) (map[string]any, error) {
	return r.invoke(ctx, path, input, requestID, 0)
}

func (r *Router) invoke(ctx context.Context, path string, input map[string]any, requestID string, depth int) (map[string]any, error) {
	if depth >= r.maxDepth {
		return nil, models.ValidationError("agent call depth %d exceeds limit %d at %s", depth, r.maxDepth, path)
	}

	r.mu.RLock()
	fn, ok := r.agents[path]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NotFoundError("agent %s is not registered", path)
	}

	call := &Call{
		Path:      path,
		Input:     input,
		RequestID: requestID,
		Depth:     depth,
		router:    r,
		logger:    r.logger.WithCorrelationId(requestID),
	}

	r.logger.Debug().Str("path", path).Int("depth", depth).Msg("Invoking agent")
	output, err := fn(ctx, call)
	if err != nil {
		return nil, models.HandlerError("agent %s: %v", path, err)
	}
	return output, nil
}
