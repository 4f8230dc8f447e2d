package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/relay/internal/models"
)

// Queue moves worker messages between the dispatcher and worker runtimes.
// Delay holds a message back for fire-and-forget scheduling (0-900s).
type Queue interface {
	Send(ctx context.Context, msg *models.QueueMessage, delay time.Duration) error

	// Receive returns the next message and an ack function, or
	// models.ErrNotFound when the queue is empty.
	Receive(ctx context.Context) (*models.QueueMessage, func(context.Context) error, error)
}

// Event is a run or job status transition published to subscribers
type Event struct {
	Type      string         `json:"type"` // "run" | "job"
	RunID     string         `json:"runId,omitempty"`
	JobID     string         `json:"jobId,omitempty"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventService fans status transitions out to in-process subscribers
type EventService interface {
	Publish(event Event)
	Subscribe(buffer int) (<-chan Event, func())
}

// Advancer drives a run forward; the hook registry and scheduler use it to
// re-enter the interpreter without importing the orchestrator package.
type Advancer interface {
	Advance(ctx context.Context, runID string) error
}
