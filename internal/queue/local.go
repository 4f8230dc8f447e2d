package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/models"
)

// LocalQueue is an in-process queue used when no external queue URL is
// configured. Delayed messages are held by timers until they become ready.
type LocalQueue struct {
	mu     sync.Mutex
	ready  []*models.QueueMessage
	timers map[*time.Timer]struct{}
	closed bool
	logger arbor.ILogger
}

// NewLocalQueue creates an in-process queue
func NewLocalQueue(logger arbor.ILogger) *LocalQueue {
	return &LocalQueue{
		timers: make(map[*time.Timer]struct{}),
		logger: logger,
	}
}

func (q *LocalQueue) Send(ctx context.Context, msg *models.QueueMessage, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return models.InternalError("queue is closed")
	}

	if delay <= 0 {
		q.ready = append(q.ready, msg)
		return nil
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if q.closed {
			return
		}
		q.ready = append(q.ready, msg)
	})
	q.timers[timer] = struct{}{}
	return nil
}

func (q *LocalQueue) Receive(ctx context.Context) (*models.QueueMessage, func(context.Context) error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, nil, models.NotFoundError("queue is empty")
	}

	msg := q.ready[0]
	q.ready = q.ready[1:]
	msg.Receives++

	ack := func(context.Context) error { return nil }
	return msg, ack, nil
}

// Close stops pending delay timers and rejects further sends
func (q *LocalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
}
