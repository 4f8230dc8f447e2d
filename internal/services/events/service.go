package events

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/interfaces"
)

// Service fans run and job status transitions out to in-process
// subscribers. Slow subscribers drop events rather than block publishers.
type Service struct {
	mu          sync.RWMutex
	subscribers map[int]chan interfaces.Event
	nextID      int
	logger      arbor.ILogger
}

// NewService creates the event service
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[int]chan interfaces.Event),
		logger:      logger,
	}
}

// Publish delivers an event to every subscriber without blocking
func (s *Service) Publish(event interfaces.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Debug().
				Int("subscriber", id).
				Str("type", event.Type).
				Msg("Dropping event for slow subscriber")
		}
	}
}

// Subscribe returns a channel of events and a cancel function. The buffer
// bounds how far a subscriber may fall behind before events are dropped.
func (s *Service) Subscribe(buffer int) (<-chan interfaces.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan interfaces.Event, buffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}
