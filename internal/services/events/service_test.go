package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/interfaces"
)

func runEvent(runID, status string) interfaces.Event {
	return interfaces.Event{
		Type:      "run",
		RunID:     runID,
		Status:    status,
		Timestamp: time.Now(),
	}
}

func TestService_PublishReachesSubscriber(t *testing.T) {
	s := NewService(arbor.NewLogger())
	ch, cancel := s.Subscribe(8)
	defer cancel()

	s.Publish(runEvent("run_1", "running"))

	select {
	case event := <-ch:
		assert.Equal(t, "run_1", event.RunID)
		assert.Equal(t, "running", event.Status)
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestService_MultipleSubscribers(t *testing.T) {
	s := NewService(arbor.NewLogger())
	first, cancelFirst := s.Subscribe(8)
	defer cancelFirst()
	second, cancelSecond := s.Subscribe(8)
	defer cancelSecond()

	s.Publish(runEvent("run_1", "completed"))

	for _, ch := range []<-chan interfaces.Event{first, second} {
		select {
		case event := <-ch:
			assert.Equal(t, "completed", event.Status)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the event")
		}
	}
}

func TestService_CancelClosesChannel(t *testing.T) {
	s := NewService(arbor.NewLogger())
	ch, cancel := s.Subscribe(8)

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// A second cancel is a no-op
	cancel()
	s.Publish(runEvent("run_1", "running"))
}

func TestService_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := NewService(arbor.NewLogger())
	ch, cancel := s.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Publish(runEvent("run_1", "running"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The buffer held one event; the rest were dropped
	require.Equal(t, 1, len(ch))
	event := <-ch
	assert.Equal(t, "run_1", event.RunID)
}
