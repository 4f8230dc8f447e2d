package common

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerialisesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("run_1")
			counter++
			km.Unlock("run_1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	km.Lock("run_1")

	done := make(chan struct{})
	go func() {
		km.Lock("run_2")
		km.Unlock("run_2")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
	km.Unlock("run_1")
}

func TestKeyedMutex_ReleasesIdleEntries(t *testing.T) {
	km := NewKeyedMutex()
	km.Lock("run_1")
	km.Unlock("run_1")

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}
