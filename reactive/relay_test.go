package reactive

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestRelaySetupRunsOnFirstObservation(t *testing.T) {
	setupCount := int64(0)
	relay := NewRelay(func(state *RelayState[int]) func() {
		atomic.AddInt64(&setupCount, 1)
		state.Set(11)
		return nil
	})

	assert.Equal(t, int64(0), atomic.LoadInt64(&setupCount))

	values := make(chan int, 4)
	cancel := relay.Subscribe(func(value int, err error) {
		values <- value
	})
	defer cancel()

	assert.Equal(t, 11, <-values)
	assert.Equal(t, int64(1), atomic.LoadInt64(&setupCount))
}

func TestRelayTeardownOnLastRelease(t *testing.T) {
	setupCount := int64(0)
	teardownCount := int64(0)
	relay := NewRelay(func(state *RelayState[int]) func() {
		atomic.AddInt64(&setupCount, 1)
		state.Set(int(atomic.LoadInt64(&setupCount)))
		return func() {
			atomic.AddInt64(&teardownCount, 1)
		}
	})

	values := make(chan int, 4)
	cancelA := relay.Subscribe(func(value int, err error) {
		values <- value
	})
	assert.Equal(t, 1, <-values)
	cancelB := relay.Subscribe(func(value int, err error) {
		values <- value
	})
	assert.Equal(t, 1, <-values)

	// still observed by B
	cancelA()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), atomic.LoadInt64(&teardownCount))

	cancelB()
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&teardownCount) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&teardownCount))

	// re-observation runs setup from scratch
	cancelC := relay.Subscribe(func(value int, err error) {
		values <- value
	})
	defer cancelC()
	assert.Equal(t, 2, <-values)
	assert.Equal(t, int64(2), atomic.LoadInt64(&setupCount))
}

func TestRelayPushAfterTeardownIsDropped(t *testing.T) {
	states := make(chan *RelayState[int], 2)
	relay := NewRelay(func(state *RelayState[int]) func() {
		states <- state
		state.Set(1)
		return nil
	})

	values := make(chan int, 4)
	cancel := relay.Subscribe(func(value int, err error) {
		values <- value
	})
	state := <-states
	assert.Equal(t, 1, <-values)
	cancel()

	// the old handle is no longer wired to the cell
	state.Set(2)
	_, ok := state.Value()
	assert.Equal(t, false, ok)
}

func TestRelayRejectionSurfacesToReaders(t *testing.T) {
	ctx := context.Background()

	relay := NewRelay(func(state *RelayState[int]) func() {
		state.Reject(errors.New("fetch failed"))
		return nil
	})

	parent := New(func(sc *Scope) (int, error) {
		return relay.Await(sc)
	})

	_, err := parent.Get(ctx)
	assert.NotEqual(t, err, nil)
}

func TestRelayFoldsPushedValues(t *testing.T) {
	var state *RelayState[[]string]
	ready := make(chan struct{})
	relay := NewRelay(func(s *RelayState[[]string]) func() {
		state = s
		s.Set([]string{"a"})
		close(ready)
		return nil
	})

	values := make(chan []string, 4)
	cancel := relay.Subscribe(func(value []string, err error) {
		values <- value
	})
	defer cancel()

	<-ready
	assert.Equal(t, []string{"a"}, <-values)

	current, ok := state.Value()
	assert.Equal(t, true, ok)
	state.Set(append(current, "b"))
	assert.Equal(t, []string{"a", "b"}, <-values)
}
