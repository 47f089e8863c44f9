package reactive

// A relay bridges a push-based source - a subscription, a timer, a native
// event stream - into the pull-based cell graph.
//
// The setup function runs when the relay transitions from unobserved to
// observed. It receives a state handle to push values through, and returns a
// teardown function that runs when the last observer lets go. After teardown
// a re-observed relay starts over with fresh state.

// RelayState is the mutable handle passed to a relay's setup function.
// It stays valid until the relay is torn down; pushes after teardown are
// dropped.
type RelayState[T any] struct {
	cell  *Cell[T]
	epoch uint64
}

// Set pushes a new value, invalidating all readers of the relay.
func (self *RelayState[T]) Set(value T) {
	self.cell.relaySet(self.epoch, value, nil)
}

// Reject moves the relay to the rejected state. Readers observe the error
// the same way as a computation error.
func (self *RelayState[T]) Reject(err error) {
	var zero T
	self.cell.relaySet(self.epoch, zero, err)
}

// Value returns the current pushed value, if any. Used by setup callbacks
// that fold new events into the previous value.
func (self *RelayState[T]) Value() (T, bool) {
	self.cell.stateLock.Lock()
	defer self.cell.stateLock.Unlock()
	if self.epoch != self.cell.relayEpoch || self.cell.status != StatusResolved {
		var zero T
		return zero, false
	}
	return self.cell.value, true
}

// NewRelay creates a relay cell. The setup function may return nil if there
// is nothing to release.
func NewRelay[T any](setup func(state *RelayState[T]) func()) *Cell[T] {
	return &Cell[T]{
		setup:     setup,
		status:    StatusPending,
		settleC:   make(chan struct{}),
		observers: map[observer]int{},
	}
}

func (self *Cell[T]) runSetup(epoch uint64) {
	state := &RelayState[T]{
		cell:  self,
		epoch: epoch,
	}
	teardown := self.setup(state)
	self.stateLock.Lock()
	if self.relayEpoch != epoch {
		// torn down while setup was still running
		self.stateLock.Unlock()
		if teardown != nil {
			teardown()
		}
		return
	}
	self.teardownFn = teardown
	self.stateLock.Unlock()
}

func (self *Cell[T]) relaySet(epoch uint64, value T, err error) {
	self.stateLock.Lock()
	if epoch != self.relayEpoch {
		self.stateLock.Unlock()
		return
	}
	changed := self.status == StatusPending ||
		(err == nil) != (self.err == nil) ||
		(err == nil && !deepEqual(self.value, value)) ||
		(err != nil && self.err != nil && err.Error() != self.err.Error())
	self.value = value
	self.err = err
	if err != nil {
		self.status = StatusRejected
	} else {
		self.status = StatusResolved
	}
	if changed {
		self.gen += 1
	}
	if !self.settled {
		self.settled = true
		close(self.settleC)
	}
	var obs []observer
	if changed {
		for o := range self.observers {
			obs = append(obs, o)
		}
	}
	self.stateLock.Unlock()
	for _, o := range obs {
		o.invalidate()
	}
}
