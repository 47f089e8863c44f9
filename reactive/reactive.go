package reactive

import (
	"context"
	"reflect"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// A pull-based dependency graph of cached asynchronous computations.
//
// Each `Cell` holds one computed value. Reading a cell from inside another
// cell's compute function records a dependency edge, so that when the child
// settles with a new value the parent is marked stale and lazily recomputed
// on its next read. Values propagate only when they actually change
// (deep equality), which keeps re-derivation of unchanged folds cheap.
//
// Cells are observed while some reader holds a reference to them - a
// blocking `Get`, a `Subscribe`, or an observed parent computation. The
// observation refcount drives the relay lifecycle (see relay.go).

type Status int

const (
	StatusPending Status = iota
	StatusResolved
	StatusRejected
)

// source is the dependency-side view of a cell.
type source interface {
	addObserver(obs observer)
	removeObserver(obs observer)
	observe()
	release()
	generation() uint64
	isStale() bool
}

// observer is the dependent-side view of a cell.
type observer interface {
	invalidate()
}

func deepEqual(a any, b any) bool {
	return reflect.DeepEqual(a, b)
}

// Scope records the cells read during a single evaluation.
// Compute functions receive the scope of their own evaluation and must pass
// it to every `Await` so the dependency edge is registered.
type Scope struct {
	owner observer

	stateLock sync.Mutex
	deps      []source
	depSet    map[source]struct{}
	// generation of each dep when this evaluation first read it
	gens map[source]uint64
}

func (self *Scope) record(dep source) {
	self.stateLock.Lock()
	if self.depSet == nil {
		self.depSet = map[source]struct{}{}
	}
	if _, ok := self.depSet[dep]; ok {
		self.stateLock.Unlock()
		return
	}
	self.depSet[dep] = struct{}{}
	self.deps = append(self.deps, dep)
	self.stateLock.Unlock()

	// hold a temporary observation ref for the duration of the evaluation,
	// so that relays read mid-computation start their setup
	dep.observe()
	if self.owner != nil {
		dep.addObserver(self.owner)
	}
}

// noteGen remembers the generation a dep was first read at, so the owner's
// run can tell a consumed settle apart from one that arrived after the read.
func (self *Scope) noteGen(dep source, gen uint64) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.gens == nil {
		self.gens = map[source]uint64{}
	}
	if _, ok := self.gens[dep]; !ok {
		self.gens[dep] = gen
	}
}

type Cell[T any] struct {
	stateLock sync.Mutex

	// nil for relay cells
	compute func(sc *Scope) (T, error)

	value  T
	err    error
	status Status
	// bumped every time the settled value changes. 0 means never settled.
	gen uint64

	dirty   bool
	retry   bool
	running bool
	settled bool
	settleC chan struct{}

	// observation refcount and the deps currently held while observed
	refs         int
	depsObserved bool
	deps         []source
	observers    map[observer]int

	// relay state, see relay.go
	setup       func(state *RelayState[T]) func()
	teardownFn  func()
	relayActive bool
	relayEpoch  uint64
}

// New creates a lazy cached computation cell. The compute function runs on
// first read and again whenever one of the cells it read has changed.
// Compute functions must be side-effect free: they re-run on cache misses.
func New[T any](compute func(sc *Scope) (T, error)) *Cell[T] {
	return &Cell[T]{
		compute:   compute,
		status:    StatusPending,
		dirty:     true,
		settleC:   make(chan struct{}),
		observers: map[observer]int{},
	}
}

// Await reads the cell from inside another computation, blocking the calling
// evaluation until the cell settles. The read is recorded as a dependency of
// the scope's owner. A rejected cell returns its error and will recompute on
// the next access.
func (self *Cell[T]) Await(sc *Scope) (T, error) {
	if sc != nil {
		sc.record(self)
	}
	for {
		self.ensure()
		self.stateLock.Lock()
		if !self.running && !self.dirty && self.status != StatusPending {
			status := self.status
			value := self.value
			err := self.err
			gen := self.gen
			if status == StatusRejected && self.compute != nil {
				// next access reattempts
				self.retry = true
			}
			self.stateLock.Unlock()
			if sc != nil {
				sc.noteGen(self, gen)
			}
			if status == StatusRejected {
				var zero T
				return zero, err
			}
			return value, nil
		}
		settleC := self.settleC
		self.stateLock.Unlock()
		<-settleC
	}
}

// Get reads the cell from outside the graph, holding an observation ref for
// the duration of the call. This is the bridge for command methods and other
// imperative callers.
func (self *Cell[T]) Get(ctx context.Context) (T, error) {
	self.observe()
	defer self.release()
	for {
		self.ensure()
		self.stateLock.Lock()
		if !self.running && !self.dirty && self.status != StatusPending {
			status := self.status
			value := self.value
			err := self.err
			if status == StatusRejected && self.compute != nil {
				self.retry = true
			}
			self.stateLock.Unlock()
			if status == StatusRejected {
				var zero T
				return zero, err
			}
			return value, nil
		}
		settleC := self.settleC
		self.stateLock.Unlock()
		select {
		case <-settleC:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Status reports the current state without blocking.
func (self *Cell[T]) Status() Status {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.running || self.dirty {
		return StatusPending
	}
	return self.status
}

// Subscribe invokes the callback with the settled value now and after every
// change, until the returned cancel function is called. The subscription
// counts as an observation.
func (self *Cell[T]) Subscribe(callback func(value T, err error)) func() {
	sub := &subscriber{
		changes: make(chan struct{}, 1),
	}
	done := make(chan struct{})
	self.addObserver(sub)
	self.observe()
	go func() {
		lastGen := uint64(0)
		for {
			value, err, gen := self.wait(done)
			if gen == 0 {
				return
			}
			if gen != lastGen {
				lastGen = gen
				callback(value, err)
			}
			select {
			case <-sub.changes:
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			self.removeObserver(sub)
			self.release()
		})
	}
}

type subscriber struct {
	changes chan struct{}
}

func (self *subscriber) invalidate() {
	select {
	case self.changes <- struct{}{}:
	default:
	}
}

// wait blocks until the cell settles or done closes. A returned gen of 0
// means done closed first.
func (self *Cell[T]) wait(done chan struct{}) (T, error, uint64) {
	for {
		self.ensure()
		self.stateLock.Lock()
		if !self.running && !self.dirty && self.status != StatusPending {
			value := self.value
			err := self.err
			gen := self.gen
			if self.status == StatusRejected {
				var zero T
				value = zero
			}
			self.stateLock.Unlock()
			return value, err, gen
		}
		settleC := self.settleC
		self.stateLock.Unlock()
		select {
		case <-settleC:
		case <-done:
			var zero T
			return zero, nil, 0
		}
	}
}

// ensure starts a computation if the cell is stale. At most one evaluation
// runs per cell at any time.
func (self *Cell[T]) ensure() {
	self.stateLock.Lock()
	if self.compute == nil || self.running || !(self.dirty || self.retry) {
		self.stateLock.Unlock()
		return
	}
	self.dirty = false
	self.retry = false
	self.running = true
	if self.settled {
		self.settleC = make(chan struct{})
		self.settled = false
	}
	sc := &Scope{
		owner: self,
	}
	self.stateLock.Unlock()
	go self.run(sc)
}

func (self *Cell[T]) run(sc *Scope) {
	value, err := self.compute(sc)

	self.stateLock.Lock()
	if self.dirty {
		if self.depsMoved(sc) {
			// a dependency settled past the state this evaluation read.
			// discard and go again, keeping the observation refs warm
			// across the rerun so relays in the dep set stay live.
			oldDeps := self.deps
			self.deps = sc.deps
			transfer := self.depsObserved
			self.running = false
			self.stateLock.Unlock()
			self.swapDeps(sc.deps, oldDeps, transfer)
			self.ensure()
			return
		}
		// the invalidation announced a settle this evaluation already
		// consumed. it is spent, unless a dependency still has a
		// recompute pending.
		self.dirty = self.anyDepStale(sc)
	}

	changed := self.gen == 0 ||
		(err == nil) != (self.err == nil) ||
		(err == nil && !deepEqual(self.value, value)) ||
		(err != nil && self.err != nil && err.Error() != self.err.Error())
	oldDeps := self.deps
	self.deps = sc.deps
	transfer := self.depsObserved
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
	self.running = false
	self.settled = true
	close(self.settleC)
	var obs []observer
	if changed {
		obs = maps.Keys(self.observers)
	}
	self.stateLock.Unlock()

	self.swapDeps(sc.deps, oldDeps, transfer)
	for _, o := range obs {
		o.invalidate()
	}
}

// swapDeps moves the observation refs from the old dep set to the new one
// before dropping the temporary scope refs, so relays in both sets stay live
// across the handover.
func (self *Cell[T]) swapDeps(newDeps []source, oldDeps []source, transfer bool) {
	if transfer {
		for _, dep := range newDeps {
			dep.observe()
		}
	}
	for _, dep := range newDeps {
		dep.release()
	}
	if transfer {
		for _, dep := range oldDeps {
			dep.release()
		}
	}
	for _, dep := range oldDeps {
		dep.removeObserver(self)
	}
}

// depsMoved reports whether a dependency settled to a newer generation than
// the one this evaluation read.
func (self *Cell[T]) depsMoved(sc *Scope) bool {
	sc.stateLock.Lock()
	deps := sc.deps
	gens := sc.gens
	sc.stateLock.Unlock()
	for _, dep := range deps {
		if noted, ok := gens[dep]; ok && dep.generation() != noted {
			return true
		}
	}
	return false
}

func (self *Cell[T]) anyDepStale(sc *Scope) bool {
	sc.stateLock.Lock()
	deps := sc.deps
	sc.stateLock.Unlock()
	for _, dep := range deps {
		if dep.isStale() {
			return true
		}
	}
	return false
}

func (self *Cell[T]) generation() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.gen
}

// isStale reports whether the cell has a recompute pending. A rejection
// reattempt flag does not count: it is an eagerness hint for the next
// reader, not a change in flight.
func (self *Cell[T]) isStale() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.dirty || self.running
}

// invalidate marks the cell stale and propagates along the observer edges.
// Recomputation happens lazily on the next read.
func (self *Cell[T]) invalidate() {
	self.stateLock.Lock()
	if self.compute == nil || self.dirty {
		self.stateLock.Unlock()
		return
	}
	self.dirty = true
	if self.running {
		// the active run re-checks dirty when it settles
		self.stateLock.Unlock()
		return
	}
	obs := maps.Keys(self.observers)
	self.stateLock.Unlock()
	for _, o := range obs {
		o.invalidate()
	}
}

func (self *Cell[T]) addObserver(obs observer) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.observers[obs] += 1
}

func (self *Cell[T]) removeObserver(obs observer) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	count := self.observers[obs]
	if count <= 1 {
		delete(self.observers, obs)
	} else {
		self.observers[obs] = count - 1
	}
}

func (self *Cell[T]) observe() {
	self.stateLock.Lock()
	self.refs += 1
	var deps []source
	if self.refs == 1 && !self.depsObserved {
		self.depsObserved = true
		deps = slices.Clone(self.deps)
	}
	startSetup := false
	var epoch uint64
	if self.refs == 1 && self.setup != nil && !self.relayActive {
		self.relayActive = true
		self.relayEpoch += 1
		epoch = self.relayEpoch
		startSetup = true
	}
	self.stateLock.Unlock()

	for _, dep := range deps {
		dep.observe()
	}
	if startSetup {
		go self.runSetup(epoch)
	}
}

func (self *Cell[T]) release() {
	self.stateLock.Lock()
	self.refs -= 1
	var deps []source
	if self.refs == 0 && self.depsObserved {
		self.depsObserved = false
		deps = slices.Clone(self.deps)
	}
	var teardown func()
	var obs []observer
	if self.refs == 0 && self.relayActive {
		self.relayActive = false
		self.relayEpoch += 1
		teardown = self.teardownFn
		self.teardownFn = nil
		// re-observation runs setup from scratch with fresh state
		var zero T
		self.value = zero
		self.err = nil
		self.status = StatusPending
		if self.settled {
			self.settleC = make(chan struct{})
			self.settled = false
		}
		// dependents must not keep serving values derived from the
		// torn-down subscription
		obs = maps.Keys(self.observers)
	}
	self.stateLock.Unlock()

	for _, dep := range deps {
		dep.release()
	}
	if teardown != nil {
		teardown()
	}
	for _, o := range obs {
		o.invalidate()
	}
}
