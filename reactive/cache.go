package reactive

import (
	"context"
	"sync"
)

// Cache memoizes one cell per key. Repeated lookups with an equal key return
// the same cell, so everything derived from it shares one computation and
// one dependency subtree. Cells are never evicted; keys are expected to be
// drawn from a bounded domain (topics, authors, chat ids).
type Cache[K comparable, T any] struct {
	stateLock sync.Mutex
	cells     map[K]*Cell[T]
	create    func(key K) *Cell[T]
}

// NewCache memoizes a computation by key.
func NewCache[K comparable, T any](compute func(sc *Scope, key K) (T, error)) *Cache[K, T] {
	return &Cache[K, T]{
		cells: map[K]*Cell[T]{},
		create: func(key K) *Cell[T] {
			return New(func(sc *Scope) (T, error) {
				return compute(sc, key)
			})
		},
	}
}

// NewRelayCache memoizes a relay by key.
func NewRelayCache[K comparable, T any](setup func(key K, state *RelayState[T]) func()) *Cache[K, T] {
	return &Cache[K, T]{
		cells: map[K]*Cell[T]{},
		create: func(key K) *Cell[T] {
			return NewRelay(func(state *RelayState[T]) func() {
				return setup(key, state)
			})
		},
	}
}

func (self *Cache[K, T]) Cell(key K) *Cell[T] {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	cell, ok := self.cells[key]
	if !ok {
		cell = self.create(key)
		self.cells[key] = cell
	}
	return cell
}

func (self *Cache[K, T]) Await(sc *Scope, key K) (T, error) {
	return self.Cell(key).Await(sc)
}

func (self *Cache[K, T]) Get(ctx context.Context, key K) (T, error) {
	return self.Cell(key).Get(ctx)
}
