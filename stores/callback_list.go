package stores

import (
	"sync"
)

// CallbackList is a registry of callbacks with snapshot iteration. Adding
// returns a remove function, so subscription sites read like
// `defer client.AddOperationCallback(cb)()`.
type CallbackList[T any] struct {
	stateLock sync.Mutex
	nextId    int
	callbacks map[int]T
	order     []int
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *CallbackList[T]) Add(callback T) func() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	id := self.nextId
	self.nextId += 1
	self.callbacks[id] = callback
	self.order = append(self.order, id)

	return func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		delete(self.callbacks, id)
	}
}

// Get returns the callbacks in registration order.
func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	callbacks := []T{}
	live := []int{}
	for _, id := range self.order {
		if callback, ok := self.callbacks[id]; ok {
			callbacks = append(callbacks, callback)
			live = append(live, id)
		}
	}
	self.order = live
	return callbacks
}
