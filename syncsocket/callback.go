package syncsocket

import (
	"sync"

	"golang.org/x/exp/slices"
)

type callbackEntry[T any] struct {
	id       uint64
	callback T
}

// CallbackList keeps callbacks in registration order.
// makes a copy of the list on update, so `Get` never races an add or remove
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextId    uint64
	callbacks []callbackEntry[T]
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.callbacks))
	for _, entry := range self.callbacks {
		callbacks = append(callbacks, entry.callback)
	}
	return callbacks
}

// Add returns the id to pass to `Remove`.
func (self *CallbackList[T]) Add(callback T) uint64 {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.nextId += 1
	id := self.nextId
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = append(nextCallbacks, callbackEntry[T]{
		id:       id,
		callback: callback,
	})
	self.callbacks = nextCallbacks
	return id
}

func (self *CallbackList[T]) Remove(id uint64) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.IndexFunc(self.callbacks, func(entry callbackEntry[T]) bool {
		return entry.id == id
	})
	if i < 0 {
		// not present
		return
	}
	nextCallbacks := slices.Clone(self.callbacks)
	nextCallbacks = slices.Delete(nextCallbacks, i, i+1)
	self.callbacks = nextCallbacks
}

func (self *CallbackList[T]) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.callbacks)
}
