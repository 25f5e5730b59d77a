package syncsocket

import (
	"context"
	"errors"
	"sync"
)

var ErrRejected = errors.New("Rejected.")

// Future is a value that is resolved or rejected exactly once.
// Later calls to `Resolve` or `Reject` have no effect and return false.
type Future[T any] struct {
	mutex     sync.Mutex
	done      chan struct{}
	completed bool
	result    T
	err       error
	callbacks []func()
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{
		done: make(chan struct{}),
	}
}

func ResolvedFuture[T any](result T) *Future[T] {
	future := NewFuture[T]()
	future.Resolve(result)
	return future
}

func RejectedFuture[T any](err error) *Future[T] {
	future := NewFuture[T]()
	future.Reject(err)
	return future
}

func (self *Future[T]) Resolve(result T) bool {
	return self.complete(result, nil)
}

func (self *Future[T]) Reject(err error) bool {
	if err == nil {
		err = ErrRejected
	}
	var zero T
	return self.complete(zero, err)
}

func (self *Future[T]) complete(result T, err error) bool {
	self.mutex.Lock()
	if self.completed {
		self.mutex.Unlock()
		return false
	}
	self.completed = true
	self.result = result
	self.err = err
	callbacks := self.callbacks
	self.callbacks = nil
	close(self.done)
	self.mutex.Unlock()

	for _, callback := range callbacks {
		callback()
	}
	return true
}

// Then runs exactly one of `onResolve` or `onReject` once the future completes.
// If the future is already complete, it runs before `Then` returns.
// Either callback may be nil.
func (self *Future[T]) Then(onResolve func(T), onReject func(error)) {
	callback := func() {
		if self.err != nil {
			if onReject != nil {
				onReject(self.err)
			}
		} else if onResolve != nil {
			onResolve(self.result)
		}
	}

	self.mutex.Lock()
	if !self.completed {
		self.callbacks = append(self.callbacks, callback)
		self.mutex.Unlock()
		return
	}
	self.mutex.Unlock()
	callback()
}

func (self *Future[T]) Done() <-chan struct{} {
	return self.done
}

// Wait blocks until the future completes or `ctx` is done.
// A done `ctx` does not reject the future.
func (self *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-self.done:
		return self.result, self.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome and whether the future has completed.
func (self *Future[T]) Result() (result T, err error, completed bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.result, self.err, self.completed
}
