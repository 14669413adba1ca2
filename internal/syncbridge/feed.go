package syncbridge

import "sync"

// Feed is an observable value published by the sync collaborator. Subscribe
// delivers the current value immediately and every later change, and returns
// the disposer that stops delivery.
type Feed[T any] interface {
	Subscribe(listener func(T)) func()
}

// Observable is a mutex-guarded Feed implementation holding the latest value.
type Observable[T any] struct {
	mu          sync.RWMutex
	value       T
	subscribers map[int64]func(T)
	nextID      int64
}

// NewObservable constructs an Observable starting at initial.
func NewObservable[T any](initial T) *Observable[T] {
	return &Observable[T]{
		value:       initial,
		subscribers: make(map[int64]func(T)),
	}
}

// Get returns the latest value.
func (o *Observable[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value
}

// Set stores the value and delivers it to every subscriber outside the lock.
func (o *Observable[T]) Set(value T) {
	o.mu.Lock()
	o.value = value
	listeners := make([]func(T), 0, len(o.subscribers))
	for _, listener := range o.subscribers {
		listeners = append(listeners, listener)
	}
	o.mu.Unlock()
	for _, listener := range listeners {
		listener(value)
	}
}

// Subscribe implements Feed.
func (o *Observable[T]) Subscribe(listener func(T)) func() {
	if listener == nil {
		return func() {}
	}
	o.mu.Lock()
	o.nextID++
	subscriberID := o.nextID
	o.subscribers[subscriberID] = listener
	current := o.value
	o.mu.Unlock()

	listener(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subscribers, subscriberID)
			o.mu.Unlock()
		})
	}
}

// Subscribers reports how many listeners are registered.
func (o *Observable[T]) Subscribers() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subscribers)
}
