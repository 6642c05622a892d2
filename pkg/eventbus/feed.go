package eventbus

import "sync"

type feedHandler[T any] struct {
	id uint64
	fn func(T)
}

// Feed is a typed observer list for a single notification source.
// Publish runs handlers synchronously, in subscription order, on the
// publishing goroutine. The zero value is ready to use.
type Feed[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []feedHandler[T]
}

// Subscribe registers fn and returns a function that removes it again.
// The returned cancel is safe to call more than once.
func (f *Feed[T]) Subscribe(fn func(T)) (cancel func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.handlers = append(f.handlers, feedHandler[T]{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, h := range f.handlers {
		if h.id == id {
			f.handlers = append(f.handlers[:i:i], f.handlers[i+1:]...)
			return
		}
	}
}

// Publish calls every handler with v. Handlers may subscribe or cancel
// during delivery; changes apply from the next Publish.
func (f *Feed[T]) Publish(v T) {
	f.mu.RLock()
	handlers := make([]feedHandler[T], len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.RUnlock()

	for _, h := range handlers {
		h.fn(v)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (f *Feed[T]) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.handlers)
}
