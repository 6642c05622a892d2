package throttle

import (
	"sync"
	"time"
)

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func())

// AfterFunc schedules on the runtime timer.
func AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// Config defines throttling parameters.
type Config struct {
	Window   time.Duration
	Schedule Scheduler
}

// Throttle forwards at most one value per window. The first value in a
// quiet period arms the window, later values replace it, and the most
// recent value is forwarded when the window closes.
type Throttle[T any] struct {
	mu       sync.Mutex
	window   time.Duration
	schedule Scheduler
	emit     func(T)

	pending T
	armed   bool

	forwarded uint64
	collapsed uint64
}

// New creates a throttle that hands values to emit.
func New[T any](cfg Config, emit func(T)) *Throttle[T] {
	if cfg.Schedule == nil {
		cfg.Schedule = AfterFunc
	}
	return &Throttle[T]{window: cfg.Window, schedule: cfg.Schedule, emit: emit}
}

// Call offers v. It reports false when v replaced a value already waiting
// for the current window.
func (t *Throttle[T]) Call(v T) bool {
	if t.window <= 0 {
		t.mu.Lock()
		t.forwarded++
		t.mu.Unlock()
		t.emit(v)
		return true
	}

	t.mu.Lock()
	t.pending = v
	if t.armed {
		t.collapsed++
		t.mu.Unlock()
		return false
	}
	t.armed = true
	t.mu.Unlock()

	t.schedule(t.window, t.flush)
	return true
}

func (t *Throttle[T]) flush() {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return
	}
	v := t.pending
	var zero T
	t.pending = zero
	t.armed = false
	t.forwarded++
	t.mu.Unlock()

	t.emit(v)
}

// Pending reports whether a value is waiting for its window to close.
func (t *Throttle[T]) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Stats returns how many values were forwarded and how many were collapsed.
func (t *Throttle[T]) Stats() (forwarded, collapsed uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.forwarded, t.collapsed
}

// Manager holds per-key throttles sharing one config.
type Manager[T any] struct {
	mu        sync.RWMutex
	throttles map[string]*Throttle[T]
	defaults  Config
}

func NewManager[T any](defaults Config) *Manager[T] {
	return &Manager[T]{
		throttles: make(map[string]*Throttle[T]),
		defaults:  defaults,
	}
}

// Get returns the throttle for key, creating it with emit on first use.
// emit is ignored when the throttle already exists.
func (m *Manager[T]) Get(key string, emit func(T)) *Throttle[T] {
	m.mu.RLock()
	if th, ok := m.throttles[key]; ok {
		m.mu.RUnlock()
		return th
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if th, ok := m.throttles[key]; ok {
		return th
	}
	th := New(m.defaults, emit)
	m.throttles[key] = th
	return th
}

// Len returns the number of throttles.
func (m *Manager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.throttles)
}
