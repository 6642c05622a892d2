// Package rate holds per-endpoint token buckets for outbound polling.
package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines the bucket for one endpoint. A non-positive
// RequestsPerSecond disables limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter is a token bucket.
type Limiter struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
	rate   float64
	burst  float64
	now    func() time.Time
}

// New creates a limiter with a full bucket.
func New(cfg Config) *Limiter {
	burst := float64(cfg.Burst)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		tokens: burst,
		last:   time.Now(),
		rate:   cfg.RequestsPerSecond,
		burst:  burst,
		now:    time.Now,
	}
}

// reserve takes a token and returns zero, or returns how long until one
// is available without taking it.
func (l *Limiter) reserve() time.Duration {
	if l.rate <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return 0
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
}

// Allow reports whether a request may go now, consuming a token if so.
func (l *Limiter) Allow() bool {
	return l.reserve() == 0
}

// Wait blocks until a token is taken or ctx is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		d := l.reserve()
		if d == 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Manager holds one limiter per key, created on first use with the defaults.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	defaults Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters: make(map[string]*Limiter),
		defaults: defaults,
	}
}

// Limiter returns the limiter for key.
func (m *Manager) Limiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	lim := New(m.defaults)
	m.limiters[key] = lim
	return lim
}

// Wait blocks until key's limiter yields a token.
func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.Limiter(key).Wait(ctx)
}
