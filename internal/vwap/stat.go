// Package vwap holds the latest published volume-weighted average price for
// one side of a market. The averaging itself happens upstream in the venue
// adapters; a Stat only stores the value and notifies subscribers.
package vwap

import (
	"time"

	"github.com/Checker-Finance/arbgraph/pkg/eventbus"
)

// Side selects which statistic of a market an update targets.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s names a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sample is one published value and the window it was averaged over.
type Sample struct {
	Price  float64
	Window time.Duration
}

// Stat is a single price statistic. A zero Stat holds no data: Vwap reports 0.
// Stat is not synchronized; callers confine writes and reads to one goroutine.
type Stat struct {
	current *Sample
	updated eventbus.Feed[*Sample]
}

// Vwap returns the current price, or 0 when no data has been published.
func (s *Stat) Vwap() float64 {
	if s.current == nil {
		return 0
	}
	return s.current.Price
}

// Duration returns the averaging window of the current value.
func (s *Stat) Duration() time.Duration {
	if s.current == nil {
		return 0
	}
	return s.current.Window
}

// Current returns a copy of the current sample, or nil.
func (s *Stat) Current() *Sample {
	if s.current == nil {
		return nil
	}
	c := *s.current
	return &c
}

// OnUpdated registers fn for every change. fn receives nil when data is cleared.
func (s *Stat) OnUpdated(fn func(*Sample)) (cancel func()) {
	return s.updated.Subscribe(fn)
}

// Subscribers returns how many handlers observe this statistic.
func (s *Stat) Subscribers() int {
	return s.updated.SubscriberCount()
}

// Set publishes a new value.
func (s *Stat) Set(price float64, window time.Duration) {
	s.current = &Sample{Price: price, Window: window}
	s.updated.Publish(s.Current())
}

// Clear drops the current value and notifies subscribers with nil.
func (s *Stat) Clear() {
	s.current = nil
	s.updated.Publish(nil)
}
