// Package breaker builds the circuit breakers that guard output sinks.
package breaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Settings configure a sink breaker.
type Settings struct {
	Failures uint32        // consecutive failures that open the breaker
	Cooldown time.Duration // time spent open before a trial call
}

// New returns a breaker named after the sink it guards. State changes are logged.
func New(name string, s Settings, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if s.Failures == 0 {
		s.Failures = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("breaker.state_changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// Rejected reports whether err came from an open or saturated breaker rather than the sink.
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
