package feed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/metrics"
)

// Getter fetches and decodes a JSON document; *httpclient.Executor satisfies it.
type Getter interface {
	GetJSON(ctx context.Context, url, rateKey string, out any) error
}

// PollSource fetches a snapshot of price updates from a REST endpoint on a
// fixed interval. The body uses the same frame format as the push feeds.
type PollSource struct {
	url      string
	interval time.Duration
	getter   Getter
	ingestor *Ingestor
	logger   *zap.Logger
}

func NewPollSource(url string, interval time.Duration, getter Getter, ingestor *Ingestor, logger *zap.Logger) *PollSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollSource{url: url, interval: interval, getter: getter, ingestor: ingestor, logger: logger}
}

// Run polls immediately and then every interval until ctx is canceled.
func (s *PollSource) Run(ctx context.Context) {
	s.logger.Info("feed.poll_started", zap.String("url", s.url), zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		_ = s.Poll(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info("feed.poll_stopped", zap.String("url", s.url))
			return
		}
	}
}

// Poll runs one fetch and hands the snapshot to the ingestor.
func (s *PollSource) Poll(ctx context.Context) error {
	var raw json.RawMessage
	if err := s.getter.GetJSON(ctx, s.url, s.url, &raw); err != nil {
		if ctx.Err() == nil {
			metrics.IncError("feed", "poll_failed")
			s.logger.Warn("feed.poll_failed", zap.String("url", s.url), zap.Error(err))
		}
		return err
	}
	if len(raw) == 0 || string(raw) == "[]" {
		return nil
	}
	err := s.ingestor.Handle(ctx, raw)
	if err != nil && !errors.Is(err, ErrInvalidUpdate) {
		s.logger.Error("feed.poll_handle_failed", zap.String("url", s.url), zap.Error(err))
	}
	return err
}
