package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subscriber is the subset of *nats.Conn used by NATSSource.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSSource feeds price updates published by venue adapters on a subject.
type NATSSource struct {
	conn     Subscriber
	subject  string
	ingestor *Ingestor
	logger   *zap.Logger
	sub      *nats.Subscription
}

func NewNATSSource(conn Subscriber, subject string, ingestor *Ingestor, logger *zap.Logger) *NATSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSource{conn: conn, subject: subject, ingestor: ingestor, logger: logger}
}

// Start subscribes; each message is handled on the NATS delivery goroutine
// and posted to the graph. ctx bounds the posting of each message.
func (s *NATSSource) Start(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		if err := s.ingestor.Handle(ctx, msg.Data); err != nil && !errors.Is(err, ErrInvalidUpdate) {
			s.logger.Error("feed.nats_handle_failed",
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("feed.nats_subscribed", zap.String("subject", s.subject))
	return nil
}

// Stop drains the subscription.
func (s *NATSSource) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}
