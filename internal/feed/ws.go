package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSSource reads price update frames from a WebSocket gateway and keeps
// reconnecting until its context is canceled.
type WSSource struct {
	url            string
	header         http.Header
	ingestor       *Ingestor
	logger         *zap.Logger
	reconnectDelay time.Duration

	mu        sync.RWMutex
	connected bool
}

// NewWSSource creates a source for url. header is sent on every dial, e.g.
// an Authorization token resolved from the secrets store.
func NewWSSource(url string, header http.Header, ingestor *Ingestor, reconnectDelay time.Duration, logger *zap.Logger) *WSSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &WSSource{
		url:            url,
		header:         header,
		ingestor:       ingestor,
		logger:         logger,
		reconnectDelay: reconnectDelay,
	}
}

// IsConnected returns whether a connection is currently open.
func (s *WSSource) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *WSSource) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Run connects, reads until the connection fails, waits and reconnects.
// It returns when ctx is canceled.
func (s *WSSource) Run(ctx context.Context) {
	for {
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			s.logger.Info("feed.ws_stopped", zap.String("url", s.url))
			return
		}
		s.logger.Warn("feed.ws_disconnected",
			zap.String("url", s.url),
			zap.Duration("retry_in", s.reconnectDelay),
			zap.Error(err))

		select {
		case <-time.After(s.reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *WSSource) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	s.setConnected(true)
	s.logger.Info("feed.ws_connected", zap.String("url", s.url))

	defer func() {
		s.setConnected(false)
		conn.Close()
	}()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("closed by peer: %w", err)
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := s.ingestor.Handle(ctx, message); err != nil && !errors.Is(err, ErrInvalidUpdate) {
			return err
		}
	}
}
