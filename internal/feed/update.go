// Package feed turns venue price updates into writes on the market graph.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/metrics"
	"github.com/Checker-Finance/arbgraph/internal/topology"
	"github.com/Checker-Finance/arbgraph/internal/vwap"
)

// ErrInvalidUpdate marks an update rejected before it reaches the registry.
var ErrInvalidUpdate = errors.New("invalid price update")

// Update is one published VWAP for one side of a market.
//
//	{"venue":"A","hub":"BTC","market":"ETH","side":"buy","price":"0.052","window_ms":60000}
//
// A null or empty price clears the side.
type Update struct {
	Venue    string          `json:"venue"`
	Hub      string          `json:"hub"`
	Market   string          `json:"market"`
	Side     vwap.Side       `json:"side"`
	Price    json.RawMessage `json:"price"`
	WindowMS int64           `json:"window_ms"`
}

// Parsed is an Update after validation.
type Parsed struct {
	Venue, Hub, Market string
	Side               vwap.Side
	Price              decimal.Decimal
	Clear              bool
	Window             time.Duration
}

// Decode reads a frame holding one update object or an array of them.
func Decode(data []byte) ([]Update, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidUpdate)
	}
	if data[0] == '[' {
		var out []Update
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
		}
		return out, nil
	}
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	return []Update{u}, nil
}

// Parse validates u and converts its price.
func (u Update) Parse() (Parsed, error) {
	p := Parsed{Venue: u.Venue, Hub: u.Hub, Market: u.Market, Side: u.Side}
	switch {
	case u.Venue == "" || u.Hub == "" || u.Market == "":
		return p, fmt.Errorf("%w: venue, hub and market are required", ErrInvalidUpdate)
	case !u.Side.Valid():
		return p, fmt.Errorf("%w: unknown side %q", ErrInvalidUpdate, u.Side)
	case u.Hub == u.Market:
		return p, fmt.Errorf("%w: %s quoted against itself", ErrInvalidUpdate, u.Market)
	case u.WindowMS < 0:
		return p, fmt.Errorf("%w: negative window %d", ErrInvalidUpdate, u.WindowMS)
	}
	p.Window = time.Duration(u.WindowMS) * time.Millisecond

	raw := bytes.TrimSpace(u.Price)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		p.Clear = true
		return p, nil
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return p, fmt.Errorf("%w: price: %v", ErrInvalidUpdate, err)
		}
	} else {
		s = string(raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return p, fmt.Errorf("%w: price %q: %v", ErrInvalidUpdate, s, err)
	}
	if d.IsNegative() {
		return p, fmt.Errorf("%w: negative price %s", ErrInvalidUpdate, d)
	}
	p.Price = d
	p.Clear = d.IsZero()
	return p, nil
}

// Apply writes p onto the registry, creating topology on first reference.
// It must run on the graph loop.
func Apply(r *topology.Registry, p Parsed) (cleared bool, err error) {
	m, err := r.EnsureMarket(p.Venue, p.Hub, p.Market)
	if err != nil {
		return false, err
	}
	stat := m.Stat(p.Side)
	if p.Clear {
		stat.Clear()
		return true, nil
	}
	stat.Set(p.Price.InexactFloat64(), p.Window)
	return false, nil
}

// Poster is the part of the graph an Ingestor needs.
type Poster interface {
	Post(ctx context.Context, fn func()) error
	Registry() *topology.Registry
}

// Ingestor validates frames off the loop and applies them on it.
type Ingestor struct {
	poster Poster
	source string
	logger *zap.Logger
}

// NewIngestor creates an ingestor labelled with source ("nats", "ws", ...).
func NewIngestor(poster Poster, source string, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{poster: poster, source: source, logger: logger}
}

// Handle decodes a frame and posts its valid updates as one task. Invalid
// updates are dropped and reported in the returned error.
func (i *Ingestor) Handle(ctx context.Context, data []byte) error {
	updates, err := Decode(data)
	if err != nil {
		metrics.IncPriceUpdate(i.source, "invalid")
		i.logger.Warn("feed.decode_failed", zap.String("source", i.source), zap.Error(err))
		return err
	}

	var errs []error
	parsed := make([]Parsed, 0, len(updates))
	for _, u := range updates {
		p, err := u.Parse()
		if err != nil {
			metrics.IncPriceUpdate(i.source, "invalid")
			i.logger.Warn("feed.invalid_update",
				zap.String("source", i.source),
				zap.String("venue", u.Venue),
				zap.String("hub", u.Hub),
				zap.String("market", u.Market),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		parsed = append(parsed, p)
	}

	if len(parsed) > 0 {
		if err := i.poster.Post(ctx, func() { i.apply(parsed) }); err != nil {
			metrics.IncError("feed", "post_failed")
			return fmt.Errorf("post updates: %w", err)
		}
	}
	return errors.Join(errs...)
}

func (i *Ingestor) apply(parsed []Parsed) {
	r := i.poster.Registry()
	for _, p := range parsed {
		cleared, err := Apply(r, p)
		switch {
		case err != nil:
			metrics.IncPriceUpdate(i.source, "error")
			i.logger.Warn("feed.apply_failed", zap.String("source", i.source), zap.Error(err))
		case cleared:
			metrics.IncPriceUpdate(i.source, "cleared")
		default:
			metrics.IncPriceUpdate(i.source, "applied")
		}
	}
}
