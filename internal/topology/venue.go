package topology

import (
	"fmt"

	"github.com/Checker-Finance/arbgraph/internal/vwap"
)

// Venue is a trading venue: a stable id and its hubs keyed by hub asset symbol.
type Venue struct {
	id       string
	registry *Registry
	hubs     map[string]*Hub
	hubOrder []*Hub
}

func (v *Venue) ID() string { return v.id }

// Hub returns the hub for symbol without creating it. A nil venue yields nil.
func (v *Venue) Hub(symbol string) *Hub {
	if v == nil {
		return nil
	}
	return v.hubs[symbol]
}

// GetOrCreateHub returns the hub for symbol on this venue. A new hub is
// registered against its asset.
func (v *Venue) GetOrCreateHub(symbol string) *Hub {
	if h, ok := v.hubs[symbol]; ok {
		return h
	}
	asset := v.registry.GetOrCreateAsset(symbol)
	h := &Hub{asset: asset, venue: v, markets: make(map[string]*Market)}
	v.hubs[symbol] = h
	v.hubOrder = append(v.hubOrder, h)
	asset.hubs = append(asset.hubs, h)
	return h
}

// Hubs returns this venue's hubs in creation order.
func (v *Venue) Hubs() []*Hub {
	out := make([]*Hub, len(v.hubOrder))
	copy(out, v.hubOrder)
	return out
}

// Hub is one asset acting as quote currency on one venue.
type Hub struct {
	asset       *Asset
	venue       *Venue
	markets     map[string]*Market
	marketOrder []*Market
}

// ID is "{venue}_{symbol}".
func (h *Hub) ID() string {
	return h.venue.id + "_" + h.asset.symbol
}

func (h *Hub) Asset() *Asset { return h.asset }
func (h *Hub) Venue() *Venue { return h.venue }

// Market returns the market for symbol without creating it. A nil hub yields nil.
func (h *Hub) Market(symbol string) *Market {
	if h == nil {
		return nil
	}
	return h.markets[symbol]
}

// GetOrCreateMarket returns the market trading symbol against this hub.
func (h *Hub) GetOrCreateMarket(symbol string) (*Market, error) {
	if m, ok := h.markets[symbol]; ok {
		return m, nil
	}
	if symbol == h.asset.symbol {
		return nil, fmt.Errorf("%s on hub %s: %w", symbol, h.ID(), ErrSelfQuoted)
	}
	asset := h.venue.registry.GetOrCreateAsset(symbol)
	m := &Market{asset: asset, hub: h}
	h.markets[symbol] = m
	h.marketOrder = append(h.marketOrder, m)
	asset.markets = append(asset.markets, m)
	return m, nil
}

// Markets returns this hub's markets in creation order.
func (h *Hub) Markets() []*Market {
	out := make([]*Market, len(h.marketOrder))
	copy(out, h.marketOrder)
	return out
}

// Market is an asset traded against a hub's asset on the hub's venue.
// Sell is the price the asset can be sold at, Buy the price it can be bought at.
type Market struct {
	asset *Asset
	hub   *Hub
	sell  vwap.Stat
	buy   vwap.Stat
}

func (m *Market) Asset() *Asset { return m.asset }
func (m *Market) Hub() *Hub     { return m.hub }
func (m *Market) Venue() *Venue { return m.hub.venue }

func (m *Market) Sell() *vwap.Stat { return &m.sell }
func (m *Market) Buy() *vwap.Stat  { return &m.buy }

// Stat returns the statistic for side, or nil for an unknown side.
func (m *Market) Stat(side vwap.Side) *vwap.Stat {
	switch side {
	case vwap.SideBuy:
		return &m.buy
	case vwap.SideSell:
		return &m.sell
	default:
		return nil
	}
}

// ID is "{venue}.{hub}.{market}".
func (m *Market) ID() string {
	return m.hub.venue.id + "." + m.hub.asset.symbol + "." + m.asset.symbol
}
