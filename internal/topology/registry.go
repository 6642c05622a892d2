// Package topology relates assets, venues, hubs and markets.
//
// Every accessor is an idempotent lookup with create-on-miss semantics, and
// lookups match symbols exactly. Nothing here is synchronized: a Registry
// and everything reachable from it belong to the goroutine that runs the
// market graph.
package topology

import (
	"errors"
	"fmt"
)

// ErrSelfQuoted is returned when a market would be quoted against its own hub asset.
var ErrSelfQuoted = errors.New("market asset equals hub asset")

// Registry owns every asset and venue known to the process. Entries are never removed.
type Registry struct {
	assets     map[string]*Asset
	assetOrder []*Asset
	venues     map[string]*Venue
	venueOrder []*Venue
}

func NewRegistry() *Registry {
	return &Registry{
		assets: make(map[string]*Asset),
		venues: make(map[string]*Venue),
	}
}

// GetOrCreateAsset returns the asset for symbol, creating it on first reference.
func (r *Registry) GetOrCreateAsset(symbol string) *Asset {
	if a, ok := r.assets[symbol]; ok {
		return a
	}
	a := &Asset{symbol: symbol}
	r.assets[symbol] = a
	r.assetOrder = append(r.assetOrder, a)
	return a
}

// Asset returns the asset for symbol without creating it.
func (r *Registry) Asset(symbol string) *Asset {
	return r.assets[symbol]
}

// Assets returns every asset in creation order.
func (r *Registry) Assets() []*Asset {
	out := make([]*Asset, len(r.assetOrder))
	copy(out, r.assetOrder)
	return out
}

// GetOrCreateVenue returns the venue for id, creating it on first reference.
func (r *Registry) GetOrCreateVenue(id string) *Venue {
	if v, ok := r.venues[id]; ok {
		return v
	}
	v := &Venue{id: id, registry: r, hubs: make(map[string]*Hub)}
	r.venues[id] = v
	r.venueOrder = append(r.venueOrder, v)
	return v
}

// Venue returns the venue for id without creating it.
func (r *Registry) Venue(id string) *Venue {
	return r.venues[id]
}

// Venues returns every venue in creation order.
func (r *Registry) Venues() []*Venue {
	out := make([]*Venue, len(r.venueOrder))
	copy(out, r.venueOrder)
	return out
}

// Market resolves venue, hub and market symbols without creating anything.
func (r *Registry) Market(venue, hub, market string) *Market {
	return r.Venue(venue).Hub(hub).Market(market)
}

// EnsureMarket resolves venue, hub and market symbols, creating any missing level.
func (r *Registry) EnsureMarket(venue, hub, market string) (*Market, error) {
	m, err := r.GetOrCreateVenue(venue).GetOrCreateHub(hub).GetOrCreateMarket(market)
	if err != nil {
		return nil, fmt.Errorf("ensure market %s.%s.%s: %w", venue, hub, market, err)
	}
	return m, nil
}

// Counts reports registry sizes.
type Counts struct {
	Assets  int `json:"assets"`
	Venues  int `json:"venues"`
	Hubs    int `json:"hubs"`
	Markets int `json:"markets"`
}

func (r *Registry) Counts() Counts {
	c := Counts{Assets: len(r.assetOrder), Venues: len(r.venueOrder)}
	for _, v := range r.venueOrder {
		c.Hubs += len(v.hubOrder)
		for _, h := range v.hubOrder {
			c.Markets += len(h.marketOrder)
		}
	}
	return c
}

// Asset is a currency or token. It keeps back-references to the hubs that
// quote against it and to the markets in which it is traded.
type Asset struct {
	symbol  string
	hubs    []*Hub
	markets []*Market
}

func (a *Asset) Symbol() string { return a.symbol }

// Hubs returns the hubs using this asset as their quote currency.
func (a *Asset) Hubs() []*Hub {
	out := make([]*Hub, len(a.hubs))
	copy(out, a.hubs)
	return out
}

// Markets returns the markets trading this asset, in creation order.
func (a *Asset) Markets() []*Market {
	out := make([]*Market, len(a.markets))
	copy(out, a.markets)
	return out
}
