package graph

import (
	"context"
	"time"

	"github.com/Checker-Finance/arbgraph/internal/arb"
	"github.com/Checker-Finance/arbgraph/internal/topology"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

// ArbInfo describes one registered relationship.
type ArbInfo struct {
	ID                    string `json:"id"`
	Type                  string `json:"type"`
	ConversionType        string `json:"conversion_type"`
	Asset                 string `json:"asset"`
	Origin                string `json:"origin"`
	Destination           string `json:"destination"`
	OriginConversion      string `json:"origin_conversion,omitempty"`
	DestinationConversion string `json:"destination_conversion,omitempty"`
	Recomputations        uint64 `json:"recomputations"`
}

// Basis is the reference currency and nominal size handed to downstream consumers.
type Basis struct {
	Symbol   string  `json:"symbol"`
	Size     float64 `json:"size"`
	Resolved bool    `json:"resolved"`
}

// Summary is a point-in-time view of the graph.
type Summary struct {
	Topology       topology.Counts      `json:"topology"`
	Arbs           int                  `json:"arbs"`
	ArbsByType     map[string]int       `json:"arbs_by_type"`
	Instructions   int                  `json:"instructions"`
	Basis          Basis                `json:"basis"`
	Initiation     model.InitiationType `json:"initiation"`
	Sweeps         uint64               `json:"sweeps"`
	LastSweep      *time.Time           `json:"last_sweep,omitempty"`
	SweepInterval  string               `json:"sweep_interval"`
	ThrottleWindow string               `json:"throttle_window"`
}

func describe(a *arb.Arb) ArbInfo {
	info := ArbInfo{
		ID:             a.ID(),
		Type:           a.Type().String(),
		ConversionType: a.ConversionType().String(),
		Asset:          a.Origin().Asset().Symbol(),
		Origin:         a.Origin().ID(),
		Destination:    a.Destination().ID(),
		Recomputations: a.Recomputations(),
	}
	if m := a.OriginConversion(); m != nil {
		info.OriginConversion = m.ID()
	}
	if m := a.DestinationConversion(); m != nil {
		info.DestinationConversion = m.ID()
	}
	return info
}

// Arbs lists registered relationships in registration order.
func (g *Graph) Arbs(ctx context.Context) ([]ArbInfo, error) {
	var out []ArbInfo
	err := g.Do(ctx, func() {
		out = make([]ArbInfo, 0, len(g.arbOrder))
		for _, a := range g.arbOrder {
			out = append(out, describe(a))
		}
	})
	return out, err
}

// Summary collects counts from the loop.
func (g *Graph) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	err := g.Do(ctx, func() { s = g.summarize() })
	if err != nil {
		return Summary{}, err
	}
	s.Instructions = len(g.Instructions())
	return s, nil
}

// summarize must run on the loop.
func (g *Graph) summarize() Summary {
	s := Summary{
		Topology:   g.registry.Counts(),
		Arbs:       len(g.arbOrder),
		ArbsByType: make(map[string]int),
		Basis: Basis{
			Symbol:   g.cfg.BasisSymbol,
			Size:     g.cfg.BasisSize,
			Resolved: g.basis != nil,
		},
		Initiation:     g.cfg.Initiation,
		Sweeps:         g.sweeps,
		SweepInterval:  g.cfg.SweepInterval.String(),
		ThrottleWindow: g.cfg.ThrottleWindow.String(),
	}
	for _, a := range g.arbOrder {
		s.ArbsByType[a.Type().String()]++
	}
	if !g.lastSweep.IsZero() {
		t := g.lastSweep
		s.LastSweep = &t
	}
	return s
}
