// Package arb classifies an ordered pair of markets for the same asset and
// turns current prices into execution instructions.
package arb

import (
	"math"

	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/topology"
	"github.com/Checker-Finance/arbgraph/internal/vwap"
	"github.com/Checker-Finance/arbgraph/pkg/eventbus"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

// Arb is a directed relationship: buy on origin, sell on destination.
// Classification happens once, in New. Like the topology it reads, an Arb
// is confined to the graph goroutine.
type Arb struct {
	origin      *topology.Market
	destination *topology.Market

	originConversion      *topology.Market
	destinationConversion *topology.Market

	typ        Type
	conversion ConversionType

	updated    eventbus.Feed[model.ExecutionInstruction]
	withdrawn  eventbus.Feed[struct{}]
	cancels    []func()
	recomputes uint64
	log        *zap.Logger
}

// New looks up conversion markets and classifies the pair. It never creates
// topology and never fails; an unusable pair is classified TypeNone.
func New(origin, destination *topology.Market, log *zap.Logger) *Arb {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Arb{origin: origin, destination: destination, log: log}

	originHub := origin.Hub().Asset().Symbol()
	destinationHub := destination.Hub().Asset().Symbol()
	a.originConversion = origin.Venue().Hub(destinationHub).Market(originHub)
	a.destinationConversion = destination.Venue().Hub(originHub).Market(destinationHub)

	a.typ, a.conversion = a.classify()
	return a
}

func (a *Arb) classify() (Type, ConversionType) {
	if a.origin.Sell().Vwap() == 0 || a.destination.Buy().Vwap() == 0 {
		return TypeNone, ConversionNone
	}
	switch {
	case a.originConversion != nil && a.destinationConversion != nil:
		return TypeComplex, ConversionEitherSide
	case a.originConversion != nil:
		return TypeComplex, ConversionBuySide
	case a.destinationConversion != nil:
		return TypeComplex, ConversionSellSide
	case a.isSimple():
		return TypeSimple, ConversionNone
	default:
		return TypeNone, ConversionNone
	}
}

// isSimple: same hub currency, different venues.
func (a *Arb) isSimple() bool {
	sameHub := a.origin.Hub().Asset().Symbol() == a.destination.Hub().Asset().Symbol()
	sameVenue := a.origin.Venue().ID() == a.destination.Venue().ID()
	return sameHub && !sameVenue
}

func (a *Arb) Type() Type                              { return a.typ }
func (a *Arb) ConversionType() ConversionType          { return a.conversion }
func (a *Arb) Origin() *topology.Market                { return a.origin }
func (a *Arb) Destination() *topology.Market           { return a.destination }
func (a *Arb) OriginConversion() *topology.Market      { return a.originConversion }
func (a *Arb) DestinationConversion() *topology.Market { return a.destinationConversion }
func (a *Arb) Recomputations() uint64                  { return a.recomputes }

// ID identifies the relationship for discovery dedup. It depends only on
// classification and symbols, never on prices.
func (a *Arb) ID() string {
	originConv, destinationConv := "NULL", "NULL"
	if a.originConversion != nil {
		originConv = a.originConversion.Asset().Symbol()
	}
	if a.destinationConversion != nil {
		destinationConv = a.destinationConversion.Asset().Symbol()
	}
	return a.typ.String() + "." + a.conversion.String() + "." +
		a.origin.Venue().ID() + "." + a.origin.Hub().Asset().Symbol() + "." + originConv + "." + a.origin.Asset().Symbol() +
		"->" +
		a.destination.Venue().ID() + "." + a.destination.Hub().Asset().Symbol() + "." + destinationConv + "." + a.destination.Asset().Symbol()
}

// InstructionID returns the stable id of the instruction of the given type
// along this relationship's path, or "" when the path does not exist.
func (a *Arb) InstructionID(t model.InstructionType) string {
	oV := a.origin.Venue().ID()
	dV := a.destination.Venue().ID()
	oHub := oV + "." + a.origin.Hub().Asset().Symbol()
	oMkt := oV + "." + a.origin.Asset().Symbol()
	dHub := dV + "." + a.destination.Hub().Asset().Symbol()
	dMkt := dV + "." + a.destination.Asset().Symbol()

	switch t {
	case model.InstructionDirect:
		return "DA:" + oHub + "->" + oMkt + "->" + dHub
	case model.InstructionOriginConversion:
		if a.originConversion == nil {
			return ""
		}
		ocHub := oV + "." + a.originConversion.Hub().Asset().Symbol()
		ocMkt := oV + "." + a.originConversion.Asset().Symbol()
		return "OC:" + ocHub + "->" + ocMkt + "->" + oMkt + "->" + dHub
	case model.InstructionDestinationConversion:
		if a.destinationConversion == nil {
			return ""
		}
		dcHub := dV + "." + a.destinationConversion.Hub().Asset().Symbol()
		dcMkt := dV + "." + a.destinationConversion.Asset().Symbol()
		return "DC:" + oHub + "->" + dMkt + "->" + dcMkt + "->" + dcHub
	}
	return ""
}

// OnUpdated registers fn for every instruction produced by a recomputation.
func (a *Arb) OnUpdated(fn func(model.ExecutionInstruction)) (cancel func()) {
	return a.updated.Subscribe(fn)
}

// OnWithdrawn registers fn for recomputations that produce no instruction.
func (a *Arb) OnWithdrawn(fn func()) (cancel func()) {
	return a.withdrawn.Subscribe(func(struct{}) { fn() })
}

// SubscribeToEvents wires recomputation to every statistic the relationship
// depends on. Calling it again is a no-op.
func (a *Arb) SubscribeToEvents() {
	if a.cancels != nil {
		return
	}
	stats := []*vwap.Stat{a.destination.Buy(), a.origin.Sell()}
	if a.originConversion != nil {
		stats = append(stats, a.originConversion.Sell())
	}
	if a.destinationConversion != nil {
		stats = append(stats, a.destinationConversion.Buy())
	}
	for _, s := range stats {
		a.cancels = append(a.cancels, s.OnUpdated(func(*vwap.Sample) { a.Recompute() }))
	}
}

// Unsubscribe detaches from every statistic.
func (a *Arb) Unsubscribe() {
	for _, cancel := range a.cancels {
		cancel()
	}
	a.cancels = nil
}

// Recompute publishes every current instruction on the updated feed, or
// signals withdrawal when there is none.
func (a *Arb) Recompute() {
	a.recomputes++
	insts := a.Instructions()
	if len(insts) == 0 {
		a.withdrawn.Publish(struct{}{})
		return
	}
	for _, inst := range insts {
		a.updated.Publish(inst)
	}
}

// Spread is the direct spread: destination buy minus origin sell.
func (a *Arb) Spread() float64 {
	return a.destination.Buy().Vwap() - a.origin.Sell().Vwap()
}

// SpreadPercent is Spread as a fraction of the origin price.
func (a *Arb) SpreadPercent() float64 {
	return ratio(a.Spread(), a.origin.Sell().Vwap())
}

func (a *Arb) OriginConversionSpread() float64 {
	if a.originConversion == nil {
		return math.NaN()
	}
	return a.destination.Buy().Vwap() - a.origin.Sell().Vwap()*a.originConversion.Sell().Vwap()
}

func (a *Arb) OriginConversionSpreadPercent() float64 {
	if a.originConversion == nil {
		return math.NaN()
	}
	return ratio(a.OriginConversionSpread(), a.origin.Sell().Vwap()*a.originConversion.Sell().Vwap())
}

func (a *Arb) DestinationConversionSpread() float64 {
	if a.destinationConversion == nil {
		return math.NaN()
	}
	return a.destination.Buy().Vwap()*a.destinationConversion.Buy().Vwap() - a.origin.Sell().Vwap()
}

func (a *Arb) DestinationConversionSpreadPercent() float64 {
	if a.destinationConversion == nil {
		return math.NaN()
	}
	return ratio(a.DestinationConversionSpread(), a.origin.Sell().Vwap())
}

// ConversionSpread is the reported conversion spread for the relationship.
func (a *Arb) ConversionSpread() float64 {
	s, _ := a.betterSpread(a.OriginConversionSpread(), a.DestinationConversionSpread())
	return s
}

// ConversionSpreadPercent is the reported conversion spread as a fraction.
func (a *Arb) ConversionSpreadPercent() float64 {
	s, _ := a.betterSpread(a.OriginConversionSpreadPercent(), a.DestinationConversionSpreadPercent())
	return s
}

// betterSpread picks the reported spread and the instruction type it came from.
// With both paths available the smaller absolute value wins; a NaN path
// always loses to a finite one.
func (a *Arb) betterSpread(origin, destination float64) (float64, model.InstructionType) {
	switch a.conversion {
	case ConversionEitherSide:
		switch {
		case math.IsNaN(origin):
			return destination, model.InstructionDestinationConversion
		case math.IsNaN(destination):
			return origin, model.InstructionOriginConversion
		case math.Abs(origin) < math.Abs(destination):
			return origin, model.InstructionOriginConversion
		default:
			return destination, model.InstructionDestinationConversion
		}
	case ConversionBuySide:
		return origin, model.InstructionOriginConversion
	case ConversionSellSide:
		return destination, model.InstructionDestinationConversion
	default:
		a.log.Warn("arb.missing_conversion_markets",
			zap.String("arb_id", a.ID()),
			zap.Stringer("conversion_type", a.conversion),
		)
		return math.NaN(), model.InstructionOriginConversion
	}
}

// Instructions computes the current instruction set. Instructions with a
// non-finite spread or a leg without data are left out. Under EITHER_SIDE
// the reported path comes last.
func (a *Arb) Instructions() []model.ExecutionInstruction {
	switch a.typ {
	case TypeSimple:
		return keep(a.directInstruction())
	case TypeComplex:
		switch a.conversion {
		case ConversionBuySide:
			return keep(a.originConversionInstruction())
		case ConversionSellSide:
			return keep(a.destinationConversionInstruction())
		case ConversionEitherSide:
			oc := a.originConversionInstruction()
			dc := a.destinationConversionInstruction()
			if _, best := a.betterSpread(oc.Spread, dc.Spread); best == model.InstructionOriginConversion {
				return keep(dc, oc)
			}
			return keep(oc, dc)
		default:
			a.log.Debug("arb.no_conversion_type", zap.String("arb_id", a.ID()))
		}
	default:
		a.log.Debug("arb.no_arb_type", zap.String("arb_id", a.ID()))
	}
	return nil
}

func (a *Arb) buyOperation() model.ExecutionOperation {
	return operation(a.origin, a.origin.Sell())
}

func (a *Arb) sellOperation() model.ExecutionOperation {
	return operation(a.destination, a.destination.Buy())
}

func (a *Arb) directInstruction() model.ExecutionInstruction {
	return model.ExecutionInstruction{
		ID:     a.InstructionID(model.InstructionDirect),
		Spread: a.SpreadPercent(),
		Type:   model.InstructionDirect,
		Buy:    a.buyOperation(),
		Sell:   a.sellOperation(),
	}
}

func (a *Arb) originConversionInstruction() model.ExecutionInstruction {
	convert := operation(a.originConversion, a.originConversion.Sell())
	return model.ExecutionInstruction{
		ID:      a.InstructionID(model.InstructionOriginConversion),
		Spread:  a.OriginConversionSpreadPercent(),
		Type:    model.InstructionOriginConversion,
		Buy:     a.buyOperation(),
		Sell:    a.sellOperation(),
		Convert: &convert,
	}
}

func (a *Arb) destinationConversionInstruction() model.ExecutionInstruction {
	convert := operation(a.destinationConversion, a.destinationConversion.Buy())
	return model.ExecutionInstruction{
		ID:      a.InstructionID(model.InstructionDestinationConversion),
		Spread:  a.DestinationConversionSpreadPercent(),
		Type:    model.InstructionDestinationConversion,
		Buy:     a.buyOperation(),
		Sell:    a.sellOperation(),
		Convert: &convert,
	}
}

func operation(m *topology.Market, s *vwap.Stat) model.ExecutionOperation {
	return model.NewOperation(m.Venue().ID(), m.Hub().Asset().Symbol(), m.Asset().Symbol(), s.Vwap(), s.Duration())
}

func keep(candidates ...model.ExecutionInstruction) []model.ExecutionInstruction {
	var out []model.ExecutionInstruction
	for _, inst := range candidates {
		if actionable(inst) {
			out = append(out, inst)
		}
	}
	return out
}

func actionable(inst model.ExecutionInstruction) bool {
	if !inst.Present() || math.IsNaN(inst.Spread) || math.IsInf(inst.Spread, 0) {
		return false
	}
	if inst.Buy.Price == 0 || inst.Sell.Price == 0 {
		return false
	}
	return inst.Convert == nil || inst.Convert.Price != 0
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return math.NaN()
	}
	return num / den
}
