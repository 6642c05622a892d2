// Package graph owns the market topology and every discovered arbitrage
// relationship, runs the discovery sweep and exposes the throttled stream
// of execution instructions.
//
// A Graph is driven by one goroutine, Run. Topology, Arbs and the price
// statistics they subscribe to are only touched from that goroutine;
// everything else reaches them by posting closures with Post or Do.
package graph

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/arb"
	"github.com/Checker-Finance/arbgraph/internal/metrics"
	"github.com/Checker-Finance/arbgraph/internal/throttle"
	"github.com/Checker-Finance/arbgraph/internal/topology"
	"github.com/Checker-Finance/arbgraph/pkg/eventbus"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

var (
	// ErrStopped is returned when work is posted to a graph whose loop has exited.
	ErrStopped = errors.New("graph stopped")

	errAlreadyRunning = errors.New("graph already running")
)

// Config defines graph parameters.
type Config struct {
	SweepInterval  time.Duration
	ThrottleWindow time.Duration
	BasisSymbol    string
	BasisSize      float64
	Initiation     model.InitiationType
	InboxSize      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:  time.Second,
		ThrottleWindow: time.Second,
		BasisSymbol:    "BTC",
		BasisSize:      0.1,
		Initiation:     model.InitiationTaker,
		InboxSize:      1024,
	}
}

// Graph is the aggregate root of the detection engine.
type Graph struct {
	cfg Config
	log *zap.Logger
	bus *eventbus.EventBus

	// loop-confined
	registry  *topology.Registry
	arbs      map[string]*arb.Arb
	arbOrder  []*arb.Arb
	basis     *topology.Asset
	lastSweep time.Time
	sweeps    uint64

	throttles    *throttle.Manager[model.ExecutionInstruction]
	schedule     throttle.Scheduler
	instructions eventbus.Feed[model.ExecutionInstruction]

	inbox   chan func()
	stopped chan struct{}
	running atomic.Bool
	arbN    atomic.Int64

	mu     sync.RWMutex
	latest map[string]model.ExecutionInstruction // by arb id
}

// New creates a graph. bus may be nil when no asynchronous sinks are wired.
func New(cfg Config, log *zap.Logger, bus *eventbus.EventBus) *Graph {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = def.ThrottleWindow
	}
	if cfg.BasisSymbol == "" {
		cfg.BasisSymbol = def.BasisSymbol
	}
	if cfg.BasisSize <= 0 {
		cfg.BasisSize = def.BasisSize
	}
	if cfg.Initiation == "" {
		cfg.Initiation = def.Initiation
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if log == nil {
		log = zap.NewNop()
	}

	g := &Graph{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		registry: topology.NewRegistry(),
		arbs:     make(map[string]*arb.Arb),
		inbox:    make(chan func(), cfg.InboxSize),
		stopped:  make(chan struct{}),
		latest:   make(map[string]model.ExecutionInstruction),
	}
	// Throttle windows close on a timer goroutine; the flush itself runs on the loop.
	g.schedule = func(d time.Duration, f func()) {
		time.AfterFunc(d, func() {
			if err := g.Post(context.Background(), f); err != nil {
				g.log.Debug("graph.flush_dropped", zap.Error(err))
			}
		})
	}
	g.throttles = throttle.NewManager[model.ExecutionInstruction](throttle.Config{
		Window:   cfg.ThrottleWindow,
		Schedule: func(d time.Duration, f func()) { g.schedule(d, f) },
	})
	return g
}

// Config returns the effective configuration.
func (g *Graph) Config() Config { return g.cfg }

// Registry returns the topology registry. Only use it from the loop, inside Do or Post.
func (g *Graph) Registry() *topology.Registry { return g.registry }

// OnInstruction subscribes to the outward instruction stream. Handlers run
// on the loop goroutine and must not block.
func (g *Graph) OnInstruction(fn func(model.ExecutionInstruction)) (cancel func()) {
	return g.instructions.Subscribe(fn)
}

// Run drives the sweep timer and the inbox until ctx is canceled. The sweep
// timer is re-armed only after a sweep completes.
func (g *Graph) Run(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(g.stopped)

	timer := time.NewTimer(g.cfg.SweepInterval)
	defer timer.Stop()

	g.log.Info("graph.started",
		zap.Duration("sweep_interval", g.cfg.SweepInterval),
		zap.Duration("throttle_window", g.cfg.ThrottleWindow),
	)

	for {
		select {
		case <-ctx.Done():
			g.log.Info("graph.stopped", zap.Int64("arbs", g.arbN.Load()))
			return nil
		case fn := <-g.inbox:
			g.exec(fn)
		case <-timer.C:
			g.exec(func() { g.FindArbs() })
			timer.Reset(g.cfg.SweepInterval)
		}
	}
}

// exec runs one task; a panicking task is logged and the loop keeps going.
func (g *Graph) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncError("graph", "task_panic")
			g.log.Error("graph.task_panic", zap.Any("panic", r))
		}
	}()
	fn()
}

// Post queues fn for execution on the loop. It blocks while the inbox is full.
func (g *Graph) Post(ctx context.Context, fn func()) error {
	select {
	case <-g.stopped:
		return ErrStopped
	default:
	}
	select {
	case g.inbox <- fn:
		return nil
	case <-g.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the loop and waits for it to finish.
func (g *Graph) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := g.Post(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-g.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureMarket creates venue, hub and market on first reference. Loop only.
func (g *Graph) EnsureMarket(venue, hub, market string) error {
	_, err := g.registry.EnsureMarket(venue, hub, market)
	return err
}

// ArbCount returns the number of registered relationships. Safe from any goroutine.
func (g *Graph) ArbCount() int { return int(g.arbN.Load()) }

// Arb returns a registered relationship by id. Loop only.
func (g *Graph) Arb(id string) *arb.Arb { return g.arbs[id] }

// FindArbs runs one discovery sweep and returns how many relationships it
// registered. Loop only.
func (g *Graph) FindArbs() int {
	start := time.Now()
	candidates, registered := 0, 0

	assets := g.registry.Assets()
	for _, asset := range assets {
		markets := asset.Markets()
		for _, origin := range markets {
			for _, destination := range markets {
				if origin == destination {
					continue
				}
				candidates++
				a := arb.New(origin, destination, g.log)
				if a.Type() == arb.TypeNone {
					continue
				}
				id := a.ID()
				if _, ok := g.arbs[id]; ok {
					continue
				}
				g.register(id, a)
				registered++
			}
		}
	}
	g.mapBasis()

	g.lastSweep = time.Now()
	g.sweeps++
	metrics.ObserveDuration(metrics.SweepDuration, start)
	metrics.SetLastSweep(g.lastSweep, candidates)

	if registered > 0 {
		g.log.Info("graph.sweep_registered",
			zap.Int("registered", registered),
			zap.Int("candidates", candidates),
			zap.Int64("total_arbs", g.arbN.Load()),
		)
	}
	if g.bus != nil {
		g.bus.Publish(model.SweepCompleted{
			Assets:     len(assets),
			Candidates: candidates,
			Registered: registered,
			TotalArbs:  int(g.arbN.Load()),
			Duration:   time.Since(start),
			FinishedAt: g.lastSweep,
		})
	}
	return registered
}

func (g *Graph) register(id string, a *arb.Arb) {
	g.arbs[id] = a
	g.arbOrder = append(g.arbOrder, a)
	g.arbN.Add(1)

	th := g.throttles.Get(id, func(inst model.ExecutionInstruction) { g.forward(id, inst) })
	a.OnUpdated(func(inst model.ExecutionInstruction) {
		if !inst.Present() {
			return
		}
		if !th.Call(inst) {
			metrics.UpdatesCollapsed.Inc()
		}
	})
	// A withdrawal competes with pending instructions in the same window.
	a.OnWithdrawn(func() {
		if !th.Call(model.ExecutionInstruction{}) {
			metrics.UpdatesCollapsed.Inc()
		}
	})
	a.SubscribeToEvents()

	metrics.IncArbRegistered(a.Type().String(), a.ConversionType().String())
	g.log.Debug("graph.arb_registered",
		zap.String("arb_id", id),
		zap.Stringer("type", a.Type()),
		zap.Stringer("conversion_type", a.ConversionType()),
	)
	if g.bus != nil {
		g.bus.Publish(model.ArbDiscovered{
			ArbID:          id,
			Type:           a.Type().String(),
			ConversionType: a.ConversionType().String(),
			Asset:          a.Origin().Asset().Symbol(),
			Origin:         a.Origin().ID(),
			Destination:    a.Destination().ID(),
			DiscoveredAt:   time.Now().UTC(),
		})
	}
}

// forward is the single exit of the pipeline.
// forward records inst as the latest instruction of arbID and fans it out. An
// absent inst withdraws the arb's entry and is not published.
func (g *Graph) forward(arbID string, inst model.ExecutionInstruction) {
	if !inst.Present() {
		g.mu.Lock()
		_, had := g.latest[arbID]
		delete(g.latest, arbID)
		g.mu.Unlock()
		if had {
			g.log.Debug("graph.instruction_withdrawn", zap.String("arb_id", arbID))
		}
		return
	}

	g.mu.Lock()
	g.latest[arbID] = inst
	g.mu.Unlock()

	metrics.IncInstructionForwarded(inst.Type.String(), inst.Spread)
	g.instructions.Publish(inst)
	if g.bus != nil {
		g.bus.Publish(inst)
	}
}

func (g *Graph) mapBasis() {
	if g.basis != nil {
		return
	}
	if asset := g.registry.Asset(g.cfg.BasisSymbol); asset != nil {
		g.basis = asset
		g.log.Info("graph.basis_mapped",
			zap.String("symbol", g.cfg.BasisSymbol),
			zap.Float64("size", g.cfg.BasisSize),
		)
	}
}

// Instructions returns the latest forwarded instruction of every arb that
// still has one, sorted by instruction id.
// Safe from any goroutine.
func (g *Graph) Instructions() []model.ExecutionInstruction {
	g.mu.RLock()
	out := make([]model.ExecutionInstruction, 0, len(g.latest))
	for _, inst := range g.latest {
		out = append(out, inst)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instruction returns the latest forwarded instruction with the given id.
func (g *Graph) Instruction(id string) (model.ExecutionInstruction, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, inst := range g.latest {
		if inst.ID == id {
			return inst, true
		}
	}
	return model.ExecutionInstruction{}, false
}
