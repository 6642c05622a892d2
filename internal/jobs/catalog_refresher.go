package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/catalog"
	"github.com/Checker-Finance/arbgraph/internal/metrics"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

// Notifier receives lifecycle events; *eventbus.EventBus satisfies it.
type Notifier interface {
	Publish(event interface{})
}

// CatalogRefresher periodically reloads the reference catalog so listings
// added after startup join the market graph.
type CatalogRefresher struct {
	logger   *zap.Logger
	source   catalog.Source
	graph    catalog.Registrar
	notifier Notifier
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCatalogRefresher constructs a background job that runs every interval.
// notifier may be nil.
func NewCatalogRefresher(logger *zap.Logger, src catalog.Source, g catalog.Registrar, notifier Notifier, interval time.Duration) *CatalogRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogRefresher{
		logger:   logger,
		source:   src,
		graph:    g,
		notifier: notifier,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the refresh loop until ctx is canceled or Stop is called.
func (r *CatalogRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("catalog_refresher.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("catalog_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("catalog_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the refresher.
func (r *CatalogRefresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RunOnce executes one refresh cycle.
func (r *CatalogRefresher) RunOnce(ctx context.Context) (catalog.Result, error) {
	start := time.Now()

	res, err := catalog.Load(ctx, r.source, r.graph, r.logger)
	if err != nil {
		metrics.IncError("catalog", "refresh_failed")
		r.logger.Error("catalog_refresher.refresh_failed", zap.Error(err))
		return res, err
	}

	if r.notifier != nil {
		r.notifier.Publish(model.CatalogRefreshed{
			Seeded:     res.Seeded,
			Blocked:    res.Blocked,
			Invalid:    res.Invalid,
			Duration:   time.Since(start),
			FinishedAt: time.Now().UTC(),
		})
	}

	r.logger.Info("catalog_refresher.success",
		zap.Int("seeded", res.Seeded),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}
