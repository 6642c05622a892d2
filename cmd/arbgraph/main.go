package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/api"
	"github.com/Checker-Finance/arbgraph/internal/catalog"
	"github.com/Checker-Finance/arbgraph/internal/config"
	"github.com/Checker-Finance/arbgraph/internal/feed"
	"github.com/Checker-Finance/arbgraph/internal/graph"
	"github.com/Checker-Finance/arbgraph/internal/httpclient"
	"github.com/Checker-Finance/arbgraph/internal/jobs"
	"github.com/Checker-Finance/arbgraph/internal/publisher"
	"github.com/Checker-Finance/arbgraph/internal/rabbitmq"
	"github.com/Checker-Finance/arbgraph/internal/rate"
	internalsecrets "github.com/Checker-Finance/arbgraph/internal/secrets"
	"github.com/Checker-Finance/arbgraph/internal/store"
	"github.com/Checker-Finance/arbgraph/pkg/breaker"
	"github.com/Checker-Finance/arbgraph/pkg/eventbus"
	"github.com/Checker-Finance/arbgraph/pkg/logger"
	"github.com/Checker-Finance/arbgraph/pkg/model"
	"github.com/Checker-Finance/arbgraph/pkg/secrets"
	"github.com/Checker-Finance/arbgraph/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)

	initiation := model.InitiationType(cfg.Initiation)
	if initiation != model.InitiationMaker && initiation != model.InitiationTaker {
		logg.Fatalw("invalid INITIATION", "value", cfg.Initiation)
	}
	bs := breaker.Settings{Failures: uint32(cfg.BreakerFailures), Cooldown: cfg.BreakerCooldown}

	// --- Market graph ---
	bus := eventbus.New()
	g := graph.New(graph.Config{
		SweepInterval:  cfg.SweepInterval,
		ThrottleWindow: cfg.ThrottleWindow,
		BasisSymbol:    cfg.BasisSymbol,
		BasisSize:      cfg.BasisSize,
		Initiation:     initiation,
		InboxSize:      cfg.InboxSize,
	}, logger.Named("graph"), bus)

	g.OnInstruction(func(inst model.ExecutionInstruction) {
		logger.L().Debug("graph.instruction_forwarded",
			zap.String("id", inst.ID),
			zap.Stringer("type", inst.Type),
			zap.Float64("spread", inst.Spread),
		)
	})

	graphDone := make(chan error, 1)
	go func() { graphDone <- g.Run(ctx) }()

	// --- Store (Redis, with the catalog pool when a DSN is set) ---
	var st *store.HybridStore
	if cfg.RedisAddr != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
		var err error
		st, err = store.NewHybrid(store.Options{
			RedisAddr: cfg.RedisAddr,
			RedisDB:   cfg.RedisDB,
			RedisPass: cfg.RedisPass,
			PGURL:     cfg.DatabaseURL,
			TTL:       cfg.InstructionTTL,
		}, logger.Named("store"))
		if err != nil {
			logg.Fatalw("failed to init store", "error", err)
		}
		st.Attach(bus)
	}

	// --- Catalog bootstrap ---
	var pg *pgxpool.Pool
	if st != nil {
		pg = st.PG
	} else if cfg.DatabaseURL != "" {
		logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))
		var err error
		if pg, err = pgxpool.New(ctx, cfg.DatabaseURL); err != nil {
			logg.Fatalw("failed to connect to postgres", "error", err)
		}
		defer pg.Close()
	}
	var src catalog.Source
	switch {
	case pg != nil:
		pgSrc, err := catalog.NewPGSource(pg, cfg.ProductTable)
		if err != nil {
			logg.Fatalw("invalid catalog table", "error", err)
		}
		src = pgSrc
	case cfg.CatalogFile != "":
		src = catalog.NewFileSource(cfg.CatalogFile)
	}
	if src != nil {
		if res, err := catalog.Load(ctx, src, g, logger.Named("catalog")); err != nil {
			logg.Warnw("catalog bootstrap failed", "error", err)
		} else {
			logg.Infow("catalog bootstrapped", "seeded", res.Seeded, "blocked", res.Blocked, "invalid", res.Invalid)
		}
	}
	var refresher *jobs.CatalogRefresher
	if src != nil && cfg.CatalogRefresh > 0 {
		refresher = jobs.NewCatalogRefresher(logger.Named("catalog"), src, g, bus, cfg.CatalogRefresh)
		go refresher.Start(ctx)
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	if cfg.PublishInstructions {
		pub, err := publisher.New(nc, cfg.ServiceName, bs)
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		if js, err := nc.JetStream(); err == nil {
			if err := publisher.EnsureStream(js, cfg.InstructionStream); err != nil {
				logg.Warnw("failed to ensure instruction stream", "stream", cfg.InstructionStream, "error", err)
			}
		}
		pub.Attach(bus)
	}

	// --- RabbitMQ ---
	var rmq *rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		rmq, err = rabbitmq.NewPublisher(cfg.RabbitMQURL, rabbitmq.Options{
			Queue:   cfg.RabbitMQQueue,
			TTL:     cfg.InstructionTTL,
			AppID:   cfg.ServiceName,
			Breaker: bs,
		}, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to init rabbitmq publisher", "error", err)
		}
		rmq.Attach(bus)
	}

	// --- Price feeds ---
	natsFeed := feed.NewNATSSource(nc, cfg.FeedSubject, feed.NewIngestor(g, "nats", logger.Named("feed")), logger.Named("feed"))
	if err := natsFeed.Start(ctx); err != nil {
		logg.Fatalw("failed to subscribe to price feed", "subject", cfg.FeedSubject, "error", err)
	}

	stopCleaner := make(chan struct{})
	var wsFeed *feed.WSSource
	if cfg.WSFeedURL != "" {
		wsURL, header := cfg.WSFeedURL, http.Header{}
		if cfg.WSFeedSecret != "" {
			creds, err := resolveFeedCredentials(ctx, cfg, stopCleaner)
			if err != nil {
				logg.Fatalw("failed to resolve feed credentials", "secret", cfg.WSFeedSecret, "error", err)
			}
			if creds.URL != "" {
				wsURL = creds.URL
			}
			header = creds.Header()
			logg.Infow("feed credentials resolved", "token", utils.MaskToken(creds.Token))
		}
		wsFeed = feed.NewWSSource(wsURL, header, feed.NewIngestor(g, "ws", logger.Named("feed")), cfg.WSReconnectWait, logger.Named("feed"))
		go wsFeed.Run(ctx)
	}
	if cfg.PollFeedURL != "" {
		limiter := rate.NewManager(rate.Config{RequestsPerSecond: cfg.PollRPS, Burst: 1})
		exec := httpclient.New(logger.Named("poll"), limiter, &http.Client{Timeout: cfg.PollInterval}, cfg.PollRetryMax, "poll")
		pollFeed := feed.NewPollSource(cfg.PollFeedURL, cfg.PollInterval, exec, feed.NewIngestor(g, "poll", logger.Named("feed")), logger.Named("feed"))
		go pollFeed.Run(ctx)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		DisableStartupMessage: true,
	})

	checks := map[string]api.HealthCheck{
		"graph": api.GraphHealth(g),
		"nats":  api.NATSHealth(nc),
	}
	var cache api.InstructionCache
	if st != nil {
		checks["store"] = st.HealthCheck
		cache = st
	}
	api.RegisterRoutes(app, api.NewGraphHandler(logger.Named("api"), g, cache), checks)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("["+cfg.ServiceName+"] running",
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"feed_subject", cfg.FeedSubject,
		"sweep_interval", cfg.SweepInterval,
		"throttle_window", cfg.ThrottleWindow,
	)

	graphExited := false
	select {
	case <-ctx.Done():
	case err := <-graphDone:
		graphExited = true
		logg.Errorw("graph loop exited", "error", err)
		stop()
	}
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	close(stopCleaner)
	if refresher != nil {
		refresher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := natsFeed.Stop(); err != nil {
		logg.Warnw("feed.stop_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if rmq != nil {
		if err := rmq.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logg.Warnw("store.close_failed", "error", err)
		}
	}
	if !graphExited {
		select {
		case <-graphDone:
		case <-shutdownCtx.Done():
			logg.Warn("graph loop did not stop before shutdown deadline")
		}
	}
}

// resolveFeedCredentials loads the WebSocket gateway secret through the cached resolver.
func resolveFeedCredentials(ctx context.Context, cfg *config.Config, stopCleaner <-chan struct{}) (feed.Credentials, error) {
	awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
	if err != nil {
		return feed.Credentials{}, fmt.Errorf("create AWS Secrets Manager provider: %w", err)
	}

	credCache := secrets.NewCache[feed.Credentials](cfg.CacheTTL)
	go credCache.StartCleaner(cfg.CleanupFreq, stopCleaner)

	resolver := internalsecrets.NewResolver(
		logger.Named("secrets"),
		cfg.Env, cfg.ServiceName, "feeds",
		awsProvider,
		credCache,
	)

	if names, err := resolver.Discover(ctx); err != nil {
		logger.S().Warnw("failed to discover feed secrets", "error", err)
	} else {
		logger.S().Infow("discovered feed secrets", "count", len(names), "feeds", names)
	}

	return resolver.Resolve(ctx, cfg.WSFeedSecret, feed.ParseCredentials)
}
