package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"

	pkgconfig "github.com/Checker-Finance/arbgraph/pkg/config"
)

// Config holds the core runtime configuration for a service instance.
// It supports environment-based initialization, with sensible defaults.
// An empty connection setting disables the collaborator that uses it.
type Config struct {
	ServiceName string // e.g. "arbgraph"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	AWSRegion   string

	Port             int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Engine
	SweepInterval  time.Duration
	ThrottleWindow time.Duration
	BasisSymbol    string
	BasisSize      float64
	Initiation     string // "MAKER" | "TAKER"
	InboxSize      int

	// Price ingestion
	NATSURL         string // e.g. nats://localhost:4222
	FeedSubject     string // NATS subject carrying price updates
	WSFeedURL       string
	WSFeedSecret    string // secret name under {env}/{service}/feeds/
	WSReconnectWait time.Duration
	PollFeedURL     string // REST snapshot endpoint, polled when set
	PollInterval    time.Duration
	PollRPS         float64
	PollRetryMax    int

	// Catalog bootstrap
	DatabaseURL    string
	ProductTable   string
	CatalogFile    string
	CatalogRefresh time.Duration // zero disables periodic reload

	// Sinks
	PublishInstructions bool
	InstructionStream   string
	RabbitMQURL         string
	RabbitMQQueue       string
	RedisAddr           string // e.g. localhost:6379
	RedisDB             int
	RedisPass           string
	InstructionTTL      time.Duration
	BreakerFailures     int           // consecutive sink failures before the breaker opens
	BreakerCooldown     time.Duration // time the breaker stays open

	CacheTTL    time.Duration // TTL for secret cache
	CleanupFreq time.Duration // frequency for cache cleanup goroutine
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: pkgconfig.GetEnv("SERVICE_NAME", "arbgraph"),
		Env:         pkgconfig.GetEnv("ENV", "dev"),
		LogLevel:    pkgconfig.GetEnv("LOG_LEVEL", "info"),
		AWSRegion:   pkgconfig.GetEnv("AWS_REGION", "us-east-2"),

		Port:             pkgconfig.GetEnvInt("ARBGRAPH_PORT", 9030),
		HTTPReadTimeout:  pkgconfig.GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: pkgconfig.GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  pkgconfig.GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),

		SweepInterval:  pkgconfig.GetEnvDuration("SWEEP_INTERVAL", time.Second),
		ThrottleWindow: pkgconfig.GetEnvDuration("THROTTLE_WINDOW", time.Second),
		BasisSymbol:    pkgconfig.GetEnv("BASIS_SYMBOL", "BTC"),
		BasisSize:      pkgconfig.GetEnvFloat("BASIS_SIZE", 0.1),
		Initiation:     strings.ToUpper(pkgconfig.GetEnv("INITIATION", "TAKER")),
		InboxSize:      pkgconfig.GetEnvInt("INBOX_SIZE", 1024),

		NATSURL:         pkgconfig.GetEnv("NATS_URL", "nats://localhost:4222"),
		FeedSubject:     pkgconfig.GetEnv("FEED_SUBJECT", "md.vwap.v1.>"),
		WSFeedURL:       pkgconfig.GetEnv("WS_FEED_URL", ""),
		WSFeedSecret:    pkgconfig.GetEnv("WS_FEED_SECRET", ""),
		WSReconnectWait: pkgconfig.GetEnvDuration("WS_RECONNECT_WAIT", 5*time.Second),
		PollFeedURL:     pkgconfig.GetEnv("POLL_FEED_URL", ""),
		PollInterval:    pkgconfig.GetEnvDuration("POLL_FEED_INTERVAL", 5*time.Second),
		PollRPS:         pkgconfig.GetEnvFloat("POLL_FEED_RPS", 2),
		PollRetryMax:    pkgconfig.GetEnvInt("POLL_FEED_RETRY_MAX", 2),

		DatabaseURL:    pkgconfig.GetEnv("DATABASE_URL", ""),
		ProductTable:   pkgconfig.GetEnv("PRODUCT_TABLE", "reference.venue_products"),
		CatalogFile:    pkgconfig.GetEnv("CATALOG_FILE", ""),
		CatalogRefresh: pkgconfig.GetEnvDuration("CATALOG_REFRESH_INTERVAL", 15*time.Minute),

		PublishInstructions: pkgconfig.GetEnvBool("PUBLISH_INSTRUCTIONS", true),
		InstructionStream:   pkgconfig.GetEnv("INSTRUCTION_STREAM", "ARB_EVENTS"),
		RabbitMQURL:         pkgconfig.GetEnv("RABBITMQ_URL", ""),
		RabbitMQQueue:       pkgconfig.GetEnv("RABBITMQ_QUEUE", "outbound.arb.instructions"),
		RedisAddr:           pkgconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             pkgconfig.GetEnvInt("REDIS_DB", 0),
		RedisPass:           pkgconfig.GetEnv("REDIS_PASS", ""),
		InstructionTTL:      pkgconfig.GetEnvDuration("INSTRUCTION_TTL", 30*time.Second),
		BreakerFailures:     pkgconfig.GetEnvInt("BREAKER_FAILURES", 5),
		BreakerCooldown:     pkgconfig.GetEnvDuration("BREAKER_COOLDOWN", 30*time.Second),

		CacheTTL:    pkgconfig.GetEnvDuration("CACHE_TTL", 24*time.Hour),
		CleanupFreq: pkgconfig.GetEnvDuration("CACHE_CLEANUP_FREQ", 10*time.Minute),
	}

	return cfg
}
