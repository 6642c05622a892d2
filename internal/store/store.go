package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/metrics"
	"github.com/Checker-Finance/arbgraph/pkg/eventbus"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

const (
	instructionKeyPrefix = "arb:instruction:"
	instructionIndexKey  = "arb:instructions"

	sinkName = "redis"
)

// ErrNotFound is returned when no live instruction exists for an id.
var ErrNotFound = errors.New("instruction not found")

// Store defines the contract for caching forwarded instructions.
type Store interface {
	SaveInstruction(ctx context.Context, inst model.ExecutionInstruction) error
	GetInstruction(ctx context.Context, id string) (*model.ExecutionInstruction, error)
	ListInstructions(ctx context.Context) ([]model.ExecutionInstruction, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore keeps the latest instruction per id in Redis. PG is the
// optional reference-catalog pool, shared with catalog bootstrap.
type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	ttl    time.Duration
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Options configure NewHybrid.
type Options struct {
	RedisAddr string
	RedisDB   int
	RedisPass string
	PGURL     string
	PGPool    PGPoolConfig
	TTL       time.Duration // lifetime of a cached instruction
}

// NewHybrid creates a Redis-first store, with a Postgres pool when PGURL is set.
func NewHybrid(opts Options, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		DB:       opts.RedisDB,
		Password: opts.RedisPass,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if opts.PGURL != "" {
		cfg, err := pgxpool.ParseConfig(opts.PGURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if opts.PGPool.MaxConns > 0 {
			cfg.MaxConns = opts.PGPool.MaxConns
		}
		if opts.PGPool.MinConns > 0 {
			cfg.MinConns = opts.PGPool.MinConns
		}
		if opts.PGPool.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = opts.PGPool.MaxConnLifetime
		}
		if opts.PGPool.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = opts.PGPool.MaxConnIdleTime
		}
		if opts.PGPool.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = opts.PGPool.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return newHybrid(rdb, pgPool, opts.TTL, logger), nil
}

func newHybrid(rdb *redis.Client, pg *pgxpool.Pool, ttl time.Duration, logger *zap.Logger) *HybridStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridStore{redis: rdb, PG: pg, ttl: ttl, logger: logger}
}

func instructionKey(id string) string { return instructionKeyPrefix + id }

// SaveInstruction overwrites the cached instruction for inst.ID and refreshes its TTL.
func (s *HybridStore) SaveInstruction(ctx context.Context, inst model.ExecutionInstruction) error {
	if !inst.Present() {
		return fmt.Errorf("instruction has no id")
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, instructionKey(inst.ID), data, s.ttl)
		pipe.SAdd(ctx, instructionIndexKey, inst.ID)
		return nil
	})
	metrics.ObserveDuration(metrics.SinkLatency, start, sinkName)
	if err != nil {
		metrics.IncSinkMessage(sinkName, "error")
		s.logger.Error("store.redis.save_instruction_failed",
			zap.String("instruction_id", inst.ID),
			zap.Error(err),
		)
		return err
	}
	metrics.IncSinkMessage(sinkName, "ok")
	return nil
}

func (s *HybridStore) GetInstruction(ctx context.Context, id string) (*model.ExecutionInstruction, error) {
	data, err := s.redis.Get(ctx, instructionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var inst model.ExecutionInstruction
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instruction %s: %w", id, err)
	}
	return &inst, nil
}

// ListInstructions returns every live instruction sorted by id. Index
// entries whose key has expired are pruned.
func (s *HybridStore) ListInstructions(ctx context.Context) ([]model.ExecutionInstruction, error) {
	ids, err := s.redis.SMembers(ctx, instructionIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = instructionKey(id)
	}
	vals, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.ExecutionInstruction, 0, len(vals))
	var expired []interface{}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var inst model.ExecutionInstruction
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			s.logger.Warn("store.redis.decode_failed", zap.String("instruction_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, inst)
	}
	if len(expired) > 0 {
		if err := s.redis.SRem(ctx, instructionIndexKey, expired...).Err(); err != nil {
			s.logger.Warn("store.redis.prune_failed", zap.Error(err))
		}
	}
	return out, nil
}

// Attach subscribes the store to forwarded instructions on bus. Saves run one at a
// time in forward order so a newer instruction is never overwritten by an older one.
func (s *HybridStore) Attach(bus *eventbus.EventBus) {
	bus.SubscribeOrdered(model.ExecutionInstruction{}, func(event interface{}) {
		inst, ok := event.(model.ExecutionInstruction)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.SaveInstruction(ctx, inst); err != nil {
			s.logger.Warn("store.save_instruction_failed", zap.String("instruction_id", inst.ID), zap.Error(err))
		}
	}, eventbus.DefaultQueueSize)
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
