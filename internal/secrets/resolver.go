package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/arbgraph/pkg/secrets"
)

// Resolver resolves named configuration from a secrets provider, caching
// results locally to reduce API calls. It is generic over the resolved type.
//
// Secret naming convention: {env}/{service}/{kind}/{name}
type Resolver[T any] struct {
	logger   *zap.Logger
	prefix   string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
}

// NewResolver constructs a resolver for one kind of secret (e.g. "feeds").
func NewResolver[T any](
	logger *zap.Logger,
	env, service, kind string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
) *Resolver[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver[T]{
		logger:   logger,
		prefix:   strings.ToLower(fmt.Sprintf("%s/%s/%s/", env, service, kind)),
		provider: provider,
		cache:    cache,
	}
}

// SecretName builds the provider key for name.
func (r *Resolver[T]) SecretName(name string) string {
	return r.prefix + strings.ToLower(name)
}

// Resolve fetches or caches T for name. parse extracts T from the raw
// secret map and should validate required fields.
func (r *Resolver[T]) Resolve(ctx context.Context, name string, parse func(map[string]string) (T, error)) (T, error) {
	secretName := r.SecretName(name)

	v, hit, err := r.cache.GetOrLoad(secretName, func() (T, error) {
		raw, err := r.provider.GetSecret(ctx, secretName)
		if err != nil {
			r.logger.Warn("secrets.fetch_failed",
				zap.String("key", secretName),
				zap.Error(err))
			var zero T
			return zero, fmt.Errorf("resolve %q: %w", name, err)
		}
		parsed, err := parse(raw)
		if err != nil {
			var zero T
			return zero, fmt.Errorf("parse secret %q: %w", secretName, err)
		}
		return parsed, nil
	})
	if err != nil {
		metrics.IncError("secrets", "resolve_failed")
		return v, err
	}

	if hit {
		metrics.IncCacheHit("hit")
	} else {
		metrics.IncCacheHit("miss")
		r.logger.Info("secrets.resolved", zap.String("key", secretName))
	}
	return v, nil
}

// Discover lists the names that have a secret under this resolver's prefix.
func (r *Resolver[T]) Discover(ctx context.Context) ([]string, error) {
	names, err := r.provider.ListSecrets(ctx, r.prefix)
	if err != nil {
		return nil, fmt.Errorf("discover secrets: %w", err)
	}

	var out []string
	for _, full := range names {
		lower := strings.ToLower(full)
		if !strings.HasPrefix(lower, r.prefix) {
			continue
		}
		name := strings.TrimPrefix(lower, r.prefix)
		if name != "" && !strings.Contains(name, "/") {
			out = append(out, name)
		}
	}

	r.logger.Info("secrets.discovered",
		zap.String("prefix", r.prefix),
		zap.Strings("names", out),
	)
	return out, nil
}
