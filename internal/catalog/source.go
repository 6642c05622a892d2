package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/pkg/model"
)

// Source lists catalog products.
type Source interface {
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// Querier is the part of *pgxpool.Pool the Postgres source uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGSource reads products from a reference table.
type PGSource struct {
	db    Querier
	table string
}

// NewPGSource reads from table, given as "schema.name" or "name".
func NewPGSource(db Querier, table string) (*PGSource, error) {
	parts := strings.Split(table, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid product table %q", table)
		}
	}
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid product table %q", table)
	}
	return &PGSource{db: db, table: pgx.Identifier(parts).Sanitize()}, nil
}

func (s *PGSource) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.db.Query(ctx, `
		SELECT venue_code, instrument_symbol, product_name, is_blocked, as_of
		FROM `+s.table+`
		ORDER BY venue_code, instrument_symbol;
	`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(
			&p.VenueCode,
			&p.InstrumentSymbol,
			&p.ProductName,
			&p.IsBlocked,
			&p.AsOf,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read products: %w", err)
	}
	return products, nil
}

// FileSource reads products from a JSON array on disk.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) ListProducts(context.Context) ([]model.Product, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var products []model.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog file: %w", err)
	}
	return products, nil
}

// Graph is the part of the market graph seeding needs.
type Graph interface {
	Do(ctx context.Context, fn func()) error
}

// Registrar exposes the registry to code already running on the loop.
type Registrar interface {
	Graph
	EnsureMarket(venue, hub, market string) error
}

// Result counts what a Seed call did.
type Result struct {
	Seeded  int `json:"seeded"`
	Blocked int `json:"blocked"`
	Invalid int `json:"invalid"`
}

// Seed creates a market for every unblocked product. Malformed symbols are
// logged and skipped; the whole batch runs as one task on the loop.
func Seed(ctx context.Context, g Registrar, products []model.Product, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res Result
	err := g.Do(ctx, func() {
		for _, p := range products {
			if p.IsBlocked {
				res.Blocked++
				continue
			}
			venue := strings.TrimSpace(p.VenueCode)
			in, err := ParseInstrument(p.InstrumentSymbol)
			if err == nil && venue == "" {
				err = fmt.Errorf("%w: missing venue", ErrBadInstrument)
			}
			if err == nil {
				err = g.EnsureMarket(venue, in.Hub, in.Market)
			}
			if err != nil {
				res.Invalid++
				logger.Warn("catalog.invalid_product",
					zap.String("venue", p.VenueCode),
					zap.String("instrument", p.InstrumentSymbol),
					zap.Error(err),
				)
				continue
			}
			res.Seeded++
		}
	})
	if err != nil {
		return res, fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info("catalog.seeded",
		zap.Int("seeded", res.Seeded),
		zap.Int("blocked", res.Blocked),
		zap.Int("invalid", res.Invalid),
	)
	return res, nil
}

// Load lists products from src and seeds them.
func Load(ctx context.Context, src Source, g Registrar, logger *zap.Logger) (Result, error) {
	products, err := src.ListProducts(ctx)
	if err != nil {
		return Result{}, err
	}
	return Seed(ctx, g, products, logger)
}
