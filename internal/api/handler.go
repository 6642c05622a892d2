package api

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/arb"
	"github.com/Checker-Finance/arbgraph/internal/graph"
	"github.com/Checker-Finance/arbgraph/internal/store"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

// GraphReader is the read side of the market graph.
type GraphReader interface {
	Instructions() []model.ExecutionInstruction
	Instruction(id string) (model.ExecutionInstruction, bool)
	Arbs(ctx context.Context) ([]graph.ArbInfo, error)
	Summary(ctx context.Context) (graph.Summary, error)
}

// InstructionCache is the shared instruction cache, read when the local graph has no answer.
type InstructionCache interface {
	GetInstruction(ctx context.Context, id string) (*model.ExecutionInstruction, error)
	ListInstructions(ctx context.Context) ([]model.ExecutionInstruction, error)
}

// GraphHandler serves instructions, arbs and the graph summary.
type GraphHandler struct {
	logger *zap.Logger
	graph  GraphReader
	cache  InstructionCache
}

// NewGraphHandler creates a handler. cache is optional.
func NewGraphHandler(logger *zap.Logger, g GraphReader, cache InstructionCache) *GraphHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphHandler{logger: logger, graph: g, cache: cache}
}

// InstructionList is the body of GET /api/v1/instructions.
type InstructionList struct {
	Count        int                          `json:"count"`
	Source       string                       `json:"source"`
	Instructions []model.ExecutionInstruction `json:"instructions"`
}

type instructionFilter struct {
	typ       *model.InstructionType
	minSpread *float64
}

func parseInstructionFilter(c *fiber.Ctx) (instructionFilter, error) {
	var f instructionFilter
	if s := c.Query("type"); s != "" {
		t, err := model.ParseInstructionType(strings.ToUpper(s))
		if err != nil {
			return f, err
		}
		f.typ = &t
	}
	if s := c.Query("min_spread"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return f, errors.New("min_spread must be a number")
		}
		f.minSpread = &v
	}
	return f, nil
}

func (f instructionFilter) keep(inst model.ExecutionInstruction) bool {
	if f.typ != nil && inst.Type != *f.typ {
		return false
	}
	if f.minSpread != nil && inst.Spread < *f.minSpread {
		return false
	}
	return true
}

// ListInstructions returns the latest forwarded instruction per id.
// Query: type, min_spread, source=graph|cache.
func (h *GraphHandler) ListInstructions(c *fiber.Ctx) error {
	f, err := parseInstructionFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	source := c.Query("source", "graph")
	var all []model.ExecutionInstruction
	switch source {
	case "graph":
		all = h.graph.Instructions()
	case "cache":
		if h.cache == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "instruction cache not configured"})
		}
		all, err = h.cache.ListInstructions(c.UserContext())
		if err != nil {
			h.logger.Error("api.list_instructions.cache_failed", zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "source must be graph or cache"})
	}

	out := make([]model.ExecutionInstruction, 0, len(all))
	for _, inst := range all {
		if f.keep(inst) {
			out = append(out, inst)
		}
	}
	return c.JSON(InstructionList{Count: len(out), Source: source, Instructions: out})
}

// GetInstruction returns one instruction, falling back to the cache.
func (h *GraphHandler) GetInstruction(c *fiber.Ctx) error {
	id, err := url.PathUnescape(c.Params("id"))
	if err != nil || id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id is required"})
	}
	if inst, ok := h.graph.Instruction(id); ok {
		return c.JSON(inst)
	}
	if h.cache != nil {
		inst, err := h.cache.GetInstruction(c.UserContext(), id)
		switch {
		case err == nil:
			return c.JSON(inst)
		case !errors.Is(err, store.ErrNotFound):
			h.logger.Error("api.get_instruction.cache_failed", zap.String("id", id), zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "instruction not found"})
}

// ListArbs returns registered relationships. Query: type, asset.
func (h *GraphHandler) ListArbs(c *fiber.Ctx) error {
	var typ *arb.Type
	if s := c.Query("type"); s != "" {
		t, err := arb.ParseType(s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		typ = &t
	}
	asset := c.Query("asset")

	arbs, err := h.graph.Arbs(c.UserContext())
	if err != nil {
		return h.graphUnavailable(c, "api.list_arbs.failed", err)
	}
	out := make([]graph.ArbInfo, 0, len(arbs))
	for _, a := range arbs {
		if typ != nil && a.Type != typ.String() {
			continue
		}
		if asset != "" && a.Asset != asset {
			continue
		}
		out = append(out, a)
	}
	return c.JSON(fiber.Map{"count": len(out), "arbs": out})
}

// GetGraph returns the graph summary.
func (h *GraphHandler) GetGraph(c *fiber.Ctx) error {
	s, err := h.graph.Summary(c.UserContext())
	if err != nil {
		return h.graphUnavailable(c, "api.graph_summary.failed", err)
	}
	return c.JSON(s)
}

func (h *GraphHandler) graphUnavailable(c *fiber.Ctx, event string, err error) error {
	h.logger.Warn(event, zap.Error(err))
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
}
