package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/arbgraph/internal/graph"
	"github.com/Checker-Finance/arbgraph/internal/store"
	"github.com/Checker-Finance/arbgraph/pkg/model"
)

// --- Mocks ---

type mockGraph struct {
	instructions []model.ExecutionInstruction
	arbs         []graph.ArbInfo
	summary      graph.Summary
	err          error
}

func (m *mockGraph) Instructions() []model.ExecutionInstruction { return m.instructions }

func (m *mockGraph) Instruction(id string) (model.ExecutionInstruction, bool) {
	for _, inst := range m.instructions {
		if inst.ID == id {
			return inst, true
		}
	}
	return model.ExecutionInstruction{}, false
}

func (m *mockGraph) Arbs(context.Context) ([]graph.ArbInfo, error) { return m.arbs, m.err }

func (m *mockGraph) Summary(context.Context) (graph.Summary, error) { return m.summary, m.err }

type mockCache struct {
	items map[string]model.ExecutionInstruction
	err   error
}

func (m *mockCache) GetInstruction(_ context.Context, id string) (*model.ExecutionInstruction, error) {
	if m.err != nil {
		return nil, m.err
	}
	inst, ok := m.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inst, nil
}

func (m *mockCache) ListInstructions(context.Context) ([]model.ExecutionInstruction, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]model.ExecutionInstruction, 0, len(m.items))
	for _, inst := range m.items {
		out = append(out, inst)
	}
	return out, nil
}

// --- Test Helpers ---

const (
	directID = "DA:A.BTC->A.ETH->B.BTC"
	dcID     = "DC:A.BTC->B.ETH->B.USD->B.BTC"
)

func fixtureGraph() *mockGraph {
	return &mockGraph{
		instructions: []model.ExecutionInstruction{
			{ID: directID, Spread: 0.04, Type: model.InstructionDirect},
			{ID: dcID, Spread: -0.02, Type: model.InstructionDestinationConversion},
		},
		arbs: []graph.ArbInfo{
			{ID: "SIMPLE.NONE.A.BTC.NULL.ETH->B.BTC.NULL.ETH", Type: "SIMPLE", ConversionType: "NONE", Asset: "ETH"},
			{ID: "COMPLEX.EITHER_SIDE.A.BTC.BTC.ETH->B.USD.USD.ETH", Type: "COMPLEX", ConversionType: "EITHER_SIDE", Asset: "ETH"},
			{ID: "SIMPLE.NONE.A.USD.NULL.BTC->B.USD.NULL.BTC", Type: "SIMPLE", ConversionType: "NONE", Asset: "BTC"},
		},
		summary: graph.Summary{Arbs: 3, Initiation: model.InitiationTaker},
	}
}

func newTestApp(g GraphReader, cache InstructionCache, checks map[string]HealthCheck) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app, NewGraphHandler(zap.NewNop(), g, cache), checks)
	return app
}

func get(t *testing.T, app *fiber.App, target string) (*http.Response, []byte) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, target, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

// --- Instruction Tests ---

func TestListInstructions_All(t *testing.T) {
	app := newTestApp(fixtureGraph(), nil, nil)

	resp, body := get(t, app, "/api/v1/instructions")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var list InstructionList
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, "graph", list.Source)
}

func TestListInstructions_Filters(t *testing.T) {
	app := newTestApp(fixtureGraph(), nil, nil)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "by type", query: "?type=destination_conversion", want: []string{dcID}},
		{name: "by min spread", query: "?min_spread=0", want: []string{directID}},
		{name: "negative min spread", query: "?min_spread=-0.05", want: []string{directID, dcID}},
		{name: "type and spread", query: "?type=DIRECT&min_spread=0.05", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, app, "/api/v1/instructions"+tt.query)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			var list InstructionList
			require.NoError(t, json.Unmarshal(body, &list))
			ids := []string{}
			for _, inst := range list.Instructions {
				ids = append(ids, inst.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestListInstructions_BadQuery(t *testing.T) {
	app := newTestApp(fixtureGraph(), nil, nil)

	for _, q := range []string{"?type=SIDEWAYS", "?min_spread=lots", "?source=disk", "?source=cache"} {
		resp, _ := get(t, app, "/api/v1/instructions"+q)
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestListInstructions_FromCache(t *testing.T) {
	cache := &mockCache{items: map[string]model.ExecutionInstruction{
		"DA:X": {ID: "DA:X", Spread: 0.01, Type: model.InstructionDirect},
	}}
	app := newTestApp(&mockGraph{}, cache, nil)

	resp, body := get(t, app, "/api/v1/instructions?source=cache")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var list InstructionList
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, "cache", list.Source)
	require.Len(t, list.Instructions, 1)
	assert.Equal(t, "DA:X", list.Instructions[0].ID)

	cache.err = errors.New("redis down")
	resp, _ = get(t, app, "/api/v1/instructions?source=cache")
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}

func TestGetInstruction_FromGraph(t *testing.T) {
	app := newTestApp(fixtureGraph(), nil, nil)

	resp, body := get(t, app, "/api/v1/instructions/"+url.PathEscape(directID))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var inst model.ExecutionInstruction
	require.NoError(t, json.Unmarshal(body, &inst))
	assert.Equal(t, directID, inst.ID)
	assert.Equal(t, 0.04, inst.Spread)
}

func TestGetInstruction_FallsBackToCache(t *testing.T) {
	cache := &mockCache{items: map[string]model.ExecutionInstruction{
		"OC:A.USD->A.BTC->A.ETH->B.USD": {ID: "OC:A.USD->A.BTC->A.ETH->B.USD", Type: model.InstructionOriginConversion},
	}}
	app := newTestApp(fixtureGraph(), cache, nil)

	resp, body := get(t, app, "/api/v1/instructions/"+url.PathEscape("OC:A.USD->A.BTC->A.ETH->B.USD"))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ORIGIN_CONVERSION"`)

	resp, _ = get(t, app, "/api/v1/instructions/"+url.PathEscape("DA:missing"))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	cache.err = errors.New("redis down")
	resp, _ = get(t, app, "/api/v1/instructions/"+url.PathEscape("DA:missing"))
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}

func TestGetInstruction_NotFoundWithoutCache(t *testing.T) {
	app := newTestApp(fixtureGraph(), nil, nil)

	resp, _ := get(t, app, "/api/v1/instructions/"+url.PathEscape("DA:missing"))
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

// --- Arb / Graph Tests ---

func TestListArbs(t *testing.T) {
	app := newTestApp(fixtureGraph(), nil, nil)

	tests := []struct {
		query string
		want  int
	}{
		{query: "", want: 3},
		{query: "?type=simple", want: 2},
		{query: "?type=COMPLEX", want: 1},
		{query: "?asset=BTC", want: 1},
		{query: "?type=SIMPLE&asset=ETH", want: 1},
	}
	for _, tt := range tests {
		resp, body := get(t, app, "/api/v1/arbs"+tt.query)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		var out struct {
			Count int             `json:"count"`
			Arbs  []graph.ArbInfo `json:"arbs"`
		}
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, tt.want, out.Count, tt.query)
		assert.Len(t, out.Arbs, tt.want, tt.query)
	}

	resp, _ := get(t, app, "/api/v1/arbs?type=WEIRD")
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestGetGraph(t *testing.T) {
	app := newTestApp(fixtureGraph(), nil, nil)

	resp, body := get(t, app, "/api/v1/graph")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var s graph.Summary
	require.NoError(t, json.Unmarshal(body, &s))
	assert.Equal(t, 3, s.Arbs)
	assert.Equal(t, model.InitiationTaker, s.Initiation)
}

func TestGraphStopped_ServiceUnavailable(t *testing.T) {
	app := newTestApp(&mockGraph{err: graph.ErrStopped}, nil, nil)

	resp, _ := get(t, app, "/api/v1/graph")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = get(t, app, "/api/v1/arbs")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

// --- Health / Metrics Tests ---

type fakeNATS struct {
	connected bool
	flushErr  error
}

func (f *fakeNATS) IsConnected() bool                { return f.connected }
func (f *fakeNATS) FlushTimeout(time.Duration) error { return f.flushErr }

func TestHealth(t *testing.T) {
	g := fixtureGraph()
	checks := map[string]HealthCheck{
		"graph": GraphHealth(g),
		"nats":  NATSHealth(&fakeNATS{connected: true}),
	}
	app := newTestApp(g, nil, checks)

	resp, body := get(t, app, "/health")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","checks":{"graph":"ok","nats":"ok"}}`, string(body))
}

func TestHealth_Degraded(t *testing.T) {
	g := &mockGraph{err: graph.ErrStopped}
	checks := map[string]HealthCheck{
		"graph": GraphHealth(g),
		"nats":  NATSHealth(&fakeNATS{connected: false}),
		"store": func(context.Context) error { return nil },
	}
	app := newTestApp(g, nil, checks)

	resp, body := get(t, app, "/health")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"status":"degraded","checks":{"graph":"graph stopped","nats":"disconnected","store":"ok"}}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(fixtureGraph(), nil, nil)

	resp, body := get(t, app, "/metrics")
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
