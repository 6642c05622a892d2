package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/arbgraph/internal/topology"
	"github.com/Checker-Finance/arbgraph/internal/vwap"
)

// syncPoster runs posted work immediately on the calling goroutine.
type syncPoster struct {
	registry *topology.Registry
	err      error
	posts    int
}

func newSyncPoster() *syncPoster { return &syncPoster{registry: topology.NewRegistry()} }

func (p *syncPoster) Post(_ context.Context, fn func()) error {
	if p.err != nil {
		return p.err
	}
	p.posts++
	fn()
	return nil
}

func (p *syncPoster) Registry() *topology.Registry { return p.registry }

func TestDecode_ObjectAndArray(t *testing.T) {
	one, err := Decode([]byte(` {"venue":"A","hub":"BTC","market":"ETH","side":"buy","price":"0.052","window_ms":60000}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "A", one[0].Venue)
	assert.Equal(t, vwap.SideBuy, one[0].Side)

	many, err := Decode([]byte(`[{"venue":"A"},{"venue":"B"}]`))
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = Decode([]byte("  "))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	_, err = Decode([]byte(`{"venue":`))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestUpdate_Parse(t *testing.T) {
	base := func(price string) Update {
		return Update{Venue: "A", Hub: "BTC", Market: "ETH", Side: vwap.SideSell, Price: []byte(price), WindowMS: 1500}
	}

	p, err := base(`"0.05"`).Parse()
	require.NoError(t, err)
	assert.Equal(t, "0.05", p.Price.String())
	assert.False(t, p.Clear)
	assert.Equal(t, 1500*time.Millisecond, p.Window)

	p, err = base(`0.051`).Parse()
	require.NoError(t, err)
	assert.Equal(t, "0.051", p.Price.String(), "bare JSON numbers are accepted")

	for _, clear := range []string{``, `null`, `""`, `"0"`} {
		p, err = base(clear).Parse()
		require.NoError(t, err, clear)
		assert.True(t, p.Clear, clear)
	}
}

func TestUpdate_ParseRejects(t *testing.T) {
	cases := map[string]Update{
		"missing venue": {Hub: "BTC", Market: "ETH", Side: vwap.SideBuy, Price: []byte(`"1"`)},
		"bad side":      {Venue: "A", Hub: "BTC", Market: "ETH", Side: "mid", Price: []byte(`"1"`)},
		"self quoted":   {Venue: "A", Hub: "BTC", Market: "BTC", Side: vwap.SideBuy, Price: []byte(`"1"`)},
		"negative":      {Venue: "A", Hub: "BTC", Market: "ETH", Side: vwap.SideBuy, Price: []byte(`"-1"`)},
		"not a number":  {Venue: "A", Hub: "BTC", Market: "ETH", Side: vwap.SideBuy, Price: []byte(`"abc"`)},
		"bad window":    {Venue: "A", Hub: "BTC", Market: "ETH", Side: vwap.SideBuy, Price: []byte(`"1"`), WindowMS: -1},
	}
	for name, u := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := u.Parse()
			assert.ErrorIs(t, err, ErrInvalidUpdate)
		})
	}
}

func TestIngestor_HandleAppliesAndClears(t *testing.T) {
	poster := newSyncPoster()
	ing := NewIngestor(poster, "test", nil)

	err := ing.Handle(context.Background(), []byte(`[
		{"venue":"A","hub":"BTC","market":"ETH","side":"sell","price":"0.05","window_ms":60000},
		{"venue":"B","hub":"BTC","market":"ETH","side":"buy","price":"0.052","window_ms":30000}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 1, poster.posts, "one frame is applied as one task")

	a := poster.registry.Market("A", "BTC", "ETH")
	b := poster.registry.Market("B", "BTC", "ETH")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, 0.05, a.Sell().Vwap())
	assert.Equal(t, time.Minute, a.Sell().Duration())
	assert.Equal(t, 0.052, b.Buy().Vwap())

	require.NoError(t, ing.Handle(context.Background(), []byte(`{"venue":"A","hub":"BTC","market":"ETH","side":"sell","price":null}`)))
	assert.Equal(t, 0.0, a.Sell().Vwap())
}

func TestIngestor_HandleDropsInvalidKeepsValid(t *testing.T) {
	poster := newSyncPoster()
	ing := NewIngestor(poster, "test", nil)

	err := ing.Handle(context.Background(), []byte(`[
		{"venue":"A","hub":"BTC","market":"ETH","side":"sideways","price":"1"},
		{"venue":"A","hub":"BTC","market":"ETH","side":"buy","price":"0.049"}
	]`))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	assert.Equal(t, 0.049, poster.registry.Market("A", "BTC", "ETH").Buy().Vwap())
}

func TestIngestor_HandleAllInvalidDoesNotPost(t *testing.T) {
	poster := newSyncPoster()
	ing := NewIngestor(poster, "test", nil)

	err := ing.Handle(context.Background(), []byte(`{"venue":"A","hub":"BTC","market":"BTC","side":"buy","price":"1"}`))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	assert.Equal(t, 0, poster.posts)
	assert.Nil(t, poster.registry.Venue("A"), "rejected updates never create topology")
}

func TestIngestor_HandlePostError(t *testing.T) {
	poster := newSyncPoster()
	poster.err = errors.New("graph stopped")
	ing := NewIngestor(poster, "test", nil)

	err := ing.Handle(context.Background(), []byte(`{"venue":"A","hub":"BTC","market":"ETH","side":"buy","price":"1"}`))
	assert.ErrorContains(t, err, "graph stopped")
	assert.NotErrorIs(t, err, ErrInvalidUpdate)
}

func TestParseCredentials(t *testing.T) {
	c, err := ParseCredentials(map[string]string{"url": "wss://feed", "token": "t"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer t", c.Header().Get("Authorization"))

	_, err = ParseCredentials(map[string]string{"url": "wss://feed"})
	assert.ErrorContains(t, err, "token")
}
