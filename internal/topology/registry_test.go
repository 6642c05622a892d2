package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreateAssetIsIdempotent(t *testing.T) {
	r := NewRegistry()

	a := r.GetOrCreateAsset("ETH")
	b := r.GetOrCreateAsset("ETH")
	c := r.GetOrCreateAsset("eth")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c, "lookup is case-sensitive")
	assert.Len(t, r.Assets(), 2)
	assert.Nil(t, r.Asset("BTC"))
}

func TestVenue_GetOrCreateHubRegistersWithAsset(t *testing.T) {
	r := NewRegistry()
	v := r.GetOrCreateVenue("A")

	h := v.GetOrCreateHub("BTC")
	assert.Same(t, h, v.GetOrCreateHub("BTC"))
	assert.Equal(t, "A_BTC", h.ID())
	assert.Same(t, v, h.Venue())

	btc := r.Asset("BTC")
	require.NotNil(t, btc)
	assert.Equal(t, []*Hub{h}, btc.Hubs())

	r.GetOrCreateVenue("B").GetOrCreateHub("BTC")
	assert.Len(t, btc.Hubs(), 2)
}

func TestHub_GetOrCreateMarket(t *testing.T) {
	r := NewRegistry()
	h := r.GetOrCreateVenue("A").GetOrCreateHub("BTC")

	m, err := h.GetOrCreateMarket("ETH")
	require.NoError(t, err)
	again, err := h.GetOrCreateMarket("ETH")
	require.NoError(t, err)

	assert.Same(t, m, again)
	assert.Equal(t, "A.BTC.ETH", m.ID())
	assert.Equal(t, "ETH", m.Asset().Symbol())
	assert.Same(t, h, m.Hub())
	assert.Equal(t, []*Market{m}, r.Asset("ETH").Markets())
}

func TestHub_GetOrCreateMarketRejectsSelfQuote(t *testing.T) {
	r := NewRegistry()
	h := r.GetOrCreateVenue("A").GetOrCreateHub("BTC")

	m, err := h.GetOrCreateMarket("BTC")
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrSelfQuoted)
	assert.Empty(t, h.Markets())
}

func TestRegistry_MarketLookupDoesNotCreate(t *testing.T) {
	r := NewRegistry()

	assert.Nil(t, r.Market("A", "BTC", "ETH"))
	assert.Nil(t, r.Venue("A"))

	m, err := r.EnsureMarket("A", "BTC", "ETH")
	require.NoError(t, err)
	assert.Same(t, m, r.Market("A", "BTC", "ETH"))
	assert.Nil(t, r.Market("A", "USD", "ETH"))
	assert.Nil(t, r.Venue("A").Hub("USD"))
}

func TestRegistry_EnsureMarketWrapsSelfQuote(t *testing.T) {
	r := NewRegistry()
	_, err := r.EnsureMarket("A", "BTC", "BTC")
	assert.ErrorIs(t, err, ErrSelfQuoted)
	assert.Contains(t, err.Error(), "A.BTC.BTC")
}

func TestRegistry_Counts(t *testing.T) {
	r := NewRegistry()
	for _, k := range [][3]string{
		{"A", "BTC", "ETH"},
		{"A", "USD", "ETH"},
		{"A", "USD", "BTC"},
		{"B", "BTC", "ETH"},
	} {
		_, err := r.EnsureMarket(k[0], k[1], k[2])
		require.NoError(t, err)
	}

	assert.Equal(t, Counts{Assets: 3, Venues: 2, Hubs: 3, Markets: 4}, r.Counts())
}
