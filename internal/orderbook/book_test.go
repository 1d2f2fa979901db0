package orderbook

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireBijection(t *testing.T, b *Book) {
	t.Helper()

	for _, side := range []struct {
		levels map[float64]level
		index  *PriceIndex
	}{
		{b.bids, b.bidPrices},
		{b.asks, b.askPrices},
	} {
		require.Equal(t, len(side.levels), side.index.Len())
		for _, price := range side.index.Keys() {
			_, ok := side.levels[price]
			require.True(t, ok, "index key %v missing from level map", price)
		}
	}
}

func TestUpdateOrderInsertAndQuery(t *testing.T) {
	b := New("ETH-USD", "Coinbase")

	require.NoError(t, b.UpdateOrder(Bid, 100.0, 2.0, 1))
	require.NoError(t, b.UpdateOrder(Ask, 101.0, 3.0, 1))

	qty, ok := b.BidQuantity(100.0)
	require.True(t, ok)
	assert.Equal(t, 2.0, qty)

	qty, ok = b.AskQuantity(101.0)
	require.True(t, ok)
	assert.Equal(t, 3.0, qty)

	_, ok = b.BidQuantity(99.0)
	assert.False(t, ok)

	requireBijection(t, b)
}

func TestUpdateOrderIsIdempotent(t *testing.T) {
	b := New("ETH-USD", "Coinbase")

	require.NoError(t, b.UpdateOrder(Bid, 100.0, 2.0, 5))
	require.NoError(t, b.UpdateOrder(Bid, 100.0, 2.0, 5))

	qty, ok := b.BidQuantity(100.0)
	require.True(t, ok)
	assert.Equal(t, 2.0, qty)
	assert.Equal(t, 1, b.Depth(Bid))
	requireBijection(t, b)
}

func TestUpdateOrderDropsStaleTimestamps(t *testing.T) {
	b := New("ETH-USD", "Coinbase")

	require.NoError(t, b.UpdateOrder(Bid, 100.0, 2.0, 10))
	// event time earlier than stored level, must not win even though it
	// arrived later
	require.NoError(t, b.UpdateOrder(Bid, 100.0, 7.0, 9))

	qty, ok := b.BidQuantity(100.0)
	require.True(t, ok)
	assert.Equal(t, 2.0, qty)
}

func TestUpdateOrderZeroQuantityErases(t *testing.T) {
	b := New("ETH-USD", "Coinbase")

	require.NoError(t, b.UpdateOrder(Ask, 101.0, 3.0, 1))
	require.NoError(t, b.UpdateOrder(Ask, 101.0, 0.0, 2))

	_, ok := b.AskQuantity(101.0)
	assert.False(t, ok)
	assert.Equal(t, 0, b.AskPrices().Len())
	requireBijection(t, b)

	// zero-quantity update for an absent level is a no-op
	require.NoError(t, b.UpdateOrder(Ask, 200.0, 0.0, 3))
	assert.Equal(t, 0, b.Depth(Ask))
}

func TestUpdateOrderRejectsNonFiniteInput(t *testing.T) {
	b := New("ETH-USD", "Coinbase")

	assert.ErrorIs(t, b.UpdateOrder(Bid, math.NaN(), 1, 1), ErrInvalidNumeric)
	assert.ErrorIs(t, b.UpdateOrder(Bid, 100, math.Inf(1), 1), ErrInvalidNumeric)
	assert.ErrorIs(t, b.UpdateOrder(Bid, 100, 1, math.NaN()), ErrInvalidNumeric)
	assert.Equal(t, 0, b.Depth(Bid))
}

func TestBestBidAndAsk(t *testing.T) {
	b := New("ETH-USD", "Coinbase")

	_, _, ok := b.BestBid()
	require.False(t, ok)
	_, _, ok = b.BestAsk()
	require.False(t, ok)

	require.NoError(t, b.UpdateOrder(Bid, 99.0, 1.0, 1))
	require.NoError(t, b.UpdateOrder(Bid, 100.0, 2.0, 1))
	require.NoError(t, b.UpdateOrder(Ask, 102.0, 4.0, 1))
	require.NoError(t, b.UpdateOrder(Ask, 101.0, 3.0, 1))

	price, qty, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 2.0, qty)

	price, qty, ok = b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 101.0, price)
	assert.Equal(t, 3.0, qty)
}

func TestMaxQuantityTrackedPerSide(t *testing.T) {
	b := New("ETH-USD", "Coinbase")

	require.NoError(t, b.UpdateOrder(Bid, 100.0, 2.0, 1))
	require.NoError(t, b.UpdateOrder(Ask, 101.0, 9.0, 1))
	require.NoError(t, b.UpdateOrder(Bid, 99.0, 5.0, 2))

	// ask-side volume must not leak into the bid maximum
	assert.Equal(t, 5.0, b.MaxBidQuantity())
	assert.Equal(t, 9.0, b.MaxAskQuantity())

	// the maximum is a running high-water mark, shrinking levels keep it
	require.NoError(t, b.UpdateOrder(Bid, 99.0, 1.0, 3))
	assert.Equal(t, 5.0, b.MaxBidQuantity())
}

func TestBijectionHoldsUnderRandomUpdates(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := New("ETH-USD", "Coinbase")

	for i := 0; i < 10000; i++ {
		side := Bid
		if rng.Intn(2) == 1 {
			side = Ask
		}
		price := float64(rng.Intn(200)) / 2
		quantity := float64(rng.Intn(5)) // zero deletes
		require.NoError(t, b.UpdateOrder(side, price, quantity, float64(i)))
	}
	requireBijection(t, b)
}
