package arbitrage

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b63/bookwatch/internal/orderbook"
)

func TestWatcherEmitsOnCrossedMarket(t *testing.T) {
	source := orderbook.New("ETHUSD", "Binance")
	target := orderbook.New("ETH-USD", "Coinbase")

	require.NoError(t, source.UpdateOrder(orderbook.Ask, 100.0, 5.0, 1))
	require.NoError(t, target.UpdateOrder(orderbook.Bid, 101.0, 2.0, 1))

	sink := make(chan Signal, 1)
	Watcher(target, zerolog.Nop(), sink)(source)

	require.Len(t, sink, 1)
	sig := <-sink
	assert.Equal(t, "Binance", sig.Source)
	assert.Equal(t, "Coinbase", sig.Target)
	assert.Equal(t, 2.0, sig.Quantity)
	assert.Equal(t, 2.0, sig.Profit) // spread 1 * quantity 2
}

func TestWatcherStaysQuiet(t *testing.T) {
	tests := []struct {
		name     string
		askPrice float64
		askQty   float64
		bidPrice float64
		bidQty   float64
	}{
		{"not crossed", 101, 5, 100, 2},
		{"touching is not crossed", 100, 5, 100, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			source := orderbook.New("ETHUSD", "Binance")
			target := orderbook.New("ETH-USD", "Coinbase")
			require.NoError(t, source.UpdateOrder(orderbook.Ask, tc.askPrice, tc.askQty, 1))
			require.NoError(t, target.UpdateOrder(orderbook.Bid, tc.bidPrice, tc.bidQty, 1))

			sink := make(chan Signal, 1)
			Watcher(target, zerolog.Nop(), sink)(source)
			assert.Empty(t, sink)
		})
	}
}

func TestWatcherNeedsBothSides(t *testing.T) {
	source := orderbook.New("ETHUSD", "Binance")
	target := orderbook.New("ETH-USD", "Coinbase")

	// only an ask, no target bid
	require.NoError(t, source.UpdateOrder(orderbook.Ask, 100.0, 5.0, 1))

	sink := make(chan Signal, 1)
	Watcher(target, zerolog.Nop(), sink)(source)
	assert.Empty(t, sink)
}

func TestWatcherDropsWhenSinkFull(t *testing.T) {
	source := orderbook.New("ETHUSD", "Binance")
	target := orderbook.New("ETH-USD", "Coinbase")
	require.NoError(t, source.UpdateOrder(orderbook.Ask, 100.0, 5.0, 1))
	require.NoError(t, target.UpdateOrder(orderbook.Bid, 101.0, 2.0, 1))

	sink := make(chan Signal, 1)
	watch := Watcher(target, zerolog.Nop(), sink)
	watch(source)
	// sink is now full; the next notification must not block
	watch(source)
	assert.Len(t, sink, 1)
}
