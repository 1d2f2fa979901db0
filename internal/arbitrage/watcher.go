// Package arbitrage detects crossed markets between two venues' books.
package arbitrage

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/b63/bookwatch/internal/infra/metrics"
	"github.com/b63/bookwatch/internal/orderbook"
)

// Signal is one crossed-market observation: buying the source's best ask
// and selling into the target's best bid is profitable before fees.
type Signal struct {
	At time.Time

	Source string
	Target string

	AskPrice    float64
	AskQuantity float64
	BidPrice    float64
	BidQuantity float64

	// Quantity is the tradable size, the smaller of the two resting
	// quantities; Profit is Quantity times the spread.
	Quantity float64
	Profit   float64
}

// Watcher returns a book-update observer that compares the updated book's
// best ask against the target book's best bid. It fires only when both
// levels exist with nonzero quantity and the market is actually crossed.
//
// The sink send never blocks: a slow consumer drops signals rather than
// stalling the feed that produced the update.
func Watcher(target *orderbook.Book, logger zerolog.Logger, sink chan<- Signal) func(*orderbook.Book) {
	return func(source *orderbook.Book) {
		askPrice, askQuantity, ok := source.BestAsk()
		if !ok {
			return
		}
		bidPrice, bidQuantity, ok := target.BestBid()
		if !ok {
			return
		}
		if askPrice >= bidPrice || askQuantity == 0 || bidQuantity == 0 {
			return
		}

		quantity := askQuantity
		if bidQuantity < quantity {
			quantity = bidQuantity
		}
		sig := Signal{
			At:          time.Now(),
			Source:      source.Name(),
			Target:      target.Name(),
			AskPrice:    askPrice,
			AskQuantity: askQuantity,
			BidPrice:    bidPrice,
			BidQuantity: bidQuantity,
			Quantity:    quantity,
			Profit:      quantity * (bidPrice - askPrice),
		}

		metrics.SignalsTotal.Inc()
		logger.Info().
			Str("buy", sig.Source).Float64("ask", sig.AskPrice).Float64("askQty", sig.AskQuantity).
			Str("sell", sig.Target).Float64("bid", sig.BidPrice).Float64("bidQty", sig.BidQuantity).
			Float64("quantity", sig.Quantity).Float64("maxProfit", sig.Profit).
			Msg("found trade")

		if sink != nil {
			select {
			case sink <- sig:
			default:
			}
		}
	}
}
