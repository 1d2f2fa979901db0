package orderbook

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrInvalidNumeric is returned by UpdateOrder when price, quantity or
// timestamp is NaN or infinite. Feeds must validate parsed input before
// touching the book.
var ErrInvalidNumeric = errors.New("orderbook: non-finite numeric input")

type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

type level struct {
	quantity  float64
	updatedAt float64
}

// Book holds one exchange's resting volume for a single product. Each side
// is a price -> level map plus a PriceIndex over the same keys.
//
// A Book has exactly one writer (the feed session that owns it) and any
// number of readers; all state is guarded by an RWMutex and read accessors
// return copies, so readers never observe a half-applied update.
type Book struct {
	mu sync.RWMutex

	productID string
	name      string

	bids map[float64]level
	asks map[float64]level

	bidPrices *PriceIndex
	askPrices *PriceIndex

	// largest quantity ever resting on each side, kept for display
	// normalization
	maxBidQuantity float64
	maxAskQuantity float64
}

func New(productID, name string) *Book {
	return &Book{
		productID: productID,
		name:      name,
		bids:      make(map[float64]level),
		asks:      make(map[float64]level),
		bidPrices: NewPriceIndex(),
		askPrices: NewPriceIndex(),
	}
}

func (b *Book) ProductID() string { return b.productID }
func (b *Book) Name() string      { return b.name }

// UpdateOrder applies one absolute (price, quantity) level change.
//
// An update older than the stored level (by event time, not arrival) is
// dropped. Quantity <= 0 erases the level if present and is a no-op
// otherwise. The side's index stays in lockstep with its map.
func (b *Book) UpdateOrder(side Side, price, quantity, timestamp float64) error {
	if !finite(price) || !finite(quantity) || !finite(timestamp) {
		return fmt.Errorf("%w: side=%s price=%v quantity=%v timestamp=%v",
			ErrInvalidNumeric, side, price, quantity, timestamp)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	levels, index := b.bids, b.bidPrices
	maxQuantity := &b.maxBidQuantity
	if side == Ask {
		levels, index = b.asks, b.askPrices
		maxQuantity = &b.maxAskQuantity
	}

	if prev, ok := levels[price]; ok {
		if timestamp < prev.updatedAt {
			return nil
		}
		if quantity <= 0 {
			delete(levels, price)
			index.remove(price)
			return nil
		}
		levels[price] = level{quantity: quantity, updatedAt: timestamp}
	} else {
		if quantity <= 0 {
			return nil
		}
		levels[price] = level{quantity: quantity, updatedAt: timestamp}
		index.add(price)
	}

	if quantity > *maxQuantity {
		*maxQuantity = quantity
	}
	return nil
}

// BidQuantity reports the resting quantity at a bid price, if the level
// exists.
func (b *Book) BidQuantity(price float64) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.bids[price]
	return l.quantity, ok
}

// AskQuantity reports the resting quantity at an ask price, if the level
// exists.
func (b *Book) AskQuantity(price float64) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.asks[price]
	return l.quantity, ok
}

// BidPrices returns a point-in-time copy of the bid-side index.
func (b *Book) BidPrices() *PriceIndex {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bidPrices.clone()
}

// AskPrices returns a point-in-time copy of the ask-side index.
func (b *Book) AskPrices() *PriceIndex {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.askPrices.clone()
}

// BestBid returns the highest resting buy price and its quantity.
func (b *Book) BestBid() (price, quantity float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bidPrices.Len() == 0 {
		return 0, 0, false
	}
	price = b.bidPrices.At(-1)
	return price, b.bids[price].quantity, true
}

// BestAsk returns the lowest resting sell price and its quantity.
func (b *Book) BestAsk() (price, quantity float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.askPrices.Len() == 0 {
		return 0, 0, false
	}
	price = b.askPrices.At(0)
	return price, b.asks[price].quantity, true
}

// Depth returns the number of levels on a side.
func (b *Book) Depth(side Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if side == Bid {
		return len(b.bids)
	}
	return len(b.asks)
}

// MaxBidQuantity is the largest quantity ever observed on the bid side.
func (b *Book) MaxBidQuantity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxBidQuantity
}

// MaxAskQuantity is the largest quantity ever observed on the ask side.
func (b *Book) MaxAskQuantity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxAskQuantity
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
