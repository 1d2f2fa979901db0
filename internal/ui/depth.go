package ui

import (
	"math"

	"github.com/b63/bookwatch/internal/orderbook"
)

// bucketQuantity sums resting quantity over the half-open price range
// [lo, hi) using the index's rank lookup to find the first level in range.
func bucketQuantity(idx *orderbook.PriceIndex, quantityAt func(float64) (float64, bool), lo, hi float64) float64 {
	total := 0.0
	for j := idx.Rank(lo); j < idx.Len(); j++ {
		price := idx.At(j)
		if price >= hi {
			break
		}
		if q, ok := quantityAt(price); ok {
			total += q
		}
	}
	return total
}

// BidBuckets aggregates the bid side into n binSize-wide buckets walking
// down from the best bid. Bucket 0 contains the best bid.
func BidBuckets(book *orderbook.Book, binSize float64, n int) []float64 {
	out := make([]float64, n)
	best, _, ok := book.BestBid()
	if !ok {
		return out
	}

	idx := book.BidPrices()
	top := binSize*math.Floor(best/binSize) + binSize
	for i := 0; i < n; i++ {
		hi := top - float64(i)*binSize
		out[i] = bucketQuantity(idx, book.BidQuantity, hi-binSize, hi)
	}
	return out
}

// AskBuckets aggregates the ask side into n binSize-wide buckets walking up
// from the best ask. Bucket 0 contains the best ask.
func AskBuckets(book *orderbook.Book, binSize float64, n int) []float64 {
	out := make([]float64, n)
	best, _, ok := book.BestAsk()
	if !ok {
		return out
	}

	idx := book.AskPrices()
	bottom := binSize * math.Floor(best/binSize)
	for i := 0; i < n; i++ {
		lo := bottom + float64(i)*binSize
		out[i] = bucketQuantity(idx, book.AskQuantity, lo, lo+binSize)
	}
	return out
}
