package orderbook

import "sort"

// PriceIndex is a sorted collection of unique price keys. It backs one side
// of a Book: the key set always mirrors the side's level map exactly.
// Index 0 is the lowest price, Len()-1 the highest, so the best bid sits at
// the end of the bid index and the best ask at the front of the ask index.
//
// Mutation happens only through the owning Book; external callers get the
// read-only surface (Len, At, Rank, Contains).
type PriceIndex struct {
	keys []float64
}

func NewPriceIndex() *PriceIndex {
	return &PriceIndex{}
}

func (p *PriceIndex) Len() int {
	return len(p.keys)
}

// At returns the key at index i. Negative indices address from the end, so
// At(-1) is the highest price.
func (p *PriceIndex) At(i int) float64 {
	if i < 0 {
		i += len(p.keys)
	}
	return p.keys[i]
}

// Rank returns the index of the first key >= price, or Len() if every key is
// below it.
func (p *PriceIndex) Rank(price float64) int {
	return sort.SearchFloat64s(p.keys, price)
}

func (p *PriceIndex) Contains(price float64) bool {
	i := p.Rank(price)
	return i < len(p.keys) && p.keys[i] == price
}

// Keys returns a copy of the key slice in ascending order.
func (p *PriceIndex) Keys() []float64 {
	out := make([]float64, len(p.keys))
	copy(out, p.keys)
	return out
}

func (p *PriceIndex) add(price float64) {
	i := p.Rank(price)
	if i < len(p.keys) && p.keys[i] == price {
		return
	}
	p.keys = append(p.keys, 0)
	copy(p.keys[i+1:], p.keys[i:])
	p.keys[i] = price
}

func (p *PriceIndex) remove(price float64) {
	i := p.Rank(price)
	if i >= len(p.keys) || p.keys[i] != price {
		return
	}
	p.keys = append(p.keys[:i], p.keys[i+1:]...)
}

func (p *PriceIndex) clone() *PriceIndex {
	return &PriceIndex{keys: p.Keys()}
}
