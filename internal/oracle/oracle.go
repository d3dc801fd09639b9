// Package oracle provides the reference-price collaborator. The engine only
// ever reads a single WAD-scaled quote-per-base price from it.
package oracle

import (
	"math/big"
	"sync"
)

// PriceSource returns the current reference price, quote per base, WAD-scaled.
type PriceSource interface {
	CurrentPrice() *big.Int
}

// Static is a settable in-process price feed.
type Static struct {
	mu    sync.RWMutex
	price *big.Int
}

func NewStatic(price *big.Int) *Static {
	s := &Static{price: big.NewInt(0)}
	if price != nil {
		s.price = new(big.Int).Set(price)
	}
	return s
}

func (s *Static) CurrentPrice() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.price)
}

// Set replaces the published price.
func (s *Static) Set(price *big.Int) {
	if price == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = new(big.Int).Set(price)
}
