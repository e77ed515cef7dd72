package exchange

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TickerCache is a shared in-memory price cache. Market-data polling writes
// to it; the paper executor and position manager read from it. Safe for
// concurrent use.
type TickerCache struct {
	mu     sync.RWMutex
	prices map[string]tickerEntry
	now    func() time.Time
}

type tickerEntry struct {
	price     decimal.Decimal
	updatedAt time.Time
}

func NewTickerCache() *TickerCache {
	return &TickerCache{
		prices: make(map[string]tickerEntry),
		now:    time.Now,
	}
}

// Update stores the latest price for a symbol.
func (t *TickerCache) Update(symbol string, price decimal.Decimal, updatedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[symbol] = tickerEntry{price: price, updatedAt: updatedAt}
}

// Price returns the cached price for a symbol. ok is false when the symbol
// has never been seen.
func (t *TickerCache) Price(symbol string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.prices[symbol]
	if !ok {
		return decimal.Zero, false
	}
	return entry.price, true
}

// Age returns the time since the last update for a symbol.
func (t *TickerCache) Age(symbol string) (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.prices[symbol]
	if !ok {
		return 0, false
	}
	return t.now().Sub(entry.updatedAt), true
}

// IsStale reports whether a cached price is missing or older than maxAge.
func (t *TickerCache) IsStale(symbol string, maxAge time.Duration) bool {
	age, ok := t.Age(symbol)
	if !ok {
		return true
	}
	return age > maxAge
}
