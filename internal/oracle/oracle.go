package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// PriceData is a single oracle quote. Price is scaled to 8 decimals.
type PriceData struct {
	Price     *uint256.Int
	Timestamp time.Time
	RoundID   uint64
}

// PriceOracle is the price source capability consumed by valuation.
// Implementations may be remote, cached, or fixed; all are fallible.
type PriceOracle interface {
	GetPrice(ctx context.Context, symbol string) (PriceData, error)
}

// Cache is an in-memory oracle fed by an external price stream. Updates
// carry a per-symbol sequence; stale or duplicate sequences are ignored so
// out-of-order delivery cannot regress a quote.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]*quoteState
}

type quoteState struct {
	data     PriceData
	sequence uint64
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]*quoteState)}
}

// Update stores a quote if its sequence advances the symbol's stream.
func (c *Cache) Update(symbol string, data PriceData, sequence uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.quotes[symbol]
	if current != nil && sequence <= current.sequence {
		// Stale or duplicate delivery - silently ignore (idempotent)
		return
	}

	c.quotes[symbol] = &quoteState{data: data, sequence: sequence}
}

func (c *Cache) GetPrice(_ context.Context, symbol string) (PriceData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := c.quotes[symbol]
	if state == nil {
		return PriceData{}, fmt.Errorf("no quote for %s", symbol)
	}
	return state.data, nil
}

// FixedTable is a static price source keyed by symbol. Used both as the
// fallback table for fallback-priced deployments and as a deterministic
// oracle in tests.
type FixedTable struct {
	mu     sync.RWMutex
	prices map[string]*uint256.Int
	now    func() time.Time
}

func NewFixedTable(prices map[string]*uint256.Int, now func() time.Time) *FixedTable {
	if now == nil {
		now = time.Now
	}
	cp := make(map[string]*uint256.Int, len(prices))
	for k, v := range prices {
		cp[k] = new(uint256.Int).Set(v)
	}
	return &FixedTable{prices: cp, now: now}
}

func (t *FixedTable) GetPrice(_ context.Context, symbol string) (PriceData, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	price, ok := t.prices[symbol]
	if !ok {
		return PriceData{}, fmt.Errorf("no fixed price for %s", symbol)
	}
	// Fixed prices are always fresh by definition.
	return PriceData{Price: new(uint256.Int).Set(price), Timestamp: t.now()}, nil
}

// Set updates a fixed price entry.
func (t *FixedTable) Set(symbol string, price *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[symbol] = new(uint256.Int).Set(price)
}
