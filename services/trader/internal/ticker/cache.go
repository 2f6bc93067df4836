package ticker

import (
	"sort"
	"sync"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/shopspring/decimal"
)

// Cache keeps the latest ticker per market.
type Cache struct {
	mu      sync.RWMutex
	tickers map[string]Ticker
}

// NewCache returns a cache pre-seeded with a zero-price ticker for each
// market.
func NewCache(markets ...string) *Cache {
	c := &Cache{tickers: make(map[string]Ticker, len(markets))}
	for _, market := range markets {
		market = domain.NormalizeMarket(market)
		if market == "" {
			continue
		}
		c.tickers[market] = Ticker{Market: market, TradePrice: decimal.Zero}
	}
	return c
}

func (c *Cache) Update(t Ticker) {
	t.Market = domain.NormalizeMarket(t.Market)
	c.mu.Lock()
	c.tickers[t.Market] = t
	c.mu.Unlock()
}

func (c *Cache) Get(market string) (Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[domain.NormalizeMarket(market)]
	return t, ok
}

// All returns the cached tickers ordered by market.
func (c *Cache) All() []Ticker {
	c.mu.RLock()
	out := make([]Ticker, 0, len(c.tickers))
	for _, t := range c.tickers {
		out = append(out, t)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tickers)
}
