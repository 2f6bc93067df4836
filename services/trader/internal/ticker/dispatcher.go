package ticker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/matching"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrentPasses = 8

// Matcher runs one matching pass for a market at a trade price.
type Matcher interface {
	OnTick(ctx context.Context, market string, tradePrice decimal.Decimal) (matching.Result, error)
}

// Handler consumes decoded tickers.
type Handler interface {
	Dispatch(ctx context.Context, t Ticker) error
}

// Dispatcher records each tick in the cache and starts a matching pass for
// it. At most maxPasses passes run at once; Dispatch blocks for a free slot.
type Dispatcher struct {
	cache   *Cache
	matcher Matcher
	slots   *semaphore.Weighted
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewDispatcher(cache *Cache, matcher Matcher, maxPasses int, logger *slog.Logger) *Dispatcher {
	if maxPasses <= 0 {
		maxPasses = defaultMaxConcurrentPasses
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cache:   cache,
		matcher: matcher,
		slots:   semaphore.NewWeighted(int64(maxPasses)),
		logger:  logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, t Ticker) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.Market = domain.NormalizeMarket(t.Market)
	d.cache.Update(t)

	if err := d.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	d.wg.Add(1)
	// The pass outlives the delivery loop so shutdown can drain it.
	passCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer d.slots.Release(1)
		d.run(passCtx, t)
	}()
	return nil
}

func (d *Dispatcher) run(ctx context.Context, t Ticker) {
	result, err := d.matcher.OnTick(ctx, t.Market, t.TradePrice)
	if err != nil && len(result.Executed) == 0 && len(result.Skipped) == 0 {
		d.logger.Error("matching pass failed", "market", t.Market, "trade_price", t.TradePrice.String(), "error", err)
	}
}

// Wait blocks until every started pass has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
