package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/trace"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/events"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrInvalidTick = errors.New("invalid tick")

// OrderFinder is the read side the engine filters over.
type OrderFinder interface {
	FindEligibleByMarket(ctx context.Context, market string) ([]*domain.Order, error)
}

// Engine runs one matching pass per tick. It holds no state between passes.
type Engine struct {
	finder    OrderFinder
	scheduler *Scheduler
	events    *events.Emitter
	logger    *slog.Logger
	metrics   *Metrics
}

func NewEngine(finder OrderFinder, scheduler *Scheduler, emitter *events.Emitter, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		finder:    finder,
		scheduler: scheduler,
		events:    emitter,
		logger:    logger,
		metrics:   metrics,
	}
}

// OnTick settles every resting order of market that executes at tradePrice.
// Per-order skips are part of the returned error but do not fail the pass.
func (e *Engine) OnTick(ctx context.Context, market string, tradePrice decimal.Decimal) (Result, error) {
	market = domain.NormalizeMarket(market)
	if market == "" || !tradePrice.IsPositive() {
		return Result{}, fmt.Errorf("%w: market %q price %s", ErrInvalidTick, market, tradePrice)
	}

	ctx, span := trace.StartSpan(ctx, tracerName, "matching.pass",
		attribute.String("market", market),
		attribute.String("trade_price", tradePrice.String()),
	)
	defer span.End()
	defer e.metrics.passStarted()()
	start := time.Now()

	candidates, err := e.finder.FindEligibleByMarket(ctx, market)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.observePass(market, "error", Result{}, time.Since(start))
		return Result{}, fmt.Errorf("find eligible orders: %w", err)
	}
	eligible := Eligible(candidates, market, tradePrice)
	span.SetAttributes(attribute.Int("orders.eligible", len(eligible)))
	if len(eligible) == 0 {
		e.metrics.observePass(market, "idle", Result{}, time.Since(start))
		return Result{}, nil
	}

	result, runErr := e.scheduler.Run(ctx, orderIDs(eligible))
	for _, order := range result.Executed {
		e.events.OrderCompleted(ctx, order, tradePrice, "")
	}

	status := "ok"
	switch {
	case len(result.Failed) > 0:
		status = "partial"
		span.SetStatus(codes.Error, "orders not settled")
	case runErr != nil:
		status = "skipped"
	}
	span.SetAttributes(
		attribute.Int("orders.executed", len(result.Executed)),
		attribute.Int("orders.skipped", len(result.Skipped)),
		attribute.Int("orders.failed", len(result.Failed)),
	)
	e.metrics.observePass(market, status, result, time.Since(start))

	e.logger.Info("matching pass finished",
		"market", market,
		"trade_price", tradePrice.String(),
		"eligible", len(eligible),
		"executed", len(result.Executed),
		"skipped", len(result.Skipped),
		"failed", len(result.Failed),
		"duration", time.Since(start),
	)
	if runErr != nil {
		e.logger.Warn("matching pass incomplete", "market", market, "error", runErr)
	}
	return result, runErr
}
