package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/trace"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const tracerName = "trader/matching"

const (
	DefaultBatchSize    = 1000
	DefaultWorkers      = 10
	DefaultSoftDeadline = 60 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 100 * time.Millisecond
)

type Config struct {
	BatchSize    int
	Workers      int
	SoftDeadline time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SoftDeadline <= 0 {
		c.SoftDeadline = DefaultSoftDeadline
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	return c
}

// TxRunner is the part of storage.Store the scheduler writes through.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error
}

// Result reports what a pass did with each order id it was given.
type Result struct {
	Executed []*domain.Order
	Skipped  []uuid.UUID
	Failed   []uuid.UUID
}

func (r *Result) merge(other Result) {
	r.Executed = append(r.Executed, other.Executed...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Failed = append(r.Failed, other.Failed...)
}

// Scheduler settles order ids in fixed-size batches on a bounded worker pool.
// Each batch is one transaction; one batch failing never affects another.
type Scheduler struct {
	store   TxRunner
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewScheduler(store TxRunner, cfg Config, logger *slog.Logger, metrics *Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}
}

// Run executes every id at most once. The returned error joins the per-order
// skips and the batches that ran out of retries; Result is valid either way.
func (s *Scheduler) Run(ctx context.Context, ids []uuid.UUID) (Result, error) {
	start := time.Now()
	batches := partition(ids, s.cfg.BatchSize)

	var (
		mu     sync.Mutex
		result Result
		errs   []error
	)

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for i, batch := range batches {
		g.Go(func() error {
			out, batchErrs := s.runBatch(ctx, i, batch)
			mu.Lock()
			result.merge(out)
			errs = append(errs, batchErrs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if elapsed := time.Since(start); elapsed > s.cfg.SoftDeadline {
		s.logger.Warn("matching pass exceeded soft deadline",
			"elapsed", elapsed,
			"deadline", s.cfg.SoftDeadline,
			"orders", len(ids),
			"batches", len(batches),
		)
	}
	return result, errors.Join(errs...)
}

func (s *Scheduler) runBatch(ctx context.Context, index int, ids []uuid.UUID) (Result, []error) {
	ctx, span := trace.StartSpan(ctx, tracerName, "matching.batch",
		attribute.Int("batch.index", index),
		attribute.Int("batch.size", len(ids)),
	)
	defer span.End()
	start := time.Now()

	var result Result
	var errs []error
	remaining := ids
	for attempt := 1; ; attempt++ {
		out, rest, err := s.attempt(ctx, remaining)
		result.merge(out.Result)
		errs = append(errs, out.skipErrs...)
		remaining = rest
		if err == nil {
			s.metrics.observeBatch("ok", time.Since(start))
			return result, errs
		}

		if ctx.Err() == nil && attempt <= s.cfg.MaxRetries {
			s.metrics.incRetry()
			s.logger.Warn("matching batch retry",
				"batch", index,
				"attempt", attempt,
				"unsettled", len(remaining),
				"error", err,
			)
			sleepErr := s.sleep(ctx, s.cfg.RetryBackoff*time.Duration(attempt))
			if sleepErr == nil {
				continue
			}
			err = errors.Join(err, sleepErr)
		}

		s.logger.Error("matching batch failed",
			"batch", index,
			"attempts", attempt,
			"unsettled", len(remaining),
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.observeBatch("failed", time.Since(start))
		result.Failed = append(result.Failed, remaining...)
		errs = append(errs, fmt.Errorf("batch %d: %d orders not settled after %d attempts: %w", index, len(remaining), attempt, err))
		return result, errs
	}
}

type attemptOutcome struct {
	Result
	skipErrs []error
}

// attempt runs one transaction over ids. It returns what was committed, the
// ids still to settle and the store error that stopped it, if any.
func (s *Scheduler) attempt(ctx context.Context, ids []uuid.UUID) (attemptOutcome, []uuid.UUID, error) {
	var out attemptOutcome
	var stopErr error
	done := make(map[uuid.UUID]struct{}, len(ids))

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		orders, err := tx.LockOrders(ctx, ids)
		if err != nil {
			return err
		}
		found := make(map[uuid.UUID]struct{}, len(orders))
		for _, order := range orders {
			found[order.ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				out.Skipped = append(out.Skipped, id)
				out.skipErrs = append(out.skipErrs, fmt.Errorf("order %s: %w", id, domain.ErrNotFound))
				done[id] = struct{}{}
			}
		}

		for _, order := range orders {
			err := tx.Savepoint(ctx, func(ctx context.Context) error {
				if err := order.Execute(); err != nil {
					return err
				}
				return tx.SaveOrder(ctx, order)
			})
			switch {
			case err == nil:
				out.Executed = append(out.Executed, order)
			case domain.IsLostRace(err):
				out.Skipped = append(out.Skipped, order.ID)
				out.skipErrs = append(out.skipErrs, fmt.Errorf("order %s: %w", order.ID, err))
			case isOrderFailure(err):
				s.logger.Error("order cannot settle", "order_id", order.ID, "error", err)
				out.Failed = append(out.Failed, order.ID)
				out.skipErrs = append(out.skipErrs, fmt.Errorf("order %s: %w", order.ID, err))
			default:
				stopErr = err
				return nil
			}
			done[order.ID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return attemptOutcome{}, ids, err
	}

	rest := make([]uuid.UUID, 0, len(ids)-len(done))
	for _, id := range ids {
		if _, ok := done[id]; !ok {
			rest = append(rest, id)
		}
	}
	return out, rest, stopErr
}

// isOrderFailure reports errors that belong to one order and would repeat
// on every retry.
func isOrderFailure(err error) bool {
	return errors.Is(err, domain.ErrLedgerInvariant) || errors.Is(err, domain.ErrInvalidOrder)
}

func partition(ids []uuid.UUID, size int) [][]uuid.UUID {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]uuid.UUID, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
