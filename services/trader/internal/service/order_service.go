package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/logging"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/events"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	statusPlaced   = "placed"
	statusCanceled = "canceled"
	statusRejected = "rejected"
	statusError    = "error"
)

type OrderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error
}

type OrderService struct {
	store   OrderStore
	events  *events.Emitter
	logger  *slog.Logger
	metrics *Metrics
}

type CreateOrderInput struct {
	UserID        uuid.UUID
	Market        string
	Side          string
	Volume        decimal.Decimal
	Price         decimal.Decimal
	CorrelationID string
}

type CancelOrderInput struct {
	UserID        uuid.UUID
	OrderID       uuid.UUID
	CorrelationID string
}

func NewOrderService(store OrderStore, emitter *events.Emitter, logger *slog.Logger, metrics *Metrics) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderService{
		store:   store,
		events:  emitter,
		logger:  logger,
		metrics: metrics,
	}
}

// CreateOrder validates the order, reserves its funds or asset volume under
// the user's lock and stores it as CREATED.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	start := time.Now()
	side, err := domain.ParseSide(input.Side)
	if err != nil {
		s.observePlacement(statusRejected, start)
		return nil, err
	}
	order, err := domain.NewOrder(input.Market, side, input.Volume, input.Price)
	if err != nil {
		s.observePlacement(statusRejected, start)
		return nil, err
	}

	logger := logging.FromContext(ctx, s.logger)
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		user, err := tx.LockUser(ctx, input.UserID)
		if err != nil {
			return err
		}
		if err := order.Place(user); err != nil {
			return err
		}
		return tx.SaveOrder(ctx, order)
	})
	if err != nil {
		s.observePlacement(placementStatus(err), start)
		logger.Warn("order placement failed", "user_id", input.UserID, "market", order.Market, "side", order.Side, "error", err)
		return nil, err
	}

	s.observePlacement(statusPlaced, start)
	logger.Info("order placed", "order_id", order.ID, "user_id", input.UserID, "market", order.Market, "side", order.Side, "volume", order.Volume.String(), "price", order.Price.String())
	s.events.OrderCreated(ctx, order, input.CorrelationID)
	return order.Clone(), nil
}

// CancelOrder releases the reservation of a CREATED order owned by the user.
func (s *OrderService) CancelOrder(ctx context.Context, input CancelOrderInput) (*domain.Order, error) {
	logger := logging.FromContext(ctx, s.logger)
	var canceled *domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		orders, err := tx.LockOrders(ctx, []uuid.UUID{input.OrderID})
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return domain.ErrNotFound
		}
		order := orders[0]
		if err := order.Cancel(input.UserID); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return err
		}
		canceled = order
		return nil
	})
	if err != nil {
		s.observeCancellation(cancellationStatus(err))
		logger.Warn("order cancellation failed", "order_id", input.OrderID, "user_id", input.UserID, "error", err)
		return nil, err
	}

	s.observeCancellation(statusCanceled)
	logger.Info("order canceled", "order_id", canceled.ID, "user_id", input.UserID)
	s.events.OrderCanceled(ctx, canceled, input.CorrelationID)
	return canceled.Clone(), nil
}

// GetOrder returns the order when userID owns it. Other users' orders read
// as not found.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	return s.store.FindByUser(ctx, userID)
}

func (s *OrderService) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return user, nil
}

func (s *OrderService) observePlacement(status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.OrderPlacements.WithLabelValues(status).Inc()
	s.metrics.OrderPlacementLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (s *OrderService) observeCancellation(status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.OrderCancellations.WithLabelValues(status).Inc()
}

func placementStatus(err error) string {
	if isRejection(err) {
		return statusRejected
	}
	return statusError
}

func cancellationStatus(err error) string {
	if isRejection(err) || errors.Is(err, domain.ErrNotOwner) {
		return statusRejected
	}
	return statusError
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrInvalidOrder) ||
		errors.Is(err, domain.ErrInsufficientFunds) ||
		errors.Is(err, domain.ErrInsufficientAsset) ||
		errors.Is(err, domain.ErrInvalidOrderState) ||
		errors.Is(err, domain.ErrNotFound)
}
