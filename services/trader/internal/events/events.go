package events

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/K-crypto-trader/crpypto-trader/libs/kafka"
	"github.com/K-crypto-trader/crpypto-trader/services/trader/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	TypeOrderCreated   = "orders.created"
	TypeOrderCanceled  = "orders.canceled"
	TypeOrderCompleted = "orders.completed"
)

type Topics struct {
	OrdersCreated   string
	OrdersCanceled  string
	OrdersCompleted string
}

func DefaultTopics() Topics {
	return Topics{
		OrdersCreated:   TypeOrderCreated,
		OrdersCanceled:  TypeOrderCanceled,
		OrdersCompleted: TypeOrderCompleted,
	}
}

type OrderEvent struct {
	kafka.Envelope
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	Market     string `json:"market"`
	Side       string `json:"side"`
	Volume     string `json:"volume"`
	Price      string `json:"price"`
	State      string `json:"state"`
	TradePrice string `json:"trade_price,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// NewOrderEvent builds the event for order. The event id is derived from the
// type and order id, so a redelivery carries the same id.
func NewOrderEvent(eventType string, order *domain.Order, tradePrice decimal.Decimal, correlationID string) (OrderEvent, error) {
	env, err := kafka.NewEnvelopeWithID(kafka.DeterministicEventID(eventType, order.ID.String()), eventType, 1, correlationID)
	if err != nil {
		return OrderEvent{}, err
	}
	event := OrderEvent{
		Envelope:   env,
		OrderID:    order.ID.String(),
		UserID:     order.UserID.String(),
		Market:     order.Market,
		Side:       string(order.Side),
		Volume:     order.Volume.String(),
		Price:      order.Price.String(),
		State:      string(order.State),
		OccurredAt: order.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !tradePrice.IsZero() {
		event.TradePrice = tradePrice.String()
	}
	return event, nil
}

// Emitter publishes order events keyed by user so one user's events stay
// ordered. A nil producer turns it into a no-op.
type Emitter struct {
	producer kafka.Publisher
	topics   Topics
	logger   *slog.Logger
}

func NewEmitter(producer kafka.Publisher, topics Topics, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultTopics()
	if strings.TrimSpace(topics.OrdersCreated) == "" {
		topics.OrdersCreated = defaults.OrdersCreated
	}
	if strings.TrimSpace(topics.OrdersCanceled) == "" {
		topics.OrdersCanceled = defaults.OrdersCanceled
	}
	if strings.TrimSpace(topics.OrdersCompleted) == "" {
		topics.OrdersCompleted = defaults.OrdersCompleted
	}
	return &Emitter{producer: producer, topics: topics, logger: logger}
}

func (e *Emitter) OrderCreated(ctx context.Context, order *domain.Order, correlationID string) {
	e.emit(ctx, TypeOrderCreated, e.topics.OrdersCreated, order, decimal.Zero, correlationID)
}

func (e *Emitter) OrderCanceled(ctx context.Context, order *domain.Order, correlationID string) {
	e.emit(ctx, TypeOrderCanceled, e.topics.OrdersCanceled, order, decimal.Zero, correlationID)
}

func (e *Emitter) OrderCompleted(ctx context.Context, order *domain.Order, tradePrice decimal.Decimal, correlationID string) {
	e.emit(ctx, TypeOrderCompleted, e.topics.OrdersCompleted, order, tradePrice, correlationID)
}

func (e *Emitter) emit(ctx context.Context, eventType, topic string, order *domain.Order, tradePrice decimal.Decimal, correlationID string) {
	if e == nil || e.producer == nil || order == nil {
		return
	}
	event, err := NewOrderEvent(eventType, order, tradePrice, correlationID)
	if err != nil {
		e.logger.Error("build order event failed", "event_type", eventType, "order_id", order.ID, "error", err)
		return
	}
	if _, _, err := e.producer.PublishJSON(ctx, topic, order.UserID.String(), event); err != nil {
		e.logger.Error("publish order event failed", "event_type", eventType, "order_id", order.ID, "error", err)
	}
}
