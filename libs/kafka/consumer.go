package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type ConsumerOption func(*Consumer)

// WithDLQ routes messages that fail permanently, or fail maxAttempts times,
// to topic through publisher.
func WithDLQ(publisher Publisher, topic string, maxAttempts int) ConsumerOption {
	return func(c *Consumer) {
		c.dlqPublisher = publisher
		c.dlqTopic = topic
		c.maxAttempts = maxAttempts
	}
}

// WithConsumerMetrics counts handled messages by outcome.
func WithConsumerMetrics(metrics *ConsumerMetrics) ConsumerOption {
	return func(c *Consumer) {
		c.metrics = metrics
	}
}

type Consumer struct {
	group        sarama.ConsumerGroup
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	maxAttempts  int
	metrics      *ConsumerMetrics
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	c := &Consumer{
		group:       group,
		logger:      logger,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := &consumerGroupHandler{
		handler:      handler,
		logger:       c.logger,
		dlqPublisher: c.dlqPublisher,
		dlqTopic:     c.dlqTopic,
		retryTracker: newRetryTracker(c.maxAttempts, 10*time.Minute),
		metrics:      c.metrics,
	}

	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(2 * time.Second)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler      MessageHandler
	logger       *slog.Logger
	dlqPublisher Publisher
	dlqTopic     string
	retryTracker *retryTracker
	metrics      *ConsumerMetrics
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.handle(session, msg)
	}
	return nil
}

func (h *consumerGroupHandler) handle(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	ctx, span := otel.Tracer(tracerName).Start(ExtractTrace(session.Context(), msg), "consume "+msg.Topic,
		oteltrace.WithSpanKind(oteltrace.SpanKindConsumer),
		oteltrace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", int(msg.Partition)),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	err := h.handler.HandleMessage(ctx, msg)
	if err == nil {
		h.retryTracker.clear(msg)
		h.metrics.inc(msg.Topic, "ok")
		session.MarkMessage(msg, "")
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "handler failed")
	h.logger.Error("kafka message handler error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)

	var dlqErr *DLQError
	permanent := errors.As(err, &dlqErr)
	attempts := h.retryTracker.record(msg)
	if !permanent && attempts < h.retryTracker.maxAttempts {
		h.metrics.inc(msg.Topic, "retry")
		return
	}
	if dlqErr == nil {
		dlqErr = &DLQError{Err: err, Reason: "max_attempts"}
	}
	h.publishDLQ(ctx, msg, dlqErr, attempts)
	h.retryTracker.clear(msg)
	h.metrics.inc(msg.Topic, "dlq")
	session.MarkMessage(msg, "")
}

func (h *consumerGroupHandler) publishDLQ(ctx context.Context, msg *sarama.ConsumerMessage, err *DLQError, attempts int) {
	if h.dlqPublisher == nil || h.dlqTopic == "" {
		h.logger.Warn("dropping message without dlq", "topic", msg.Topic, "offset", msg.Offset, "reason", err.Reason)
		return
	}
	payload := BuildDLQPayload(msg, err, attempts)
	if _, _, pubErr := h.dlqPublisher.PublishJSON(ctx, h.dlqTopic, string(msg.Key), payload); pubErr != nil {
		h.logger.Error("publish dlq failed", "topic", h.dlqTopic, "error", pubErr)
	}
}

type retryTracker struct {
	mu          sync.Mutex
	maxAttempts int
	ttl         time.Duration
	attempts    map[string]retryEntry
}

type retryEntry struct {
	count    int
	lastSeen time.Time
}

func newRetryTracker(maxAttempts int, ttl time.Duration) *retryTracker {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &retryTracker{
		maxAttempts: maxAttempts,
		ttl:         ttl,
		attempts:    make(map[string]retryEntry),
	}
}

func (r *retryTracker) record(msg *sarama.ConsumerMessage) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for k, v := range r.attempts {
		if now.Sub(v.lastSeen) > r.ttl {
			delete(r.attempts, k)
		}
	}

	key := retryKey(msg)
	entry := r.attempts[key]
	entry.count++
	entry.lastSeen = now
	r.attempts[key] = entry
	return entry.count
}

func (r *retryTracker) clear(msg *sarama.ConsumerMessage) {
	r.mu.Lock()
	delete(r.attempts, retryKey(msg))
	r.mu.Unlock()
}

func retryKey(msg *sarama.ConsumerMessage) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
