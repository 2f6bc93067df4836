package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/K-crypto-trader/crpypto-trader/libs/kafka"

// Publisher sends JSON-encoded values keyed for partitioning.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
	Close() error
}

// typedEvent is implemented by values that carry an event type, which is
// copied into the event-type header.
type typedEvent interface {
	Type() string
}

type SyncProducer struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
	metrics  *ProducerMetrics
}

func newProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	return cfg
}

func NewSyncProducer(brokers []string, clientID string, logger *slog.Logger, metrics *ProducerMetrics) (*SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	producer, err := sarama.NewSyncProducer(brokers, newProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newSyncProducer(producer, logger, metrics), nil
}

func newSyncProducer(producer sarama.SyncProducer, logger *slog.Logger, metrics *ProducerMetrics) *SyncProducer {
	return &SyncProducer{producer: producer, logger: logger, metrics: metrics}
}

// buildMessage encodes value and stamps the content type, the event type when
// value has one, and the trace context of ctx.
func buildMessage(ctx context.Context, topic, key string, value any) (*sarama.ProducerMessage, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal kafka payload: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerContentType), Value: []byte("application/json")},
		},
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if ev, ok := value.(typedEvent); ok && ev.Type() != "" {
		producerCarrier{msg: msg}.Set(headerEventType, ev.Type())
	}
	InjectTrace(ctx, msg)
	return msg, nil
}

func (p *SyncProducer) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "publish "+topic,
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", topic),
		),
	)
	defer span.End()

	msg, err := buildMessage(ctx, topic, key, value)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, 0, err
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.metrics.observe(topic, "error", time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		p.logger.Error("kafka publish failed", "topic", topic, "key", key, "error", err)
		return 0, 0, fmt.Errorf("kafka publish failed: %w", err)
	}
	p.metrics.observe(topic, "success", time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", int(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	return partition, offset, nil
}

func (p *SyncProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
