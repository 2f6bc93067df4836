package ticker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/K-crypto-trader/crpypto-trader/libs/kafka"
)

// KafkaConsumer adapts the tickers topic to a Handler. Malformed payloads are
// sent straight to the dead-letter topic; dispatch failures are retried by
// the consumer group.
type KafkaConsumer struct {
	handler Handler
	logger  *slog.Logger
}

func NewKafkaConsumer(handler Handler, logger *slog.Logger) *KafkaConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaConsumer{handler: handler, logger: logger}
}

func (c *KafkaConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return kafka.DLQ(fmt.Errorf("empty kafka message"), "empty_payload")
	}
	t, err := Decode(msg.Value)
	if err != nil {
		return kafka.DLQ(err, "invalid_payload")
	}
	if err := c.handler.Dispatch(ctx, t); err != nil {
		if errors.Is(err, ErrInvalidTicker) {
			return kafka.DLQ(err, "invalid_payload")
		}
		return fmt.Errorf("dispatch ticker %s: %w", t.Market, err)
	}
	c.logger.Debug("ticker consumed", "market", t.Market, "trade_price", t.TradePrice.String(), "offset", msg.Offset)
	return nil
}
