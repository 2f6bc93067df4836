package ticker

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/K-crypto-trader/crpypto-trader/libs/kafka"
	"github.com/K-crypto-trader/crpypto-trader/libs/logging"
)

type failingHandler struct{ err error }

func (f failingHandler) Dispatch(ctx context.Context, t Ticker) error { return f.err }

func TestKafkaConsumerDispatches(t *testing.T) {
	handler := newRecordingHandler()
	c := NewKafkaConsumer(handler, logging.Discard())

	msg := &sarama.ConsumerMessage{Topic: "tickers", Value: []byte(`{"market":"krw-xrp","tradePrice":"812.5"}`)}
	if err := c.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	got := handler.received()
	if len(got) != 1 || got[0].Market != "KRW-XRP" {
		t.Fatalf("unexpected tickers %+v", got)
	}
}

func TestKafkaConsumerRoutesInvalidToDLQ(t *testing.T) {
	c := NewKafkaConsumer(newRecordingHandler(), logging.Discard())
	for _, value := range [][]byte{nil, []byte(`{`), []byte(`{"market":"KRW-BTC","tradePrice":0}`)} {
		err := c.HandleMessage(context.Background(), &sarama.ConsumerMessage{Topic: "tickers", Value: value})
		var dlqErr *kafka.DLQError
		if !errors.As(err, &dlqErr) {
			t.Fatalf("expected DLQ error for %q, got %v", value, err)
		}
	}
}

func TestKafkaConsumerRetriesDispatchFailure(t *testing.T) {
	c := NewKafkaConsumer(failingHandler{err: context.DeadlineExceeded}, logging.Discard())
	err := c.HandleMessage(context.Background(), &sarama.ConsumerMessage{Topic: "tickers", Value: []byte(`{"market":"KRW-BTC","tradePrice":1}`)})
	if err == nil {
		t.Fatalf("expected error")
	}
	var dlqErr *kafka.DLQError
	if errors.As(err, &dlqErr) {
		t.Fatalf("dispatch failure should be retried, not dead-lettered")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}
