package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "ticker"

// RedisSubscriber feeds tickers published on a redis channel to a Handler.
// Delivery is at-most-once per subscriber; a redelivered price is harmless
// because settled orders are no longer eligible.
type RedisSubscriber struct {
	client     *redis.Client
	channel    string
	handler    Handler
	logger     *slog.Logger
	subscribed chan struct{}
}

func NewRedisSubscriber(client *redis.Client, channel string, handler Handler, logger *slog.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSubscriber{
		client:     client,
		channel:    channel,
		handler:    handler,
		logger:     logger,
		subscribed: make(chan struct{}),
	}
}

// Subscribed is closed once the subscription is confirmed by the server.
func (s *RedisSubscriber) Subscribed() <-chan struct{} {
	return s.subscribed
}

// Run blocks until ctx is done or the subscription breaks.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	close(s.subscribed)
	s.logger.Info("ticker subscription started", "channel", s.channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription %s closed", s.channel)
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *RedisSubscriber) handle(ctx context.Context, payload string) {
	t, err := Decode([]byte(payload))
	if err != nil {
		s.logger.Warn("dropping invalid ticker", "channel", s.channel, "error", err)
		return
	}
	if err := s.handler.Dispatch(ctx, t); err != nil && ctx.Err() == nil {
		s.logger.Error("ticker dispatch failed", "market", t.Market, "error", err)
	}
}

// RedisPublisher publishes tickers as JSON on a redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, t Ticker) error {
	if err := t.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode ticker: %w", err)
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
