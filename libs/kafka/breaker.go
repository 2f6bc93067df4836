package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

type publishResult struct {
	partition int32
	offset    int64
}

// BreakerPublisher stops calling a failing broker until the breaker half-opens.
type BreakerPublisher struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker[publishResult]
}

func NewBreakerPublisher(next Publisher, settings BreakerSettings, logger *slog.Logger) *BreakerPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.Name == "" {
		settings.Name = "kafka-publisher"
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[publishResult](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher circuit state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &BreakerPublisher{next: next, breaker: breaker}
}

func (p *BreakerPublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	res, err := p.breaker.Execute(func() (publishResult, error) {
		partition, offset, err := p.next.PublishJSON(ctx, topic, key, value)
		return publishResult{partition: partition, offset: offset}, err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("circuit breaker: %w", err)
	}
	return res.partition, res.offset, nil
}

func (p *BreakerPublisher) State() gobreaker.State {
	return p.breaker.State()
}

func (p *BreakerPublisher) Close() error {
	return p.next.Close()
}
