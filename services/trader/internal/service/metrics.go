package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OrderPlacements       *prometheus.CounterVec
	OrderPlacementLatency *prometheus.HistogramVec
	OrderCancellations    *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrderPlacements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_placements_total",
				Help: "Total order placement attempts.",
			},
			[]string{"status"},
		),
		OrderPlacementLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "order_placement_latency_seconds",
				Help:    "Order placement latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		OrderCancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_cancellations_total",
				Help: "Total order cancellation attempts.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.OrderPlacements,
		m.OrderPlacementLatency,
		m.OrderCancellations,
	)
	return m
}
