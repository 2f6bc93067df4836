package matching

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Passes       *prometheus.CounterVec
	Orders       *prometheus.CounterVec
	PassLatency  *prometheus.HistogramVec
	BatchLatency *prometheus.HistogramVec
	BatchRetries prometheus.Counter
	InFlight     prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matching_passes_total",
				Help: "Total matching passes by market and outcome.",
			},
			[]string{"market", "status"},
		),
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matching_orders_total",
				Help: "Orders handled by matching passes by outcome.",
			},
			[]string{"market", "outcome"},
		),
		PassLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "matching_pass_duration_seconds",
				Help:    "Matching pass latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"market"},
		),
		BatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "matching_batch_duration_seconds",
				Help:    "Batch settlement latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		BatchRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "matching_batch_retries_total",
				Help: "Batch attempts retried after a store error.",
			},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "matching_passes_in_flight",
				Help: "Matching passes currently running.",
			},
		),
	}

	registry.MustRegister(m.Passes, m.Orders, m.PassLatency, m.BatchLatency, m.BatchRetries, m.InFlight)
	return m
}

func (m *Metrics) observePass(market, status string, result Result, duration time.Duration) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(market, status).Inc()
	m.PassLatency.WithLabelValues(market).Observe(duration.Seconds())
	m.Orders.WithLabelValues(market, "executed").Add(float64(len(result.Executed)))
	m.Orders.WithLabelValues(market, "skipped").Add(float64(len(result.Skipped)))
	m.Orders.WithLabelValues(market, "failed").Add(float64(len(result.Failed)))
}

func (m *Metrics) observeBatch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BatchLatency.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) incRetry() {
	if m == nil {
		return
	}
	m.BatchRetries.Inc()
}

func (m *Metrics) passStarted() func() {
	if m == nil {
		return func() {}
	}
	m.InFlight.Inc()
	return m.InFlight.Dec
}
