package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "trader"

type ProducerMetrics struct {
	PublishTotal   *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec
}

func NewProducerMetrics(registry *prometheus.Registry) *ProducerMetrics {
	m := &ProducerMetrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "kafka_publish_total",
				Help:      "Kafka publish attempts by topic and outcome.",
			},
			[]string{"topic", "status"},
		),
		PublishLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "kafka_publish_latency_seconds",
				Help:      "Kafka publish latency in seconds.",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"topic"},
		),
	}
	registry.MustRegister(m.PublishTotal, m.PublishLatency)
	return m
}

func (m *ProducerMetrics) observe(topic, status string, seconds float64) {
	if m == nil {
		return
	}
	m.PublishTotal.WithLabelValues(topic, status).Inc()
	m.PublishLatency.WithLabelValues(topic).Observe(seconds)
}

// ConsumerMetrics counts handled messages. Status is one of ok, retry or dlq.
type ConsumerMetrics struct {
	Handled *prometheus.CounterVec
}

func NewConsumerMetrics(registry *prometheus.Registry) *ConsumerMetrics {
	m := &ConsumerMetrics{
		Handled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "kafka_messages_handled_total",
				Help:      "Kafka messages handled by topic and outcome.",
			},
			[]string{"topic", "status"},
		),
	}
	registry.MustRegister(m.Handled)
	return m
}

func (m *ConsumerMetrics) inc(topic, status string) {
	if m == nil {
		return
	}
	m.Handled.WithLabelValues(topic, status).Inc()
}
