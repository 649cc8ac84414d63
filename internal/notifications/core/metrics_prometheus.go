package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"alertrelay/internal/types"
)

// PrometheusMetrics implements NotificationMetrics with collectors
// registered on a caller-supplied registerer.
type PrometheusMetrics struct {
	deliveries *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	dropped    prometheus.Counter
}

var _ NotificationMetrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics registers the notification collectors on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	f := promauto.With(reg)
	return &PrometheusMetrics{
		deliveries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertrelay_delivery_attempts_total",
				Help: "Final delivery outcomes by channel type",
			},
			[]string{"channel", "result"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alertrelay_delivery_latency_seconds",
				Help:    "Duration of single sender invocations",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"channel"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alertrelay_retry_outcomes_total",
				Help: "Retry queue entries processed by outcome",
			},
			[]string{"outcome"},
		),
		dropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "alertrelay_submit_dropped_total",
				Help: "Events rejected because the submit queue was full",
			},
		),
	}
}

func (m *PrometheusMetrics) RecordDelivery(_ context.Context, channel types.ChannelType, result MetricResult) {
	m.deliveries.WithLabelValues(string(channel), string(result)).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, channel types.ChannelType, duration time.Duration) {
	m.latency.WithLabelValues(string(channel)).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) RecordRetryOutcome(_ context.Context, outcome RetryOutcome) {
	m.retries.WithLabelValues(string(outcome)).Inc()
}

func (m *PrometheusMetrics) RecordSubmitDropped(context.Context) {
	m.dropped.Inc()
}
