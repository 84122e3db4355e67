package gateway

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exchange outcome labels.
const (
	OutcomeOK      = "ok"
	OutcomeNoReply = "no_reply"
	OutcomeError   = "error"
)

// Metrics tracks pipeline counters. Atomic counters back the /status
// JSON; the same observations feed a per-instance Prometheus registry
// served at /metrics.
type Metrics struct {
	messages     atomic.Int64
	exchanges    atomic.Int64
	errors       atomic.Int64
	totalLatency atomic.Int64 // nanoseconds

	registry      *prometheus.Registry
	promMessages  prometheus.Counter
	promExchanges *prometheus.CounterVec
	promDuration  prometheus.Histogram
}

// NewMetrics creates a Metrics with its own Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		promMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatpilot_messages_total",
			Help: "Inbound chat messages accepted from channels.",
		}),
		promExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatpilot_exchanges_total",
			Help: "Completed pipeline exchanges by outcome.",
		}, []string{"outcome"}),
		promDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatpilot_exchange_duration_seconds",
			Help:    "Wall time of one pipeline exchange.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.promMessages, m.promExchanges, m.promDuration)
	return m
}

// RecordMessage records an inbound message reaching the pipeline.
func (m *Metrics) RecordMessage() {
	m.messages.Add(1)
	m.promMessages.Inc()
}

// RecordExchange records one finished exchange.
func (m *Metrics) RecordExchange(outcome string, elapsed time.Duration) {
	m.exchanges.Add(1)
	m.totalLatency.Add(int64(elapsed))
	if outcome != OutcomeOK {
		m.errors.Add(1)
	}
	m.promExchanges.WithLabelValues(outcome).Inc()
	m.promDuration.Observe(elapsed.Seconds())
}

// ObserveConversations registers a gauge sampling the live conversation
// count on scrape.
func (m *Metrics) ObserveConversations(fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "chatpilot_conversations",
		Help: "Live conversations in the history registry.",
	}, fn))
}

// Handler serves the Prometheus exposition format for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Snapshot returns a consistent point-in-time view of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	exchanges := m.exchanges.Load()
	snap := MetricsSnapshot{
		Messages:  m.messages.Load(),
		Exchanges: exchanges,
		Errors:    m.errors.Load(),
	}
	if exchanges > 0 {
		snap.AvgLatency = time.Duration(m.totalLatency.Load() / exchanges)
	}
	return snap
}

// MetricsSnapshot is a serializable point-in-time metrics view.
type MetricsSnapshot struct {
	Messages   int64         `json:"messages"`
	Exchanges  int64         `json:"exchanges"`
	Errors     int64         `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency_ns"`
}
