package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. Each Metrics
// owns its registry, so tests can build as many as they like. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests      *prometheus.CounterVec
	ChatTurns         *prometheus.CounterVec
	GenerationErrors  *prometheus.CounterVec
	GenerationLatency *prometheus.HistogramVec
	KnowledgeAdded    *prometheus.CounterVec
	RejectedRecords   *prometheus.GaugeVec
	StoredRecords     *prometheus.GaugeVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		ChatTurns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Completed chat turns by model.",
		}, []string{"model"}),
		GenerationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Backend failures by model.",
		}, []string{"model"}),
		GenerationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Backend response latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		}, []string{"model"}),
		KnowledgeAdded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_entries_added_total",
			Help:      "Knowledge entries added by source.",
		}, []string{"source"}),
		RejectedRecords: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rejected_records",
			Help:      "Records dropped at load time by collection.",
		}, []string{"collection"}),
		StoredRecords: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_records",
			Help:      "Records currently held by collection.",
		}, []string{"collection"}),
	}
}

// ObserveRequest counts one HTTP response.
func (m *Metrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveGeneration records one backend call.
func (m *Metrics) ObserveGeneration(model string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.GenerationLatency.WithLabelValues(model).Observe(float64(d.Milliseconds()))
	if failed {
		m.GenerationErrors.WithLabelValues(model).Inc()
	}
}

// ObserveChatTurn counts a completed chat turn.
func (m *Metrics) ObserveChatTurn(model string) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(model).Inc()
}

// ObserveKnowledgeAdded counts n entries added from source.
func (m *Metrics) ObserveKnowledgeAdded(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.KnowledgeAdded.WithLabelValues(source).Add(float64(n))
}

// SetRejected records how many records a collection dropped at load.
func (m *Metrics) SetRejected(collection string, n int) {
	if m == nil {
		return
	}
	m.RejectedRecords.WithLabelValues(collection).Set(float64(n))
}

// SetStored records the current size of a collection.
func (m *Metrics) SetStored(collection string, n int) {
	if m == nil {
		return
	}
	m.StoredRecords.WithLabelValues(collection).Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
