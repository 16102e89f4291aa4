package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager holds the cache service's Prometheus metrics. All methods are
// safe on a nil receiver so components can run without metrics.
type MetricsManager struct {
	Registry           *prometheus.Registry
	FetchAttemptsTotal *prometheus.CounterVec
	FetchRetriesTotal  *prometheus.CounterVec
	LoadOutcomesTotal  *prometheus.CounterVec
	CacheWriteFailures prometheus.Counter
	ClearOutcomesTotal *prometheus.CounterVec
	SyncItemsTotal     *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

func NewMetricsManager(namespace string) *MetricsManager {
	registry := prometheus.NewRegistry()

	fetchAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "Total number of upstream fetch attempts by cache key.",
	}, []string{"key"})
	fetchRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_retries_total",
		Help:      "Total number of backoff waits before a retried fetch, by cache key.",
	}, []string{"key"})
	loadOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "load_outcomes_total",
		Help:      "Resilient loads by cache key and result source (fresh, cached, empty).",
	}, []string{"key", "source"})
	writeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_write_failures_total",
		Help:      "Cache writes that failed and were skipped.",
	})
	clearOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "clear_outcomes_total",
		Help:      "Clear operations per storage surface and result.",
	}, []string{"surface", "result"})
	syncItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_items_total",
		Help:      "Queued writes by lifecycle event (queued, replayed, failed).",
	}, []string{"event"})
	httpLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_latency_seconds",
		Help:      "Latency of HTTP requests by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})

	registry.MustRegister(
		fetchAttempts,
		fetchRetries,
		loadOutcomes,
		writeFailures,
		clearOutcomes,
		syncItems,
		httpLatency,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return &MetricsManager{
		Registry:           registry,
		FetchAttemptsTotal: fetchAttempts,
		FetchRetriesTotal:  fetchRetries,
		LoadOutcomesTotal:  loadOutcomes,
		CacheWriteFailures: writeFailures,
		ClearOutcomesTotal: clearOutcomes,
		SyncItemsTotal:     syncItems,
		HTTPRequestLatency: httpLatency,
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *MetricsManager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *MetricsManager) FetchAttempt(key string) {
	if m == nil {
		return
	}
	m.FetchAttemptsTotal.WithLabelValues(key).Inc()
}

func (m *MetricsManager) FetchRetry(key string) {
	if m == nil {
		return
	}
	m.FetchRetriesTotal.WithLabelValues(key).Inc()
}

func (m *MetricsManager) LoadOutcome(key, source string) {
	if m == nil {
		return
	}
	m.LoadOutcomesTotal.WithLabelValues(key, source).Inc()
}

func (m *MetricsManager) CacheWriteFailed() {
	if m == nil {
		return
	}
	m.CacheWriteFailures.Inc()
}

func (m *MetricsManager) ClearOutcome(surface string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ClearOutcomesTotal.WithLabelValues(surface, result).Inc()
}

func (m *MetricsManager) SyncItem(event string) {
	if m == nil {
		return
	}
	m.SyncItemsTotal.WithLabelValues(event).Inc()
}

func (m *MetricsManager) ObserveHTTP(route, method, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestLatency.WithLabelValues(route, method, status).Observe(took.Seconds())
}
