package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the LM engine's
// round throughput, cache effectiveness, rate limiting, and circuit
// breaker state.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	roundsTotal      *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	rateLimitedTotal *prometheus.CounterVec

	// Histograms
	roundDuration *prometheus.HistogramVec

	// Gauges
	uptime              prometheus.GaugeFunc
	circuitBreakerState *prometheus.GaugeVec

	circuitBreakerTripsTotal *prometheus.CounterVec
}

// Default histogram buckets for round duration (in milliseconds)
var defaultBuckets = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		roundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rounds_total",
				Help:      "Total number of LM provider rounds",
			},
			[]string{"model", "status"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of retried LM provider rounds",
			},
			[]string{"model"},
		),

		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_cache_hits_total",
				Help:      "Total context-chunk cache hits",
			},
		),

		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_cache_misses_total",
				Help:      "Total context-chunk cache misses",
			},
		),

		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total rounds throttled by the rate limiter before dispatch",
			},
			[]string{"model"},
		),

		roundDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "round_duration_milliseconds",
				Help:      "Duration of LM provider rounds in milliseconds",
				Buckets:   buckets,
			},
			[]string{"model"},
		),

		circuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"model"},
		),

		circuitBreakerTripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_trips_total",
				Help:      "Total circuit breaker state transitions",
			},
			[]string{"model", "to_state"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.roundsTotal,
		pm.retriesTotal,
		pm.cacheHitsTotal,
		pm.cacheMissesTotal,
		pm.rateLimitedTotal,
		pm.roundDuration,
		pm.uptime,
		pm.circuitBreakerState,
		pm.circuitBreakerTripsTotal,
	)

	promMetrics = pm
}

// RecordPrometheusRound records one LM round's outcome in Prometheus collectors.
func RecordPrometheusRound(model string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.roundsTotal.WithLabelValues(model, status).Inc()
	promMetrics.roundDuration.WithLabelValues(model).Observe(float64(durationMs))
}

// RecordPrometheusRetry records a retried round.
func RecordPrometheusRetry(model string) {
	if promMetrics == nil {
		return
	}
	promMetrics.retriesTotal.WithLabelValues(model).Inc()
}

// RecordPrometheusCache records a context-chunk cache hit or miss.
func RecordPrometheusCache(hit bool) {
	if promMetrics == nil {
		return
	}
	if hit {
		promMetrics.cacheHitsTotal.Inc()
	} else {
		promMetrics.cacheMissesTotal.Inc()
	}
}

// RecordPrometheusRateLimited records a round throttled before dispatch.
func RecordPrometheusRateLimited(model string) {
	if promMetrics == nil {
		return
	}
	promMetrics.rateLimitedTotal.WithLabelValues(model).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state gauge for a model.
// state: 0=closed, 1=open, 2=half_open
func SetCircuitBreakerState(model string, state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerState.WithLabelValues(model).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker state transition.
func RecordCircuitBreakerTrip(model, toState string) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerTripsTotal.WithLabelValues(model, toState).Inc()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
