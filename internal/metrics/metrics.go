// Package metrics collects and exposes the runtime's observability data
// for the LM engine: round counts, latency, cache effectiveness, and
// rate-limit throttling, per model.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-model counters + time series)
//     for a lightweight JSON /metrics endpoint.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// Keeping both means a standalone "vibe run" invocation can report a
// cost/latency summary without a Prometheus sidecar, while long-running
// deployments still get a scrape-able registry.
//
// # Concurrency — hot path
//
// RecordRound is called from the AI engine after every provider
// round-trip and must be fast. It uses atomic increments for global
// counters and dispatches a lightweight event onto a buffered channel
// (tsChan) for the time-series worker to process asynchronously,
// avoiding any lock on the hot path.
//
// # Invariants
//
//   - TotalRounds == SuccessRounds + FailedRounds (maintained by
//     RecordRound).
//   - The time-series ring buffer holds at most timeSeriesBucketCount
//     buckets (24 * 60 = 1440 for the last 24 hours at 1-minute
//     granularity).
//   - tsChan capacity is 8192 events; events dropped when full are
//     counted in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Rounds       int64
	Errors       int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes the runtime's metrics
type Metrics struct {
	// Round metrics
	TotalRounds   atomic.Int64
	SuccessRounds atomic.Int64
	FailedRounds  atomic.Int64
	RetriedRounds atomic.Int64

	// Latency metrics (in milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	// Context-cache effectiveness
	CacheHits   atomic.Int64
	CacheMisses atomic.Int64

	// Rate-limit throttling
	RateLimited atomic.Int64

	// Per-model metrics
	modelMetrics sync.Map // model -> *ModelMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path
type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// ModelMetrics tracks metrics for a single model variable.
type ModelMetrics struct {
	Rounds    atomic.Int64
	Successes atomic.Int64
	Failures  atomic.Int64
	TotalMs   atomic.Int64
	MinMs     atomic.Int64
	MaxMs     atomic.Int64
}

// Global metrics instance
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized
func StartTime() time.Time {
	return global.startTime
}

// RecordRound records one LM provider round-trip's outcome.
func (m *Metrics) RecordRound(model string, durationMs int64, success bool) {
	m.TotalRounds.Add(1)
	if success {
		m.SuccessRounds.Add(1)
	} else {
		m.FailedRounds.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	mm := m.getModelMetrics(model)
	mm.Rounds.Add(1)
	if success {
		mm.Successes.Add(1)
	} else {
		mm.Failures.Add(1)
	}
	mm.TotalMs.Add(durationMs)
	updateMin(&mm.MinMs, durationMs)
	updateMax(&mm.MaxMs, durationMs)

	m.recordTimeSeries(durationMs, !success)
	RecordPrometheusRound(model, durationMs, success)
}

// RecordRetry records a round that required a retry before succeeding or giving up.
func (m *Metrics) RecordRetry(model string) {
	m.RetriedRounds.Add(1)
	RecordPrometheusRetry(model)
}

// RecordCacheHit/RecordCacheMiss track context-chunk cache effectiveness.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Add(1)
	RecordPrometheusCache(true)
}

func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Add(1)
	RecordPrometheusCache(false)
}

// RecordRateLimited records a round throttled by the rate limiter before dispatch.
func (m *Metrics) RecordRateLimited(model string) {
	m.RateLimited.Add(1)
	RecordPrometheusRateLimited(model)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot invocation path.
func (m *Metrics) recordTimeSeries(durationMs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isError)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Rounds++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isError {
			bucket.Errors++
		}
	}
}

func (m *Metrics) getModelMetrics(model string) *ModelMetrics {
	if v, ok := m.modelMetrics.Load(model); ok {
		return v.(*ModelMetrics)
	}

	mm := &ModelMetrics{}
	mm.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.modelMetrics.LoadOrStore(model, mm)
	return actual.(*ModelMetrics)
}

// GetModelMetrics returns the metrics for a specific model (or nil if none recorded yet)
func (m *Metrics) GetModelMetrics(model string) *ModelMetrics {
	if v, ok := m.modelMetrics.Load(model); ok {
		return v.(*ModelMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalRounds.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	cacheTotal := m.CacheHits.Load() + m.CacheMisses.Load()
	cacheHitPct := float64(0)
	if cacheTotal > 0 {
		cacheHitPct = float64(m.CacheHits.Load()) / float64(cacheTotal) * 100
	}

	result := map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"rounds": map[string]interface{}{
			"total":   total,
			"success": m.SuccessRounds.Load(),
			"failed":  m.FailedRounds.Load(),
			"retried": m.RetriedRounds.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"cache": map[string]interface{}{
			"hits":    m.CacheHits.Load(),
			"misses":  m.CacheMisses.Load(),
			"hit_pct": cacheHitPct,
		},
		"rate_limited":      m.RateLimited.Load(),
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}

	return result
}

// ModelStats returns per-model metrics
func (m *Metrics) ModelStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.modelMetrics.Range(func(key, value interface{}) bool {
		model := key.(string)
		mm := value.(*ModelMetrics)

		total := mm.Rounds.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(mm.TotalMs.Load()) / float64(total)
		}

		minMs := mm.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[model] = map[string]interface{}{
			"rounds":    total,
			"successes": mm.Successes.Load(),
			"failures":  mm.Failures.Load(),
			"avg_ms":    avgMs,
			"min_ms":    minMs,
			"max_ms":    mm.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["models"] = m.ModelStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"rounds":       bucket.Rounds,
			"errors":       bucket.Errors,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
