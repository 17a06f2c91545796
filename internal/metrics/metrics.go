// Package metrics provides Prometheus metrics for the storage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the storage engine.
type Metrics struct {
	// Buffer pool metrics
	BufferCacheHitsTotal   prometheus.Counter
	BufferCacheMissesTotal prometheus.Counter
	BufferEvictionsTotal   prometheus.Counter
	BufferPageReadsTotal   prometheus.Counter
	BufferPageWritesTotal  prometheus.Counter
	BufferHitRate          prometheus.Gauge

	// Table manager metrics
	TableOperationsTotal   *prometheus.CounterVec
	TableOperationDuration *prometheus.HistogramVec

	// B+tree index metrics
	BptreeOperationsTotal *prometheus.CounterVec

	// Engine/transaction metrics
	EngineTransactionsTotal *prometheus.CounterVec
	EngineUptimeSeconds     prometheus.Gauge
	EngineStartTime         time.Time
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		EngineStartTime: time.Now(),
	}

	m.BufferCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treecore_buffer_cache_hits_total",
			Help: "Total number of buffer pool cache hits",
		},
	)

	m.BufferCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treecore_buffer_cache_misses_total",
			Help: "Total number of buffer pool cache misses",
		},
	)

	m.BufferEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treecore_buffer_evictions_total",
			Help: "Total number of frame evictions",
		},
	)

	m.BufferPageReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treecore_buffer_page_reads_total",
			Help: "Total number of pages read from the page store",
		},
	)

	m.BufferPageWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "treecore_buffer_page_writes_total",
			Help: "Total number of pages written to the page store",
		},
	)

	m.BufferHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treecore_buffer_hit_rate",
			Help: "Buffer pool cache hit rate (hits / (hits+misses))",
		},
	)

	m.TableOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treecore_table_operations_total",
			Help: "Total number of table operations",
		},
		[]string{"table", "operation"},
	)

	m.TableOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treecore_table_operation_duration_seconds",
			Help:    "Duration of table operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"table", "operation"},
	)

	m.BptreeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treecore_bptree_operations_total",
			Help: "Total number of B+tree index operations",
		},
		[]string{"index", "operation"},
	)

	m.EngineTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treecore_engine_transactions_total",
			Help: "Total number of transactions by outcome",
		},
		[]string{"outcome"},
	)

	m.EngineUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "treecore_engine_uptime_seconds",
			Help: "Engine uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

// updateUptime periodically updates the engine uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.EngineUptimeSeconds.Set(time.Since(m.EngineStartTime).Seconds())
	}
}

// RecordBufferAccess records a cache hit or miss. The hit-rate gauge is
// set separately through SetBufferHitRate.
func (m *Metrics) RecordBufferAccess(hit bool) {
	if hit {
		m.BufferCacheHitsTotal.Inc()
	} else {
		m.BufferCacheMissesTotal.Inc()
	}
}

// SetBufferHitRate sets the current hit-rate gauge.
func (m *Metrics) SetBufferHitRate(rate float64) {
	m.BufferHitRate.Set(rate)
}

// RecordTableOperation records a table-manager operation and its duration.
func (m *Metrics) RecordTableOperation(table, operation string, duration time.Duration) {
	m.TableOperationsTotal.WithLabelValues(table, operation).Inc()
	m.TableOperationDuration.WithLabelValues(table, operation).Observe(duration.Seconds())
}

// RecordBptreeOperation records a B+tree index operation.
func (m *Metrics) RecordBptreeOperation(index, operation string) {
	m.BptreeOperationsTotal.WithLabelValues(index, operation).Inc()
}

// RecordTransaction records a commit or rollback outcome.
func (m *Metrics) RecordTransaction(outcome string) {
	m.EngineTransactionsTotal.WithLabelValues(outcome).Inc()
}
