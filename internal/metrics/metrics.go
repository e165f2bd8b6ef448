// Package metrics provides Prometheus instrumentation for corestore.
//
// Each Engine owns its own *Metrics bound to its own prometheus.Registry;
// there is no package-level registry or promauto default registerer. The
// core never exposes an HTTP scrape endpoint for these instruments (that
// adapter is out of scope) but Engine.GetStats/GetVectorStats read them
// back directly so the instrumentation is load-bearing, not decoration.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Metrics holds all Prometheus instruments for one engine instance.
type Metrics struct {
	reg *prometheus.Registry

	DbOperationsTotal   *prometheus.CounterVec
	DbOperationDuration *prometheus.HistogramVec

	TotalPages        prometheus.Gauge
	TotalReads        prometheus.Counter
	TotalWrites       prometheus.Counter
	ChecksumFailures  prometheus.Counter
	TotalEntries      prometheus.Gauge
	TotalGets         prometheus.Counter
	TotalPuts         prometheus.Counter

	BufferHits   prometheus.Counter
	BufferMisses prometheus.Counter
	BufferEvictions prometheus.Counter

	WalFlushDuration   prometheus.Histogram
	WalBytesAppended   prometheus.Counter
	CheckpointsWritten prometheus.Counter

	VectorSearchDuration prometheus.Histogram
	NumVectors           prometheus.Gauge

	startTime    time.Time
	getTimeUsSum atomic.Int64
	putTimeUsSum atomic.Int64
}

// NewMetrics creates and registers instruments against reg. Passing a
// fresh prometheus.NewRegistry() per Engine keeps instances isolated;
// callers embedding multiple engines in one process must each supply a
// distinct registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		reg:       reg,
		startTime: time.Now(),

		DbOperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corestore_db_operations_total",
			Help: "Total number of engine operations by kind and outcome.",
		}, []string{"operation", "status"}),

		DbOperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corestore_db_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		TotalPages: f.NewGauge(prometheus.GaugeOpts{
			Name: "corestore_total_pages",
			Help: "Number of pages currently allocated in the page file.",
		}),
		TotalReads: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_disk_reads_total",
			Help: "Total number of page reads issued to the disk manager.",
		}),
		TotalWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_disk_writes_total",
			Help: "Total number of page writes issued to the disk manager.",
		}),
		ChecksumFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_checksum_failures_total",
			Help: "Total number of page checksum verification failures.",
		}),
		TotalEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "corestore_record_entries",
			Help: "Current number of live (non-tombstoned) record-store entries.",
		}),
		TotalGets: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_get_total",
			Help: "Total number of Get operations.",
		}),
		TotalPuts: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_put_total",
			Help: "Total number of Put operations.",
		}),

		BufferHits: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_buffer_pool_hits_total",
			Help: "Total number of buffer pool fetches satisfied without a disk read.",
		}),
		BufferMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_buffer_pool_misses_total",
			Help: "Total number of buffer pool fetches that faulted to disk.",
		}),
		BufferEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_buffer_pool_evictions_total",
			Help: "Total number of frames evicted by the replacement policy.",
		}),

		WalFlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corestore_wal_flush_duration_seconds",
			Help:    "Duration of WAL fsync calls.",
			Buckets: prometheus.DefBuckets,
		}),
		WalBytesAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_wal_bytes_appended_total",
			Help: "Total bytes appended to the write-ahead log.",
		}),
		CheckpointsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "corestore_checkpoints_total",
			Help: "Total number of checkpoints written.",
		}),

		VectorSearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "corestore_vector_search_duration_seconds",
			Help:    "Duration of search_similar calls.",
			Buckets: prometheus.DefBuckets,
		}),
		NumVectors: f.NewGauge(prometheus.GaugeOpts{
			Name: "corestore_vectors",
			Help: "Current number of stored vectors.",
		}),
	}
	return m
}

// RecordOp records a completed engine operation.
func (m *Metrics) RecordOp(operation, status string, duration time.Duration) {
	m.DbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DbOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	switch operation {
	case "get":
		m.getTimeUsSum.Add(duration.Microseconds())
	case "put":
		m.putTimeUsSum.Add(duration.Microseconds())
	}
}

// Uptime returns time elapsed since this Metrics was constructed.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }

// Snapshot is a point-in-time read of the counters/gauges needed by
// Engine.GetStats(), extracted directly off the live instruments via
// testutil.ToFloat64 rather than kept in a shadow set of fields.
type Snapshot struct {
	TotalPages       int64
	TotalReads       int64
	TotalWrites      int64
	ChecksumFailures int64
	TotalEntries     int64
	TotalGets        int64
	TotalPuts        int64
	AvgGetTimeUs     float64
	AvgPutTimeUs     float64
}

// Snapshot reads the current values of the instruments backing GetStats.
func (m *Metrics) Snapshot() Snapshot {
	totalGets := int64(testutil.ToFloat64(m.TotalGets))
	totalPuts := int64(testutil.ToFloat64(m.TotalPuts))
	snap := Snapshot{
		TotalPages:       int64(testutil.ToFloat64(m.TotalPages)),
		TotalReads:       int64(testutil.ToFloat64(m.TotalReads)),
		TotalWrites:      int64(testutil.ToFloat64(m.TotalWrites)),
		ChecksumFailures: int64(testutil.ToFloat64(m.ChecksumFailures)),
		TotalEntries:     int64(testutil.ToFloat64(m.TotalEntries)),
		TotalGets:        totalGets,
		TotalPuts:        totalPuts,
	}
	if totalGets > 0 {
		snap.AvgGetTimeUs = float64(m.getTimeUsSum.Load()) / float64(totalGets)
	}
	if totalPuts > 0 {
		snap.AvgPutTimeUs = float64(m.putTimeUsSum.Load()) / float64(totalPuts)
	}
	return snap
}
