// Storage metrics cover segment I/O, fsync, index lookups and the number of
// open logs and segment files. Useful queries:
//
//	slow appends:     histogram_quantile(0.99, rate(gdplogd_storage_fsync_latency_seconds_bucket[5m]))
//	log needs check:  increase(gdplogd_storage_reads_total{result="corrupt_index"}[1h]) > 0
//	                  or gdplogd_storage_tidx_disabled_total > 0
//	fd pressure:      gdplogd_storage_segments_open / process_max_fds

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics are the collectors fed by the storage package.
type StorageMetrics struct {
	// BytesWritten counts bytes appended to segments, headers included.
	//
	// PROMQL:
	//   rate(gdplogd_storage_bytes_written_total[5m]) / 1024 / 1024
	BytesWritten prometheus.Counter

	// BytesRead counts bytes read back from segments.
	BytesRead prometheus.Counter

	// FsyncTotal counts fsync operations.
	FsyncTotal prometheus.Counter

	// FsyncLatency is the duration of each segment or index fsync.
	//
	// ALERTING:
	//   histogram_quantile(0.99,
	//     rate(gdplogd_storage_fsync_latency_seconds_bucket[5m])
	//   ) > 0.1
	FsyncLatency prometheus.Histogram

	// FsyncErrors counts fsync failures. Any of these is critical.
	FsyncErrors prometheus.Counter

	// Appends counts append attempts.
	// Labels: result ("ok" or "error")
	Appends *prometheus.CounterVec

	// AppendErrors counts failed appends by the step that failed.
	// Labels: stage (validate, rotate, segment, ridx, tidx)
	AppendErrors *prometheus.CounterVec

	// Reads counts reads by outcome.
	// Labels: result (ok, missing, expired, not_found, corrupt_index, error)
	Reads *prometheus.CounterVec

	// IndexLookups counts index lookups.
	// Labels: index (ridx, cache, tidx)
	IndexLookups *prometheus.CounterVec

	// IndexLookupLatency is labelled by index (ridx, tidx).
	// Labels: index
	IndexLookupLatency *prometheus.HistogramVec

	// SegmentsCreated counts segment files created, rotations included.
	SegmentsCreated prometheus.Counter

	// SegmentsRetired counts segment files deleted by retention.
	SegmentsRetired prometheus.Counter

	// SegmentsOpen is the number of segment files currently open.
	SegmentsOpen prometheus.Gauge

	// LogsOpen is the number of open logs.
	LogsOpen prometheus.Gauge

	// TimeIndexDisabled counts timestamp indices set aside after a write
	// failure.
	TimeIndexDisabled prometheus.Counter

	registry *Registry
}

func newStorageMetrics(r *Registry) *StorageMetrics {
	m := &StorageMetrics{registry: r}

	m.BytesWritten = r.newCounter(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "bytes_written_total",
		Help:      "Total bytes written to segments (includes headers)",
	})
	m.BytesRead = r.newCounter(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "bytes_read_total",
		Help:      "Total bytes read from segments",
	})

	m.FsyncTotal = r.newCounter(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "fsync_total",
		Help:      "Fsync calls on segment and index files",
	})
	m.FsyncLatency = r.newHistogram(prometheus.HistogramOpts{
		Subsystem: "storage",
		Name:      "fsync_latency_seconds",
		Help:      "Time to complete fsync operation",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	m.FsyncErrors = r.newCounter(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "fsync_errors_total",
		Help:      "Failed fsync calls; appended data may not be durable",
	})

	m.Appends = r.newCounterVec(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "appends_total",
		Help:      "Total record appends by result",
	}, []string{"result"})
	m.AppendErrors = r.newCounterVec(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "append_errors_total",
		Help:      "Failed appends by the step that failed",
	}, []string{"stage"})
	m.Reads = r.newCounterVec(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "reads_total",
		Help:      "Total reads by record number, by result",
	}, []string{"result"})

	m.IndexLookups = r.newCounterVec(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "index_lookups_total",
		Help:      "Total index lookups",
	}, []string{"index"})
	m.IndexLookupLatency = r.newHistogramVec(prometheus.HistogramOpts{
		Subsystem: "storage",
		Name:      "index_lookup_latency_seconds",
		Help:      "Time to resolve a lookup in an index",
	}, []string{"index"})

	m.SegmentsCreated = r.newCounter(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "segments_created_total",
		Help:      "Total segment files created",
	})
	m.SegmentsRetired = r.newCounter(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "segments_retired_total",
		Help:      "Total segment files deleted by retention",
	})
	m.SegmentsOpen = r.newGauge(prometheus.GaugeOpts{
		Subsystem: "storage",
		Name:      "segments_open",
		Help:      "Segment files currently open",
	})
	m.LogsOpen = r.newGauge(prometheus.GaugeOpts{
		Subsystem: "storage",
		Name:      "logs_open",
		Help:      "Logs currently open",
	})
	m.TimeIndexDisabled = r.newCounter(prometheus.CounterOpts{
		Subsystem: "storage",
		Name:      "tidx_disabled_total",
		Help:      "Timestamp indices disabled after a write failure",
	})

	return m
}

//
// All methods are safe on a nil *StorageMetrics, which is what callers get
// when metrics are disabled or never initialized.
//

// RecordWrite records bytes written to a segment.
func (m *StorageMetrics) RecordWrite(bytes int) {
	if !m.on() {
		return
	}
	m.BytesWritten.Add(float64(bytes))
}

// RecordRead records bytes read from a segment.
func (m *StorageMetrics) RecordRead(bytes int) {
	if !m.on() {
		return
	}
	m.BytesRead.Add(float64(bytes))
}

// RecordFsync observes one fsync and counts it as failed when err is set.
func (m *StorageMetrics) RecordFsync(latency float64, err error) {
	if !m.on() {
		return
	}
	m.FsyncTotal.Inc()
	m.FsyncLatency.Observe(latency)
	if err != nil {
		m.FsyncErrors.Inc()
	}
}

// RecordAppend records the outcome of an append. stage names the step that
// failed and is ignored on success.
func (m *StorageMetrics) RecordAppend(stage string, err error) {
	if !m.on() {
		return
	}
	if err == nil {
		m.Appends.WithLabelValues("ok").Inc()
		return
	}
	m.Appends.WithLabelValues("error").Inc()
	m.AppendErrors.WithLabelValues(stage).Inc()
}

// RecordReadResult records the outcome of a read by record number.
func (m *StorageMetrics) RecordReadResult(result string) {
	if !m.on() {
		return
	}
	m.Reads.WithLabelValues(result).Inc()
}

// RecordIndexLookup observes one RIDX or TIDX lookup.
func (m *StorageMetrics) RecordIndexLookup(indexType string, latency float64) {
	if !m.on() {
		return
	}
	m.IndexLookups.WithLabelValues(indexType).Inc()
	m.IndexLookupLatency.WithLabelValues(indexType).Observe(latency)
}

// RecordSegmentCreated records a new segment file.
func (m *StorageMetrics) RecordSegmentCreated() {
	if !m.on() {
		return
	}
	m.SegmentsCreated.Inc()
}

// RecordSegmentsRetired records segments deleted by retention.
func (m *StorageMetrics) RecordSegmentsRetired(n int) {
	if !m.on() {
		return
	}
	m.SegmentsRetired.Add(float64(n))
}

// AddSegmentsOpen adjusts the open segment gauge.
func (m *StorageMetrics) AddSegmentsOpen(delta int) {
	if !m.on() {
		return
	}
	m.SegmentsOpen.Add(float64(delta))
}

// AddLogsOpen adjusts the open log gauge.
func (m *StorageMetrics) AddLogsOpen(delta int) {
	if !m.on() {
		return
	}
	m.LogsOpen.Add(float64(delta))
}

// RecordTimeIndexDisabled records a timestamp index being set aside.
func (m *StorageMetrics) RecordTimeIndexDisabled() {
	if !m.on() {
		return
	}
	m.TimeIndexDisabled.Inc()
}

func (m *StorageMetrics) on() bool { return m != nil && m.registry.enabled }
