// Package metrics exports engine observations to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logsrd"

// Metrics holds every collector the engine reports to.
type Metrics struct {
	writeLatency   *prometheus.HistogramVec
	writeEntries   *prometheus.CounterVec
	writeBytes     *prometheus.CounterVec
	syncLatency    *prometheus.HistogramVec
	readLatency    *prometheus.HistogramVec
	readBytes      *prometheus.CounterVec
	truncatedBytes *prometheus.CounterVec

	catalogReadBytes prometheus.Counter
	catalogCommits   prometheus.Histogram
	catalogOps       prometheus.Counter

	compactions     *prometheus.CounterVec
	compactDuration prometheus.Histogram
	logsMoved       *prometheus.CounterVec
	usage           *prometheus.GaugeVec
}

// New registers the collectors with r. A nil r uses a private registry.
func New(r prometheus.Registerer) *Metrics {
	if r == nil {
		r = prometheus.NewRegistry()
	}
	f := promauto.With(r)
	return &Metrics{
		writeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_batch_duration_seconds",
			Help:      "Duration of one vectored write batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"role"}),
		writeEntries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_entries_total",
			Help:      "Entries written",
		}, []string{"role"}),
		writeBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_bytes_total",
			Help:      "Bytes written including checkpoints",
		}, []string{"role"}),
		syncLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "datasync_duration_seconds",
			Help:      "Duration of the data sync following a write batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"role"}),
		readLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Duration of one coalesced read",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
		}, []string{"role"}),
		readBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_bytes_total",
			Help:      "Bytes read from log files",
		}, []string{"role"}),
		truncatedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_bytes_total",
			Help:      "Bytes moved to backup files by truncation",
		}, []string{"role"}),
		catalogReadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_read_bytes_total",
			Help:      "Bytes read from the catalog",
		}),
		catalogCommits: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_commit_duration_seconds",
			Help:      "Duration of catalog batch commits",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		catalogOps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_ops_total",
			Help:      "Operations committed to the catalog",
		}),
		compactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Compaction epochs by outcome",
		}, []string{"outcome"}),
		compactDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compaction_duration_seconds",
			Help:      "Duration of one compaction epoch",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		logsMoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_logs_moved_total",
			Help:      "Logs moved out of the hot log by destination",
		}, []string{"destination"}),
		usage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "global_log_bytes",
			Help:      "Bytes held in the global logs",
		}, []string{"role"}),
	}
}

// FileHook observes one file role. It satisfies persist.MetricsHook.
type FileHook struct {
	writeLatency   prometheus.Observer
	writeEntries   prometheus.Counter
	writeBytes     prometheus.Counter
	syncLatency    prometheus.Observer
	readLatency    prometheus.Observer
	readBytes      prometheus.Counter
	truncatedBytes prometheus.Counter
}

// File returns the hook for files playing role ("hot", "cold", "per-log").
func (m *Metrics) File(role string) FileHook {
	return FileHook{
		writeLatency:   m.writeLatency.WithLabelValues(role),
		writeEntries:   m.writeEntries.WithLabelValues(role),
		writeBytes:     m.writeBytes.WithLabelValues(role),
		syncLatency:    m.syncLatency.WithLabelValues(role),
		readLatency:    m.readLatency.WithLabelValues(role),
		readBytes:      m.readBytes.WithLabelValues(role),
		truncatedBytes: m.truncatedBytes.WithLabelValues(role),
	}
}

func (h FileHook) ObserveWrite(elapsed time.Duration, entries int, bytes int) {
	h.writeLatency.Observe(elapsed.Seconds())
	h.writeEntries.Add(float64(entries))
	h.writeBytes.Add(float64(bytes))
}

func (h FileHook) ObserveSync(elapsed time.Duration) { h.syncLatency.Observe(elapsed.Seconds()) }

func (h FileHook) ObserveRead(elapsed time.Duration, bytes int) {
	h.readLatency.Observe(elapsed.Seconds())
	h.readBytes.Add(float64(bytes))
}

func (h FileHook) ObserveTruncate(bytes int64) { h.truncatedBytes.Add(float64(bytes)) }

// CatalogHook observes the catalog database. It satisfies
// pebblestore.MetricsHook.
type CatalogHook struct{ m *Metrics }

// Catalog returns the hook for the catalog database.
func (m *Metrics) Catalog() CatalogHook { return CatalogHook{m: m} }

func (h CatalogHook) ObserveRead(_ time.Duration, bytes int) {
	h.m.catalogReadBytes.Add(float64(bytes))
}

func (h CatalogHook) ObserveBatchCommit(elapsed time.Duration, numOps int, _ int) {
	h.m.catalogCommits.Observe(elapsed.Seconds())
	h.m.catalogOps.Add(float64(numOps))
}

// ObserveCompaction records one compaction epoch.
func (m *Metrics) ObserveCompaction(elapsed time.Duration, toCold, toPerLog int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.compactions.WithLabelValues(outcome).Inc()
	m.compactDuration.Observe(elapsed.Seconds())
	m.logsMoved.WithLabelValues("cold").Add(float64(toCold))
	m.logsMoved.WithLabelValues("per-log").Add(float64(toPerLog))
}

// ObserveUsage records the bytes currently held by the hot and cold logs.
func (m *Metrics) ObserveUsage(hot, cold int64) {
	m.usage.WithLabelValues("hot").Set(float64(hot))
	m.usage.WithLabelValues("cold").Set(float64(cold))
}
