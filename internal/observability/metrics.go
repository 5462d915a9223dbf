// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry metrics
	OpsTotal         *prometheus.CounterVec
	OpDuration       *prometheus.HistogramVec
	EventsTotal      *prometheus.CounterVec
	TotalSupply      prometheus.Gauge
	NonIPFSImageRefs prometheus.Counter

	// Archive metrics
	ArchiveAppendErrors prometheus.Counter
	MirrorWriteErrors   prometheus.Counter
	LastArchivedSeq     prometheus.Gauge

	// Activity metrics
	ActivityBufferSize    prometheus.Gauge
	ActivityFlushesTotal  *prometheus.CounterVec
	ActivityPointsFlushed prometheus.Counter

	// Feed metrics
	FeedClients        prometheus.Gauge
	FeedMessagesSent   prometheus.Counter
	FeedClientsDropped prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "echomint_registry"
	}

	return &Metrics{
		// Registry metrics
		OpsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "ops_total",
			Help:      "Total number of registry operations by outcome",
		}, []string{"op", "status"}),
		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "op_duration_seconds",
			Help:      "Registry operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		EventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "events_total",
			Help:      "Total number of events emitted by kind",
		}, []string{"kind"}),
		TotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "total_supply",
			Help:      "Current number of minted tokens",
		}),
		NonIPFSImageRefs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "non_ipfs_image_refs_total",
			Help:      "Total number of accepted image updates whose reference is not an ipfs:// CID",
		}),

		// Archive metrics
		ArchiveAppendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "append_errors_total",
			Help:      "Total number of failed event archive appends",
		}),
		MirrorWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "mirror_write_errors_total",
			Help:      "Total number of failed token mirror writes",
		}),
		LastArchivedSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "last_archived_seq",
			Help:      "Highest sequence number assigned to an archived event",
		}),

		// Activity metrics
		ActivityBufferSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "buffer_size",
			Help:      "Current number of activity points awaiting flush",
		}),
		ActivityFlushesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "flushes_total",
			Help:      "Total number of activity flushes by status",
		}, []string{"status"}),
		ActivityPointsFlushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "activity",
			Name:      "points_flushed_total",
			Help:      "Total number of activity points flushed to storage",
		}),

		// Feed metrics
		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Current number of connected live feed clients",
		}),
		FeedMessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_sent_total",
			Help:      "Total number of events fanned out to feed clients",
		}),
		FeedClientsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients_dropped_total",
			Help:      "Total number of feed clients dropped for not keeping up",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOp records a registry operation and its duration.
func RecordOp(op, status string, seconds float64) {
	DefaultMetrics.OpsTotal.WithLabelValues(op, status).Inc()
	DefaultMetrics.OpDuration.WithLabelValues(op).Observe(seconds)
}

// RecordEvent increments the emitted events counter for a kind.
func RecordEvent(kind string) {
	DefaultMetrics.EventsTotal.WithLabelValues(kind).Inc()
}

// SetTotalSupply updates the total supply gauge.
func SetTotalSupply(supply uint64) {
	DefaultMetrics.TotalSupply.Set(float64(supply))
}

// RecordNonIPFSImageRef increments the non-IPFS image reference counter.
func RecordNonIPFSImageRef() {
	DefaultMetrics.NonIPFSImageRefs.Inc()
}

// RecordArchiveAppendError increments the archive append error counter.
func RecordArchiveAppendError() {
	DefaultMetrics.ArchiveAppendErrors.Inc()
}

// RecordMirrorWriteError increments the token mirror write error counter.
func RecordMirrorWriteError() {
	DefaultMetrics.MirrorWriteErrors.Inc()
}

// SetLastArchivedSeq updates the last archived sequence gauge.
func SetLastArchivedSeq(seq uint64) {
	DefaultMetrics.LastArchivedSeq.Set(float64(seq))
}

// SetActivityBufferSize updates the activity buffer gauge.
func SetActivityBufferSize(points int) {
	DefaultMetrics.ActivityBufferSize.Set(float64(points))
}

// RecordActivityFlush records one activity flush attempt.
func RecordActivityFlush(status string, points int) {
	DefaultMetrics.ActivityFlushesTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		DefaultMetrics.ActivityPointsFlushed.Add(float64(points))
	}
}

// SetFeedClients updates the connected feed clients gauge.
func SetFeedClients(clients int) {
	DefaultMetrics.FeedClients.Set(float64(clients))
}

// RecordFeedSent adds to the fanned-out messages counter.
func RecordFeedSent(messages int) {
	DefaultMetrics.FeedMessagesSent.Add(float64(messages))
}

// RecordFeedClientDropped increments the dropped clients counter.
func RecordFeedClientDropped() {
	DefaultMetrics.FeedClientsDropped.Inc()
}
