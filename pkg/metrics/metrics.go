package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request pipeline metrics (L8)
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dismerge_requests_total",
			Help: "Total number of requests by RPC method and outcome",
		},
		[]string{"method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dismerge_request_duration_seconds",
			Help:    "Request duration in seconds by RPC method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ConcurrentRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dismerge_concurrent_requests",
			Help: "Number of requests currently held by the load shedder",
		},
	)

	// Document actor metrics (L2/L4)
	OutstandingChanges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dismerge_outstanding_changes",
			Help: "Local changes made since the last successful flush",
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dismerge_flush_duration_seconds",
			Help:    "Time taken by a Persister.flush() call",
			Buckets: prometheus.DefBuckets,
		},
	)

	ChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dismerge_changes_total",
			Help: "Total number of changes applied to the document by origin",
		},
		[]string{"origin"}, // local | remote
	)

	HeadsCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dismerge_heads_count",
			Help: "Number of change hashes in the current causal frontier",
		},
	)

	// Watch metrics (L5)
	ActiveWatchers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dismerge_active_watchers",
			Help: "Number of currently registered range watchers",
		},
	)

	WatchEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dismerge_watch_events_total",
			Help: "Total number of watch events delivered by type",
		},
		[]string{"type"}, // put | delete | canceled
	)

	// Lease metrics (L6)
	LeasesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dismerge_leases_total",
			Help: "Number of leases currently granted",
		},
	)

	LeaseExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dismerge_lease_expirations_total",
			Help: "Total number of leases that expired without keep-alive",
		},
	)

	// Peer sync metrics (L7)
	SyncMessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dismerge_sync_messages_sent_total",
			Help: "Total number of sync messages sent, by peer",
		},
		[]string{"peer"},
	)

	SyncMessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dismerge_sync_messages_received_total",
			Help: "Total number of sync messages received, by peer",
		},
		[]string{"peer"},
	)

	SyncPeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dismerge_sync_peers_total",
			Help: "Number of peers currently tracked by the sync engine",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ConcurrentRequests,
		OutstandingChanges,
		FlushDuration,
		ChangesTotal,
		HeadsCount,
		ActiveWatchers,
		WatchEventsTotal,
		LeasesTotal,
		LeaseExpirationsTotal,
		SyncMessagesSentTotal,
		SyncMessagesReceivedTotal,
		SyncPeersTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
