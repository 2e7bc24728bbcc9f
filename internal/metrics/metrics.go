package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamtap"

// Metrics is the process-wide metric set. One instance is created at startup
// and handed to every component that records into it.
type Metrics struct {
	EventsIngested   *prometheus.CounterVec
	EventsPersisted  *prometheus.CounterVec
	BroadcastDropped *prometheus.CounterVec
	EventsBatched    *prometheus.CounterVec
	BatchesPersisted *prometheus.CounterVec
	FlushFailures    *prometheus.CounterVec
	RouteFailures    *prometheus.CounterVec

	QueueDepth *prometheus.GaugeVec

	Subscribers        prometheus.Gauge
	SubscriberDropped  prometheus.Counter
	BroadcastDelivered *prometheus.CounterVec

	Archived        prometheus.Counter
	ArchiveFailures prometheus.Counter
	ArchiveSkipped  prometheus.Counter
}

// New creates the metric set and registers it on reg
func New(reg prometheus.Registerer) *Metrics {
	kind := []string{"kind"}
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events accepted from the source.",
		}, kind),
		EventsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_persisted_total",
			Help:      "Events written to the store by a successful flush.",
		}, kind),
		BroadcastDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Events dropped because the broadcast channel was full.",
		}, kind),
		EventsBatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_batched_total",
			Help:      "Events added to a writer batch.",
		}, kind),
		BatchesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_persisted_total",
			Help:      "Bulk persist calls that succeeded.",
		}, kind),
		FlushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Bulk persist calls that failed; their events are lost.",
		}, kind),
		RouteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_failures_total",
			Help:      "Events that could not be queued for the durable store.",
		}, kind),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Items buffered in a dispatch channel.",
		}, []string{"channel"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_subscribers",
			Help:      "Connected live subscribers.",
		}),
		SubscriberDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_subscriber_dropped_total",
			Help:      "Frames dropped because a subscriber's out queue was full.",
		}),
		BroadcastDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_delivered_total",
			Help:      "Events fanned out to subscribers.",
		}, kind),
		Archived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_uploaded_total",
			Help:      "Raw envelopes stored in object storage.",
		}),
		ArchiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Raw envelopes given up on after retries.",
		}),
		ArchiveSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_duplicates_total",
			Help:      "Raw envelopes skipped as duplicates.",
		}),
	}

	reg.MustRegister(
		m.EventsIngested, m.EventsPersisted, m.BroadcastDropped,
		m.EventsBatched, m.BatchesPersisted, m.FlushFailures, m.RouteFailures,
		m.QueueDepth,
		m.Subscribers, m.SubscriberDropped, m.BroadcastDelivered,
		m.Archived, m.ArchiveFailures, m.ArchiveSkipped,
	)
	return m
}

// NewUnregistered creates a metric set on a throwaway registry, for tests
// and tools that do not expose metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
