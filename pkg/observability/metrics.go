package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the sync layer.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Remote client metrics
	RemoteOperations *prometheus.CounterVec
	RemoteDuration   *prometheus.HistogramVec

	// Store metrics
	EventsIngested *prometheus.CounterVec
	Optimistic     *prometheus.CounterVec
	Fetches        *prometheus.CounterVec
	ListSize       *prometheus.GaugeVec

	// Feed metrics
	FeedMessages      *prometheus.CounterVec
	FeedSubscriptions prometheus.Gauge
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		RemoteOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_operations_total",
				Help:      "Remote table operations by table, operation and result",
			},
			[]string{"table", "operation", "result"},
		),
		RemoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_operation_duration_seconds",
				Help:      "Remote table operation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"table", "operation"},
		),
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_events_total",
				Help:      "Change events seen by stores by kind and outcome",
			},
			[]string{"view", "kind", "outcome"},
		),
		Optimistic: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_optimistic_total",
				Help:      "Optimistic mutations by outcome",
			},
			[]string{"view", "outcome"},
		),
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_fetches_total",
				Help:      "Bulk fetches issued by stores",
			},
			[]string{"view", "result"},
		),
		ListSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "store_list_size",
				Help:      "Entries currently displayed by a store",
			},
			[]string{"view"},
		),
		FeedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_messages_total",
				Help:      "Change feed frames received by event",
			},
			[]string{"event"},
		),
		FeedSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "feed_subscriptions",
				Help:      "Live change feed subscriptions",
			},
		),
	}

	registry.MustRegister(
		c.RemoteOperations,
		c.RemoteDuration,
		c.EventsIngested,
		c.Optimistic,
		c.Fetches,
		c.ListSize,
		c.FeedMessages,
		c.FeedSubscriptions,
	)

	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRemote records one remote operation.
func (c *Collector) RecordRemote(table, operation string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.RemoteOperations.WithLabelValues(table, operation, result(err)).Inc()
	c.RemoteDuration.WithLabelValues(table, operation).Observe(time.Since(start).Seconds())
}

// RecordEvent records a change event and whether it changed the list.
func (c *Collector) RecordEvent(view, kind, outcome string) {
	if c == nil {
		return
	}
	c.EventsIngested.WithLabelValues(view, kind, outcome).Inc()
}

// RecordOptimistic records an optimistic mutation outcome: applied, confirmed, rolled_back.
func (c *Collector) RecordOptimistic(view, outcome string) {
	if c == nil {
		return
	}
	c.Optimistic.WithLabelValues(view, outcome).Inc()
}

// RecordFetch records a bulk fetch.
func (c *Collector) RecordFetch(view string, err error) {
	if c == nil {
		return
	}
	c.Fetches.WithLabelValues(view, result(err)).Inc()
}

// SetListSize records the displayed size of a view.
func (c *Collector) SetListSize(view string, n int) {
	if c == nil {
		return
	}
	c.ListSize.WithLabelValues(view).Set(float64(n))
}

// RecordFeedMessage counts a received feed frame.
func (c *Collector) RecordFeedMessage(event string) {
	if c == nil {
		return
	}
	c.FeedMessages.WithLabelValues(event).Inc()
}

// AddFeedSubscriptions moves the live subscription gauge.
func (c *Collector) AddFeedSubscriptions(delta float64) {
	if c == nil {
		return
	}
	c.FeedSubscriptions.Add(delta)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
