// Package metrics holds the prometheus collectors of the sync core, the
// realtime hub and the HTTP transport. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wirechat"

// Metrics groups all collectors.
type Metrics struct {
	resolves      *prometheus.CounterVec
	merges        *prometheus.CounterVec
	retries       *prometheus.CounterVec
	recoveries    *prometheus.CounterVec
	openViews     *prometheus.GaugeVec
	published     prometheus.Counter
	subscribers   prometheus.Gauge
	slowConsumers prometheus.Counter
	httpRequests  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "resolve_total",
			Help:      "Conversation resolutions by outcome.",
		}, []string{"outcome"}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "merge_total",
			Help:      "Messages merged into timelines by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "retry_total",
			Help:      "Retried backend operations.",
		}, []string{"op"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "recovery_total",
			Help:      "Resubscribe attempts after a lost subscription by view and outcome.",
		}, []string{"view", "outcome"}),
		openViews: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "open_views",
			Help:      "Views currently open.",
		}, []string{"view"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "published_total",
			Help:      "Events published to the in-memory hub.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Active hub subscriptions.",
		}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "slow_consumer_total",
			Help:      "Subscriptions dropped because their buffer was full.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.resolves, m.merges, m.retries, m.recoveries, m.openViews,
			m.published, m.subscribers, m.slowConsumers, m.httpRequests,
		)
	}
	return m
}

// Resolve counts a resolution outcome (found, created, conflict, error).
func (m *Metrics) Resolve(outcome string) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(outcome).Inc()
}

// Merge counts a merge result (duplicate, appended, inserted).
func (m *Metrics) Merge(result string) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(result).Inc()
}

// Retry counts one retried attempt of op.
func (m *Metrics) Retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// Recovery counts a resubscribe attempt of view (room, inbox).
func (m *Metrics) Recovery(view string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.recoveries.WithLabelValues(view, outcome).Inc()
}

// ViewOpened tracks an opened view.
func (m *Metrics) ViewOpened(view string) {
	if m == nil {
		return
	}
	m.openViews.WithLabelValues(view).Inc()
}

// ViewClosed tracks a closed view.
func (m *Metrics) ViewClosed(view string) {
	if m == nil {
		return
	}
	m.openViews.WithLabelValues(view).Dec()
}

// Published counts a published hub event.
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.published.Inc()
}

// SubscriberAdded tracks a new hub subscription.
func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberRemoved tracks a removed hub subscription.
func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

// SlowConsumer counts a subscription dropped for lagging.
func (m *Metrics) SlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}

// HTTPRequest counts a served request.
func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
