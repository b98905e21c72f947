// Package metrics provides Prometheus metrics collection for the write
// pipeline.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mobibase/mobibase/ports"
)

// Collector holds all Prometheus metrics for the object store.
type Collector struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Write metrics
	WritesTotal   *prometheus.CounterVec
	WriteDuration *prometheus.HistogramVec

	// Trigger metrics
	TriggerRuns     *prometheus.CounterVec
	TriggerFailures *prometheus.CounterVec

	// Follow-up metrics
	FollowupActions *prometheus.CounterVec

	// Session metrics
	SessionsCreated *prometheus.CounterVec
	SessionsRevoked prometheus.Counter
}

// New creates a collector registered on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered on the given registerer.
// Tests use a fresh registry to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mobibase",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mobibase",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "mobibase",
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),
		WritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mobibase",
				Name:      "writes_total",
				Help:      "Total number of object writes processed",
			},
			[]string{"class", "op", "outcome"},
		),
		WriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mobibase",
				Name:      "write_duration_seconds",
				Help:      "Write pipeline duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"class", "op"},
		),
		TriggerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mobibase",
				Name:      "trigger_runs_total",
				Help:      "Total number of trigger invocations",
			},
			[]string{"class", "kind"},
		),
		TriggerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mobibase",
				Name:      "trigger_failures_total",
				Help:      "Total number of failed trigger invocations",
			},
			[]string{"class", "kind"},
		),
		FollowupActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mobibase",
				Name:      "followup_actions_total",
				Help:      "Total number of post-write follow-up actions drained",
			},
			[]string{"action"},
		),
		SessionsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mobibase",
				Name:      "sessions_created_total",
				Help:      "Total number of session tokens issued",
			},
			[]string{"action"},
		),
		SessionsRevoked: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "mobibase",
				Name:      "sessions_revoked_total",
				Help:      "Total number of sessions destroyed on credential change",
			},
		),
	}
}

// ObserveWrite records the outcome and duration of one pipeline run.
func (c *Collector) ObserveWrite(class, op, outcome string, seconds float64) {
	c.WritesTotal.WithLabelValues(class, op, outcome).Inc()
	c.WriteDuration.WithLabelValues(class, op).Observe(seconds)
}

// ObserveTriggerRun counts one hook invocation.
func (c *Collector) ObserveTriggerRun(class, kind string) {
	c.TriggerRuns.WithLabelValues(class, kind).Inc()
}

// ObserveTriggerFailure counts one failed hook invocation.
func (c *Collector) ObserveTriggerFailure(class, kind string) {
	c.TriggerFailures.WithLabelValues(class, kind).Inc()
}

// ObserveFollowup counts one drained post-write action.
func (c *Collector) ObserveFollowup(action string) {
	c.FollowupActions.WithLabelValues(action).Inc()
}

// ObserveSessionCreated counts one issued session token.
func (c *Collector) ObserveSessionCreated(action string) {
	c.SessionsCreated.WithLabelValues(action).Inc()
}

// ObserveSessionRevoked counts one session sweep on credential change.
func (c *Collector) ObserveSessionRevoked() {
	c.SessionsRevoked.Inc()
}

// Ensure interface compliance.
var _ ports.WriteObserver = (*Collector)(nil)

// NormalizePath collapses object ids so path labels stay low-cardinality.
// "/classes/Game/abc123" becomes "/classes/Game/{objectId}".
func NormalizePath(path string) string {
	parts := strings.Split(path, "/")
	switch {
	case len(parts) >= 4 && parts[1] == "classes":
		return "/classes/" + parts[2] + "/{objectId}"
	case len(parts) >= 3 && (parts[1] == "users" || parts[1] == "sessions" ||
		parts[1] == "installations" || parts[1] == "roles"):
		return "/" + parts[1] + "/{objectId}"
	}
	return path
}
