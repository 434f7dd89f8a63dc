// Package metrics exposes engine and scheduler counters to Prometheus
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/wfm-approvals/internal/application/escalation"
	appwf "github.com/garyjia/wfm-approvals/internal/application/workflow"
	"github.com/garyjia/wfm-approvals/internal/domain/workflow"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/worker"
)

const namespace = "wfm"

// Metrics owns a private registry so tests and multiple engines in one
// process do not collide on registration
type Metrics struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	deliveries       *prometheus.CounterVec
	calendarDegraded prometheus.Counter
	httpRequests     *prometheus.HistogramVec
}

var (
	_ appwf.Recorder          = (*Metrics)(nil)
	_ escalation.Recorder     = (*Metrics)(nil)
	_ worker.DeliveryRecorder = (*Metrics)(nil)
)

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transitions applied, by workflow, transition and result status.",
		}, []string{"workflow", "transition", "status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_rejections_total",
			Help:      "Transition requests rejected, by workflow and reason.",
		}, []string{"workflow", "reason"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrent_modifications_total",
			Help:      "Transitions that lost an optimistic version check.",
		}, []string{"workflow"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation attempts, by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "escalation_sweep_duration_seconds",
			Help:      "Duration of escalation sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts, by action kind and result.",
		}, []string{"kind", "result"}),
		calendarDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_degraded_days_total",
			Help:      "Days computed as full business days because the calendar was unavailable.",
		}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency, by method, route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		m.transitions,
		m.rejections,
		m.conflicts,
		m.escalations,
		m.sweepDuration,
		m.deliveries,
		m.calendarDegraded,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TransitionApplied(workflowName, transition, status string) {
	m.transitions.WithLabelValues(workflowName, transition, status).Inc()
}

func (m *Metrics) TransitionRejected(workflowName, _ string, err error) {
	m.rejections.WithLabelValues(workflowName, Reason(err)).Inc()
}

func (m *Metrics) Conflict(workflowName string) {
	m.conflicts.WithLabelValues(workflowName).Inc()
}

func (m *Metrics) Escalated(workflowName, outcome string) {
	m.escalations.WithLabelValues(workflowName, outcome).Inc()
}

func (m *Metrics) SweepCompleted(d time.Duration) {
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) Delivered(kind string) {
	m.deliveries.WithLabelValues(kind, "delivered").Inc()
}

func (m *Metrics) DeliveryFailed(kind string, gaveUp bool) {
	result := "retry"
	if gaveUp {
		result = "failed"
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}

// CalendarDegraded is registered as the calendar service's degraded hook
func (m *Metrics) CalendarDegraded() {
	m.calendarDegraded.Inc()
}

// ObserveRequest records one API request. route is the matched pattern,
// never the raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Reason maps an engine error to a low-cardinality label
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, workflow.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, workflow.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, workflow.ErrConditionNotMet):
		return "condition_not_met"
	case errors.Is(err, workflow.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	case errors.Is(err, appwf.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, workflow.ErrConfig):
		return "config"
	case errors.Is(err, workflow.ErrRoutingResolution):
		return "routing"
	default:
		return "internal"
	}
}
