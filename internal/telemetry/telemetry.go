package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry bundles the control plane's self-observability instruments
// around a private registry, so tests can run many instances without
// duplicate-registration panics. Constructed once at startup and shared
// by reference.
type Telemetry struct {
	registry *prometheus.Registry

	collections        *prometheus.CounterVec
	collectionDuration *prometheus.HistogramVec
	alerts             *prometheus.CounterVec
	decisions          *prometheus.CounterVec
	events             *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
}

func New() *Telemetry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	return &Telemetry{
		registry: reg,
		collections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsplane",
			Subsystem: "metrics",
			Name:      "collections_total",
			Help:      "Collection cycles by metric and outcome",
		}, []string{"metric", "status"}),
		collectionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opsplane",
			Subsystem: "metrics",
			Name:      "collection_duration_seconds",
			Help:      "Time spent resolving and persisting one metric value",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"metric"}),
		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsplane",
			Subsystem: "alerting",
			Name:      "alerts_fired_total",
			Help:      "Alerts fired by severity and kind",
		}, []string{"severity", "kind"}),
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsplane",
			Subsystem: "scaling",
			Name:      "decisions_total",
			Help:      "Policy evaluation decisions by service and action",
		}, []string{"service", "action"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsplane",
			Subsystem: "scaling",
			Name:      "events_total",
			Help:      "Executed scaling events by service and outcome",
		}, []string{"service", "status"}),
		executionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opsplane",
			Subsystem: "scaling",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of executor scale calls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"service"}),
	}
}

// Handler exposes the registry in Prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for extra collectors.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

func (t *Telemetry) CollectionSucceeded(metric string, d time.Duration) {
	if t == nil {
		return
	}
	t.collections.WithLabelValues(metric, "success").Inc()
	t.collectionDuration.WithLabelValues(metric).Observe(d.Seconds())
}

func (t *Telemetry) CollectionFailed(metric string) {
	if t == nil {
		return
	}
	t.collections.WithLabelValues(metric, "failure").Inc()
}

func (t *Telemetry) AlertFired(severity, kind string) {
	if t == nil {
		return
	}
	t.alerts.WithLabelValues(severity, kind).Inc()
}

func (t *Telemetry) DecisionMade(service, action string) {
	if t == nil {
		return
	}
	t.decisions.WithLabelValues(service, action).Inc()
}

func (t *Telemetry) EventRecorded(service string, success bool, d time.Duration) {
	if t == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	t.events.WithLabelValues(service, status).Inc()
	t.executionDuration.WithLabelValues(service).Observe(d.Seconds())
}
