// Package metrics exposes warden's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles every warden metric. One instance is shared by the
// pipeline, forwarder wiring, sampler and lifecycle coordinator.
type Collector struct {
	registry *prometheus.Registry

	// RequestsTotal counts requests by terminal verdict (allow, deny,
	// error).
	RequestsTotal *prometheus.CounterVec

	// DeniedByRule counts denies per rule id.
	DeniedByRule *prometheus.CounterVec

	// RequestDuration observes end-to-end request latency.
	RequestDuration *prometheus.HistogramVec

	// MatchOverBudget counts per-rule evaluation budget overruns.
	// Repeated overruns on one rule are an operational alert condition.
	MatchOverBudget *prometheus.CounterVec

	// MatchPanics counts rule panics during evaluation.
	MatchPanics *prometheus.CounterVec

	// ForwardErrors counts forwarder failures by kind.
	ForwardErrors *prometheus.CounterVec

	// SamplerDropped counts incidents dropped at the hand-off queue.
	SamplerDropped prometheus.Counter

	// SamplerAdmitted counts incidents admitted into the window.
	SamplerAdmitted prometheus.Counter

	// Publishes counts successful generation publishes.
	Publishes prometheus.Counter

	// Rollbacks counts generation rollbacks.
	Rollbacks prometheus.Counter

	// CycleRuns counts lifecycle cycle outcomes (published, no_incidents,
	// synthesis_failed, verification_failed, publish_failed, coalesced).
	CycleRuns *prometheus.CounterVec
}

// NewCollector creates and registers all warden metrics on a fresh
// registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "requests_total",
			Help:      "Requests by terminal verdict.",
		}, []string{"verdict"}),
		DeniedByRule: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "denied_by_rule_total",
			Help:      "Denied requests per rule id.",
		}, []string{"rule_id"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warden",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verdict"}),
		MatchOverBudget: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "match_over_budget_total",
			Help:      "Rule evaluation budget overruns per rule id.",
		}, []string{"rule_id"}),
		MatchPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "match_panics_total",
			Help:      "Rule panics during evaluation per rule id.",
		}, []string{"rule_id"}),
		ForwardErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "forward_errors_total",
			Help:      "Forwarder failures by kind.",
		}, []string{"kind"}),
		SamplerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "sampler_dropped_total",
			Help:      "Incidents dropped at the sampler hand-off queue.",
		}),
		SamplerAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "sampler_admitted_total",
			Help:      "Incidents admitted into the rolling window.",
		}),
		Publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "generation_publishes_total",
			Help:      "Successful rule generation publishes.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "generation_rollbacks_total",
			Help:      "Rule generation rollbacks.",
		}),
		CycleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "lifecycle_cycles_total",
			Help:      "Lifecycle cycle outcomes.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.RequestsTotal,
		c.DeniedByRule,
		c.RequestDuration,
		c.MatchOverBudget,
		c.MatchPanics,
		c.ForwardErrors,
		c.SamplerDropped,
		c.SamplerAdmitted,
		c.Publishes,
		c.Rollbacks,
		c.CycleRuns,
	)
	return c
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
