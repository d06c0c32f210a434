package storefront

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requests    *prometheus.CounterVec
	revalidates *prometheus.CounterVec
	replays     *prometheus.CounterVec
	pruned      prometheus.Counter
	pending     *prometheus.GaugeVec
	lifecycle   *prometheus.GaugeVec
}

// NewMetrics creates and registers the worker collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "worker",
				Name:      "requests_total",
				Help:      "Intercepted requests by strategy, serving source and failure kind.",
			},
			[]string{"strategy", "source", "failure"},
		),
		revalidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "worker",
				Name:      "revalidations_total",
				Help:      "Background cache refreshes by outcome.",
			},
			[]string{"outcome"},
		),
		replays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "sync",
				Name:      "replays_total",
				Help:      "Replayed pending actions by tag and outcome.",
			},
			[]string{"tag", "outcome"},
		),
		pruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "storefront",
				Subsystem: "cache",
				Name:      "partitions_pruned_total",
				Help:      "Obsolete partitions deleted on activation.",
			},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "storefront",
				Subsystem: "sync",
				Name:      "pending_actions",
				Help:      "Pending actions left after the last replay cycle.",
			},
			[]string{"tag"},
		),
		lifecycle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "storefront",
				Subsystem: "worker",
				Name:      "lifecycle_state",
				Help:      "1 for the current lifecycle state, 0 otherwise.",
			},
			[]string{"state"},
		),
	}
	m.Registry.MustRegister(
		m.requests,
		m.revalidates,
		m.replays,
		m.pruned,
		m.pending,
		m.lifecycle,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(r Result) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(r.Strategy), string(r.Source), r.Failure.String()).Inc()
}

func (m *Metrics) observeRevalidate(outcome string) {
	if m == nil {
		return
	}
	m.revalidates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeReplay(tag string, ok bool) {
	if m == nil {
		return
	}
	outcome := "succeeded"
	if !ok {
		outcome = "failed"
	}
	m.replays.WithLabelValues(tag, outcome).Inc()
}

func (m *Metrics) observePending(tag string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(tag).Set(float64(n))
}

func (m *Metrics) observePruned(n int) {
	if m == nil {
		return
	}
	m.pruned.Add(float64(n))
}

func (m *Metrics) observeState(s LifecycleState) {
	if m == nil {
		return
	}
	for _, st := range lifecycleStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.lifecycle.WithLabelValues(string(st)).Set(v)
	}
}
