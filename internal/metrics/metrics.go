// Package metrics exposes operational counters for dispatch and matching.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	DispatchSent    prometheus.Counter
	DispatchFailed  prometheus.Counter
	DispatchSkipped prometheus.Counter
	MatchRuns       prometheus.Counter
	MatchesCreated  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DispatchSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_dispatch_sent_total",
			Help: "Dispatch items delivered by the mail provider.",
		}),
		DispatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_dispatch_failed_total",
			Help: "Dispatch items the mail provider rejected or timed out.",
		}),
		DispatchSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_dispatch_skipped_total",
			Help: "Dispatch items skipped because they were already sent.",
		}),
		MatchRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_match_runs_total",
			Help: "Matching passes executed.",
		}),
		MatchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_matches_created_total",
			Help: "New active matches created by matching passes.",
		}),
	}
	reg.MustRegister(m.DispatchSent, m.DispatchFailed, m.DispatchSkipped, m.MatchRuns, m.MatchesCreated)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
