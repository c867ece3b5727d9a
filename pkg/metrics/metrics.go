// Package metrics holds the Prometheus collectors exported on the control server.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	RenderCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamlists_renders_total",
			Help: "Roster renders by outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	RenderCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamlists_renders_coalesced_total",
			Help: "Render requests folded into a render already queued for the same list",
		},
	)

	RenderDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "teamlists_render_duration_seconds",
			Help:    "Time spent building and posting one roster",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		},
	)

	SweepCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamlists_sweeps_total",
			Help: "Periodic sweeps started",
		},
	)

	SweepSkippedFresh = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "teamlists_sweep_fresh_skips_total",
			Help: "Lists skipped by a sweep because they were rendered recently",
		},
	)

	CommandCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamlists_commands_total",
			Help: "Commands handled by name, form and result",
		},
		[]string{"command", "form", "result"},
	)

	TaskCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamlists_tasks_total",
			Help: "Router task executions by type and result",
		},
		[]string{"type", "result"},
	)

	TrackedLists = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "teamlists_tracked_lists",
			Help: "Lists currently tracked across all guilds",
		},
	)

	StoreSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teamlists_store_saves_total",
			Help: "State document saves by result",
		},
		[]string{"result"},
	)
)

var (
	registryOnce sync.Once
	registry     *prometheus.Registry
)

// Registry returns the process registry with every collector registered.
func Registry() *prometheus.Registry {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			RenderCount,
			RenderDuration,
			RenderCoalesced,
			SweepCount,
			SweepSkippedFresh,
			CommandCount,
			TaskCount,
			TrackedLists,
			StoreSaves,
		)
	})
	return registry
}

// Result labels shared by counters.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// ResultLabel maps err to ResultOK or ResultError.
func ResultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
