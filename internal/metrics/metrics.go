// Package metrics holds Prometheus instruments that are used across the
// service.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_active_runs",
			Help: "Number of audit runs currently executing.",
		})

	RunsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_runs_started_total",
			Help: "Cumulative number of audit runs started.",
		})

	RunsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_runs_completed_total",
			Help: "Cumulative number of audit runs that completed.",
		})

	RunsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_runs_failed_total",
			Help: "Cumulative number of audit runs that failed.",
		})

	ModuleFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_module_failures_total",
			Help: "Cumulative number of audit modules that failed or panicked.",
		})

	IssuesFoundTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_issues_found_total",
			Help: "Cumulative number of issues reported by audit modules.",
		})

	FixPlansAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_fix_plans_applied_total",
			Help: "Cumulative number of fix plans applied successfully.",
		})

	CompletionRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_completion_requests_total",
			Help: "Cumulative number of requests sent to the completion provider.",
		})
)

func init() {
	prometheus.MustRegister(
		ActiveRuns,
		RunsStartedTotal,
		RunsCompletedTotal,
		RunsFailedTotal,
		ModuleFailuresTotal,
		IssuesFoundTotal,
		FixPlansAppliedTotal,
		CompletionRequestsTotal,
	)
}
