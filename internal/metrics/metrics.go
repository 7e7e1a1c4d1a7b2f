package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_created_total",
		Help: "Job records created, by type.",
	}, []string{"type"})

	JobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "job_transitions_total",
		Help: "Job status transitions applied, by type and resulting status.",
	}, []string{"type", "status"})

	ScheduleTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schedule_ticks_total",
		Help: "Scheduler scan passes executed.",
	})

	ScheduleClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schedule_claims_total",
		Help: "Claim attempts on due schedule configs, by outcome (won, lost, error).",
	}, []string{"outcome"})

	PreviewLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "preview_cache_lookups_total",
		Help: "Preview cache lookups, by result (hit, miss).",
	}, []string{"result"})

	PreviewGenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "preview_generation_duration_seconds",
		Help:    "Wall time of audio preview synthesis calls.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)
