package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prio_submissions_total",
			Help: "Submissions by result",
		},
		[]string{"result"},
	)

	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prio_submission_writes_total",
			Help: "Rows written by submissions, per collection",
		},
		[]string{"collection"},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prio_allocation_commands_total",
			Help: "Allocation commands applied to sessions",
		},
		[]string{"kind"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prio_active_sessions",
			Help: "Sessions held in memory",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prio_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
