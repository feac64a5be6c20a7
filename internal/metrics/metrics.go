package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EditsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptchain_edits_applied_total",
		Help: "Total number of edits applied in editing sessions, labelled by action.",
	}, []string{"action"})

	EditsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptchain_edits_rejected_total",
		Help: "Total number of edits rejected as invalid, labelled by action.",
	}, []string{"action"})

	EditsUndone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptchain_edits_undone_total",
		Help: "Total number of undo operations.",
	})

	EditsRedone = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptchain_edits_redone_total",
		Help: "Total number of redo operations.",
	})

	VersionsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptchain_versions_committed_total",
		Help: "Total number of commit attempts, labelled by status (ok, conflict, invalid, error).",
	}, []string{"status"})

	VersionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptchain_versions_pruned_total",
		Help: "Total number of chain versions removed by retention.",
	})

	OpenSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promptchain_open_sessions",
		Help: "Number of editing sessions currently open.",
	})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptchain_query_duration_ms",
		Help:    "Node filter evaluation latency in milliseconds, labelled by engine.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
	}, []string{"engine"})

	RenderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "promptchain_render_duration_ms",
		Help:    "Diagram rendering latency in milliseconds, labelled by format.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	}, []string{"format"})
)

// Commit status labels.
const (
	CommitOK       = "ok"
	CommitConflict = "conflict"
	CommitInvalid  = "invalid"
	CommitError    = "error"
)
