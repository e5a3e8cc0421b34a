// Package metrics holds the engine's Prometheus instrumentation and the
// small operational HTTP server exposing it.
package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds all engine metrics. The registerer is injectable so tests can use
// a private registry instead of the process default.
type Set struct {
	JobsTotal          *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	MatchesCreated     prometheus.Counter
	ErrandsAssigned    prometheus.Counter
	MatchesCancelled   *prometheus.CounterVec
	MatchesCompleted   prometheus.Counter
	QueueDepth         *prometheus.GaugeVec
	NotificationsTotal *prometheus.CounterVec
}

// NewSet creates and registers all engine metrics against reg. Pass
// prometheus.DefaultRegisterer in production.
func NewSet(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_jobs_total",
				Help: "Queue jobs processed, by job name and outcome",
			},
			[]string{"job", "outcome"}, // outcome: ok, error
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_job_duration_seconds",
				Help:    "Handler execution time per job name",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"},
		),
		MatchesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_matches_created_total",
				Help: "Pending matches created by the goods-match pass",
			},
		),
		ErrandsAssigned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_errands_assigned_total",
				Help: "Errands created by the assignment pipeline",
			},
		),
		MatchesCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_matches_cancelled_total",
				Help: "Matches cancelled by the timeout sweeps, by reason",
			},
			[]string{"reason"}, // acceptance_window, initial_pending
		),
		MatchesCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_matches_completed_total",
				Help: "Matches settled by the auto-completer",
			},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "engine_queue_depth",
				Help: "Current length of each job queue",
			},
			[]string{"queue"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_notifications_total",
				Help: "Outbound notifications, by outcome",
			},
			[]string{"outcome"}, // delivered, dropped
		),
	}
}

// Handler builds the operational HTTP handler: /healthz and /metrics.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
