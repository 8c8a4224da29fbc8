package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curate_change_feed_polls_total",
		Help: "Successful change-feed polls per container.",
	}, []string{"container"})

	pollErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curate_change_feed_poll_errors_total",
		Help: "Poll iterations that failed on at least one container.",
	})

	handlersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curate_pipeline_handlers_in_flight",
		Help: "Change handlers currently holding a semaphore slot.",
	})

	orchestratorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curate_orchestrator_runs_total",
		Help: "Finalized orchestrator runs by status.",
	}, []string{"status"})
)
