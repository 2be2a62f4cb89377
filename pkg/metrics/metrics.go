// Package metrics holds the prometheus collectors of the importer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Runs counts import runs.
	// Labels: mode (save, preview), result (ok, error)
	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ixf",
		Subsystem: "import",
		Name:      "runs_total",
		Help:      "Total IX-F import runs",
	}, []string{"mode", "result"})

	// RunDuration measures a whole run, fetch included.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ixf",
		Subsystem: "import",
		Name:      "run_duration_seconds",
		Help:      "IX-F import run duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"mode"})

	// Actions counts applied and suggested actions.
	// Labels: action (add, modify, delete, suggest-add, ...)
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ixf",
		Subsystem: "import",
		Name:      "actions_total",
		Help:      "Total actions logged by IX-F imports",
	}, []string{"action"})

	// Notifications counts dispatched emails and tickets.
	// Labels: kind (email, ticket), result (sent, logged, failed)
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ixf",
		Subsystem: "notify",
		Name:      "dispatch_total",
		Help:      "Total notification dispatches",
	}, []string{"kind", "result"})

	// FetchErrors counts feed fetch and sanitize failures.
	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ixf",
		Subsystem: "feed",
		Name:      "errors_total",
		Help:      "Total IX-F feed fetch or sanitize failures",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
