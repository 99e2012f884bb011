package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_submitted_total", Help: "Jobs accepted at submission"})
	JobsCompleted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_completed_total", Help: "Jobs that reached completed"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_failed_total", Help: "Jobs that reached failed"})
	JobsCancelled     = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_jobs_cancelled_total", Help: "Jobs cancelled by their owner"})
	EventsPublished   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_events_published_total", Help: "Progress events fanned out to viewers"})
	EventsDropped     = prometheus.NewCounter(prometheus.CounterOpts{Name: "analysis_events_dropped_total", Help: "Events dropped on slow viewer connections"})
	ViewerConnections = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_viewer_connections", Help: "Open SSE viewer connections"})
	ProcessesRunning  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analysis_processes_running", Help: "External analyzer processes currently supervised"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsCancelled,
			EventsPublished,
			EventsDropped,
			ViewerConnections,
			ProcessesRunning,
		)
	})
	return promhttp.Handler()
}
