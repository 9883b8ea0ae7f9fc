// Package metrics exposes per-record dispatch outcomes as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
)

// Recorder counts outcomes and times records on a private registry
type Recorder struct {
	registry *prom.Registry
	outcomes *prom.CounterVec
	duration *prom.HistogramVec
	batches  *prom.CounterVec
}

// NewRecorder creates a Recorder with its collectors registered
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prom.NewRegistry(),
		outcomes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "derivatives",
			Name:      "outcomes_total",
			Help:      "Per-notification dispatch outcomes.",
		}, []string{"pipeline", "status", "error_kind"}),
		duration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "derivatives",
			Name:      "record_duration_seconds",
			Help:      "Time spent processing one notification.",
			Buckets:   prom.DefBuckets,
		}, []string{"pipeline"}),
		batches: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "derivatives",
			Name:      "batches_total",
			Help:      "Dispatched batches by result.",
		}, []string{"pipeline", "result"}),
	}
	r.registry.MustRegister(r.outcomes, r.duration, r.batches)
	return r
}

// ObserveOutcome records one finished notification
func (r *Recorder) ObserveOutcome(job string, o pipeline.Outcome, elapsed time.Duration) {
	r.outcomes.WithLabelValues(job, string(o.Status), string(o.ErrorKind)).Inc()
	r.duration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// ObserveBatch records a batch, result is "dispatched" or "rejected"
func (r *Recorder) ObserveBatch(job string, result string) {
	r.batches.WithLabelValues(job, result).Inc()
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prom.Registry {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
