// Package prompush implements a metrics backend that pushes to a Prometheus
// Pushgateway on Flush.
package prompush

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"courseetl/internal/metrics"
)

// Backend keeps collectors in a private registry and pushes the whole
// registry, replacing the job's previous group.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
}

// NewBackend builds a backend for job pushing to gatewayURL.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if job == "" {
		return nil, errors.New("prompush: empty job name")
	}
	if gatewayURL == "" {
		return nil, errors.New("prompush: empty gateway url")
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Units of work by step and outcome.",
		}, []string{"step", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Duration of units of work.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"step", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows appended to dataset files.",
		}, []string{"dataset"}),
	}
	for _, c := range []prometheus.Collector{b.steps, b.duration, b.rows} {
		if err := b.reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "prompush: register")
		}
	}
	b.pusher = push.New(gatewayURL, job).Gatherer(b.reg)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(labels["dataset"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || value < 0 {
		return
	}
	b.duration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the current values. Counters are cumulative for the process,
// so repeated pushes replace rather than add.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return errors.Wrap(err, "prompush: push")
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
