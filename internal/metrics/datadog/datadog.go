// Package datadog implements a Datadog backend for internal/metrics.
//
// Observations are buffered in memory and submitted on Flush. A background
// loop flushes on a ticker so a long export phase shows up as a time series
// rather than a single point at exit; Close stops the loop and flushes the
// tail.
//
// Series submitted per flush window:
//
//	courseetl.step.total{step,status}                  count
//	courseetl.rows.total{dataset}                      count
//	courseetl.step.duration_seconds.<stat>{step,status} gauge, stat in p50 p90 p95 p99 max samples
//
// IncCounter and ObserveHistogram may be called from any goroutine; the export
// workers record concurrently. If the process is killed (SIGKILL, OOM) Close
// does not run and the last window is lost.
package datadog

import (
	"context"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/cockroachdb/errors"

	"courseetl/internal/metrics"
)

const (
	seriesStepTotal    = "courseetl.step.total"
	seriesRowsTotal    = "courseetl.rows.total"
	seriesStepDuration = "courseetl.step.duration_seconds"

	defaultJob        = "courseetl"
	defaultFlushEvery = time.Minute
)

// envVars are consulted in order for the env:<name> tag.
var envVars = []string{"COURSEETL_ENV", "DD_ENV"}

type Options struct {
	// JobName becomes tag "job:<name>". Defaults to "courseetl".
	JobName string

	// Tags are extra Datadog tags, e.g. "platform:residential".
	Tags []string

	// FlushEvery is the submission interval. Defaults to one minute.
	FlushEvery time.Duration

	// Test seams; nil in production.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
	getenv    func(string) string
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend calls.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// stepKey identifies one step/status pair.
type stepKey struct{ step, status string }

// window is everything recorded since the last flush.
type window struct {
	steps     map[stepKey]float64
	durations map[stepKey][]float64
	rows      map[string]float64
}

func newWindow() window {
	return window{
		steps:     make(map[stepKey]float64),
		durations: make(map[stepKey][]float64),
		rows:      make(map[string]float64),
	}
}

func (w window) empty() bool {
	return len(w.steps) == 0 && len(w.durations) == 0 && len(w.rows) == 0
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api  metricsSubmitter
	ctx  context.Context
	tags []string
	now  func() time.Time

	stop chan struct{}
	done chan struct{}

	mu  sync.Mutex
	cur window
}

// NewBackend builds the backend and starts its flush loop. Credentials and
// site come from the client's standard environment (DD_API_KEY, DD_SITE).
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	if parent == nil {
		return nil, errors.New("datadog: nil context")
	}
	if opts.JobName == "" {
		opts.JobName = defaultJob
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = defaultFlushEvery
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newTicker == nil {
		opts.newTicker = time.NewTicker
	}
	if opts.getenv == nil {
		opts.getenv = os.Getenv
	}
	if opts.submitter == nil {
		opts.submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	tags := append([]string{envTag(opts.getenv), "job:" + opts.JobName}, opts.Tags...)
	b := &Backend{
		api:  opts.submitter,
		ctx:  dd.NewDefaultContext(parent),
		tags: tags,
		now:  opts.now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
		cur:  newWindow(),
	}

	ticker := opts.newTicker(opts.FlushEvery)
	go func() {
		defer close(b.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = b.Flush()
			case <-b.stop:
				return
			}
		}
	}()
	return b, nil
}

func envTag(getenv func(string) string) string {
	for _, k := range envVars {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return "env:" + v
		}
	}
	return "env:unknown"
}

// Close stops the flush loop and submits what is still buffered. Call once.
func (b *Backend) Close() error {
	close(b.stop)
	<-b.done
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown names and non-positive
// deltas are dropped.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case metrics.StepTotal:
		b.cur.steps[stepKey{labels["step"], labels["status"]}] += delta
	case metrics.RowsTotal:
		if ds := labels["dataset"]; ds != "" {
			b.cur.rows[ds] += delta
		}
	}
}

// ObserveHistogram implements metrics.Backend. Only step durations are kept.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || value < 0 {
		return
	}
	k := stepKey{labels["step"], labels["status"]}

	b.mu.Lock()
	b.cur.durations[k] = append(b.cur.durations[k], value)
	b.mu.Unlock()
}

// Flush submits the current window and starts a new one. The window is
// dropped even if submission fails. An empty window submits nothing.
func (b *Backend) Flush() error {
	b.mu.Lock()
	w := b.cur
	b.cur = newWindow()
	b.mu.Unlock()

	if w.empty() {
		return nil
	}
	body := datadogV2.MetricPayload{Series: b.series(w, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, body, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return errors.Wrapf(err, "datadog: submit %d series", len(body.Series))
	}
	return nil
}

// series renders w at ts, ordered by metric name then tags.
func (b *Backend) series(w window, ts int64) []datadogV2.MetricSeries {
	var out []datadogV2.MetricSeries
	add := func(metric string, kind datadogV2.MetricIntakeType, v float64, extra ...string) {
		tags := make([]string, 0, len(b.tags)+len(extra))
		tags = append(append(tags, b.tags...), extra...)
		out = append(out, datadogV2.MetricSeries{
			Metric: metric,
			Type:   kind.Ptr(),
			Points: []datadogV2.MetricPoint{{Timestamp: dd.PtrInt64(ts), Value: dd.PtrFloat64(v)}},
			Tags:   tags,
		})
	}

	for k, n := range w.steps {
		add(seriesStepTotal, datadogV2.METRICINTAKETYPE_COUNT, n, "step:"+k.step, "status:"+k.status)
	}
	for ds, n := range w.rows {
		add(seriesRowsTotal, datadogV2.METRICINTAKETYPE_COUNT, n, "dataset:"+ds)
	}
	for k, samples := range w.durations {
		s := summarize(samples)
		for _, g := range []struct {
			stat string
			v    float64
		}{
			{"p50", s.p50}, {"p90", s.p90}, {"p95", s.p95}, {"p99", s.p99},
			{"max", s.max}, {"samples", float64(s.n)},
		} {
			add(seriesStepDuration+"."+g.stat, datadogV2.METRICINTAKETYPE_GAUGE, g.v, "step:"+k.step, "status:"+k.status)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Metric != out[j].Metric {
			return out[i].Metric < out[j].Metric
		}
		return strings.Join(out[i].Tags, ",") < strings.Join(out[j].Tags, ",")
	})
	return out
}

type summary struct {
	n                       int
	p50, p90, p95, p99, max float64
}

// summarize uses nearest-rank percentiles: the smallest sample with at least
// p of the samples at or below it. samples is not modified.
func summarize(samples []float64) summary {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return summary{}
	}
	rank := func(p float64) float64 {
		i := int(math.Ceil(p*float64(n))) - 1
		if i < 0 {
			i = 0
		}
		return sorted[i]
	}
	return summary{
		n:   n,
		p50: rank(0.50),
		p90: rank(0.90),
		p95: rank(0.95),
		p99: rank(0.99),
		max: sorted[n-1],
	}
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV splits "env:prod, platform:mitx" into tags, dropping blanks.
func ParseTagsCSV(s string) []string {
	var tags []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' }) {
		if f = strings.TrimSpace(f); f != "" {
			tags = append(tags, f)
		}
	}
	return tags
}
