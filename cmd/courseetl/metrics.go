package main

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"courseetl/internal/config"
	"courseetl/internal/metrics"
	"courseetl/internal/metrics/datadog"
	"courseetl/internal/metrics/prompush"
)

// closingBackend is a metrics backend with its own flush loop.
type closingBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closingBackend, error) {
		b, err := datadog.NewBackend(ctx, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		b, err := prompush.NewBackend(job, url)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	setMetricsBackend = metrics.SetBackend
	flushMetrics      = metrics.Flush
)

// initMetrics installs the selected backend. The returned cleanup is never nil
// and delivers whatever is still buffered; its failures are only logged.
func initMetrics(ctx context.Context, cfg config.Metrics, backend string, logger *zap.SugaredLogger) (func(), error) {
	nop := func() {}

	switch backend {
	case "", "none":
		logger.Debugw("metrics disabled")
		return nop, nil

	case "pushgateway":
		if cfg.PushgatewayURL == "" {
			return nop, errors.New("metrics.pushgateway_url is required for the pushgateway backend")
		}
		b, err := newPushBackend(cfg.Job, cfg.PushgatewayURL)
		if err != nil {
			return nop, err
		}
		setMetricsBackend(b)
		logger.Infow("metrics enabled", "backend", backend, "job", cfg.Job, "url", cfg.PushgatewayURL)
		return func() {
			if err := flushMetrics(); err != nil {
				logger.Warnw("metrics push failed", "error", err)
			}
			setMetricsBackend(nil)
		}, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(strings.Join(cfg.Tags, ","))
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       tags,
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			return nop, err
		}
		setMetricsBackend(b)
		logger.Infow("metrics enabled", "backend", backend, "job", cfg.Job, "tags", tags)
		return func() {
			if err := b.Close(); err != nil {
				logger.Warnw("metrics datadog close failed", "error", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return nop, errors.WithHint(
			errors.Newf("unknown metrics backend %q", backend),
			"use one of: none, datadog, pushgateway")
	}
}
