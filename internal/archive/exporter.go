// Package archive exports course content and bundles it into the daily
// archive.
package archive

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"courseetl/internal/platform"
	"courseetl/internal/report"
	"courseetl/internal/runctx"
)

// Exporter exports every discovered course into the daily export folder.
type Exporter struct {
	Manager platform.Manager
	// Workers > 1 runs that many exports at once. Zero or one is sequential.
	Workers int
	Logger  *zap.SugaredLogger
}

// ExportAll exports each course to rc.CourseExportPath(id). A failing course is
// reported as skipped and never affects the others. Results are returned in
// the order of courseIDs whatever the concurrency.
func (e *Exporter) ExportAll(ctx context.Context, rc runctx.Context, courseIDs []string) []report.Result {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	results := make([]report.Result, len(courseIDs))

	if e.Workers <= 1 {
		for i, id := range courseIDs {
			results[i] = e.exportOne(ctx, logger, rc, id)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Workers)
	for i, id := range courseIDs {
		g.Go(func() error {
			results[i] = e.exportOne(gctx, logger, rc, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Exporter) exportOne(ctx context.Context, logger *zap.SugaredLogger, rc runctx.Context, id string) report.Result {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return report.Skipped(report.PhaseExport, id, "", errors.Wrap(err, "export not started"), 0)
	}

	dest := rc.CourseExportPath(id)
	logger.Infow("exporting course", "course_id", id, "output", dest)

	if err := e.Manager.ExportCourse(ctx, id, dest); err != nil {
		// A failed export may leave a truncated file behind; it must not end up
		// in the archive.
		if rmErr := os.Remove(dest); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warnw("remove partial export", "course_id", id, "error", rmErr)
		}
		res := report.Skipped(report.PhaseExport, id, "", err, time.Since(start))
		logger.Errorw("export failed", res.Fields()...)
		return res
	}
	return report.OK(report.PhaseExport, id, "", 0, time.Since(start))
}
