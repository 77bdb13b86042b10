// Package extract runs the dataset queries for every course and appends the
// rows to the dataset files.
package extract

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"courseetl/internal/dataset"
	"courseetl/internal/report"
	"courseetl/internal/storage"
)

// Executor extracts (course, dataset) units serially over one Source.
type Executor struct {
	Source storage.Source
	Specs  []dataset.Spec
	Path   dataset.PathFunc
	Logger *zap.SugaredLogger
}

// Run extracts every dataset for every course: courses in the given order,
// datasets in Specs order. Each unit either appends all its rows or none.
// A failed unit is reported as skipped and the next unit runs. Once ctx is
// done the remaining units are reported as skipped without touching the store.
func (e *Executor) Run(ctx context.Context, courseIDs []string) []report.Result {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	results := make([]report.Result, 0, len(courseIDs)*len(e.Specs))
	for _, id := range courseIDs {
		for _, spec := range e.Specs {
			if err := ctx.Err(); err != nil {
				results = append(results, report.Skipped(report.PhaseExtract, id, spec.Name, errors.Wrap(err, "extract not started"), 0))
				continue
			}
			res := e.extractOne(ctx, id, spec)
			if res.Status == report.StatusSkipped {
				logger.Errorw("extract failed", res.Fields()...)
			} else {
				logger.Debugw("extracted", res.Fields()...)
			}
			results = append(results, res)
		}
	}
	return results
}

func (e *Executor) extractOne(ctx context.Context, courseID string, spec dataset.Spec) report.Result {
	start := time.Now()
	skip := func(err error) report.Result {
		return report.Skipped(report.PhaseExtract, courseID, spec.Name, err, time.Since(start))
	}

	a, err := dataset.OpenAppend(e.Path(spec.Name), len(spec.Columns))
	if err != nil {
		return skip(err)
	}

	if err := e.Source.StreamRows(ctx, spec.Query, courseID, a.Write); err != nil {
		if rbErr := a.Rollback(); rbErr != nil {
			err = errors.CombineErrors(err, rbErr)
		}
		return skip(err)
	}

	rows := a.Rows()
	if err := a.Commit(); err != nil {
		return skip(err)
	}
	return report.OK(report.PhaseExtract, courseID, spec.Name, rows, time.Since(start))
}
