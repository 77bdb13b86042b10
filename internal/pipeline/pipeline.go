// Package pipeline sequences one daily run: folders, discovery, course export
// and compression, dataset headers, then extraction.
//
// Only setup, discovery, header initialisation and opening the store abort a
// run. Everything else is a per-unit outcome in the returned report.
package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"courseetl/internal/archive"
	"courseetl/internal/dataset"
	"courseetl/internal/extract"
	"courseetl/internal/metrics"
	"courseetl/internal/platform"
	"courseetl/internal/report"
	"courseetl/internal/runctx"
	"courseetl/internal/storage"
)

// Fatal error kinds. Run marks its error with one of them; test with errors.Is.
var (
	ErrSetup       = errors.New("setup failed")
	ErrDiscovery   = errors.New("course discovery failed")
	ErrDatasetInit = errors.New("dataset initialisation failed")
	ErrStore       = errors.New("store unavailable")
)

// SourceOpener opens the relational source once extraction is about to start.
type SourceOpener func(ctx context.Context) (storage.Source, error)

// CompressFunc bundles srcDir into dst and returns the number of files.
type CompressFunc func(ctx context.Context, srcDir, dst string) (int, error)

// Pipeline holds the collaborators of a run. It has no per-run state and may
// be reused.
type Pipeline struct {
	Platform      platform.Manager
	OpenSource    SourceOpener
	Datasets      []dataset.Spec
	ExportWorkers int
	Logger        *zap.SugaredLogger

	// Compress defaults to archive.Compress.
	Compress CompressFunc

	now func() time.Time
}

// Run executes one run for rc. The report is always returned, also alongside
// a fatal error, and holds every unit attempted so far.
func (p *Pipeline) Run(ctx context.Context, rc runctx.Context) (*report.Report, error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger = logger.With("run_id", rc.ID, "run_date", rc.Stamp())
	compress := p.Compress
	if compress == nil {
		compress = archive.Compress
	}

	rep := report.New(rc.ID, rc.Stamp(), now())
	logger.Infow("run started", "csv_dir", rc.CSVDir, "export_dir", rc.ExportDir)

	if err := rc.EnsureFolders(); err != nil {
		return rep, errors.Mark(err, ErrSetup)
	}

	// Discovery runs once; the same list drives export and extraction.
	start := time.Now()
	courseIDs, err := p.Platform.ListCourseIDs(ctx)
	if err != nil {
		metrics.RecordStep("discover", string(report.StatusSkipped), time.Since(start))
		return rep, errors.Mark(err, ErrDiscovery)
	}
	metrics.RecordStep("discover", string(report.StatusOK), time.Since(start))
	if len(courseIDs) == 0 {
		logger.Warnw("no courses discovered; datasets will contain headers only")
	} else {
		logger.Infow("courses discovered", "count", len(courseIDs), "duration", time.Since(start).Truncate(time.Millisecond))
	}

	// Export, then compress.
	exporter := &archive.Exporter{Manager: p.Platform, Workers: p.ExportWorkers, Logger: logger}
	p.record(logger, rep, report.PhaseExport, exporter.ExportAll(ctx, rc, courseIDs))

	start = time.Now()
	files, err := compress(ctx, rc.ExportDir, rc.ArchivePath())
	if err != nil {
		res := report.Skipped(report.PhaseCompress, "", "", err, time.Since(start))
		logger.Errorw("compression failed", res.Fields()...)
		p.record(logger, rep, report.PhaseCompress, []report.Result{res})
	} else {
		logger.Infow("archive written", "path", rc.ArchivePath(), "files", files)
		p.record(logger, rep, report.PhaseCompress, []report.Result{
			report.OK(report.PhaseCompress, "", "", 0, time.Since(start)),
		})
	}

	// Headers are (re)written on every run so a re-run never duplicates rows.
	if err := dataset.InitHeaders(rc.DatasetPath, p.Datasets); err != nil {
		return rep, errors.Mark(err, ErrDatasetInit)
	}

	src, err := p.OpenSource(ctx)
	if err != nil {
		return rep, errors.Mark(err, ErrStore)
	}
	defer src.Close()

	ex := &extract.Executor{Source: src, Specs: p.Datasets, Path: rc.DatasetPath, Logger: logger}
	p.record(logger, rep, report.PhaseExtract, ex.Run(ctx, courseIDs))

	if err := ctx.Err(); err != nil {
		return rep, errors.Wrap(err, "run interrupted")
	}
	return rep, nil
}

// record adds results to the report, emits their metrics and logs a phase line.
func (p *Pipeline) record(logger *zap.SugaredLogger, rep *report.Report, phase report.Phase, results []report.Result) {
	rep.Add(results...)

	ok, skipped := 0, 0
	var rows int64
	for _, r := range results {
		metrics.RecordStep(string(r.Phase), string(r.Status), r.Duration)
		if r.Status == report.StatusOK {
			ok++
			rows += r.Rows
			if r.Phase == report.PhaseExtract {
				metrics.RecordRows(r.Dataset, r.Rows)
			}
		} else {
			skipped++
		}
	}

	kv := []any{"phase", string(phase), "ok", ok, "skipped", skipped}
	if phase == report.PhaseExtract {
		kv = append(kv, "rows", rows)
	}
	logger.Infow("phase done", kv...)
}
