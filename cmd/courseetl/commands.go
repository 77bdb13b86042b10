package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"courseetl/internal/archive"
	"courseetl/internal/dataset"
	"courseetl/internal/notify"
	"courseetl/internal/runctx"
)

func newRunCmd(deps appDeps, cfgPath *string) *cobra.Command {
	var (
		date           string
		metricsBackend string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Export, compress and extract for one day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, deps, *cfgPath, date, metricsBackend)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date as YYYYMMDD (default: today)")
	cmd.Flags().StringVar(&metricsBackend, "metrics-backend", "", "override metrics.backend (none, datadog, pushgateway)")
	return cmd
}

func runRun(cmd *cobra.Command, deps appDeps, cfgPath, dateFlag, metricsFlag string) error {
	ctx := cmd.Context()

	cfg, err := loadAndValidate(deps, cfgPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	date, err := runDate(cfg, dateFlag, deps.now)
	if err != nil {
		return err
	}

	logger, closeLog, err := deps.newLogger(cfg.LogOptions(), cmd.ErrOrStderr())
	if err != nil {
		return fail(exitFatal, err)
	}
	defer func() { _ = closeLog() }()

	backend := cfg.Metrics.Backend
	if metricsFlag != "" {
		backend = metricsFlag
	}
	cleanup, err := deps.initMetrics(ctx, cfg.Metrics, backend, logger)
	if err != nil {
		return fail(exitFatal, errors.Wrap(err, "init metrics"))
	}
	defer cleanup()

	r, err := deps.newRunner(cfg, logger)
	if err != nil {
		return fail(exitFatal, err)
	}

	if cfg.Run.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Run.Timeout)
		defer cancel()
	}

	rc := runctx.New(date, cfg.Paths.CSVRoot, cfg.Paths.CourseExportRoot)
	rep, runErr := r.Run(ctx, rc)
	if rep != nil {
		rep.Log(logger)
	}

	if cfg.Notify.SlackWebhookURL != "" {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		if err := deps.notify(nctx, cfg.Notify, logger, notify.Message(rep, runErr)); err != nil {
			logger.Warnw("notification failed", "error", err)
		}
		cancel()
	}

	if runErr != nil {
		logger.Errorw("run failed", "run_id", rc.ID, "error", runErr)
		return fail(exitFatal, runErr)
	}

	fmt.Fprintln(cmd.OutOrStdout(), rep.Summary())
	if rep.Partial() && cfg.Run.FailOnPartial {
		return fail(exitPartial, errors.Newf("partial run: %d unit(s) skipped", len(rep.Skipped())))
	}
	return nil
}

func newValidateCmd(deps appDeps, cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := loadAndValidate(deps, *cfgPath, cmd.ErrOrStderr()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: %s\n", displayPath(*cfgPath))
			return nil
		},
	}
}

func newInspectCmd(deps appDeps, cfgPath *string) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report the dataset row counts and archive contents of one day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadAndValidate(deps, *cfgPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			d, err := runDate(cfg, date, deps.now)
			if err != nil {
				return err
			}
			return inspect(cmd, runctx.New(d, cfg.Paths.CSVRoot, cfg.Paths.CourseExportRoot))
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "run date as YYYYMMDD (default: today)")
	return cmd
}

// inspect prints one line per dataset and one for the archive. Any missing or
// unreadable file makes it fail.
func inspect(cmd *cobra.Command, rc runctx.Context) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run date %s (%s)\n", rc.Stamp(), rc.CSVDir)

	bad := 0
	for _, s := range dataset.Registry() {
		p := rc.DatasetPath(s.Name)
		header, rows, err := dataset.Count(p)
		switch {
		case err != nil:
			bad++
			fmt.Fprintf(out, "%-36s error: %v\n", filepath.Base(p), err)
		case len(header) != len(s.Columns):
			bad++
			fmt.Fprintf(out, "%-36s header has %d columns, want %d\n", filepath.Base(p), len(header), len(s.Columns))
		default:
			fmt.Fprintf(out, "%-36s rows=%d\n", filepath.Base(p), rows)
		}
	}

	names, err := archive.Verify(rc.ArchivePath())
	if err != nil {
		bad++
		fmt.Fprintf(out, "%-36s error: %v\n", filepath.Base(rc.ArchivePath()), err)
	} else {
		fmt.Fprintf(out, "%-36s files=%d\n", filepath.Base(rc.ArchivePath()), len(archive.Files(names)))
	}

	if bad > 0 {
		return fail(exitFatal, errors.Newf("%d of %d files missing or unreadable", bad, len(dataset.Registry())+1))
	}
	return nil
}
