// Command courseetl runs the daily course ETL: it exports every course from
// the platform, bundles the exports, and extracts the course datasets to CSV.
//
// Exit status:
//
//	0  success, or a partial run when run.fail_on_partial is false
//	1  fatal error (configuration, discovery, dataset files, store)
//	2  usage error
//	3  partial run with run.fail_on_partial set
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"courseetl/internal/config"
	"courseetl/internal/dataset"
	"courseetl/internal/logging"
	"courseetl/internal/notify"
	"courseetl/internal/pipeline"
	"courseetl/internal/platform"
	"courseetl/internal/report"
	"courseetl/internal/runctx"
	"courseetl/internal/storage"

	// register every store kind; store.kind selects one at run time.
	_ "courseetl/internal/storage/all"
)

const (
	exitOK      = 0
	exitFatal   = 1
	exitUsage   = 2
	exitPartial = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, appDeps{})
	stop()
	os.Exit(code)
}

// runner is the part of *pipeline.Pipeline the CLI drives.
type runner interface {
	Run(ctx context.Context, rc runctx.Context) (*report.Report, error)
}

// appDeps are the seams between the CLI and the outside world. Nil fields
// fall back to the production implementation.
type appDeps struct {
	loadConfig  func(path string) (*config.Config, error)
	newLogger   func(opts logging.Options, w io.Writer) (*zap.SugaredLogger, func() error, error)
	initMetrics func(ctx context.Context, cfg config.Metrics, backend string, logger *zap.SugaredLogger) (func(), error)
	newRunner   func(cfg *config.Config, logger *zap.SugaredLogger) (runner, error)
	notify      func(ctx context.Context, cfg config.Notify, logger *zap.SugaredLogger, text string) error
	now         func() time.Time
}

func (d appDeps) withDefaults() appDeps {
	if d.loadConfig == nil {
		d.loadConfig = config.Load
	}
	if d.newLogger == nil {
		d.newLogger = logging.New
	}
	if d.initMetrics == nil {
		d.initMetrics = initMetrics
	}
	if d.newRunner == nil {
		d.newRunner = newPipeline
	}
	if d.notify == nil {
		d.notify = sendSlack
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// exitError carries the process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error { return &exitError{code: code, err: err} }

// runMain executes the CLI and returns the exit code. Errors that do not come
// from a command body (unknown flags or commands, bad arguments) are usage
// errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps.withDefaults())
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if !errors.As(err, &ee) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		fmt.Fprintf(stderr, "run '%s --help' for usage\n", root.Name())
		return exitUsage
	}
	if ee.err != nil {
		fmt.Fprintf(stderr, "error: %v\n", ee.err)
		if hint := errors.FlattenHints(ee.err); hint != "" {
			fmt.Fprintf(stderr, "hint: %s\n", hint)
		}
	}
	return ee.code
}

func newRootCmd(deps appDeps) *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "courseetl",
		Short: "Daily course export and dataset extraction",
		Long: `courseetl exports every course from the platform, bundles the exports
into one archive, and extracts the users, studentmodule, enrollment and role
datasets of every course into dated CSV files.

Settings come from --config, overridden by COURSEETL_* environment variables
(COURSEETL_STORE_PASSWORD sets store.password).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "settings file (JSON, YAML or TOML)")

	root.AddCommand(
		newRunCmd(deps, &cfgPath),
		newValidateCmd(deps, &cfgPath),
		newInspectCmd(deps, &cfgPath),
	)
	return root
}

// loadAndValidate prints every issue to w and fails on errors.
func loadAndValidate(deps appDeps, path string, w io.Writer) (*config.Config, error) {
	cfg, err := deps.loadConfig(path)
	if err != nil {
		return nil, fail(exitFatal, err)
	}
	issues := config.Validate(*cfg)
	for _, iss := range issues {
		fmt.Fprintln(w, iss.String())
	}
	if config.HasErrors(issues) {
		return nil, fail(exitFatal, errors.Newf("configuration is invalid: %s", displayPath(path)))
	}
	return cfg, nil
}

func displayPath(p string) string {
	if p == "" {
		return "(defaults and environment)"
	}
	return p
}

// runDate resolves --date, or today in the configured time zone.
func runDate(cfg *config.Config, flag string, now func() time.Time) (time.Time, error) {
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, fail(exitFatal, err)
	}
	if flag == "" {
		return now().In(loc), nil
	}
	d, err := runctx.ParseDate(flag, loc)
	if err != nil {
		return time.Time{}, fail(exitUsage, err)
	}
	return d, nil
}

// newPipeline wires the production collaborators.
func newPipeline(cfg *config.Config, logger *zap.SugaredLogger) (runner, error) {
	mgr, err := platform.NewCommand(cfg.CommandConfig(), logger.Named("platform"))
	if err != nil {
		return nil, err
	}
	storeCfg := cfg.StoreConfig()
	return &pipeline.Pipeline{
		Platform: mgr,
		OpenSource: func(ctx context.Context) (storage.Source, error) {
			return storage.Open(ctx, storeCfg)
		},
		Datasets:      dataset.Registry(),
		ExportWorkers: cfg.Platform.ExportWorkers,
		Logger:        logger,
	}, nil
}

func sendSlack(ctx context.Context, cfg config.Notify, logger *zap.SugaredLogger, text string) error {
	s, err := notify.NewSlack(notify.Options{
		WebhookURL: cfg.SlackWebhookURL,
		Username:   cfg.Username,
		IconEmoji:  cfg.IconEmoji,
		Timeout:    cfg.Timeout,
		RetryMax:   cfg.RetryMax,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return s.Send(ctx, text)
}
