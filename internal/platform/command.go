package platform

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

// Placeholders substituted in ExportArgs.
const (
	PlaceholderCourseID = "{course_id}"
	PlaceholderOutput   = "{output}"
)

// CommandConfig describes the management command. Every field is a shell-quoted
// string split with go-shellquote; no shell is involved at run time.
type CommandConfig struct {
	// Command is the prefix shared by both subcommands,
	// e.g. "/edx/bin/python.edxapp /edx/app/edxapp/edx-platform/manage.py cms --settings production".
	Command string
	// ListArgs prints one course id per line, e.g. "dump_course_ids".
	ListArgs string
	// ExportArgs exports one course, e.g. "export_olx {course_id} --output {output}".
	ExportArgs string
	// ExportTimeout bounds a single course export. Zero means no limit.
	ExportTimeout time.Duration
}

type runFunc func(ctx context.Context, argv []string) ([]byte, error)

// Command implements Manager by running the management command as a subprocess.
type Command struct {
	prefix  []string
	list    []string
	export  []string
	timeout time.Duration

	logger *zap.SugaredLogger
	run    runFunc
}

// NewCommand splits and checks cfg.
func NewCommand(cfg CommandConfig, logger *zap.SugaredLogger) (*Command, error) {
	prefix, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, errors.Wrap(err, "platform: parse command")
	}
	if len(prefix) == 0 {
		return nil, errors.New("platform: empty command")
	}
	list, err := shellquote.Split(cfg.ListArgs)
	if err != nil {
		return nil, errors.Wrap(err, "platform: parse list args")
	}
	export, err := shellquote.Split(cfg.ExportArgs)
	if err != nil {
		return nil, errors.Wrap(err, "platform: parse export args")
	}
	if !containsPlaceholder(export, PlaceholderCourseID) || !containsPlaceholder(export, PlaceholderOutput) {
		return nil, errors.WithHintf(
			errors.Newf("platform: export args %q must reference %s and %s", cfg.ExportArgs, PlaceholderCourseID, PlaceholderOutput),
			"example: export_olx %s --output %s", PlaceholderCourseID, PlaceholderOutput)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Command{
		prefix:  prefix,
		list:    list,
		export:  export,
		timeout: cfg.ExportTimeout,
		logger:  logger,
		run:     execRun,
	}, nil
}

func containsPlaceholder(args []string, p string) bool {
	for _, a := range args {
		if strings.Contains(a, p) {
			return true
		}
	}
	return false
}

// ListCourseIDs runs the list subcommand.
func (c *Command) ListCourseIDs(ctx context.Context) ([]string, error) {
	argv := c.argv(c.list, nil)
	start := time.Now()
	out, err := c.run(ctx, argv)
	if err != nil {
		return nil, errors.Wrap(err, "platform: list courses")
	}
	ids, err := ParseCourseIDs(out)
	if err != nil {
		return nil, errors.Wrap(err, "platform: list courses")
	}
	c.logger.Debugw("listed courses", "count", len(ids), "duration", time.Since(start).Truncate(time.Millisecond))
	return ids, nil
}

// ExportCourse runs the export subcommand for one course. A zero exit that
// leaves no file at dest is reported as an error.
func (c *Command) ExportCourse(ctx context.Context, courseID, dest string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	argv := c.argv(c.export, strings.NewReplacer(
		PlaceholderCourseID, courseID,
		PlaceholderOutput, dest,
	))
	if _, err := c.run(ctx, argv); err != nil {
		return errors.Wrapf(err, "platform: export %s", courseID)
	}
	if _, err := os.Stat(dest); err != nil {
		return errors.Wrapf(err, "platform: export %s produced no output", courseID)
	}
	return nil
}

func (c *Command) argv(args []string, r *strings.Replacer) []string {
	argv := make([]string, 0, len(c.prefix)+len(args))
	argv = append(argv, c.prefix...)
	for _, a := range args {
		if r != nil {
			a = r.Replace(a)
		}
		argv = append(argv, a)
	}
	return argv
}

const (
	stderrTail = 512
	// waitDelay bounds how long Wait blocks on output pipes still held open by
	// grandchildren after the command itself was killed.
	waitDelay = 10 * time.Second
)

// execRun runs argv and returns its stdout. On failure the error carries the
// tail of stderr; a cancelled or expired context is reported as such.
func execRun(ctx context.Context, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errors.Wrapf(ctxErr, "%s", filepath.Base(argv[0]))
	}

	msg := strings.TrimSpace(stderr.String())
	if len(msg) > stderrTail {
		msg = "..." + msg[len(msg)-stderrTail:]
	}
	if msg == "" {
		return nil, errors.Wrapf(err, "%s", filepath.Base(argv[0]))
	}
	return nil, errors.Wrapf(err, "%s: %s", filepath.Base(argv[0]), msg)
}
