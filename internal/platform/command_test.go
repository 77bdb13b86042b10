package platform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeManage = `#!/bin/sh
case "$1" in
dump_course_ids)
	printf 'course-v1:MITx+6.002x+2024\n\n  course-v1:MITx+8.01x+2024  \nMITx/14.73x/2013_Spring\n'
	;;
export_olx)
	case "$2" in
	*bad*) echo "CourseNotFound: $2" >&2; exit 3 ;;
	*silent*) exit 0 ;;
	*slow*) exec sleep 5 ;;
	esac
	echo "$2" > "$4"
	;;
*)
	echo "unknown command $1" >&2
	exit 2
	;;
esac
`

func newScriptCommand(t *testing.T, timeout time.Duration) *Command {
	t.Helper()
	script := filepath.Join(t.TempDir(), "manage.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeManage), 0o755))

	c, err := NewCommand(CommandConfig{
		Command:       "/bin/sh " + script,
		ListArgs:      "dump_course_ids",
		ExportArgs:    "export_olx {course_id} --output {output}",
		ExportTimeout: timeout,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestCommand_ListCourseIDs(t *testing.T) {
	t.Parallel()

	ids, err := newScriptCommand(t, 0).ListCourseIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"course-v1:MITx+6.002x+2024",
		"course-v1:MITx+8.01x+2024",
		"MITx/14.73x/2013_Spring",
	}, ids)
}

func TestCommand_ListFailureIsAnError(t *testing.T) {
	t.Parallel()

	script := filepath.Join(t.TempDir(), "manage.sh")
	require.NoError(t, os.WriteFile(script, []byte(fakeManage), 0o755))
	c, err := NewCommand(CommandConfig{
		Command:    "/bin/sh " + script,
		ListArgs:   "no_such_command",
		ExportArgs: "export_olx {course_id} --output {output}",
	}, nil)
	require.NoError(t, err)

	_, err = c.ListCourseIDs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command no_such_command")
}

func TestCommand_ListMissingBinary(t *testing.T) {
	t.Parallel()

	c, err := NewCommand(CommandConfig{
		Command:    "/nonexistent/python.edxapp manage.py",
		ListArgs:   "dump_course_ids",
		ExportArgs: "export_olx {course_id} --output {output}",
	}, nil)
	require.NoError(t, err)

	_, err = c.ListCourseIDs(context.Background())
	require.Error(t, err)
}

func TestCommand_ExportCourse(t *testing.T) {
	t.Parallel()

	c := newScriptCommand(t, 0)
	dest := filepath.Join(t.TempDir(), "course-v1_MITx+6.002x+2024.tar.gz")

	require.NoError(t, c.ExportCourse(context.Background(), "course-v1:MITx+6.002x+2024", dest))
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "course-v1:MITx+6.002x+2024\n", string(b))
}

func TestCommand_ExportFailures(t *testing.T) {
	t.Parallel()

	c := newScriptCommand(t, 200*time.Millisecond)
	dir := t.TempDir()

	tests := []struct {
		name    string
		course  string
		wantMsg string
		wantCtx bool
	}{
		{name: "non-zero exit keeps stderr", course: "course-v1:bad", wantMsg: "CourseNotFound: course-v1:bad"},
		{name: "no output file", course: "course-v1:silent", wantMsg: "produced no output"},
		{name: "timeout", course: "course-v1:slow", wantCtx: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := c.ExportCourse(context.Background(), tc.course, filepath.Join(dir, tc.course+".tar.gz"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.course)
			if tc.wantMsg != "" {
				assert.Contains(t, err.Error(), tc.wantMsg)
			}
			if tc.wantCtx {
				assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
			}
		})
	}
}

func TestCommand_SubstitutesPlaceholders(t *testing.T) {
	t.Parallel()

	c, err := NewCommand(CommandConfig{
		Command:    `/edx/bin/python.edxapp "/edx/app/edxapp/edx-platform/manage.py" cms --settings production`,
		ListArgs:   "dump_course_ids",
		ExportArgs: "export_olx {course_id} --output={output}",
	}, nil)
	require.NoError(t, err)

	var got []string
	c.run = func(_ context.Context, argv []string) ([]byte, error) {
		got = argv
		return nil, nil
	}
	dest := filepath.Join(t.TempDir(), "x.tar.gz")
	require.NoError(t, os.WriteFile(dest, nil, 0o644))

	require.NoError(t, c.ExportCourse(context.Background(), "course-v1:A+B+C", dest))
	assert.Equal(t, []string{
		"/edx/bin/python.edxapp", "/edx/app/edxapp/edx-platform/manage.py", "cms", "--settings", "production",
		"export_olx", "course-v1:A+B+C", "--output=" + dest,
	}, got)
}

func TestNewCommand_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  CommandConfig
		want string
	}{
		{"empty command", CommandConfig{ExportArgs: "x {course_id} {output}"}, "empty command"},
		{"unterminated quote", CommandConfig{Command: `python "manage.py`, ExportArgs: "x {course_id} {output}"}, "parse command"},
		{"missing output placeholder", CommandConfig{Command: "python", ExportArgs: "export_olx {course_id}"}, "must reference"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCommand(tc.cfg, nil)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want), "got %v", err)
		})
	}
}

func TestParseCourseIDs(t *testing.T) {
	t.Parallel()

	ids, err := ParseCourseIDs(nil)
	require.NoError(t, err)
	assert.Nil(t, ids)

	ids, err = ParseCourseIDs([]byte("\n  \n"))
	require.NoError(t, err)
	assert.Nil(t, ids)

	ids, err = ParseCourseIDs([]byte("A\r\nB\nA\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "A"}, ids)
}

func overlongListOutput() []byte {
	var b strings.Builder
	b.WriteString("course-v1:MITx+6.002x+2024\n")
	b.WriteString(strings.Repeat("x", 2*maxLine))
	b.WriteString("\ncourse-v1:MITx+8.01x+2024\ncourse-v1:MITx+14.73x+2024\n")
	return []byte(b.String())
}

func TestParseCourseIDs_OverlongLineIsAnError(t *testing.T) {
	t.Parallel()

	ids, err := ParseCourseIDs(overlongListOutput())
	require.Error(t, err)
	assert.Nil(t, ids, "no partial list")
	assert.Contains(t, err.Error(), "after 1 ids")
}

func TestCommand_ListOverlongOutputFailsDiscovery(t *testing.T) {
	t.Parallel()

	c := newScriptCommand(t, 0)
	c.run = func(context.Context, []string) ([]byte, error) { return overlongListOutput(), nil }

	ids, err := c.ListCourseIDs(context.Background())
	require.Error(t, err)
	assert.Nil(t, ids)
	assert.Contains(t, err.Error(), "platform: list courses")
}
