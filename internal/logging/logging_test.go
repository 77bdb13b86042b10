package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ConsoleRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closeFn, err := New(Options{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Infow("hidden", "course_id", "A")
	logger.Warnw("unit skipped", "course_id", "B")
	require.NoError(t, closeFn())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "unit skipped")
	assert.Contains(t, out, `"course_id": "B"`)
}

func TestNew_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closeFn, err := New(Options{JSON: true}, &buf)
	require.NoError(t, err)

	logger.With("run_id", "r-1").Infow("run started", "csv_dir", "/data/csv/20240101")
	require.NoError(t, closeFn())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "run started", rec["msg"])
	assert.Equal(t, "r-1", rec["run_id"])
	assert.Equal(t, "/data/csv/20240101", rec["csv_dir"])
}

func TestNew_RotatingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "courseetl.log")
	var buf bytes.Buffer
	logger, closeFn, err := New(Options{File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	logger.Errorw("export failed", "course_id", "course-v1:X")
	require.NoError(t, closeFn())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(b))
	assert.Contains(t, line, `"msg":"export failed"`)
	assert.Contains(t, line, `"course_id":"course-v1:X"`)
	assert.Contains(t, buf.String(), "export failed")
}

func TestNew_BadLevel(t *testing.T) {
	t.Parallel()

	_, _, err := New(Options{Level: "verbose"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `level "verbose"`)
}
