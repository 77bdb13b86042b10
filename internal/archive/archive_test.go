package archive

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseetl/internal/report"
	"courseetl/internal/runctx"
)

type fakeManager struct {
	fail map[string]error

	mu       sync.Mutex
	exported []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (f *fakeManager) ListCourseIDs(context.Context) ([]string, error) { return nil, nil }

func (f *fakeManager) ExportCourse(_ context.Context, id, dest string) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.exported = append(f.exported, id)
	f.mu.Unlock()

	if err := f.fail[id]; err != nil {
		_ = os.WriteFile(dest, []byte("truncated"), 0o644)
		return err
	}
	return os.WriteFile(dest, []byte("olx:"+id), 0o644)
}

func newRun(t *testing.T) runctx.Context {
	t.Helper()
	root := t.TempDir()
	rc := runctx.New(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), filepath.Join(root, "csv"), filepath.Join(root, "courses"))
	require.NoError(t, rc.EnsureFolders())
	return rc
}

func TestExportAll_FailingCourseIsIsolated(t *testing.T) {
	t.Parallel()

	rc := newRun(t)
	m := &fakeManager{fail: map[string]error{"Y": errors.New("export_olx exited 1")}}
	e := &Exporter{Manager: m}

	results := e.ExportAll(context.Background(), rc, []string{"X", "Y", "Z"})
	require.Len(t, results, 3)
	assert.Equal(t, []string{"X", "Y", "Z"}, m.exported)

	assert.Equal(t, report.StatusOK, results[0].Status)
	assert.Equal(t, report.StatusSkipped, results[1].Status)
	assert.Equal(t, "Y", results[1].CourseID)
	assert.Contains(t, results[1].Reason(), "export_olx exited 1")
	assert.Equal(t, report.StatusOK, results[2].Status)

	_, err := os.Stat(rc.CourseExportPath("Y"))
	assert.True(t, os.IsNotExist(err), "partial export must be removed")

	// The archive built afterwards still carries X and Z.
	n, err := Compress(context.Background(), rc.ExportDir, rc.ArchivePath())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	names, err := Verify(rc.ArchivePath())
	require.NoError(t, err)
	assert.Equal(t, []string{"X.tar.gz", "Z.tar.gz"}, sorted(names))
}

func TestExportAll_FailureKeepsLookalikeCourse(t *testing.T) {
	t.Parallel()

	rc := newRun(t)
	m := &fakeManager{fail: map[string]error{"MITx_6.002x_2012": errors.New("export_olx exited 1")}}
	e := &Exporter{Manager: m}

	results := e.ExportAll(context.Background(), rc, []string{"MITx/6.002x/2012", "MITx_6.002x_2012"})
	require.Len(t, results, 2)
	assert.Equal(t, report.StatusOK, results[0].Status)
	assert.Equal(t, report.StatusSkipped, results[1].Status)

	got, err := os.ReadFile(rc.CourseExportPath("MITx/6.002x/2012"))
	require.NoError(t, err, "export of the old-style id must survive")
	assert.Equal(t, "olx:MITx/6.002x/2012", string(got))

	names, err := Verify(mustCompress(t, rc))
	require.NoError(t, err)
	assert.Equal(t, []string{"MITx%2F6.002x%2F2012.tar.gz"}, names)
}

func mustCompress(t *testing.T, rc runctx.Context) string {
	t.Helper()
	_, err := Compress(context.Background(), rc.ExportDir, rc.ArchivePath())
	require.NoError(t, err)
	return rc.ArchivePath()
}

func TestExportAll_ParallelKeepsOrderAndBound(t *testing.T) {
	t.Parallel()

	rc := newRun(t)
	m := &fakeManager{delay: 20 * time.Millisecond, fail: map[string]error{"c3": errors.New("boom")}}
	e := &Exporter{Manager: m, Workers: 2}

	ids := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	results := e.ExportAll(context.Background(), rc, ids)

	require.Len(t, results, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, results[i].CourseID)
	}
	assert.Equal(t, report.StatusSkipped, results[2].Status)
	assert.LessOrEqual(t, m.maxSeen.Load(), int32(2))
}

func TestExportAll_CancelledContextSkipsRemaining(t *testing.T) {
	t.Parallel()

	rc := newRun(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := (&Exporter{Manager: &fakeManager{}}).ExportAll(ctx, rc, []string{"A", "B"})
	for _, r := range results {
		assert.Equal(t, report.StatusSkipped, r.Status)
		assert.True(t, errors.Is(r.Err, context.Canceled))
	}
}

func TestExportAll_Empty(t *testing.T) {
	t.Parallel()

	results := (&Exporter{Manager: &fakeManager{}}).ExportAll(context.Background(), newRun(t), nil)
	assert.Empty(t, results)
}

func TestCompress_NestedTree(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "course-v1_A", "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "course-v1_A", "course.xml"), []byte("<course/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "course-v1_A", "static", "logo.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "B.tar.gz"), []byte("b"), 0o644))

	dst := filepath.Join(t.TempDir(), "exported_courses_20240502.tar.gz")
	n, err := Compress(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	names, err := Verify(dst)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"B.tar.gz",
		"course-v1_A/",
		"course-v1_A/course.xml",
		"course-v1_A/static/",
		"course-v1_A/static/logo.png",
	}, sorted(names))
	assert.Len(t, Files(names), 3)
}

func TestCompress_EmptyFolderGivesValidEmptyArchive(t *testing.T) {
	t.Parallel()

	dst := filepath.Join(t.TempDir(), "a.tar.gz")
	n, err := Compress(context.Background(), t.TempDir(), dst)
	require.NoError(t, err)
	assert.Zero(t, n)

	names, err := Verify(dst)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCompress_FailureKeepsPriorArchive(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "X.tar.gz"), []byte("x"), 0o644))
	outDir := t.TempDir()
	dst := filepath.Join(outDir, "exported.tar.gz")

	_, err := Compress(context.Background(), src, dst)
	require.NoError(t, err)
	before, err := os.ReadFile(dst)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Compress(ctx, src, dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	after, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assertOnlyFile(t, outDir, "exported.tar.gz")
}

func TestCompress_FailureLeavesNoArchive(t *testing.T) {
	t.Parallel()

	outDir := t.TempDir()
	dst := filepath.Join(outDir, "exported.tar.gz")

	_, err := Compress(context.Background(), filepath.Join(outDir, "missing"), dst)
	require.Error(t, err)

	_, err = os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
	assertOnlyFile(t, outDir)
}

func TestCompress_SkipsOwnOutput(t *testing.T) {
	t.Parallel()

	// csv and export roots may coincide; the archive must not include itself.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "X.tar.gz"), []byte("x"), 0o644))
	dst := filepath.Join(dir, "exported.tar.gz")
	require.NoError(t, os.WriteFile(dst, []byte("previous"), 0o644))

	_, err := Compress(context.Background(), dir, dst)
	require.NoError(t, err)
	names, err := Verify(dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"X.tar.gz"}, names)
}

func TestVerify_RejectsTruncatedArchive(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	big := make([]byte, 256*1024)
	for i := range big {
		big[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "X.tar.gz"), big, 0o644))
	dst := filepath.Join(t.TempDir(), "a.tar.gz")
	_, err := Compress(context.Background(), src, dst)
	require.NoError(t, err)

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, b[:len(b)/2], 0o644))

	_, err = Verify(dst)
	assert.Error(t, err)
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func assertOnlyFile(t *testing.T, dir string, want ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	assert.Equal(t, want, got, "leftover temp files in %s", dir)
}
