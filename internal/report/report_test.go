package report

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func sample() *Report {
	r := New("run-1", "20240101", time.Now())
	r.Add(
		OK(PhaseExport, "A", "", 0, time.Second),
		Skipped(PhaseExport, "B", "", errors.New("export_olx exited 1"), time.Second),
		OK(PhaseCompress, "", "", 0, time.Second),
		OK(PhaseExtract, "A", "users", 3, time.Millisecond),
		OK(PhaseExtract, "A", "role", 1, time.Millisecond),
		Skipped(PhaseExtract, "B", "users", errors.New("lost connection"), time.Millisecond),
		OK(PhaseExtract, "B", "role", 2, time.Millisecond),
	)
	return r
}

func TestReport_CountsAndPartial(t *testing.T) {
	t.Parallel()

	r := sample()
	counts := r.Counts()

	assert.Equal(t, Counts{OK: 1, Skipped: 1}, counts[PhaseExport])
	assert.Equal(t, Counts{OK: 1}, counts[PhaseCompress])
	assert.Equal(t, Counts{OK: 3, Skipped: 1, Rows: 6}, counts[PhaseExtract])
	assert.True(t, r.Partial())

	assert.Equal(t, map[string]int64{"users": 3, "role": 3}, r.RowsByDataset())
}

func TestReport_SkippedKeepsOrderAndContext(t *testing.T) {
	t.Parallel()

	skipped := sample().Skipped()
	require.Len(t, skipped, 2)

	assert.Equal(t, "B", skipped[0].CourseID)
	assert.Equal(t, PhaseExport, skipped[0].Phase)
	assert.Equal(t, "export_olx exited 1", skipped[0].Reason())

	assert.Equal(t, "users", skipped[1].Dataset)
	assert.Equal(t, PhaseExtract, skipped[1].Phase)
}

func TestReport_EmptyIsNotPartial(t *testing.T) {
	t.Parallel()

	r := New("x", "20240101", time.Now())
	assert.False(t, r.Partial())
	assert.Empty(t, r.Results())
	assert.Equal(t, "run 20240101 (x): export ok=0 skipped=0; compress ok=0 skipped=0; extract ok=0 skipped=0", r.Summary())
}

func TestReport_Summary(t *testing.T) {
	t.Parallel()

	got := sample().Summary()
	want := "run 20240101 (run-1): export ok=1 skipped=1; compress ok=1 skipped=0; extract ok=3 skipped=1; rows role=3 users=3"
	assert.Equal(t, want, got)
}

func TestReport_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	r := New("x", "20240101", time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(OK(PhaseExport, "c", "", 0, 0))
		}()
	}
	wg.Wait()
	assert.Len(t, r.Results(), 50)
}

func TestResult_Fields(t *testing.T) {
	t.Parallel()

	res := Skipped(PhaseExtract, "course-v1:X+Y+Z", "studentmodule", errors.New("boom"), 1500*time.Microsecond)
	kv := res.Fields()

	m := map[string]any{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	assert.Equal(t, "extract", m["phase"])
	assert.Equal(t, "skipped", m["status"])
	assert.Equal(t, "course-v1:X+Y+Z", m["course_id"])
	assert.Equal(t, "studentmodule", m["dataset"])
	assert.Equal(t, int64(0), m["rows"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, time.Millisecond, m["duration"])
}

func TestReport_Log(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sample().Log(zap.New(core).Sugar())

	warns := logs.FilterMessage("unit skipped").All()
	require.Len(t, warns, 2)
	assert.Equal(t, "B", warns[0].ContextMap()["course_id"])

	summary := logs.FilterMessage("run summary").All()
	require.Len(t, summary, 1)
	assert.Equal(t, true, summary[0].ContextMap()["partial"])
}
