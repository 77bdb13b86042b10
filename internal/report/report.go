// Package report collects the outcome of every unit of work in a run.
//
// A unit is one course export, the archive compression, or one
// (course, dataset) extraction. Units never abort the run on their own; they
// end up here as ok or skipped, and the caller decides what a skipped unit
// means for the exit status.
package report

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Phase string

const (
	PhaseExport   Phase = "export"
	PhaseCompress Phase = "compress"
	PhaseExtract  Phase = "extract"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
)

// Result is the outcome of a single unit.
type Result struct {
	Phase    Phase
	CourseID string
	Dataset  string
	Status   Status
	Err      error
	Rows     int64
	Duration time.Duration
}

// OK builds a successful result.
func OK(phase Phase, courseID, dataset string, rows int64, d time.Duration) Result {
	return Result{Phase: phase, CourseID: courseID, Dataset: dataset, Status: StatusOK, Rows: rows, Duration: d}
}

// Skipped builds a failed result. err must be non-nil.
func Skipped(phase Phase, courseID, dataset string, err error, d time.Duration) Result {
	return Result{Phase: phase, CourseID: courseID, Dataset: dataset, Status: StatusSkipped, Err: err, Duration: d}
}

// Reason is the printable cause of a skipped unit.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Fields returns the result as zap key/value pairs.
func (r Result) Fields() []any {
	kv := []any{"phase", string(r.Phase), "status", string(r.Status)}
	if r.CourseID != "" {
		kv = append(kv, "course_id", r.CourseID)
	}
	if r.Dataset != "" {
		kv = append(kv, "dataset", r.Dataset)
	}
	if r.Phase == PhaseExtract {
		kv = append(kv, "rows", r.Rows)
	}
	kv = append(kv, "duration", r.Duration.Truncate(time.Millisecond))
	if r.Err != nil {
		kv = append(kv, "error", r.Err.Error())
	}
	return kv
}

// Counts tallies results of one phase.
type Counts struct {
	OK      int
	Skipped int
	Rows    int64
}

// Report is the ordered list of results for one run. It is safe for
// concurrent Add.
type Report struct {
	RunID   string
	RunDate string
	Started time.Time

	mu      sync.Mutex
	results []Result
}

func New(runID, runDate string, started time.Time) *Report {
	return &Report{RunID: runID, RunDate: runDate, Started: started}
}

// Add appends results in the given order.
func (r *Report) Add(results ...Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, results...)
}

// Results returns a copy of all results.
func (r *Report) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Skipped returns the failed units, in the order they were added.
func (r *Report) Skipped() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Result
	for _, res := range r.results {
		if res.Status == StatusSkipped {
			out = append(out, res)
		}
	}
	return out
}

// Partial reports whether any unit was skipped.
func (r *Report) Partial() bool { return len(r.Skipped()) > 0 }

// Counts tallies results per phase.
func (r *Report) Counts() map[Phase]Counts {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[Phase]Counts, 3)
	for _, res := range r.results {
		c := out[res.Phase]
		if res.Status == StatusOK {
			c.OK++
		} else {
			c.Skipped++
		}
		c.Rows += res.Rows
		out[res.Phase] = c
	}
	return out
}

// RowsByDataset sums extracted rows per dataset.
func (r *Report) RowsByDataset() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]int64{}
	for _, res := range r.results {
		if res.Phase == PhaseExtract && res.Status == StatusOK {
			out[res.Dataset] += res.Rows
		}
	}
	return out
}

// Summary is a single human-readable line, e.g. for chat notifications.
func (r *Report) Summary() string {
	counts := r.Counts()
	phases := []Phase{PhaseExport, PhaseCompress, PhaseExtract}

	parts := make([]string, 0, len(phases)+1)
	for _, p := range phases {
		c := counts[p]
		parts = append(parts, fmt.Sprintf("%s ok=%d skipped=%d", p, c.OK, c.Skipped))
	}

	rows := r.RowsByDataset()
	names := make([]string, 0, len(rows))
	for n := range rows {
		names = append(names, n)
	}
	sort.Strings(names)
	rowParts := make([]string, 0, len(names))
	for _, n := range names {
		rowParts = append(rowParts, fmt.Sprintf("%s=%d", n, rows[n]))
	}
	if len(rowParts) > 0 {
		parts = append(parts, "rows "+strings.Join(rowParts, " "))
	}

	return fmt.Sprintf("run %s (%s): %s", r.RunDate, r.RunID, strings.Join(parts, "; "))
}

// Log writes one line per skipped unit and a closing summary.
func (r *Report) Log(logger *zap.SugaredLogger) {
	if logger == nil {
		return
	}
	for _, res := range r.Skipped() {
		logger.Warnw("unit skipped", res.Fields()...)
	}
	counts := r.Counts()
	logger.Infow("run summary",
		"export_ok", counts[PhaseExport].OK,
		"export_skipped", counts[PhaseExport].Skipped,
		"compress_ok", counts[PhaseCompress].OK,
		"compress_skipped", counts[PhaseCompress].Skipped,
		"extract_ok", counts[PhaseExtract].OK,
		"extract_skipped", counts[PhaseExtract].Skipped,
		"rows", counts[PhaseExtract].Rows,
		"partial", r.Partial(),
		"duration", time.Since(r.Started).Truncate(time.Millisecond),
	)
}
