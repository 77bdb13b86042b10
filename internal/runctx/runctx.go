// Package runctx holds the identity of one daily run and every output path
// derived from it.
//
// A Context is built once at startup and passed explicitly to each pipeline
// component. Nothing in this package reads the clock; callers decide the date.
package runctx

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// DateLayout formats a RunDate as year, month, day with no separators.
const DateLayout = "20060102"

// Context is the immutable identity of one run.
type Context struct {
	ID   string
	Date time.Time

	CSVRoot    string
	ExportRoot string

	// Daily folders: <root>/<YYYYMMDD>.
	CSVDir    string
	ExportDir string
}

// New computes the daily folders for date under the two roots.
//
// The date is truncated to its calendar day in its own location. New is pure:
// it performs no I/O and cannot fail.
func New(date time.Time, csvRoot, exportRoot string) Context {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	stamp := day.Format(DateLayout)

	csvRoot = filepath.Clean(csvRoot)
	exportRoot = filepath.Clean(exportRoot)

	return Context{
		ID:         uuid.NewString(),
		Date:       day,
		CSVRoot:    csvRoot,
		ExportRoot: exportRoot,
		CSVDir:     filepath.Join(csvRoot, stamp),
		ExportDir:  filepath.Join(exportRoot, stamp),
	}
}

// ParseDate parses a YYYYMMDD stamp in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, errors.WithHint(
			errors.Wrapf(err, "runctx: invalid run date %q", s),
			"use the YYYYMMDD form, e.g. 20240131",
		)
	}
	return t, nil
}

// Stamp returns the run date as YYYYMMDD.
func (c Context) Stamp() string { return c.Date.Format(DateLayout) }

// DatasetPath is the CSV file of the named dataset.
func (c Context) DatasetPath(name string) string {
	return filepath.Join(c.CSVDir, name+".csv")
}

// ArchivePath is the compressed bundle of the day's course exports.
func (c Context) ArchivePath() string {
	return filepath.Join(c.CSVDir, "exported_courses_"+c.Stamp()+".tar.gz")
}

// CourseExportPath is where a single course export is written.
func (c Context) CourseExportPath(courseID string) string {
	return filepath.Join(c.ExportDir, FileName(courseID)+".tar.gz")
}

// FileName maps a course id onto a single path element. Old-style ids such as
// "MITx/6.002x/2012_Fall" contain slashes. The mapping is one-to-one, so two
// distinct ids never share an export file.
func FileName(courseID string) string {
	return url.PathEscape(courseID)
}

// EnsureFolders creates both daily folders and any missing parents.
// Calling it again is a no-op and leaves existing contents untouched.
func (c Context) EnsureFolders() error {
	for _, dir := range []string{c.CSVDir, c.ExportDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "runctx: create daily folder %s", dir)
		}
	}
	return nil
}
