// Package dataset defines the extracted tables and owns their CSV files.
//
// File lifecycle:
//   - InitHeaders creates or truncates every file and writes the header.
//   - Appender adds the rows of one (course, dataset) unit. If the unit fails,
//     Rollback truncates the file back to where the unit started, so a file
//     only ever holds the header plus complete rows.
package dataset

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// PathFunc maps a dataset name to its file.
type PathFunc func(name string) string

// InitHeaders (re)creates the file of every spec with exactly one header row.
// All specs are attempted; the first error is returned after the loop.
func InitHeaders(path PathFunc, specs []Spec) error {
	var firstErr error
	for _, s := range specs {
		if err := writeHeader(path(s.Name), s.Columns); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "dataset %s: init header", s.Name)
		}
	}
	return firstErr
}

func writeHeader(p string, columns []string) error {
	f, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Appender writes rows of one unit to an existing dataset file.
type Appender struct {
	f      *os.File
	w      *csv.Writer
	start  int64
	fields int
	rows   int64
}

// OpenAppend opens the dataset file in append mode. The file must already
// carry its header; a missing file is an error rather than a headerless file.
func OpenAppend(p string, fields int) (*Appender, error) {
	f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "dataset: open for append")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "dataset: stat")
	}
	return &Appender{f: f, w: csv.NewWriter(f), start: info.Size(), fields: fields}, nil
}

// Write appends one record. Its length must match the header.
func (a *Appender) Write(record []string) error {
	if len(record) != a.fields {
		return errors.Newf("dataset: row has %d fields, header has %d", len(record), a.fields)
	}
	if err := a.w.Write(record); err != nil {
		return errors.Wrap(err, "dataset: write row")
	}
	a.rows++
	return nil
}

// Rows is the number of records written so far.
func (a *Appender) Rows() int64 { return a.rows }

// Commit flushes and closes the file. If the flush fails the unit is
// truncated away as in Rollback.
func (a *Appender) Commit() error {
	a.w.Flush()
	if err := a.w.Error(); err != nil {
		_ = a.f.Truncate(a.start)
		_ = a.f.Close()
		return errors.Wrap(err, "dataset: flush")
	}
	if err := a.f.Close(); err != nil {
		return errors.Wrap(err, "dataset: close")
	}
	return nil
}

// Rollback discards everything written since OpenAppend and closes the file.
func (a *Appender) Rollback() error {
	a.w.Flush()
	terr := a.f.Truncate(a.start)
	cerr := a.f.Close()
	if terr != nil {
		return errors.Wrap(terr, "dataset: rollback")
	}
	if cerr != nil {
		return errors.Wrap(cerr, "dataset: close")
	}
	a.rows = 0
	return nil
}

// Count reads a dataset file and returns its header and number of data rows.
func Count(p string) ([]string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, errors.Wrap(err, "dataset: open")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "dataset: read header")
	}
	header = append([]string(nil), header...)

	var n int64
	for {
		_, err := r.Read()
		if err == io.EOF {
			return header, n, nil
		}
		if err != nil {
			return header, n, errors.Wrapf(err, "dataset: read row %d", n+1)
		}
		n++
	}
}
