package storage

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
)

// SQLSource implements Source on top of database/sql.
//
// The pool is capped at one open connection; extraction runs serially.
type SQLSource struct {
	db    *sql.DB
	style PlaceholderStyle
}

// NewSQLSource wraps an already opened handle.
func NewSQLSource(db *sql.DB, style PlaceholderStyle) *SQLSource {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQLSource{db: db, style: style}
}

// OpenSQL opens driverName with dsn and verifies connectivity.
//
// Errors:
//   - Returns the sql.Open error, or the ping error after closing the handle.
func OpenSQL(ctx context.Context, driverName, dsn string, style PlaceholderStyle, cfg Config) (*SQLSource, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: sql open %s", driverName)
	}
	src := NewSQLSource(db, style)

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "storage: ping %s", driverName)
	}
	return src, nil
}

func (s *SQLSource) StreamRows(ctx context.Context, query, courseID string, fn RowFunc) error {
	q, args := Bind(query, s.style, courseID)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "storage: query")
	}
	defer rows.Close()
	return ScanRows(rows, fn)
}

func (s *SQLSource) Close() { _ = s.db.Close() }

// ScanRows renders every row of rows as text and passes it to fn. rows is not
// closed.
func ScanRows(rows *sql.Rows, fn RowFunc) error {
	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, "storage: columns")
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(err, "storage: scan")
		}
		rec := make([]string, len(vals))
		for i, v := range vals {
			rec[i] = FormatValue(v)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "storage: rows")
	}
	return nil
}
