package sqlite

import (
	"context"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"courseetl/internal/storage"
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens a SQLite file. The path comes from cfg.DSN, falling back to
// cfg.Database. Used for local replicas and tests.
func Open(ctx context.Context, cfg storage.Config) (storage.Source, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Database
	}
	if dsn == "" {
		return nil, errors.New("sqlite: missing database path")
	}
	return storage.OpenSQL(ctx, "sqlite", dsn, storage.Question, cfg)
}
