package postgres

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"courseetl/internal/storage"
)

const defaultPort = 5432

func init() {
	storage.Register("postgres", Open)
}

/*
Source implements storage.Source for Postgres.

It holds a single pgx.Conn, not a pool; rows are consumed serially.

Queries run over the simple protocol, so every value arrives in Postgres text
format and is written to the CSV as-is.
*/
type Source struct {
	conn *pgx.Conn
}

// DSN builds a postgres:// URL from cfg. cfg.DSN is returned unchanged when set.
func DSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	if secs := int(cfg.ConnectTimeout.Seconds()); secs > 0 {
		q := url.Values{}
		q.Set("connect_timeout", strconv.Itoa(secs))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Open connects to Postgres.
func Open(ctx context.Context, cfg storage.Config) (storage.Source, error) {
	pc, err := pgx.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "postgres: parse dsn")
	}
	pc.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, pc)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: connect")
	}
	return &Source{conn: conn}, nil
}

func (s *Source) StreamRows(ctx context.Context, query, courseID string, fn storage.RowFunc) error {
	q, args := storage.Bind(query, storage.Dollar, courseID)
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "postgres: query")
	}
	defer rows.Close()

	for rows.Next() {
		if err := fn(textRecord(rows.RawValues())); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "postgres: rows")
	}
	return nil
}

// Close closes the connection.
func (s *Source) Close() {
	_ = s.conn.Close(context.Background())
}

// textRecord copies raw text-format values; a nil value is SQL NULL.
func textRecord(raw [][]byte) []string {
	rec := make([]string, len(raw))
	for i, b := range raw {
		rec[i] = string(b)
	}
	return rec
}
