package mssql

import (
	"context"
	"net"
	"net/url"
	"strconv"

	_ "github.com/microsoft/go-mssqldb"

	"courseetl/internal/storage"
)

const defaultPort = 1433

func init() {
	storage.Register("sqlserver", Open)
}

// DSN builds a sqlserver:// URL. cfg.DSN is returned unchanged when set.
func DSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	q := url.Values{}
	if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	if secs := int(cfg.ConnectTimeout.Seconds()); secs > 0 {
		q.Set("connection timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

// Open connects with the "sqlserver" driver, which binds @p1 style parameters.
func Open(ctx context.Context, cfg storage.Config) (storage.Source, error) {
	return storage.OpenSQL(ctx, "sqlserver", DSN(cfg), storage.AtP, cfg)
}
