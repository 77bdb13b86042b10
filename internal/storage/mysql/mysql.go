// Package mysql registers the "mysql" store kind, the platform's production
// database.
package mysql

import (
	"context"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"courseetl/internal/storage"
)

const defaultPort = 3306

func init() {
	storage.Register("mysql", Open)
}

// DSN builds a go-sql-driver DSN from cfg. cfg.DSN is returned unchanged when set.
//
// Parameters are interpolated client side so every query is a single text
// protocol round trip; DATETIME columns stay text (parseTime is off) and land
// in the CSV exactly as the server prints them.
func DSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	c.DBName = cfg.Database
	c.InterpolateParams = true
	c.Timeout = cfg.ConnectTimeout
	return c.FormatDSN()
}

// Open connects to MySQL and returns a serial Source.
func Open(ctx context.Context, cfg storage.Config) (storage.Source, error) {
	return storage.OpenSQL(ctx, "mysql", DSN(cfg), storage.Question, cfg)
}
