package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Config is the connection configuration for a relational source.
//
// When to use:
//   - Build a Config from the store section of the settings file and pass it to
//     Open.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN, when set, overrides Host/Port/Database/User/Password. Each backend
//     documents its own DSN format.
//   - Port zero means the backend's default port.
//   - ConnectTimeout zero means no timeout beyond the caller's context.
type Config struct {
	Kind           string
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	DSN            string
	ConnectTimeout time.Duration
}

// RowFunc receives one result row rendered as text, in column order.
// Returning an error stops the stream and that error is returned unchanged.
type RowFunc func(record []string) error

// Source is a read-only view of the platform database.
//
// The interface is deliberately narrow: the extraction loop only ever runs a
// parameterised query for one course and consumes the rows as text.
type Source interface {
	// StreamRows runs query with the :course_id parameter bound to courseID and
	// calls fn for every row in store order.
	//
	// Edge cases:
	//   - NULL values are rendered as the empty string.
	//   - A query returning no rows is not an error.
	StreamRows(ctx context.Context, query, courseID string, fn RowFunc) error

	// Close releases the connection. Callers should treat Close as "call once".
	Close()
}

// Factory opens a Source for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Source, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind (e.g. "mysql", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic("storage: factory already registered for kind=" + kind)
	}
	factories[kind] = f
}

// Open constructs a Source using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or not registered.
//   - Returns whatever error the factory returns, wrapped with the kind.
func Open(ctx context.Context, cfg Config) (Source, error) {
	if cfg.Kind == "" {
		return nil, errors.New("storage: missing store kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, errors.WithHintf(
			errors.Newf("storage: unsupported store kind=%s", cfg.Kind),
			"registered kinds: %v", Kinds())
	}
	src, err := f(ctx, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: open %s", cfg.Kind)
	}
	return src, nil
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
