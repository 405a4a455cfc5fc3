// Package storage defines the backend-agnostic relational boundary the
// loader writes cleaned datasets through.
//
// The interface is intentionally minimal and focused on the operations the
// load step needs: ensure a table exists, append row batches, count rows for
// verification. Each backend implements these semantics in its own idiomatic
// way (pgx pools, database/sql drivers, bracket vs double-quote identifiers).
//
// Backends register themselves under a kind string from an init() function;
// binaries select one at runtime via New. This mirrors the pluggable-backend
// pattern used by internal/metrics.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config is the minimal configuration needed to open a repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// ColumnType is the abstract column type shared by all backends. Each
// backend maps these onto its own SQL type names.
type ColumnType string

const (
	TypeText  ColumnType = "text"
	TypeInt   ColumnType = "integer"
	TypeFloat ColumnType = "double"
	TypeBool  ColumnType = "boolean"
	TypeDate  ColumnType = "date"
)

// ColumnSpec describes one column of a table to create.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// TableSpec describes a table the loader needs to exist. Names come from
// configuration and are treated as trusted identifiers.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
}

// Repository is the backend-agnostic interface for loading cleaned datasets.
type Repository interface {
	// Close releases any backend resources (connections, pools, etc).
	//
	// Edge cases:
	//   - Implementations should be safe to call once at process shutdown.
	//   - Callers should treat Close as "call once".
	Close()

	// EnsureTable creates the table if it does not exist. Idempotent and
	// safe to run on every load invocation.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// InsertRows appends one batch of rows. Every row must align with
	// columns. Returns the number of rows inserted.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// CountRows returns the current row count of table, used to verify a
	// load against expected counts.
	CountRows(ctx context.Context, table string) (int64, error)
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The kind string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. This is intentional to fail fast and
//     avoid ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register. New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing storage.kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
