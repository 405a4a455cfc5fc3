// Package snowflake implements storage.Repository on Snowflake via
// github.com/snowflakedb/gosnowflake.
package snowflake

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sf "github.com/snowflakedb/gosnowflake"

	"dq/internal/storage"
)

func init() {
	storage.Register("snowflake", New)
}

// Repo implements storage.Repository for Snowflake.
type Repo struct {
	db *sql.DB
}

// New connects using a gosnowflake DSN
// (user:pass@account/database/schema?warehouse=wh).
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	// ParseDSN surfaces malformed DSNs before a connection attempt, which
	// otherwise fail late with an opaque driver error.
	if _, err := sf.ParseDSN(cfg.DSN); err != nil {
		return nil, fmt.Errorf("snowflake: parse dsn: %w", err)
	}
	db, err := sql.Open("snowflake", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("snowflake: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("snowflake: ping: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureTable creates the table if it does not exist.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	ddl, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("snowflake: create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertRows performs a bulk INSERT of one batch.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args := buildInsertSQL(table, columns, rows)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("snowflake: insert into %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("snowflake: insert into %s: %w", table, err)
	}
	return n, nil
}

// CountRows returns the current row count of table.
func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+";").Scan(&n); err != nil {
		return 0, fmt.Errorf("snowflake: count %s: %w", table, err)
	}
	return n, nil
}

func sqlType(t storage.ColumnType) (string, error) {
	switch t {
	case storage.TypeText:
		return "VARCHAR", nil
	case storage.TypeInt:
		return "NUMBER(38,0)", nil
	case storage.TypeFloat:
		return "DOUBLE", nil
	case storage.TypeBool:
		return "BOOLEAN", nil
	case storage.TypeDate:
		return "DATE", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}

func buildCreateSQL(spec storage.TableSpec) (string, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return "", fmt.Errorf("snowflake: table name is empty")
	}
	if len(spec.Columns) == 0 {
		return "", fmt.Errorf("snowflake: table %s has no columns", spec.Name)
	}

	parts := make([]string, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		typ, err := sqlType(c.Type)
		if err != nil {
			return "", fmt.Errorf("snowflake: table %s column %s: %w", spec.Name, c.Name, err)
		}
		col := sfIdent(c.Name) + " " + typ
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", spec.Name, strings.Join(parts, ",\n  ")), nil
}

// buildInsertSQL constructs a single multi-row INSERT with ? placeholders.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sfIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, row[j])
		}
		b.WriteString(")")
	}

	b.WriteString(";")
	return b.String(), args
}

// sfIdent returns a double-quoted identifier. Snowflake folds unquoted
// identifiers to upper case, so quoting keeps column names as written.
func sfIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

var _ storage.Repository = (*Repo)(nil)
