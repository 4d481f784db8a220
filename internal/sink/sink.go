// Package sink persists extracted rows to tabular storage and reads back
// identifier columns for the progress ledger.
package sink

import (
	"context"
	"fmt"
	"regexp"

	"courtcrawl/internal/record"
)

// Table describes one logical output table.
type Table struct {
	Name    string
	Columns []string
	// Key is the column holding the record identifier used for dedup.
	Key string
	// Parent, when set, names the table whose accepted records this table's
	// rows belong to. Key then holds the parent identifier.
	Parent string
}

// Sink is an append-only tabular store.
type Sink interface {
	Exists(ctx context.Context, table string) (bool, error)
	// ReadColumn returns the distinct non-empty values of column. A missing
	// table yields an empty set.
	ReadColumn(ctx context.Context, table, column string) (map[string]struct{}, error)
	// Append writes rows to t, creating it on first use. Columns absent
	// from a row are written empty.
	Append(ctx context.Context, t Table, rows []record.Row) error
	Count(ctx context.Context, table string) (int, error)
	Close() error
}

// Config selects and configures a sink.
type Config struct {
	// Kind is one of csv, sqlite, postgres.
	Kind   string `yaml:"sink"`
	Dir    string `yaml:"dir"`
	SQLite string `yaml:"sqlite_path"`
	DSN    string `yaml:"postgres_dsn"`
	Schema string `yaml:"postgres_schema"`
}

// Open returns the sink named by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Kind {
	case "", "csv":
		return NewCSV(cfg.Dir)
	case "sqlite":
		return NewSQLite(cfg.SQLite)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN, cfg.Schema)
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Kind)
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return fmt.Errorf("invalid identifier %q", n)
		}
	}
	return nil
}

func values(t Table, row record.Row) []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = row[c]
	}
	return out
}
