package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"courtcrawl/internal/record"

	_ "modernc.org/sqlite"
)

// SQLite stores every table as TEXT columns in one database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The crawler is the only writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Exists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return n > 0, nil
}

func (s *SQLite) ReadColumn(ctx context.Context, table, column string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if err := checkIdent(table, column); err != nil {
		return nil, err
	}
	ok, err := s.Exists(ctx, table)
	if err != nil || !ok {
		return out, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT %q FROM %q WHERE %q <> ''`, column, table, column))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", table, column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out[strings.TrimSpace(v.String)] = struct{}{}
		}
	}
	return out, rows.Err()
}

func (s *SQLite) ensure(ctx context.Context, t Table) error {
	if err := checkIdent(append([]string{t.Name}, t.Columns...)...); err != nil {
		return err
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = fmt.Sprintf("%q TEXT", c)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (%s)`, t.Name, strings.Join(cols, ", ")))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	if t.Key != "" {
		_, err = s.db.ExecContext(ctx,
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (%q)`, "idx_"+t.Name+"_"+t.Key, t.Name, t.Key))
		if err != nil {
			return fmt.Errorf("failed to index table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, t Table, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.ensure(ctx, t); err != nil {
		return err
	}

	quoted := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		quoted[i] = fmt.Sprintf("%q", c)
		marks[i] = "?"
	}
	query := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`,
		t.Name, strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		vals := values(t, r)
		args := make([]any, len(vals))
		for i, v := range vals {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", t.Name, err)
	}
	return nil
}

func (s *SQLite) Count(ctx context.Context, table string) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	ok, err := s.Exists(ctx, table)
	if err != nil || !ok {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLite) Close() error { return s.db.Close() }
