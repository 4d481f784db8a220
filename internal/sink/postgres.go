package sink

import (
	"context"
	"fmt"
	"strings"

	"courtcrawl/internal/record"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores every table as TEXT columns in one schema.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgres connects to dsn. An empty schema means public.
func NewPostgres(ctx context.Context, dsn, schema string) (*Postgres, error) {
	if schema == "" {
		schema = "public"
	}
	if err := checkIdent(schema); err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, schema)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Postgres{pool: pool, schema: schema}, nil
}

func (p *Postgres) qualified(table string) string {
	return fmt.Sprintf(`%q.%q`, p.schema, table)
}

func (p *Postgres) Exists(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		p.schema, table).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return ok, nil
}

func (p *Postgres) ReadColumn(ctx context.Context, table, column string) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	if err := checkIdent(table, column); err != nil {
		return nil, err
	}
	ok, err := p.Exists(ctx, table)
	if err != nil || !ok {
		return out, err
	}

	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT DISTINCT %q FROM %s WHERE %q <> ''`, column, p.qualified(table), column))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", table, column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var v *string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v != nil {
			out[strings.TrimSpace(*v)] = struct{}{}
		}
	}
	return out, rows.Err()
}

func (p *Postgres) ensure(ctx context.Context, t Table) error {
	if err := checkIdent(append([]string{t.Name}, t.Columns...)...); err != nil {
		return err
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = fmt.Sprintf("%q TEXT", c)
	}
	_, err := p.pool.Exec(ctx,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, p.qualified(t.Name), strings.Join(cols, ", ")))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, t Table, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := p.ensure(ctx, t); err != nil {
		return err
	}
	src := make([][]any, len(rows))
	for i, r := range rows {
		vals := values(t, r)
		src[i] = make([]any, len(vals))
		for j, v := range vals {
			src[i][j] = v
		}
	}
	_, err := p.pool.CopyFrom(ctx, pgx.Identifier{p.schema, t.Name}, t.Columns, pgx.CopyFromRows(src))
	if err != nil {
		return fmt.Errorf("failed to copy into %s: %w", t.Name, err)
	}
	return nil
}

func (p *Postgres) Count(ctx context.Context, table string) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	ok, err := p.Exists(ctx, table)
	if err != nil || !ok {
		return 0, err
	}
	var n int
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, p.qualified(table))).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
