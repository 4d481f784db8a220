// Package flush writes one page's accumulated rows to the sink, dropping
// anything the ledger already holds.
package flush

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"courtcrawl/internal/ledger"
	"courtcrawl/internal/record"
	"courtcrawl/internal/sink"
)

// Batch accumulates the rows of one listing page. It is owned by a single
// page and discarded after Flush.
type Batch struct {
	tables map[string][]record.Row
}

func (b *Batch) Add(table string, rows ...record.Row) {
	if b.tables == nil {
		b.tables = map[string][]record.Row{}
	}
	b.tables[table] = append(b.tables[table], rows...)
}

// AddDetail adds a detail's summary to table and its children to their own
// tables.
func (b *Batch) AddDetail(table string, d record.Detail) {
	if d.Summary != nil {
		b.Add(table, d.Summary)
	}
	for child, rows := range d.Children {
		b.Add(child, rows...)
	}
}

func (b *Batch) Rows(table string) []record.Row { return b.tables[table] }

func (b *Batch) Len() int {
	n := 0
	for _, rows := range b.tables {
		n += len(rows)
	}
	return n
}

// Stats counts what one Flush did, per table.
type Stats struct {
	Written map[string]int
	Skipped int
}

func (s Stats) Total() int {
	n := 0
	for _, v := range s.Written {
		n += v
	}
	return n
}

type Flusher struct {
	sink   sink.Sink
	ledger *ledger.Ledger
	tables []sink.Table
	log    *slog.Logger
}

// New returns a Flusher writing the given tables. Rows for tables not listed
// are rejected by Flush.
func New(s sink.Sink, l *ledger.Ledger, tables []sink.Table, log *slog.Logger) *Flusher {
	if log == nil {
		log = slog.Default()
	}
	return &Flusher{sink: s, ledger: l, tables: tables, log: log.With("component", "flush")}
}

// Flush writes b. Rows whose key is already in the ledger, or repeats a key
// earlier in the batch, are dropped. A child table keeps only rows whose
// parent record is written by this same flush. Children are written before
// their parents, so an interrupted flush repeats child rows instead of
// losing them. Accepted keys are added to the ledger after each append.
func (f *Flusher) Flush(ctx context.Context, b Batch) (Stats, error) {
	st := Stats{Written: map[string]int{}}
	if b.Len() == 0 {
		return st, nil
	}
	for name := range b.tables {
		if _, ok := f.table(name); !ok {
			return st, fmt.Errorf("no table configured for %q", name)
		}
	}

	accepted := map[string][]record.Row{}
	keys := map[string]map[string]struct{}{}
	for _, t := range f.tables {
		if t.Parent != "" {
			continue
		}
		rows, ids, skipped := f.dedup(t, b.Rows(t.Name))
		accepted[t.Name] = rows
		keys[t.Name] = ids
		st.Skipped += skipped
	}
	for _, t := range f.tables {
		if t.Parent == "" {
			continue
		}
		parents := keys[t.Parent]
		for _, r := range b.Rows(t.Name) {
			if _, ok := parents[r[t.Key]]; ok {
				accepted[t.Name] = append(accepted[t.Name], r)
			} else {
				st.Skipped++
			}
		}
	}

	for _, children := range []bool{true, false} {
		for _, t := range f.tables {
			if (t.Parent != "") != children {
				continue
			}
			rows := accepted[t.Name]
			if len(rows) == 0 {
				continue
			}
			if err := f.sink.Append(ctx, t, rows); err != nil {
				return st, fmt.Errorf("failed to append to %s: %w", t.Name, err)
			}
			st.Written[t.Name] += len(rows)
			if !children && f.ledger.Tracks(t.Name) {
				f.ledger.Add(t.Name, slices.Sorted(maps.Keys(keys[t.Name]))...)
			}
		}
	}

	if n := st.Total(); n > 0 || st.Skipped > 0 {
		f.log.Debug("flushed", "written", n, "skipped", st.Skipped)
	}
	return st, nil
}

func (f *Flusher) dedup(t sink.Table, rows []record.Row) ([]record.Row, map[string]struct{}, int) {
	ids := map[string]struct{}{}
	if t.Key == "" {
		return rows, ids, 0
	}
	var out []record.Row
	skipped := 0
	for _, r := range rows {
		id := r[t.Key]
		if id == "" {
			skipped++
			continue
		}
		if _, dup := ids[id]; dup || f.ledger.Has(t.Name, id) {
			skipped++
			continue
		}
		ids[id] = struct{}{}
		out = append(out, r)
	}
	return out, ids, skipped
}

func (f *Flusher) table(name string) (sink.Table, bool) {
	for _, t := range f.tables {
		if t.Name == name {
			return t, true
		}
	}
	return sink.Table{}, false
}
