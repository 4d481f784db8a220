// Package ledger tracks which record identifiers already exist in persisted
// output, so a restarted crawl skips work it has already flushed.
package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Source reads one column of a persisted table as a set.
type Source interface {
	ReadColumn(ctx context.Context, table, column string) (map[string]struct{}, error)
}

// Column names a tracked (table, column) pair.
type Column struct {
	Table  string
	Column string
}

// Ledger is the set of identifiers already flushed, per tracked table.
type Ledger struct {
	src     Source
	columns []Column

	mu   sync.RWMutex
	sets map[string]map[string]struct{}
}

// New returns an empty ledger tracking the given columns. Call Reload to
// populate it from src.
func New(src Source, columns ...Column) *Ledger {
	sets := make(map[string]map[string]struct{}, len(columns))
	for _, c := range columns {
		sets[c.Table] = map[string]struct{}{}
	}
	return &Ledger{src: src, columns: columns, sets: sets}
}

// Reload replaces every tracked set with the current persisted state. On
// error the previous state is kept.
func (l *Ledger) Reload(ctx context.Context) error {
	fresh := make(map[string]map[string]struct{}, len(l.columns))
	for _, c := range l.columns {
		ids, err := l.src.ReadColumn(ctx, c.Table, c.Column)
		if err != nil {
			return fmt.Errorf("failed to load %s.%s: %w", c.Table, c.Column, err)
		}
		if ids == nil {
			ids = map[string]struct{}{}
		}
		fresh[c.Table] = ids
	}

	l.mu.Lock()
	l.sets = fresh
	l.mu.Unlock()
	return nil
}

// Tracks reports whether table has a tracked identifier column.
func (l *Ledger) Tracks(table string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sets[table]
	return ok
}

func (l *Ledger) Has(table, id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sets[table][id]
	return ok
}

// Add records ids as flushed to table.
func (l *Ledger) Add(table string, ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.sets[table]
	if !ok {
		set = map[string]struct{}{}
		l.sets[table] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

func (l *Ledger) Len(table string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sets[table])
}
