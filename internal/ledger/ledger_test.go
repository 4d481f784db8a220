package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type mapSource struct {
	cols map[string]map[string]struct{}
	err  error
}

func (m *mapSource) ReadColumn(ctx context.Context, table, column string) (map[string]struct{}, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.cols[table+"."+column], nil
}

func set(ids ...string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestLedger_ReloadAndAdd(t *testing.T) {
	src := &mapSource{cols: map[string]map[string]struct{}{
		"case_detail.case_number": set("GC19-1", "GC19-2"),
	}}
	l := New(src, Column{Table: "case_detail", Column: "case_number"}, Column{Table: "main_table", Column: "case_number"})
	require.False(t, l.Has("case_detail", "GC19-1"))

	require.NoError(t, l.Reload(context.Background()))
	require.True(t, l.Has("case_detail", "GC19-1"))
	require.Equal(t, 2, l.Len("case_detail"))
	require.Equal(t, 0, l.Len("main_table"))
	require.True(t, l.Tracks("main_table"))
	require.False(t, l.Tracks("hearing_info"))

	l.Add("case_detail", "GC19-3")
	require.True(t, l.Has("case_detail", "GC19-3"))

	// A reload reflects only what was persisted.
	require.NoError(t, l.Reload(context.Background()))
	require.False(t, l.Has("case_detail", "GC19-3"))
}

func TestLedger_ReloadErrorKeepsState(t *testing.T) {
	src := &mapSource{cols: map[string]map[string]struct{}{
		"case_detail.case_number": set("GC19-1"),
	}}
	l := New(src, Column{Table: "case_detail", Column: "case_number"})
	require.NoError(t, l.Reload(context.Background()))

	src.err = errors.New("disk gone")
	require.Error(t, l.Reload(context.Background()))
	require.True(t, l.Has("case_detail", "GC19-1"))
}
