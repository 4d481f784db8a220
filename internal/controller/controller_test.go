package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"courtcrawl/internal/retry"
	"courtcrawl/internal/session"
	"courtcrawl/internal/workkey"

	"github.com/stretchr/testify/require"
)

type scripted struct {
	done  map[string]bool
	fails map[string][]error
	runs  []string
}

func (s *scripted) Done(ctx context.Context, key workkey.Key) (bool, error) {
	return s.done[key.ID()], nil
}

func (s *scripted) Run(ctx context.Context, key workkey.Key) (Result, error) {
	s.runs = append(s.runs, key.ID())
	if errs := s.fails[key.ID()]; len(errs) > 0 {
		s.fails[key.ID()] = errs[1:]
		if errs[0] != nil {
			return Result{Pages: 1}, errs[0]
		}
	}
	return Result{Pages: 2, Rows: 5}, nil
}

type toolFailure struct{}

func (toolFailure) Error() string    { return "tool timed out" }
func (toolFailure) Deferrable() bool { return true }

func days(n int) []workkey.Key {
	var out []workkey.Key
	for i := 0; i < n; i++ {
		out = append(out, workkey.NewDate(2019, time.January, 2+i))
	}
	return out
}

func spentBudget(op string) error {
	return &retry.InteractionError{Op: op, Attempts: 10, Err: session.ErrNotFound}
}

func TestRun_AllKeysSucceed(t *testing.T) {
	u := &scripted{}
	sum, err := New(u, WithRunID("run-1")).Run(context.Background(), days(3))
	require.NoError(t, err)
	require.Equal(t, "run-1", sum.RunID)
	require.Equal(t, 3, sum.Completed)
	require.Equal(t, 6, sum.Pages)
	require.Equal(t, 15, sum.Rows)
	require.Empty(t, sum.Deferred)
	require.Empty(t, sum.Unresolved)
	require.False(t, sum.Finished.Before(sum.Started))
}

func TestRun_SkipsDoneKeys(t *testing.T) {
	u := &scripted{done: map[string]bool{"2019-01-03": true}}
	sum, err := New(u).Run(context.Background(), days(3))
	require.NoError(t, err)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, []string{"2019-01-02", "2019-01-04"}, u.runs)
}

func TestRun_DeferredKeysConverge(t *testing.T) {
	u := &scripted{fails: map[string][]error{
		"2019-01-02": {spentBudget("locate next")},
		"2019-01-03": {toolFailure{}},
		"2019-01-04": {ErrPartial},
	}}
	sum, err := New(u).Run(context.Background(), days(4))
	require.NoError(t, err)
	require.Equal(t, []string{"2019-01-02", "2019-01-03", "2019-01-04"}, sum.Deferred)
	require.Empty(t, sum.Unresolved)
	require.Equal(t, 4, sum.Completed)
	require.Equal(t, []string{
		"2019-01-02", "2019-01-03", "2019-01-04", "2019-01-05",
		"2019-01-02", "2019-01-03", "2019-01-04",
	}, u.runs)
}

func TestRun_PersistentFailuresAreReported(t *testing.T) {
	u := &scripted{fails: map[string][]error{
		"2019-01-03": {spentBudget("read listing"), spentBudget("read listing")},
	}}
	sum, err := New(u).Run(context.Background(), days(3))
	require.NoError(t, err)
	require.Equal(t, []string{"2019-01-03"}, sum.Deferred)
	require.Equal(t, []string{"2019-01-03"}, sum.Unresolved)
	require.Equal(t, 2, sum.Completed)
}

func TestRun_WithoutSecondPass(t *testing.T) {
	u := &scripted{fails: map[string][]error{"2019-01-02": {spentBudget("click next")}}}
	sum, err := New(u, WithoutSecondPass()).Run(context.Background(), days(2))
	require.NoError(t, err)
	require.Equal(t, []string{"2019-01-02"}, sum.Unresolved)
	require.Len(t, u.runs, 2)
}

func TestRun_AbortsOnUnexpectedError(t *testing.T) {
	boom := errors.New("disk full")
	u := &scripted{fails: map[string][]error{"2019-01-03": {boom}}}
	sum, err := New(u).Run(context.Background(), days(4))
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"2019-01-02", "2019-01-03"}, u.runs)
	require.Equal(t, []string{"2019-01-03", "2019-01-04", "2019-01-05"}, sum.Unresolved)
}

func TestRun_FatalSetupIsNotDeferred(t *testing.T) {
	u := &scripted{fails: map[string][]error{"2019-01-02": {ErrFatalSetup}}}
	_, err := New(u).Run(context.Background(), days(2))
	require.ErrorIs(t, err, ErrFatalSetup)
	require.Len(t, u.runs, 1)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := &scripted{}
	_, err := New(u).Run(ctx, days(2))
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, u.runs)
}

func TestIsDeferrable(t *testing.T) {
	require.True(t, IsDeferrable(spentBudget("x")))
	require.True(t, IsDeferrable(toolFailure{}))
	require.True(t, IsDeferrable(ErrPartial))
	require.False(t, IsDeferrable(nil))
	require.False(t, IsDeferrable(session.ErrNotFound))
	require.False(t, IsDeferrable(ErrFatalSetup))
	require.False(t, IsDeferrable(context.Canceled))
}
