package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"courtcrawl/internal/session"

	"github.com/stretchr/testify/require"
)

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Delay: time.Millisecond}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fast(5).Do(context.Background(), "read listing", func(context.Context) error {
		calls++
		if calls < 3 {
			return session.ErrStaleReference
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_Exhaustion(t *testing.T) {
	calls := 0
	var notified []int
	p := fast(4)
	p.Notify = func(op string, attempt int, err error) {
		require.Equal(t, "locate next", op)
		notified = append(notified, attempt)
	}

	err := p.Do(context.Background(), "locate next", func(context.Context) error {
		calls++
		return session.ErrNotFound
	})

	var ie *InteractionError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, "locate next", ie.Op)
	require.Equal(t, 4, ie.Attempts)
	require.ErrorIs(t, err, session.ErrNotFound)
	require.Equal(t, 4, calls)
	require.Equal(t, []int{1, 2, 3}, notified)
}

func TestDo_NonTransientPropagatesImmediately(t *testing.T) {
	bad := errors.New("malformed row")
	calls := 0
	err := fast(10).Do(context.Background(), "parse", func(context.Context) error {
		calls++
		return bad
	})
	require.Equal(t, bad, err)
	require.Equal(t, 1, calls)

	var ie *InteractionError
	require.False(t, errors.As(err, &ie))
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{Attempts: 10, Delay: 50 * time.Millisecond}.Do(ctx, "click", func(context.Context) error {
		calls++
		cancel()
		return session.ErrClickIntercepted
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDo_Jitter(t *testing.T) {
	calls := 0
	p := Policy{Attempts: 3, Delay: time.Millisecond, Jitter: 0.5}
	err := p.Do(context.Background(), "open", func(context.Context) error {
		calls++
		return session.ErrTimeout
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestValue(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), fast(3), "text", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", session.ErrNotInteractable
		}
		return "Chesterfield", nil
	})
	require.NoError(t, err)
	require.Equal(t, "Chesterfield", v)
}
