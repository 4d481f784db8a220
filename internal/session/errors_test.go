package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(ErrNotFound))
	require.True(t, IsTransient(fmt.Errorf("locate #x: %w", ErrStaleReference)))
	require.True(t, IsTransient(ErrClickIntercepted))
	require.True(t, IsTransient(ErrNotInteractable))
	require.True(t, IsTransient(ErrTimeout))

	require.False(t, IsTransient(nil))
	require.False(t, IsTransient(errors.New("malformed listing")))
	require.False(t, IsTransient(ErrUnknownContext))
	require.False(t, IsTransient(context.Canceled))
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify(nil))
	require.ErrorIs(t, classify(context.Canceled), context.Canceled)
	require.False(t, IsTransient(classify(context.Canceled)))

	err := classify(fmt.Errorf("wait: %w", context.DeadlineExceeded))
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.ErrorIs(t, classify(errors.New("websocket closed")), ErrDriver)
}
