package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_Success(t *testing.T) {
	t.Parallel()
	attempts := 0

	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	t.Parallel()
	attempts := 0

	err := Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, WithInitialDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	attempts := 0
	persistent := errors.New("persistent error")

	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return persistent
	}, WithAttempts(3), WithInitialDelay(time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, persistent)
	assert.Equal(t, 3, attempts)
}

func TestDo_FatalIsNotRetried(t *testing.T) {
	t.Parallel()
	attempts := 0

	err := Do(context.Background(), func(context.Context) error {
		attempts++
		return Fatal(errors.New("bad request"))
	}, WithInitialDelay(time.Millisecond))

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancellation(t *testing.T) {
	t.Parallel()
	attempts := 0
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(context.Context) error {
		attempts++
		return errors.New("error")
	}, WithInitialDelay(50*time.Millisecond))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_NotifyCalledBeforeEachWait(t *testing.T) {
	t.Parallel()
	var seen []int
	var waits []time.Duration

	_ = Do(context.Background(), func(context.Context) error {
		return errors.New("error")
	},
		WithAttempts(4),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(3*time.Millisecond),
		WithNotify(func(attempt int, _ error, next time.Duration) {
			seen = append(seen, attempt)
			waits = append(waits, next)
		}),
	)

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, waits)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()
	attempts := 0

	_ = Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("error")
	}, WithAttempts(0))

	assert.Equal(t, 1, attempts)
}

func TestFatal(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Fatal(nil))

	original := errors.New("test error")
	err := Fatal(original)
	assert.True(t, IsFatal(err))
	assert.Equal(t, original.Error(), err.Error())
	assert.ErrorIs(t, err, original)
}

func TestIsFatal_Wrapped(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel error")
	wrapped := fmt.Errorf("context: %w", Fatal(sentinel))

	assert.True(t, IsFatal(wrapped))
	assert.ErrorIs(t, wrapped, sentinel)
	assert.False(t, IsFatal(errors.New("regular error")))
}
