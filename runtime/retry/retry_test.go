package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastConfig() Config {
	return Config{
		MaxAttempts:       4,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Retryable:         func(err error) bool { return errors.Is(err, errTransient) },
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	cfg := fastConfig()
	attempts := 0
	cfg.OnAttempt = func(int) { attempts++ }

	calls := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		calls++
		if calls <= 2 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	perm := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		calls++
		return perm
	})
	require.ErrorIs(t, err, perm)
	require.Equal(t, 1, calls)
}

func TestDoExhaustion(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		calls++
		return errTransient
	})
	require.Equal(t, 4, calls)
	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	require.Equal(t, 4, ex.Attempts)
	require.ErrorIs(t, ex, errTransient)
}

func TestDoRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialBackoff = time.Minute
	err := Do(ctx, cfg, func(context.Context) error {
		cancel()
		return errTransient
	})
	require.ErrorIs(t, err, context.Canceled)
}
