// File: internal/waiter/waiter_test.go
package waiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUntil(t *testing.T) {
	t.Run("returns as soon as the probe holds", func(t *testing.T) {
		var calls atomic.Int32
		v, ok, err := Until(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) (string, bool, error) {
			n := calls.Add(1)
			return "row", n >= 3, nil
		})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "row", v)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("first probe is immediate", func(t *testing.T) {
		start := time.Now()
		ok, err := UntilTrue(context.Background(), time.Hour, time.Second, func(context.Context) (bool, error) {
			return true, nil
		})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("timeout yields absent without error", func(t *testing.T) {
		start := time.Now()
		v, ok, err := Until(context.Background(), 5*time.Millisecond, 40*time.Millisecond, func(context.Context) (int, bool, error) {
			return 7, false, nil
		})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, v)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("waits the full timeout before giving up", func(t *testing.T) {
		var calls atomic.Int32
		start := time.Now()
		ok, err := UntilTrue(context.Background(), 150*time.Millisecond, 400*time.Millisecond, func(context.Context) (bool, error) {
			calls.Add(1)
			return false, nil
		})
		elapsed := time.Since(start)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, elapsed, 390*time.Millisecond)
		// Probes at 0, 150 and 300ms, then one at the deadline.
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("condition met at the deadline counts", func(t *testing.T) {
		var calls atomic.Int32
		v, ok, err := Until(context.Background(), 150*time.Millisecond, 400*time.Millisecond, func(context.Context) (string, bool, error) {
			n := calls.Add(1)
			return "chip", n == 4, nil
		})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "chip", v)
	})

	t.Run("probe error aborts", func(t *testing.T) {
		boom := errors.New("cdp gone")
		var calls atomic.Int32
		_, err := UntilTrue(context.Background(), time.Millisecond, time.Second, func(context.Context) (bool, error) {
			calls.Add(1)
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("parent cancellation is reported", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		ok, err := UntilTrue(ctx, 5*time.Millisecond, 10*time.Second, func(context.Context) (bool, error) {
			return false, nil
		})
		assert.False(t, ok)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPause(t *testing.T) {
	require.NoError(t, Pause(context.Background(), time.Millisecond))
	require.NoError(t, Pause(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Pause(ctx, time.Hour), context.Canceled)
}
