package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/polystore/internal/storeerr"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestPolicyDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var events []RetryEvent
		p := fastPolicy(5).WithObserver(func(e RetryEvent) { events = append(events, e) })
		calls := 0
		err := p.Do(ctx, "test.op", func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		require.Len(t, events, 2)
		assert.Equal(t, 1, events[0].Attempt)
		assert.Equal(t, 2, events[1].Attempt)
		assert.Equal(t, "test.op", events[0].Op)
	})

	t.Run("exhausted budget is third party", func(t *testing.T) {
		calls := 0
		err := fastPolicy(3).Do(ctx, "test.op", func(context.Context) error {
			calls++
			return errors.New("unavailable")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, storeerr.CategoryThirdParty, storeerr.CategoryOf(err))
		assert.Contains(t, err.Error(), "test.op")
		assert.Contains(t, err.Error(), "unavailable")
	})

	t.Run("user errors are not retried", func(t *testing.T) {
		calls := 0
		err := fastPolicy(5).Do(ctx, "test.op", func(context.Context) error {
			calls++
			return storeerr.User("test.op", "bad input")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.True(t, storeerr.IsUser(err))
	})

	t.Run("system errors are not retried", func(t *testing.T) {
		calls := 0
		err := fastPolicy(5).Do(ctx, "test.op", func(context.Context) error {
			calls++
			return storeerr.System("test.op", "broken invariant", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.True(t, storeerr.IsSystem(err))
	})

	t.Run("classifier stops retries", func(t *testing.T) {
		permanent := errors.New("unique violation")
		calls := 0
		p := fastPolicy(5).WithRetryable(func(err error) bool { return !errors.Is(err, permanent) })
		err := p.Do(ctx, "test.op", func(context.Context) error {
			calls++
			return permanent
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, storeerr.CategoryThirdParty, storeerr.CategoryOf(err))
	})

	t.Run("single attempt", func(t *testing.T) {
		calls := 0
		err := fastPolicy(0).Do(ctx, "test.op", func(context.Context) error {
			calls++
			return errors.New("boom")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := fastPolicy(5).Do(cctx, "test.op", func(ctx context.Context) error {
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
