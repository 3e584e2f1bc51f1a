package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/stretchr/testify/assert"
)

func TestWaitFor(t *testing.T) {
	neverLocked := func(ctx context.Context) (bool, error) {
		return false, nil
	}

	t.Run("should report a lock timeout once the wait elapsed", func(t *testing.T) {
		err := waitFor(context.Background(), "policy_violation_comment:1", 150*time.Millisecond, neverLocked)
		assert.ErrorIs(t, err, shared.ErrLockTimeout)
	})

	t.Run("should return the cancellation of the parent context instead of a lock timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(150*time.Millisecond, cancel)

		err := waitFor(ctx, "policy_violation_comment:1", time.Minute, neverLocked)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, shared.ErrLockTimeout)
	})

	t.Run("should not try again after the parent context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0

		err := waitFor(ctx, "policy_violation_comment:1", time.Minute, func(ctx context.Context) (bool, error) {
			calls++
			return false, ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("should return errors of the attempt", func(t *testing.T) {
		err := waitFor(context.Background(), "policy_violation_comment:1", time.Minute, func(ctx context.Context) (bool, error) {
			return false, errors.New("connection refused")
		})
		assert.EqualError(t, err, "connection refused")
	})

	t.Run("should succeed once the attempt locked", func(t *testing.T) {
		calls := 0
		err := waitFor(context.Background(), "policy_violation_comment:1", time.Minute, func(ctx context.Context) (bool, error) {
			calls++
			return calls == 2, nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, calls)
	})
}
