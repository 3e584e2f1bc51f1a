package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/l3montree-dev/devguard-policy/database"
	"github.com/l3montree-dev/devguard-policy/integrationtestutil"
	"github.com/l3montree-dev/devguard-policy/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvisoryLockLease(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	pool, _, terminate := integrationtestutil.InitDatabaseContainer(ctx)
	defer terminate()

	lease := database.NewAdvisoryLockLease(pool)

	t.Run("should time out while another holder owns the lease", func(t *testing.T) {
		release, err := lease.Obtain(ctx, "policy_violation_comment:1", time.Second)
		require.NoError(t, err)

		_, err = lease.Obtain(ctx, "policy_violation_comment:1", 300*time.Millisecond)
		assert.ErrorIs(t, err, shared.ErrLockTimeout)
		var timeoutErr shared.LockTimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, "policy_violation_comment:1", timeoutErr.Key)

		release()

		releaseAgain, err := lease.Obtain(ctx, "policy_violation_comment:1", time.Second)
		require.NoError(t, err)
		releaseAgain()
	})

	t.Run("should not block leases of other merge requests", func(t *testing.T) {
		release, err := lease.Obtain(ctx, "policy_violation_comment:2", time.Second)
		require.NoError(t, err)
		defer release()

		other, err := lease.Obtain(ctx, "policy_violation_comment:3", time.Second)
		require.NoError(t, err)
		other()
	})
}
