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

func TestPostgreSQLBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	pool, _, terminate := integrationtestutil.InitDatabaseContainer(ctx)
	defer terminate()

	broker := database.NewPostgreSQLBroker(pool)

	t.Run("should deliver published payloads to the subscribers of the channel", func(t *testing.T) {
		ch, err := broker.Subscribe(shared.GeneratePolicyComment)
		require.NoError(t, err)

		err = broker.Publish(ctx, shared.NewSimplePubSubMessage(shared.GeneratePolicyComment, map[string]any{"mergeRequestId": "abc"}))
		require.NoError(t, err)

		select {
		case payload := <-ch:
			assert.Equal(t, "abc", payload["mergeRequestId"])
		case <-time.After(5 * time.Second):
			t.Fatal("no message received")
		}
	})
}
