package persistence

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/ticketflow/internal/testutil"
)

func TestRedisStore(t *testing.T) {
	addr := testutil.RedisAddr(t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	runStoreConformance(t, func(t *testing.T) Store {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return NewRedisStore(client, "ticketflow-test:")
	})
}
