package taskqueue

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/ticketflow/internal/testutil"
)

func TestRedisQueue(t *testing.T) {
	addr := testutil.RedisAddr(t)

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	runQueueConformance(t, func(t *testing.T) Queue {
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return NewRedisQueue(client, "ticketflow-test:")
	})
}
