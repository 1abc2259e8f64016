package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the Queue interface using Redis.
//
// Tasks live in a sorted set scored by NotBefore (unix millis):
//
//	<prefix>tasks       => ZSET of "<seq>:<gob-encoded Task>"
//	<prefix>tasks:seq   => enqueue counter
//
// The zero-padded sequence prefix keeps tasks with the same score in
// enqueue order.
type RedisQueue struct {
	client       *redis.Client
	key          string
	seqKey       string
	pollInterval time.Duration
	now          func() time.Time
}

const seqWidth = 20

// popDueScript atomically removes and returns the lowest-scored member
// whose score is <= ARGV[1].
var popDueScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then
  return false
end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "ticketflow:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "ticketflow:"
	}
	return &RedisQueue{
		client:       client,
		key:          prefix + "tasks",
		seqKey:       prefix + "tasks:seq",
		pollInterval: 20 * time.Millisecond,
		now:          time.Now,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue adds the task scored by its NotBefore time.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	t = prepare(t, q.now())
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	seq, err := q.client.Incr(ctx, q.seqKey).Result()
	if err != nil {
		return err
	}
	member := fmt.Sprintf("%0*d:", seqWidth, seq) + string(data)
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(t.NotBefore.UnixMilli()),
		Member: member,
	}).Err()
}

// Dequeue polls for the earliest due task until one is available or ctx
// is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		now := strconv.FormatInt(q.now().UnixMilli(), 10)
		member, err := popDueScript.Run(ctx, q.client, []string{q.key}, now).Text()
		switch {
		case err == nil:
			if len(member) <= seqWidth {
				return nil, fmt.Errorf("malformed queue member %q", member)
			}
			return DecodeTask([]byte(member[seqWidth+1:]))
		case !errors.Is(err, redis.Nil):
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// Len returns the approximate number of tasks queued (ZCARD).
func (q *RedisQueue) Len() int {
	n, err := q.client.ZCard(context.Background(), q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
