package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"marketdash/internal/apperr"
)

const defaultKey = "marketdash:jobs"

// RedisQueue is a Redis list used as a FIFO: LPUSH to enqueue, BRPOP to
// dequeue, LLEN for depth.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = defaultKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := task.Marshal()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode task", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return apperr.Wrap(apperr.Upstream, "enqueue task", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.Upstream, "dequeue task", err)
	}
	// BRPop returns [key, value].
	var task Task
	if err := task.Unmarshal([]byte(res[1])); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "decode task", err)
	}
	return &task, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, apperr.Wrap(apperr.Upstream, "queue depth", err)
	}
	return n, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return apperr.Wrap(apperr.Upstream, "redis ping", err)
	}
	return nil
}
