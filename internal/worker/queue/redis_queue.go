// Package queue carries async job ids over a Redis list.
package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"pyro/internal/ports"
)

const (
	// DefaultPopTimeout bounds a single BRPOP so workers notice shutdown.
	DefaultPopTimeout = 5 * time.Second
	DefaultQueueName  = "pyro:render_jobs"
)

// RedisQueue is a FIFO: producers LPUSH, consumers BRPOP.
type RedisQueue struct {
	rdb        redis.UniversalClient
	queueName  string
	popTimeout time.Duration
}

var _ ports.JobQueue = (*RedisQueue)(nil)

// NewRedisQueue returns a queue on the Redis list queueName, or
// DefaultQueueName when it is empty.
func NewRedisQueue(rdb redis.UniversalClient, queueName string) *RedisQueue {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &RedisQueue{rdb: rdb, queueName: queueName, popTimeout: DefaultPopTimeout}
}

// Name returns the Redis list key.
func (q *RedisQueue) Name() string { return q.queueName }

func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.queueName, jobID).Err()
}

// Pop waits up to the pop timeout for a job id. It returns "" and no error
// when nothing arrived in time.
func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	res, err := q.rdb.BRPop(ctx, q.popTimeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
