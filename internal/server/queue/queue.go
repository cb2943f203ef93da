// Package queue is the durable hand-off between admission and the workers.
// Delivery is at least once: an entry stays in the consumer's processing
// list until it is acknowledged, and is put back on the queue when that
// consumer restarts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue carries task ids.
type Queue interface {
	Enqueue(ctx context.Context, taskID int64) error
	// Dequeue blocks up to timeout. ok is false when nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (taskID int64, ok bool, err error)
	Ack(ctx context.Context, taskID int64) error
}

// RedisQueue keeps pending ids in a list and moves each delivered id to a
// per-consumer processing list until it is acknowledged.
type RedisQueue struct {
	rdb        redis.Cmdable
	name       string
	processing string
}

func NewRedisQueue(rdb redis.Cmdable, name, consumerID string) *RedisQueue {
	return &RedisQueue{
		rdb:        rdb,
		name:       name,
		processing: name + ":processing:" + consumerID,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, taskID int64) error {
	return q.rdb.LPush(ctx, q.name, strconv.FormatInt(taskID, 10)).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (int64, bool, error) {
	v, err := q.rdb.BRPopLPush(ctx, q.name, q.processing, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}

	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// drop garbage so it is not redelivered forever
		_ = q.rdb.LRem(ctx, q.processing, 1, v).Err()
		return 0, false, fmt.Errorf("bad queue entry %q: %w", v, err)
	}
	return id, true, nil
}

func (q *RedisQueue) Ack(ctx context.Context, taskID int64) error {
	return q.rdb.LRem(ctx, q.processing, 1, strconv.FormatInt(taskID, 10)).Err()
}

// Recover moves everything left in this consumer's processing list back to
// the consuming end of the queue, oldest delivery nearest, so recovered ids
// are delivered again before anything enqueued later. It returns how many
// entries were requeued.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		// newest delivery sits at the left of the processing list
		err := q.rdb.LMove(ctx, q.processing, q.name, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Depth returns the number of pending entries.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
