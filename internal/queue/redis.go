package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Redis Queue (multi process)
// =============================================================================

const (
	zsetKey    = "pipeline:queue"
	jobKeyPre  = "pipeline:queue:job:"
	idemKeyPre = "pipeline:queue:idem:"

	// Idempotency keys expire on their own as a safety net against leaked
	// entries; normal operation deletes them at pull time.
	idemTTL = 24 * time.Hour
	jobTTL  = 7 * 24 * time.Hour
)

// RedisQueue is a ZSET-backed queue shared across worker processes. Run time
// is the member score; ZREM's atomicity guarantees each pulled job is claimed
// by exactly one consumer.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	if job.IdempotencyKey != "" {
		set, err := q.client.SetNX(ctx, idemKeyPre+job.IdempotencyKey, job.ID, idemTTL).Result()
		if err != nil {
			return err
		}
		if !set {
			// Same key already pending: collapse.
			return nil
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, jobKeyPre+job.ID, data, jobTTL)
	pipe.ZAdd(ctx, zsetKey, redis.Z{
		Score:  float64(job.RunAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		// Free the idempotency key, otherwise it would collapse future
		// enqueues against a job that never made it into the queue.
		if job.IdempotencyKey != "" {
			q.client.Del(ctx, idemKeyPre+job.IdempotencyKey)
		}
		return err
	}
	return nil
}

func (q *RedisQueue) PullDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := q.client.ZRangeByScore(ctx, zsetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   formatScore(now),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	var due []*Job
	for _, id := range ids {
		// ZRem returns 1 only for the single caller that removes the member,
		// so concurrent pulls never double-deliver.
		removed, err := q.client.ZRem(ctx, zsetKey, id).Result()
		if err != nil {
			return due, err
		}
		if removed == 0 {
			continue
		}

		data, err := q.client.GetDel(ctx, jobKeyPre+id).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return due, err
		}

		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		if job.IdempotencyKey != "" {
			q.client.Del(ctx, idemKeyPre+job.IdempotencyKey)
		}
		due = append(due, &job)
	}
	return due, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, zsetKey).Result()
	return int(n), err
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
