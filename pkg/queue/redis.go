package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/doctriage/doctriage/pkg/models"
)

const (
	// Key layout: pending descriptors in a list, claimed descriptors moved
	// to a processing list with claim times in a hash keyed by job id.
	// Abandonment detection runs against the job store; the hash exists
	// for operator inspection and wire compatibility with older deploys.
	redisTaskList       = "classification_tasks"
	redisProcessingList = "classification_processing"
	redisClaimedHash    = "classification_claimed"
)

// RedisQueue is a Redis-backed Queue using a list as the FIFO channel
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedisQueue creates a Redis-backed queue
func NewRedisQueue(addr string) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return &RedisQueue{rdb: rdb}, nil
}

// Enqueue RPUSHes the descriptor onto the task list
func (q *RedisQueue) Enqueue(ctx context.Context, d models.Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	if err := q.rdb.RPush(ctx, redisTaskList, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue atomically moves the head descriptor to the processing list and
// records the claim time. BLMove blocks up to timeout; nil, nil on timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Descriptor, error) {
	raw, err := q.rdb.BLMove(ctx, redisTaskList, redisProcessingList, "LEFT", "RIGHT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}

	var d models.Descriptor
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		// Corrupt entry: drop it from processing so workers don't loop on it.
		q.rdb.LRem(ctx, redisProcessingList, 1, raw)
		return nil, fmt.Errorf("failed to unmarshal descriptor: %w", err)
	}

	if err := q.rdb.HSet(ctx, redisClaimedHash, d.JobID, time.Now().Unix()).Err(); err != nil {
		// Claim bookkeeping failed; put the descriptor back so it is not lost.
		q.rdb.LRem(ctx, redisProcessingList, 1, raw)
		q.rdb.RPush(ctx, redisTaskList, raw)
		return nil, fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}

	return &d, nil
}

// Requeue removes the claimed descriptor and reinserts it at the tail
func (q *RedisQueue) Requeue(ctx context.Context, d models.Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}

	if err := q.removeClaim(ctx, d.JobID); err != nil {
		return err
	}
	if err := q.rdb.RPush(ctx, redisTaskList, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return nil
}

// Ack releases the claim after the job reached a terminal status
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.removeClaim(ctx, jobID)
}

func (q *RedisQueue) removeClaim(ctx context.Context, jobID string) error {
	// The processing list stores full descriptors; find this job's entry
	// and remove it together with its claim time.
	entries, err := q.rdb.LRange(ctx, redisProcessingList, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	for _, raw := range entries {
		var d models.Descriptor
		if json.Unmarshal([]byte(raw), &d) == nil && d.JobID == jobID {
			q.rdb.LRem(ctx, redisProcessingList, 1, raw)
			break
		}
	}
	if err := q.rdb.HDel(ctx, redisClaimedHash, jobID).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return nil
}

// Depth returns the pending list length
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.rdb.LLen(ctx, redisTaskList).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return int(n), nil
}

// Ping checks Redis reachability
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrQueueUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
