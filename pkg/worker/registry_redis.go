package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/doctriage/doctriage/pkg/models"
)

const (
	redisWorkerPrefix   = "worker:"
	redisProcessingLog  = "worker_processing_log"
	redisProcessingKeep = 1024
)

// RedisRegistry shares worker liveness and throughput samples across
// processes through Redis, matching the queue's backend so a separate
// coordination service is not needed.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisRegistry creates a Redis-backed registry
func NewRedisRegistry(addr string) (*RedisRegistry, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis registry: %w", err)
	}
	return &RedisRegistry{rdb: rdb, ttl: 5 * time.Minute}, nil
}

// Register records a worker under its own key with a liveness TTL
func (r *RedisRegistry) Register(ctx context.Context, info models.WorkerInfo) error {
	info.LastHeartbeat = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal worker info: %w", err)
	}
	return r.rdb.Set(ctx, redisWorkerPrefix+info.ID, data, r.ttl).Err()
}

// Heartbeat refreshes a worker's liveness
func (r *RedisRegistry) Heartbeat(ctx context.Context, info models.WorkerInfo) error {
	return r.Register(ctx, info)
}

// Deregister removes a worker
func (r *RedisRegistry) Deregister(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, redisWorkerPrefix+id).Err()
}

// Active scans worker keys and filters on heartbeat freshness
func (r *RedisRegistry) Active(ctx context.Context, staleAfter time.Duration) ([]models.WorkerInfo, error) {
	keys, err := r.rdb.Keys(ctx, redisWorkerPrefix+"*").Result()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-staleAfter)
	active := make([]models.WorkerInfo, 0, len(keys))
	for _, key := range keys {
		raw, err := r.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, err
		}
		var info models.WorkerInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			continue
		}
		if info.LastHeartbeat.After(cutoff) {
			active = append(active, info)
		}
	}
	return active, nil
}

// RecordProcessing pushes "unixnano:duration" onto a capped list
func (r *RedisRegistry) RecordProcessing(ctx context.Context, d time.Duration) error {
	entry := fmt.Sprintf("%d:%d", time.Now().UnixNano(), d.Nanoseconds())
	pipe := r.rdb.Pipeline()
	pipe.LPush(ctx, redisProcessingLog, entry)
	pipe.LTrim(ctx, redisProcessingLog, 0, redisProcessingKeep-1)
	_, err := pipe.Exec(ctx)
	return err
}

// AvgProcessing averages logged durations inside the window
func (r *RedisRegistry) AvgProcessing(ctx context.Context, window time.Duration) (time.Duration, error) {
	entries, err := r.rdb.LRange(ctx, redisProcessingLog, 0, redisProcessingKeep-1).Result()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-window).UnixNano()
	var total int64
	n := 0
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		at, err1 := strconv.ParseInt(parts[0], 10, 64)
		dur, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if at < cutoff {
			break // list is newest-first
		}
		total += dur
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return time.Duration(total / int64(n)), nil
}
