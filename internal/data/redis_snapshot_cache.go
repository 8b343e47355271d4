package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidora/genjobs/internal/domain/model"
)

// snapshotKeyPrefix namespaces snapshot keys so LoadAll can scan them
// without touching unrelated keys in a shared Redis.
const snapshotKeyPrefix = "genjobs:snapshot:"

// RedisSnapshotCache implements the SnapshotCache port using Redis. It is
// the local durable copy of tracked job state: every tracker update is
// written through synchronously, and LoadAll reseeds the tracker after a
// process restart.
type RedisSnapshotCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisSnapshotCache creates a new RedisSnapshotCache with the given
// Redis client and per-snapshot TTL.
func NewRedisSnapshotCache(client redis.UniversalClient, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSnapshotCache{client: client, ttl: ttl}
}

// Save stores a snapshot keyed by job id, refreshing its TTL.
func (c *RedisSnapshotCache) Save(ctx context.Context, snapshot model.Snapshot) error {
	if snapshot.JobID == "" {
		return errors.New("snapshot job id cannot be empty")
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := c.client.Set(ctx, snapshotKeyPrefix+snapshot.JobID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// LoadAll returns every cached snapshot. Entries that fail to decode are
// skipped; a corrupt cache entry must not block restart recovery.
func (c *RedisSnapshotCache) LoadAll(ctx context.Context) ([]model.Snapshot, error) {
	var snapshots []model.Snapshot

	iter := c.client.Scan(ctx, 0, snapshotKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := c.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // expired between SCAN and GET
			}
			return nil, fmt.Errorf("redis get %s: %w", iter.Val(), err)
		}

		var snapshot model.Snapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}

	return snapshots, nil
}

// Delete removes a cached snapshot. Removing a missing key is a no-op.
func (c *RedisSnapshotCache) Delete(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id cannot be empty")
	}

	if err := c.client.Del(ctx, snapshotKeyPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the health of the Redis connection.
func (c *RedisSnapshotCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
