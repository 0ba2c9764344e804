// Copyright (c) 2026 Kivora. All rights reserved.
// Author: dev@kivora.app

package identity

import (
	stdctx "context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kivora/crm/internal/platform/constants"
)

// snapshotTTL bounds how long a stale snapshot can outlive its session.
// The snapshot is a warm-start hint only; the next resolution replaces it.
const snapshotTTL = 24 * time.Hour

// # Redis Snapshot Cache

// RedisSnapshotCache implements [SnapshotCache] using Redis.
type RedisSnapshotCache struct {
	client *redis.Client
	key    string
}

// NewRedisSnapshotCache creates a Redis-backed [SnapshotCache].
// scope isolates instances sharing one Redis (typically the app name).
func NewRedisSnapshotCache(client *redis.Client, scope string) *RedisSnapshotCache {
	return &RedisSnapshotCache{
		client: client,
		key:    constants.RedisPrefixSessionSnapshot + scope,
	}
}

/*
Save stores a serialized snapshot of the published session.

Parameters:
  - context: context.Context
  - user: *ResolvedUser

Returns:
  - error: Serialization or execution errors
*/
func (cache *RedisSnapshotCache) Save(context stdctx.Context, user *ResolvedUser) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("redis_snapshot_marshal_failed: %w", err)
	}

	if err := cache.client.Set(context, cache.key, payload, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis_snapshot_save_failed: %w", err)
	}

	return nil
}

/*
Clear removes the cached snapshot on sign-out.

Parameters:
  - context: context.Context

Returns:
  - error: Execution errors
*/
func (cache *RedisSnapshotCache) Clear(context stdctx.Context) error {
	if err := cache.client.Del(context, cache.key).Err(); err != nil {
		return fmt.Errorf("redis_snapshot_clear_failed: %w", err)
	}
	return nil
}

/*
Load retrieves the last persisted snapshot, if any.

Description: Used only as a warm-start hint before the first provider event
arrives; callers must treat a miss (nil, nil) as a normal state.

Parameters:
  - context: context.Context

Returns:
  - *ResolvedUser: Deserialized snapshot, or nil when absent
  - error: Deserialization or connectivity errors
*/
func (cache *RedisSnapshotCache) Load(context stdctx.Context) (*ResolvedUser, error) {
	payload, err := cache.client.Get(context, cache.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis_snapshot_load_failed: %w", err)
	}

	user := &ResolvedUser{}
	if err := json.Unmarshal(payload, user); err != nil {
		return nil, fmt.Errorf("redis_snapshot_unmarshal_failed: %w", err)
	}

	return user, nil
}
