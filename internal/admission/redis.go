// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces counter keys in Redis.
const keyPrefix = "msgrelay:rl:"

// hitScript increments a counter unless it is already at the ceiling.
// The window starts on the first hit (PEXPIRE) and the key vanishes when it
// ends, which is the reset. Returns {allowed, count, pttl_ms}.
var hitScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
local ceiling = tonumber(ARGV[1])
if count >= ceiling then
  return {0, count, redis.call("PTTL", KEYS[1])}
end
count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  ttl = tonumber(ARGV[2])
end
return {1, count, ttl}
`)

// RedisStore keeps counters in Redis so several relay processes can share
// one quota. Window timing follows the Redis server clock.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a store backed by rdb.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, ceiling int, window time.Duration) (Result, error) {
	vals, err := hitScript.Run(ctx, s.rdb, []string{keyPrefix + key}, ceiling, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate counter script: %w", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("rate counter script: unexpected reply length %d", len(vals))
	}

	ttl := time.Duration(vals[2]) * time.Millisecond
	if ttl < 0 {
		ttl = 0
	}
	return Result{
		Allowed: vals[0] == 1,
		Count:   int(vals[1]),
		ResetAt: time.Now().Add(ttl),
	}, nil
}

// Peek implements Store.
func (s *RedisStore) Peek(ctx context.Context, key string) (Snapshot, bool, error) {
	k := keyPrefix + key

	count, err := s.rdb.Get(ctx, k).Int()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("rate counter GET: %w", err)
	}

	ttl, err := s.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("rate counter PTTL: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return Snapshot{Count: count, ResetAt: time.Now().Add(ttl)}, true, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("rate counter DEL: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
