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
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxKeys bounds the number of counters a MemoryStore tracks.
const DefaultMaxKeys = 10000

// Result reports a single increment-and-check against a counter.
type Result struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// Snapshot is the current state of a counter, for inspection.
type Snapshot struct {
	Count   int
	ResetAt time.Time
}

// Store maps keys to fixed-window counters.
//
// Hit must be atomic per key: if the window has elapsed the counter is reset
// to zero with a new window start before the increment, and a counter at the
// ceiling is not incremented further. Hits on different keys must not
// serialise on each other beyond bookkeeping.
type Store interface {
	Hit(ctx context.Context, key string, ceiling int, window time.Duration) (Result, error)
	Peek(ctx context.Context, key string) (Snapshot, bool, error)
	Reset(ctx context.Context, key string) error
}

// MemoryStore keeps counters in process memory. Per-caller keys are
// bounded by an LRU: when full, the least recently hit counter is dropped,
// which forgets that key's usage for the rest of its window. Pinned keys
// (the global quota by default) live outside the LRU and are never evicted.
type MemoryStore struct {
	counters *lru.Cache[string, *counter]
	now      func() time.Time

	// pinned is fixed at construction and only read afterwards.
	pinned map[string]*counter
}

type counter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	window      time.Duration
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithPinnedKeys keeps the given keys out of the LRU in addition to the
// global quota key.
func WithPinnedKeys(keys ...string) MemoryOption {
	return func(s *MemoryStore) {
		for _, k := range keys {
			if _, ok := s.pinned[k]; !ok {
				s.pinned[k] = &counter{}
			}
		}
	}
}

// NewMemoryStore creates an in-process store holding at most maxKeys
// counters. maxKeys <= 0 selects DefaultMaxKeys.
func NewMemoryStore(maxKeys int, opts ...MemoryOption) (*MemoryStore, error) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	cache, err := lru.New[string, *counter](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("create counter cache: %w", err)
	}
	s := &MemoryStore{
		counters: cache,
		now:      time.Now,
		pinned:   map[string]*counter{quotaKey: {}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, ceiling int, window time.Duration) (Result, error) {
	c := s.lookup(key)
	now := s.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.windowStart.IsZero() || !now.Before(c.windowStart.Add(window)) {
		c.count = 0
		c.windowStart = now
	}
	c.window = window

	res := Result{Count: c.count, ResetAt: c.windowStart.Add(window)}
	if c.count >= ceiling {
		return res, nil
	}
	c.count++
	res.Allowed = true
	res.Count = c.count
	return res, nil
}

// Peek implements Store. An expired window reads as absent.
func (s *MemoryStore) Peek(_ context.Context, key string) (Snapshot, bool, error) {
	c, ok := s.pinnedCounter(key)
	if !ok {
		c, ok = s.counters.Peek(key)
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	resetAt := c.windowStart.Add(c.window)
	if !s.now().Before(resetAt) {
		return Snapshot{}, false, nil
	}
	return Snapshot{Count: c.count, ResetAt: resetAt}, true, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	if c, ok := s.pinnedCounter(key); ok {
		c.mu.Lock()
		c.count = 0
		c.windowStart = time.Time{}
		c.mu.Unlock()
		return nil
	}
	s.counters.Remove(key)
	return nil
}

// Len returns the number of evictable counters tracked.
func (s *MemoryStore) Len() int { return s.counters.Len() }

func (s *MemoryStore) pinnedCounter(key string) (*counter, bool) {
	c, ok := s.pinned[key]
	return c, ok
}

func (s *MemoryStore) lookup(key string) *counter {
	if c, ok := s.pinnedCounter(key); ok {
		return c
	}
	if c, ok := s.counters.Get(key); ok {
		return c
	}
	fresh := &counter{}
	if prev, ok, _ := s.counters.PeekOrAdd(key, fresh); ok {
		return prev
	}
	return fresh
}
