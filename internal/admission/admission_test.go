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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by store and controller.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestController(t *testing.T, clock *fakeClock, burst, quota Limit) (*Controller, *MemoryStore) {
	t.Helper()
	store, err := NewMemoryStore(100, WithClock(clock.Now))
	require.NoError(t, err)
	c := NewController(store, burst, quota)
	c.SetClock(clock.Now)
	return c, store
}

// TestOriginGuard_WildcardBypass verifies wildcard mode admits anonymous callers.
func TestOriginGuard_WildcardBypass(t *testing.T) {
	g := NewOriginGuard([]string{"*"})

	assert.True(t, g.Wildcard())
	assert.Equal(t, Allowed, g.Check(""))
	assert.Equal(t, Allowed, g.Check("::not a url::"))
	assert.Equal(t, Allowed, g.Check("https://anywhere.example/page"))
}

// TestOriginGuard_ExplicitList verifies the explicit allow-list policy.
func TestOriginGuard_ExplicitList(t *testing.T) {
	g := NewOriginGuard([]string{" https://site.example ", "http://localhost:8080"})

	tests := []struct {
		referer string
		want    Decision
	}{
		{"", RejectedOrigin},
		{"   ", RejectedOrigin},
		{"not a url", RejectedOrigin},
		{"/relative/path", RejectedOrigin},
		{"https://site.example/contact?x=1", Allowed},
		{"https://SITE.example:443/", Allowed},
		{"http://site.example/", RejectedOrigin},
		{"http://localhost:8080/form", Allowed},
		{"http://localhost:9090/form", RejectedOrigin},
		{"https://evil.example/https://site.example", RejectedOrigin},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, g.Check(tt.referer), "referer %q", tt.referer)
	}
}

// TestOriginGuard_EmptyList verifies an empty list rejects everything.
func TestOriginGuard_EmptyList(t *testing.T) {
	g := NewOriginGuard(nil)
	assert.Equal(t, RejectedOrigin, g.Check(""))
	assert.Equal(t, RejectedOrigin, g.Check("https://site.example/"))
}

// TestOrigin verifies origin normalisation.
func TestOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://Example.COM/path", "https://example.com", true},
		{"http://example.com:80/", "http://example.com", true},
		{"http://example.com:8080", "http://example.com:8080", true},
		{"http://[::1]:3000/x", "http://[::1]:3000", true},
		{"example.com", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := Origin(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

// TestController_BurstLimit verifies the 11th request in a window is rejected
// and the first request after rollover is admitted.
func TestController_BurstLimit(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestController(t, clock, Limit{Requests: 10, Window: 2 * time.Minute}, Limit{Requests: 50, Window: 24 * time.Hour})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		v := c.Admit(ctx, "10.0.0.1", false)
		require.Equal(t, Allowed, v.Decision, "request %d", i+1)
	}

	clock.Advance(30 * time.Second)
	v := c.Admit(ctx, "10.0.0.1", false)
	assert.Equal(t, RejectedBurstLimit, v.Decision)
	assert.Equal(t, 90*time.Second, v.RetryAfter)

	// Another caller is unaffected.
	assert.Equal(t, Allowed, c.Admit(ctx, "10.0.0.2", false).Decision)

	clock.Advance(90 * time.Second)
	assert.Equal(t, Allowed, c.Admit(ctx, "10.0.0.1", false).Decision)
}

// TestController_GlobalQuota verifies the quota is shared across callers.
func TestController_GlobalQuota(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestController(t, clock, Limit{Requests: 10, Window: 2 * time.Minute}, Limit{Requests: 50, Window: 24 * time.Hour})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		caller := fmt.Sprintf("10.0.%d.1", i)
		require.Equal(t, Allowed, c.Admit(ctx, caller, true).Decision, "send %d", i+1)
	}

	v := c.Admit(ctx, "192.168.1.1", true)
	assert.Equal(t, RejectedGlobalQuota, v.Decision)
	assert.Equal(t, 24*time.Hour, v.RetryAfter)

	// Ungoverned requests never consult the quota.
	assert.Equal(t, Allowed, c.Admit(ctx, "192.168.1.1", false).Decision)

	clock.Advance(24 * time.Hour)
	assert.Equal(t, Allowed, c.Admit(ctx, "192.168.1.1", true).Decision)
}

// TestController_BurstShortCircuitsQuota verifies a burst rejection leaves the
// quota untouched.
func TestController_BurstShortCircuitsQuota(t *testing.T) {
	clock := newFakeClock()
	c, store := newTestController(t, clock, Limit{Requests: 1, Window: time.Minute}, Limit{Requests: 5, Window: time.Hour})
	ctx := context.Background()

	require.Equal(t, Allowed, c.Admit(ctx, "a", true).Decision)
	require.Equal(t, RejectedBurstLimit, c.Admit(ctx, "a", true).Decision)
	require.Equal(t, RejectedBurstLimit, c.Admit(ctx, "a", true).Decision)

	snap, ok, err := store.Peek(ctx, QuotaKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, snap.Count)
}

// TestMemoryStore_CountNeverExceedsCeiling verifies rejected hits do not count.
func TestMemoryStore_CountNeverExceedsCeiling(t *testing.T) {
	clock := newFakeClock()
	store, err := NewMemoryStore(10, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := store.Hit(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
	}
	snap, ok, err := store.Peek(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, snap.Count)

	require.NoError(t, store.Reset(ctx, "k"))
	_, ok, err = store.Peek(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMemoryStore_Concurrent verifies no lost updates or double admits under
// concurrent hits on one key.
func TestMemoryStore_Concurrent(t *testing.T) {
	store, err := NewMemoryStore(10)
	require.NoError(t, err)
	ctx := context.Background()

	const ceiling = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Hit(ctx, "shared", ceiling, time.Hour)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, ceiling, allowed)
}

// TestMemoryStore_EvictsLeastRecent verifies the key set stays bounded.
func TestMemoryStore_EvictsLeastRecent(t *testing.T) {
	store, err := NewMemoryStore(3)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Hit(ctx, fmt.Sprintf("caller-%d", i), 5, time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, store.Len())

	_, ok, _ := store.Peek(ctx, "caller-0")
	assert.False(t, ok)
	_, ok, _ = store.Peek(ctx, "caller-9")
	assert.True(t, ok)
}

// TestMemoryStore_QuotaSurvivesCallerChurn verifies that per-caller churn
// cannot evict the global quota counter.
func TestMemoryStore_QuotaSurvivesCallerChurn(t *testing.T) {
	clock := newFakeClock()
	store, err := NewMemoryStore(4, WithClock(clock.Now))
	require.NoError(t, err)
	c := NewController(store, Limit{Requests: 10, Window: 2 * time.Minute}, Limit{Requests: 2, Window: 24 * time.Hour})
	c.SetClock(clock.Now)
	ctx := context.Background()

	require.Equal(t, Allowed, c.Admit(ctx, "mailer", true).Decision)
	require.Equal(t, Allowed, c.Admit(ctx, "mailer", true).Decision)

	for i := 0; i < 20; i++ {
		require.Equal(t, Allowed, c.Admit(ctx, fmt.Sprintf("chat-%d", i), false).Decision)
	}
	assert.Equal(t, 4, store.Len())

	assert.Equal(t, RejectedGlobalQuota, c.Admit(ctx, "another", true).Decision)

	snap, ok, err := store.Peek(ctx, QuotaKey())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, snap.Count)
}

// TestMemoryStore_PinnedReset verifies pinned counters reset in place.
func TestMemoryStore_PinnedReset(t *testing.T) {
	store, err := NewMemoryStore(2, WithPinnedKeys("shared"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Hit(ctx, "shared", 1, time.Hour)
	require.NoError(t, err)
	res, err := store.Hit(ctx, "shared", 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, store.Reset(ctx, "shared"))
	_, ok, _ := store.Peek(ctx, "shared")
	assert.False(t, ok)

	res, err = store.Hit(ctx, "shared", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, store.Len())
}

// errStore fails every call.
type errStore struct{}

func (errStore) Hit(context.Context, string, int, time.Duration) (Result, error) {
	return Result{}, errors.New("connection refused")
}
func (errStore) Peek(context.Context, string) (Snapshot, bool, error) {
	return Snapshot{}, false, errors.New("connection refused")
}
func (errStore) Reset(context.Context, string) error { return errors.New("connection refused") }

// TestController_StoreErrorFailsOpen verifies store failures admit the request.
func TestController_StoreErrorFailsOpen(t *testing.T) {
	c := NewController(errStore{}, Limit{Requests: 1, Window: time.Minute}, Limit{Requests: 1, Window: time.Minute})
	for i := 0; i < 3; i++ {
		assert.Equal(t, Allowed, c.Admit(context.Background(), "a", true).Decision)
	}
}

// TestController_DisabledLimit verifies a zero ceiling disables a limiter.
func TestController_DisabledLimit(t *testing.T) {
	clock := newFakeClock()
	c, _ := newTestController(t, clock, Limit{}, Limit{})
	for i := 0; i < 100; i++ {
		require.Equal(t, Allowed, c.Admit(context.Background(), "a", true).Decision)
	}
}

// TestDecision_String verifies decision labels used in logs and metrics.
func TestDecision_String(t *testing.T) {
	assert.Equal(t, "allowed", Allowed.String())
	assert.Equal(t, "rejected_origin", RejectedOrigin.String())
	assert.Equal(t, "rejected_burst_limit", RejectedBurstLimit.String())
	assert.Equal(t, "rejected_global_quota", RejectedGlobalQuota.String())
	assert.True(t, RejectedGlobalQuota.RateLimited())
	assert.False(t, RejectedOrigin.RateLimited())
}
