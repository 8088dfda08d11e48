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
	"log/slog"
	"time"
)

// quotaKey is the single shared key every caller draws quota from.
const quotaKey = "quota:global"

// Limit is a fixed-window ceiling.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Controller evaluates the burst limiter and then, when the caller's
// channel is quota-governed, the global quota. The first rejection wins and
// the quota is not touched after a burst rejection.
type Controller struct {
	store Store
	burst Limit
	quota Limit
	now   func() time.Time
}

// NewController creates a controller over store.
func NewController(store Store, burst, quota Limit) *Controller {
	return &Controller{store: store, burst: burst, quota: quota, now: time.Now}
}

// SetClock replaces time.Now for Retry-After computation, for tests.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// Admit counts one request from caller. governed selects whether the global
// quota applies.
func (c *Controller) Admit(ctx context.Context, caller string, governed bool) Verdict {
	if v, ok := c.hit(ctx, BurstKey(caller), c.burst, RejectedBurstLimit); !ok {
		return v
	}
	if governed {
		if v, ok := c.hit(ctx, quotaKey, c.quota, RejectedGlobalQuota); !ok {
			return v
		}
	}
	return Verdict{Decision: Allowed}
}

// BurstKey is the store key of a caller's burst counter.
func BurstKey(caller string) string { return "burst:" + caller }

// QuotaKey is the store key of the global quota counter.
func QuotaKey() string { return quotaKey }

func (c *Controller) hit(ctx context.Context, key string, l Limit, reject Decision) (Verdict, bool) {
	if l.Requests <= 0 || l.Window <= 0 {
		return Verdict{Decision: Allowed}, true
	}

	res, err := c.store.Hit(ctx, key, l.Requests, l.Window)
	if err != nil {
		// Store errors fail open.
		slog.Error("rate counter unavailable, admitting request",
			"key", key,
			"error", err,
		)
		return Verdict{Decision: Allowed}, true
	}
	if res.Allowed {
		return Verdict{Decision: Allowed}, true
	}

	wait := res.ResetAt.Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	return Verdict{Decision: reject, RetryAfter: wait}, false
}
