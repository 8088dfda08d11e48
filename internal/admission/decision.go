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

// Package admission decides whether an inbound request may proceed to
// dispatch. It holds the origin guard and the two fixed-window rate
// limiters (per-caller burst and shared quota) together with the counter
// stores that back them.
package admission

import "time"

// Decision is the outcome of evaluating the guard chain.
type Decision int

const (
	Allowed Decision = iota
	RejectedOrigin
	RejectedBurstLimit
	RejectedGlobalQuota
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case RejectedOrigin:
		return "rejected_origin"
	case RejectedBurstLimit:
		return "rejected_burst_limit"
	case RejectedGlobalQuota:
		return "rejected_global_quota"
	default:
		return "unknown"
	}
}

// RateLimited reports whether d is one of the limiter rejections.
func (d Decision) RateLimited() bool {
	return d == RejectedBurstLimit || d == RejectedGlobalQuota
}

// Verdict is a Decision plus, for limiter rejections, how long the caller
// should wait before the window rolls over.
type Verdict struct {
	Decision   Decision
	RetryAfter time.Duration
}
