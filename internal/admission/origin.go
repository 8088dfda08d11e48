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
	"net/url"
	"strings"
)

// Wildcard is the allow-list sentinel that disables origin checking.
const Wildcard = "*"

// OriginGuard checks a request's declared referring origin against an
// allow-list.
//
// With the wildcard list every caller passes, including callers that send
// no referer at all. With an explicit list a missing or unparsable referer
// is always rejected.
type OriginGuard struct {
	wildcard bool
	allowed  map[string]struct{}
}

// NewOriginGuard builds a guard from configured entries. A single "*"
// entry (or "*" anywhere in the list) selects wildcard mode.
func NewOriginGuard(entries []string) *OriginGuard {
	g := &OriginGuard{allowed: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if e == Wildcard {
			g.wildcard = true
			continue
		}
		if origin, ok := Origin(e); ok {
			g.allowed[origin] = struct{}{}
		}
	}
	return g
}

// Wildcard reports whether the guard allows every caller.
func (g *OriginGuard) Wildcard() bool { return g.wildcard }

// AllowsOrigin reports whether origin (already in scheme://host form, e.g.
// from an Origin header) is on the list.
func (g *OriginGuard) AllowsOrigin(origin string) bool {
	if g.wildcard {
		return true
	}
	o, ok := Origin(origin)
	if !ok {
		return false
	}
	_, ok = g.allowed[o]
	return ok
}

// Check evaluates the declared referer of a request.
func (g *OriginGuard) Check(referer string) Decision {
	if g.wildcard {
		return Allowed
	}
	if strings.TrimSpace(referer) == "" {
		return RejectedOrigin
	}
	if g.AllowsOrigin(referer) {
		return Allowed
	}
	return RejectedOrigin
}

// Origin reduces an absolute URL to its scheme://host[:port] origin,
// lowercased and without the scheme's default port. It reports false for
// anything that does not parse as an absolute URL with a host.
func Origin(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host = host + ":" + port
	}
	return scheme + "://" + host, true
}
