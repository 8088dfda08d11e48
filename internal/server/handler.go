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

// Package server exposes the relay over HTTP. Each POST carries one message
// for one channel; the handler decodes it, derives the caller metadata the
// guards need and maps the pipeline outcome onto a JSON response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/bcem/msgrelay/internal/admission"
	"github.com/bcem/msgrelay/internal/dispatch"
	"github.com/bcem/msgrelay/internal/metrics"
	"github.com/bcem/msgrelay/internal/models"
	"github.com/bcem/msgrelay/internal/relay"
)

const maxBodyBytes = 64 << 10

// Relay runs one request through the admission-and-dispatch pipeline.
type Relay interface {
	Handle(ctx context.Context, req relay.Request) dispatch.Outcome
}

// Options tune the HTTP surface.
type Options struct {
	// Timeout bounds the whole pipeline for a single request.
	Timeout time.Duration
	// TrustProxy takes the caller address from X-Forwarded-For / X-Real-IP.
	TrustProxy bool
	// Health is an optional dependency probe run by GET /health.
	Health func(ctx context.Context) error
}

// Handler serves the relay routes.
type Handler struct {
	relay   Relay
	guard   *admission.OriginGuard
	metrics *metrics.Recorder
	opts    Options
}

// NewHandler creates the HTTP handler. rec may be nil, in which case
// /metrics is not mounted.
func NewHandler(r Relay, guard *admission.OriginGuard, rec *metrics.Recorder, opts Options) *Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Handler{relay: r, guard: guard, metrics: rec, opts: opts}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if h.opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestID)
	r.Use(h.cors())

	r.Get("/health", h.ServeHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}
	r.Post("/msg", h.serveMessage(models.ChannelEmail))
	r.Post("/msg/telegram", h.serveMessage(models.ChannelChat))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
	})
	return r
}

func (h *Handler) cors() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"Retry-After", "X-Request-ID"},
		MaxAge:         300,
	}
	if h.guard.Wildcard() {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowOriginFunc = func(_ *http.Request, origin string) bool {
			return h.guard.AllowsOrigin(origin)
		}
	}
	return cors.Handler(opts)
}

// ServeHealth reports liveness, and dependency health when a probe is set.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.opts.Health(ctx); err != nil {
			slog.Warn("health probe failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":    "unhealthy",
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) serveMessage(ch models.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.opts.Timeout)
		defer cancel()

		var fields models.RawFields
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
			slog.Info("rejecting malformed body",
				"request_id", requestIDFrom(ctx),
				"channel", ch,
				"error", err,
			)
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON body"})
			return
		}

		out := h.relay.Handle(ctx, relay.Request{
			Channel:    ch,
			Fields:     fields,
			Referer:    referer(r),
			Caller:     callerAddr(r),
			RequestURL: requestURL(r),
			RequestID:  requestIDFrom(ctx),
		})
		writeOutcome(w, out)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type successBody struct {
	Success string `json:"success"`
}

func writeOutcome(w http.ResponseWriter, out dispatch.Outcome) {
	switch out.Kind {
	case dispatch.Sent:
		writeJSON(w, http.StatusOK, successBody{Success: out.Detail})
	case dispatch.ValidationFailure:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: out.Detail})
	case dispatch.AdmissionRejected:
		if out.Decision == admission.RejectedOrigin {
			writeJSON(w, http.StatusForbidden, errorBody{Error: out.Detail})
			return
		}
		w.Header().Set("Retry-After", retryAfter(out.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: out.Detail})
	case dispatch.TimedOut:
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: out.Detail})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: out.Detail})
	}
}

// retryAfter renders a wait as whole seconds, rounded up, never below one.
func retryAfter(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// referer is the declared referring page, falling back to Origin for
// clients that strip Referer.
func referer(r *http.Request) string {
	if v := r.Header.Get("Referer"); v != "" {
		return v
	}
	return r.Header.Get("Origin")
}

// requestURL is the page the message was submitted from, or the relay's own
// URL when the client sent no Referer.
func requestURL(r *http.Request) string {
	if v := r.Header.Get("Referer"); v != "" {
		return v
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// callerAddr strips the port from RemoteAddr. RealIP may already have
// replaced it with a bare address.
func callerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type ctxKey int

const requestIDKey ctxKey = iota

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
