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

// Package relay runs the admission-and-dispatch pipeline for one inbound
// message: origin guard, burst limiter, global quota (when the channel is
// governed), validation, formatting and dispatch. Any failure ends the
// request at that stage.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/bcem/msgrelay/internal/admission"
	"github.com/bcem/msgrelay/internal/dispatch"
	"github.com/bcem/msgrelay/internal/format"
	"github.com/bcem/msgrelay/internal/metrics"
	"github.com/bcem/msgrelay/internal/models"
	"github.com/bcem/msgrelay/internal/validate"
)

// Policy selects which guards apply to a channel.
type Policy struct {
	CheckOrigin bool
	Quota       bool
}

// Config holds the per-deployment values the pipeline needs.
type Config struct {
	// EmailFrom is the fixed sender identity of every relayed email.
	EmailFrom string
	// DefaultChatID is used when a chat request names no chat.
	DefaultChatID string

	Email Policy
	Chat  Policy
}

// Request is one inbound message with the request metadata the guards and
// formatter consume.
type Request struct {
	Channel    models.Channel
	Fields     models.RawFields
	Referer    string
	Caller     string
	RequestURL string
	RequestID  string
}

// Service is safe for concurrent use; the only shared mutable state lives
// in the admission controller's store.
type Service struct {
	cfg        Config
	guard      *admission.OriginGuard
	limits     *admission.Controller
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Recorder
}

// New wires a pipeline. rec may be nil.
func New(cfg Config, guard *admission.OriginGuard, limits *admission.Controller, d *dispatch.Dispatcher, rec *metrics.Recorder) *Service {
	return &Service{
		cfg:        cfg,
		guard:      guard,
		limits:     limits,
		dispatcher: d,
		metrics:    rec,
	}
}

// Handle runs req through the pipeline and returns its outcome.
func (s *Service) Handle(ctx context.Context, req Request) dispatch.Outcome {
	out := s.handle(ctx, req)
	s.metrics.Outcome(out)
	return out
}

func (s *Service) handle(ctx context.Context, req Request) dispatch.Outcome {
	policy := s.policy(req.Channel)

	if policy.CheckOrigin {
		if d := s.guard.Check(req.Referer); d != admission.Allowed {
			return s.reject(req, admission.Verdict{Decision: d})
		}
	}

	if v := s.limits.Admit(ctx, req.Caller, policy.Quota); v.Decision != admission.Allowed {
		return s.reject(req, v)
	}
	s.metrics.Decision(req.Channel, admission.Allowed)

	msg, err := validate.Message(req.Fields, req.Channel)
	if err != nil {
		slog.Info("request failed validation",
			"request_id", req.RequestID,
			"channel", req.Channel,
			"error", err,
		)
		return dispatch.Invalid(req.Channel, err, req.RequestURL)
	}

	switch req.Channel {
	case models.ChannelChat:
		chatID := msg.Destination
		if chatID == "" {
			chatID = s.cfg.DefaultChatID
		}
		if chatID == "" {
			return dispatch.Invalid(req.Channel, &validate.FieldError{Field: validate.FieldChatID, Reason: validate.Missing}, req.RequestURL)
		}
		start := time.Now()
		out := s.dispatcher.Chat(ctx, format.Chat(msg, req.RequestURL, chatID), req.RequestURL)
		s.metrics.Transport(req.Channel, time.Since(start))
		return out
	default:
		p, err := format.Email(msg, req.RequestURL, s.cfg.EmailFrom)
		if err != nil {
			slog.Error("email rendering failed", "request_id", req.RequestID, "error", err)
			return dispatch.Outcome{
				Kind:       dispatch.TransportFailure,
				Channel:    req.Channel,
				Detail:     "Failed to send email",
				Err:        err,
				RequestURL: req.RequestURL,
				At:         time.Now().UTC(),
			}
		}
		start := time.Now()
		out := s.dispatcher.Email(ctx, p, req.RequestURL)
		s.metrics.Transport(req.Channel, time.Since(start))
		return out
	}
}

func (s *Service) reject(req Request, v admission.Verdict) dispatch.Outcome {
	s.metrics.Decision(req.Channel, v.Decision)
	slog.Warn("request rejected by admission",
		"request_id", req.RequestID,
		"channel", req.Channel,
		"decision", v.Decision.String(),
		"caller", req.Caller,
		"referer", req.Referer,
		"retry_after", v.RetryAfter,
	)
	return dispatch.Rejected(req.Channel, v, req.RequestURL)
}

func (s *Service) policy(ch models.Channel) Policy {
	if ch == models.ChannelChat {
		return s.cfg.Chat
	}
	return s.cfg.Email
}
