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

// Package dispatch hands formatted payloads to the channel transports and
// maps the result to a uniform Outcome.
//
// Each payload is submitted exactly once. A transport error or panic
// becomes TransportFailure; expiry of the request deadline becomes
// TimedOut, whether or not the transport honours the context.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/msgrelay/internal/format"
	"github.com/bcem/msgrelay/internal/models"
)

// EmailSender submits one email.
type EmailSender interface {
	SendEmail(ctx context.Context, p format.EmailPayload) error
}

// ChatSender submits one chat message.
type ChatSender interface {
	SendChat(ctx context.Context, p format.ChatPayload) error
}

// ErrChannelDisabled is returned when no transport is configured.
var ErrChannelDisabled = errors.New("channel has no transport configured")

// Dispatcher routes payloads to their transport.
type Dispatcher struct {
	email EmailSender
	chat  ChatSender
	now   func() time.Time
}

// New creates a dispatcher. Either sender may be nil, in which case that
// channel always fails.
func New(email EmailSender, chat ChatSender) *Dispatcher {
	return &Dispatcher{email: email, chat: chat, now: time.Now}
}

// Email submits p through the email transport.
func (d *Dispatcher) Email(ctx context.Context, p format.EmailPayload, requestURL string) Outcome {
	return d.run(ctx, models.ChannelEmail, requestURL, func(ctx context.Context) error {
		if d.email == nil {
			return ErrChannelDisabled
		}
		return d.email.SendEmail(ctx, p)
	})
}

// Chat submits p through the chat transport.
func (d *Dispatcher) Chat(ctx context.Context, p format.ChatPayload, requestURL string) Outcome {
	return d.run(ctx, models.ChannelChat, requestURL, func(ctx context.Context) error {
		if d.chat == nil {
			return ErrChannelDisabled
		}
		return d.chat.SendChat(ctx, p)
	})
}

func (d *Dispatcher) run(ctx context.Context, ch models.Channel, requestURL string, send func(context.Context) error) Outcome {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("transport panic: %v", r)
			}
		}()
		done <- send(ctx)
	}()

	err := settle(ctx, done)

	out := Outcome{
		Channel:    ch,
		RequestURL: requestURL,
		At:         d.now().UTC(),
	}

	switch {
	case err == nil:
		out.Kind = Sent
		out.Detail = sentDetail(ch)
		slog.Info("message sent",
			"channel", ch,
			"request_url", requestURL,
			"timestamp", out.At.Format(time.RFC3339),
		)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.Kind = TimedOut
		out.Detail = DetailTimedOut
		out.Err = err
		slog.Error("message send timed out",
			"channel", ch,
			"request_url", requestURL,
			"timestamp", out.At.Format(time.RFC3339),
			"error", err,
		)
	default:
		out.Kind = TransportFailure
		out.Detail = failedDetail(ch)
		out.Err = err
		slog.Error("message send failed",
			"channel", ch,
			"request_url", requestURL,
			"timestamp", out.At.Format(time.RFC3339),
			"error", err,
		)
	}
	return out
}

// settle waits for the transport result or the deadline. A result that is
// already available when the deadline fires wins.
func settle(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
			return ctx.Err()
		}
	}
}

func sentDetail(ch models.Channel) string {
	if ch == models.ChannelChat {
		return "Telegram message sent successfully"
	}
	return "Email sent successfully"
}

func failedDetail(ch models.Channel) string {
	if ch == models.ChannelChat {
		return "Failed to send Telegram message"
	}
	return "Failed to send email"
}
