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

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/msgrelay/internal/admission"
	"github.com/bcem/msgrelay/internal/dispatch"
	"github.com/bcem/msgrelay/internal/format"
	"github.com/bcem/msgrelay/internal/metrics"
	"github.com/bcem/msgrelay/internal/models"
)

type recordingEmail struct {
	mu    sync.Mutex
	calls []format.EmailPayload
	err   error
}

func (r *recordingEmail) SendEmail(_ context.Context, p format.EmailPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, p)
	return r.err
}

type recordingChat struct {
	mu    sync.Mutex
	calls []format.ChatPayload
	err   error
}

func (r *recordingChat) SendChat(_ context.Context, p format.ChatPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, p)
	return r.err
}

type fixture struct {
	svc   *Service
	email *recordingEmail
	chat  *recordingChat
}

func newFixture(t *testing.T, origins []string, burst, quota admission.Limit) *fixture {
	t.Helper()
	store, err := admission.NewMemoryStore(100)
	require.NoError(t, err)

	f := &fixture{email: &recordingEmail{}, chat: &recordingChat{}}
	f.svc = New(Config{
		EmailFrom:     "relay@site.example",
		DefaultChatID: "-100200",
		Email:         Policy{CheckOrigin: true, Quota: true},
		Chat:          Policy{},
	},
		admission.NewOriginGuard(origins),
		admission.NewController(store, burst, quota),
		dispatch.New(f.email, f.chat),
		metrics.New(),
	)
	return f
}

func emailRequest() Request {
	return Request{
		Channel: models.ChannelEmail,
		Fields: models.RawFields{
			Email:     "a@b.com",
			Message:   "hi",
			AddressTo: "c@d.com",
			Name:      "A",
		},
		Referer:    "https://site.example/contact",
		Caller:     "10.0.0.1",
		RequestURL: "https://site.example/contact",
	}
}

var (
	roomy = admission.Limit{Requests: 100, Window: time.Minute}
)

// TestHandle_EmailSent verifies the happy path and default subject.
func TestHandle_EmailSent(t *testing.T) {
	f := newFixture(t, []string{"https://site.example"}, roomy, roomy)

	out := f.svc.Handle(context.Background(), emailRequest())

	require.Equal(t, dispatch.Sent, out.Kind)
	assert.Equal(t, "Email sent successfully", out.Detail)
	require.Len(t, f.email.calls, 1)
	p := f.email.calls[0]
	assert.Equal(t, "relay@site.example", p.From)
	assert.Equal(t, "c@d.com", p.To)
	assert.Equal(t, "New Message from https://site.example/contact", p.Subject)
	assert.Contains(t, p.HTML, models.DefaultSubject)
}

// TestHandle_ValidationSkipsTransport verifies invalid input never reaches a transport.
func TestHandle_ValidationSkipsTransport(t *testing.T) {
	f := newFixture(t, []string{"*"}, roomy, roomy)

	req := emailRequest()
	req.Fields.Name = ""
	out := f.svc.Handle(context.Background(), req)

	assert.Equal(t, dispatch.ValidationFailure, out.Kind)
	assert.Equal(t, "Missing required field: name", out.Detail)
	assert.Empty(t, f.email.calls)
}

// TestHandle_OriginBeforeLimits verifies an origin rejection consumes no quota.
func TestHandle_OriginBeforeLimits(t *testing.T) {
	one := admission.Limit{Requests: 1, Window: time.Hour}
	f := newFixture(t, []string{"https://site.example"}, roomy, one)

	req := emailRequest()
	req.Referer = ""
	out := f.svc.Handle(context.Background(), req)
	assert.Equal(t, dispatch.AdmissionRejected, out.Kind)
	assert.Equal(t, admission.RejectedOrigin, out.Decision)

	out = f.svc.Handle(context.Background(), emailRequest())
	assert.Equal(t, dispatch.Sent, out.Kind)
}

// TestHandle_QuotaAppliesToEmailOnly verifies the channel asymmetry.
func TestHandle_QuotaAppliesToEmailOnly(t *testing.T) {
	one := admission.Limit{Requests: 1, Window: time.Hour}
	f := newFixture(t, []string{"*"}, roomy, one)
	ctx := context.Background()

	require.Equal(t, dispatch.Sent, f.svc.Handle(ctx, emailRequest()).Kind)

	req := emailRequest()
	req.Caller = "10.9.9.9"
	out := f.svc.Handle(ctx, req)
	assert.Equal(t, admission.RejectedGlobalQuota, out.Decision)
	assert.Equal(t, dispatch.DetailRateLimited, out.Detail)
	assert.Len(t, f.email.calls, 1)

	chat := emailRequest()
	chat.Channel = models.ChannelChat
	for i := 0; i < 3; i++ {
		assert.Equal(t, dispatch.Sent, f.svc.Handle(ctx, chat).Kind)
	}
}

// TestHandle_BurstAppliesToChat verifies chat is still burst limited.
func TestHandle_BurstAppliesToChat(t *testing.T) {
	two := admission.Limit{Requests: 2, Window: time.Minute}
	f := newFixture(t, []string{"*"}, two, roomy)
	ctx := context.Background()

	req := emailRequest()
	req.Channel = models.ChannelChat
	req.Referer = ""

	assert.Equal(t, dispatch.Sent, f.svc.Handle(ctx, req).Kind)
	assert.Equal(t, dispatch.Sent, f.svc.Handle(ctx, req).Kind)
	out := f.svc.Handle(ctx, req)
	assert.Equal(t, admission.RejectedBurstLimit, out.Decision)
	assert.Greater(t, out.RetryAfter, time.Duration(0))
	assert.Len(t, f.chat.calls, 2)
}

// TestHandle_ChatDefaultDestination verifies the configured fallback chat.
func TestHandle_ChatDefaultDestination(t *testing.T) {
	f := newFixture(t, []string{"https://site.example"}, roomy, roomy)

	req := emailRequest()
	req.Channel = models.ChannelChat
	req.Referer = "" // chat skips the origin check by default

	out := f.svc.Handle(context.Background(), req)
	require.Equal(t, dispatch.Sent, out.Kind)
	require.Len(t, f.chat.calls, 1)
	assert.Equal(t, "-100200", f.chat.calls[0].ChatID)
	assert.Equal(t, format.ParseModeMarkdownV2, f.chat.calls[0].ParseMode)

	req.Fields.ChatID = "777"
	f.svc.Handle(context.Background(), req)
	assert.Equal(t, "777", f.chat.calls[1].ChatID)
}

// TestHandle_ChatNoDestination verifies a missing chat with no default fails validation.
func TestHandle_ChatNoDestination(t *testing.T) {
	f := newFixture(t, []string{"*"}, roomy, roomy)
	f.svc.cfg.DefaultChatID = ""

	req := emailRequest()
	req.Channel = models.ChannelChat
	out := f.svc.Handle(context.Background(), req)

	assert.Equal(t, dispatch.ValidationFailure, out.Kind)
	assert.Equal(t, "Missing required field: chatId", out.Detail)
	assert.Empty(t, f.chat.calls)
}

// TestHandle_ChatTransportFailure verifies failures do not affect email.
func TestHandle_ChatTransportFailure(t *testing.T) {
	f := newFixture(t, []string{"*"}, roomy, roomy)
	f.chat.err = errors.New("telegram: Bad Request: chat not found (400)")
	ctx := context.Background()

	req := emailRequest()
	req.Channel = models.ChannelChat
	out := f.svc.Handle(ctx, req)
	assert.Equal(t, dispatch.TransportFailure, out.Kind)
	assert.Equal(t, "Failed to send Telegram message", out.Detail)

	assert.Equal(t, dispatch.Sent, f.svc.Handle(ctx, emailRequest()).Kind)
}
