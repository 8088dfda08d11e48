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

// Package smtp submits relay emails over SMTP using go-mail. Authentication
// is PLAIN/LOGIN with a static password, or XOAUTH2 with an access token
// refreshed from an OAuth2 token source (Gmail app deployments).
package smtp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"golang.org/x/oauth2"

	"github.com/bcem/msgrelay/internal/format"
)

// Auth mechanisms.
const (
	AuthNone    = "none"
	AuthPlain   = "plain"
	AuthLogin   = "login"
	AuthXOAUTH2 = "xoauth2"
)

// TLS modes.
const (
	TLSStartTLS = "starttls"
	TLSImplicit = "ssl"
	TLSNone     = "none"
)

// Config holds SMTP submission settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Auth     string
	TLS      string
	Timeout  time.Duration

	// TokenSource supplies access tokens when Auth is AuthXOAUTH2.
	TokenSource oauth2.TokenSource
}

// Sender implements dispatch.EmailSender.
type Sender struct {
	cfg     Config
	deliver func(ctx context.Context, opts []mail.Option, m *mail.Msg) error
}

// New creates an SMTP sender.
func New(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Auth == "" {
		cfg.Auth = AuthPlain
	}
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	if cfg.Auth == AuthXOAUTH2 && cfg.TokenSource == nil {
		return nil, errors.New("smtp xoauth2 requires an oauth2 token source")
	}

	s := &Sender{cfg: cfg}
	s.deliver = s.dialAndSend
	return s, nil
}

// SendEmail submits p once.
func (s *Sender) SendEmail(ctx context.Context, p format.EmailPayload) error {
	m, err := buildMessage(p)
	if err != nil {
		return err
	}

	opts, err := s.clientOptions()
	if err != nil {
		return err
	}

	return s.deliver(ctx, opts, m)
}

func (s *Sender) dialAndSend(ctx context.Context, opts []mail.Option, m *mail.Msg) error {
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp submit to %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

func buildMessage(p format.EmailPayload) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(p.From); err != nil {
		return nil, fmt.Errorf("set from address: %w", err)
	}
	if err := m.To(p.To); err != nil {
		return nil, fmt.Errorf("set to address: %w", err)
	}
	m.Subject(p.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, p.Text)
	m.AddAlternativeString(mail.TypeTextHTML, p.HTML)
	return m, nil
}

func (s *Sender) clientOptions() ([]mail.Option, error) {
	opts := []mail.Option{mail.WithTimeout(s.cfg.Timeout)}

	switch s.cfg.TLS {
	case TLSImplicit:
		opts = append(opts, mail.WithSSL())
	case TLSNone:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	// Explicit port last so TLS options cannot reset it.
	opts = append(opts, mail.WithPort(s.cfg.Port))

	user, pass, err := s.credentials()
	if err != nil {
		return nil, err
	}

	switch s.cfg.Auth {
	case AuthNone:
	case AuthLogin:
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthLogin), mail.WithUsername(user), mail.WithPassword(pass))
	case AuthXOAUTH2:
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthXOAUTH2), mail.WithUsername(user), mail.WithPassword(pass))
	default:
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(user), mail.WithPassword(pass))
	}
	return opts, nil
}

// credentials returns the username and secret for the configured mechanism.
// For XOAUTH2 the secret is a current access token.
func (s *Sender) credentials() (string, string, error) {
	switch s.cfg.Auth {
	case AuthNone:
		return "", "", nil
	case AuthXOAUTH2:
		tok, err := s.cfg.TokenSource.Token()
		if err != nil {
			return "", "", fmt.Errorf("refresh smtp oauth2 token: %w", err)
		}
		return s.cfg.Username, tok.AccessToken, nil
	default:
		return s.cfg.Username, s.cfg.Password, nil
	}
}
