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

// Package telegram delivers relay messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/bcem/msgrelay/internal/format"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Config holds Bot API settings.
type Config struct {
	Token  string
	APIURL string
	// RatePerSec paces outbound sendMessage calls. Telegram allows about 30/s per bot.
	RatePerSec int
	Timeout    time.Duration
}

// Sender implements dispatch.ChatSender.
type Sender struct {
	bot     *tele.Bot
	limiter *rate.Limiter
}

// chatRecipient addresses a chat by numeric ID or @channel username.
type chatRecipient string

func (c chatRecipient) Recipient() string { return string(c) }

// New creates a sender. No network call is made until the first send.
func New(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Sender{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// SendChat submits p once via sendMessage.
func (s *Sender) SendChat(ctx context.Context, p format.ChatPayload) error {
	if strings.TrimSpace(p.ChatID) == "" {
		return errors.New("telegram chat id is empty")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for telegram send slot: %w", err)
	}

	_, err := s.bot.Send(chatRecipient(p.ChatID), p.Text, &tele.SendOptions{
		ParseMode:             tele.ParseMode(p.ParseMode),
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}
