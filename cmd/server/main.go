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

// msgrelay: inbound message relay
//
// Entry point for the relay service. It:
//  1. Loads configuration from .env, config.yaml and the environment
//  2. Selects the counter store (Redis when REDIS_URL is set, else memory)
//  3. Builds the SMTP and Telegram transports that are configured
//  4. Serves POST /msg and POST /msg/telegram plus /health and /metrics
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/msgrelay/internal/admission"
	"github.com/bcem/msgrelay/internal/config"
	"github.com/bcem/msgrelay/internal/dispatch"
	"github.com/bcem/msgrelay/internal/metrics"
	"github.com/bcem/msgrelay/internal/relay"
	"github.com/bcem/msgrelay/internal/server"
	"github.com/bcem/msgrelay/internal/transport/smtp"
	"github.com/bcem/msgrelay/internal/transport/telegram"
)

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting msgrelay",
		"port", cfg.Port,
		"allowed_origins", cfg.AllowedOrigins,
		"burst", cfg.Burst.Requests,
		"burst_window", cfg.Burst.Window,
		"quota", cfg.Quota.Requests,
		"quota_window", cfg.Quota.Window,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Counter Store ---
	var (
		store  admission.Store
		health func(context.Context) error
		rdb    *redis.Client
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		rs := admission.NewRedisStore(rdb)
		if err := rs.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to Redis")
		store, health = rs, rs.Ping
	} else {
		ms, err := admission.NewMemoryStore(cfg.MaxTrackedCallers)
		if err != nil {
			slog.Error("failed to create counter store", "error", err)
			os.Exit(1)
		}
		slog.Info("using in-memory counters", "max_tracked_callers", cfg.MaxTrackedCallers)
		store = ms
	}

	// --- Transports ---
	var email dispatch.EmailSender
	if cfg.EmailEnabled() {
		sc := smtp.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Auth:     cfg.SMTP.Auth,
			TLS:      cfg.SMTP.TLS,
			Timeout:  cfg.RequestTimeout,
		}
		if cfg.SMTP.Auth == smtp.AuthXOAUTH2 {
			sc.TokenSource = smtp.TokenSource(ctx, smtp.OAuthConfig{
				ClientID:     cfg.SMTP.OAuthClientID,
				ClientSecret: cfg.SMTP.OAuthClientSecret,
				RefreshToken: cfg.SMTP.OAuthRefreshToken,
				TokenURL:     cfg.SMTP.OAuthTokenURL,
			})
		}
		s, err := smtp.New(sc)
		if err != nil {
			slog.Error("failed to configure SMTP", "error", err)
			os.Exit(1)
		}
		email = s
		slog.Info("email channel enabled", "host", cfg.SMTP.Host, "port", cfg.SMTP.Port, "auth", cfg.SMTP.Auth)
	} else {
		slog.Warn("email channel disabled, SMTP credentials missing")
	}

	var chat dispatch.ChatSender
	if cfg.ChatEnabled() {
		s, err := telegram.New(telegram.Config{
			Token:      cfg.Telegram.Token,
			APIURL:     cfg.Telegram.APIURL,
			RatePerSec: cfg.Telegram.RatePerSec,
			Timeout:    cfg.RequestTimeout,
		})
		if err != nil {
			slog.Error("failed to configure Telegram", "error", err)
			os.Exit(1)
		}
		chat = s
		slog.Info("telegram channel enabled", "default_chat_configured", cfg.Telegram.DefaultChatID != "")
	} else {
		slog.Warn("telegram channel disabled, TELEGRAM_BOT_TOKEN missing")
	}

	// --- Pipeline ---
	rec := metrics.New()
	guard := admission.NewOriginGuard(cfg.AllowedOrigins)
	limits := admission.NewController(store, admission.Limit(cfg.Burst), admission.Limit(cfg.Quota))
	svc := relay.New(relay.Config{
		EmailFrom:     cfg.EmailFrom,
		DefaultChatID: cfg.Telegram.DefaultChatID,
		Email:         relay.Policy{CheckOrigin: cfg.EmailPolicy.OriginCheck, Quota: cfg.EmailPolicy.Quota},
		Chat:          relay.Policy{CheckOrigin: cfg.ChatPolicy.OriginCheck, Quota: cfg.ChatPolicy.Quota},
	}, guard, limits, dispatch.New(email, chat), rec)

	handler := server.NewHandler(svc, guard, rec, server.Options{
		Timeout:    cfg.RequestTimeout,
		TrustProxy: cfg.TrustProxy,
		Health:     health,
	})

	// --- HTTP Server ---
	ready, stopped, err := server.Serve(ctx, cfg.Port, handler.Routes(), 15*time.Second)
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("msgrelay ready")

	// --- Graceful Shutdown ---
	<-ctx.Done()
	slog.Info("received shutdown signal")
	<-stopped

	if rdb != nil {
		rdb.Close()
	}
	slog.Info("msgrelay stopped")
}
