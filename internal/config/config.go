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

// Package config loads configuration from an optional config.yaml, a .env
// file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Limit is a request ceiling over a fixed window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// ChannelPolicy selects the guards applied to one channel.
type ChannelPolicy struct {
	OriginCheck bool
	Quota       bool
}

// SMTPConfig holds the outbound mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Auth     string // none, plain, login or xoauth2
	TLS      string // starttls, ssl or none

	// OAuth2 refresh-token settings, used when Auth is xoauth2.
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRefreshToken string
	OAuthTokenURL     string
}

// TelegramConfig holds the Bot API settings.
type TelegramConfig struct {
	Token         string
	DefaultChatID string
	APIURL        string
	RatePerSec    int
}

// Config holds all configuration for the relay service.
type Config struct {
	Port           int
	AllowedOrigins []string
	EmailFrom      string
	RequestTimeout time.Duration
	TrustProxy     bool
	LogLevel       slog.Level

	SMTP     SMTPConfig
	Telegram TelegramConfig

	// RedisURL selects the shared counter store; empty keeps counters in memory.
	RedisURL          string
	MaxTrackedCallers int

	Burst Limit
	Quota Limit

	EmailPolicy ChannelPolicy
	ChatPolicy  ChannelPolicy
}

// EmailEnabled reports whether enough SMTP settings exist to send mail.
func (c *Config) EmailEnabled() bool {
	if c.SMTP.Host == "" {
		return false
	}
	switch c.SMTP.Auth {
	case "none":
		return true
	case "xoauth2":
		return c.SMTP.Username != "" && c.SMTP.OAuthRefreshToken != ""
	default:
		return c.SMTP.Username != "" && c.SMTP.Password != ""
	}
}

// ChatEnabled reports whether a bot token is configured.
func (c *Config) ChatEnabled() bool { return c.Telegram.Token != "" }

type rawPolicy struct {
	OriginCheck *bool `yaml:"origin_check"`
	Quota       *bool `yaml:"quota"`
}

type rawLimit struct {
	Requests int    `yaml:"requests"`
	Window   string `yaml:"window"`
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	EmailFrom      string   `yaml:"email_from"`
	RequestTimeout string   `yaml:"request_timeout"`
	SMTP           struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Auth     string `yaml:"auth"`
		TLS      string `yaml:"tls"`
		OAuth    struct {
			ClientID     string `yaml:"client_id"`
			ClientSecret string `yaml:"client_secret"`
			RefreshToken string `yaml:"refresh_token"`
			TokenURL     string `yaml:"token_url"`
		} `yaml:"oauth"`
	} `yaml:"smtp"`
	Telegram struct {
		Token      string `yaml:"token"`
		ChatID     string `yaml:"chat_id"`
		APIURL     string `yaml:"api_url"`
		RatePerSec int    `yaml:"rate_per_sec"`
	} `yaml:"telegram"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Limits struct {
		Burst             rawLimit `yaml:"burst"`
		Quota             rawLimit `yaml:"quota"`
		MaxTrackedCallers int      `yaml:"max_tracked_callers"`
	} `yaml:"limits"`
	Channels struct {
		Email    rawPolicy `yaml:"email"`
		Telegram rawPolicy `yaml:"telegram"`
	} `yaml:"channels"`
}

// Load reads .env (without overriding the real environment), then the YAML
// file at CONFIG_PATH with env var expansion, then environment variables for
// anything the file leaves unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	var raw rawConfig
	configPath := envOrDefault("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Environment-only deployment.
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	return build(&raw)
}

func build(raw *rawConfig) (*Config, error) {
	cfg := &Config{
		Port:           firstPositive(raw.Port, envOrDefaultInt("PORT", 3000)),
		AllowedOrigins: raw.AllowedOrigins,
		TrustProxy:     envOrDefaultBool("TRUST_PROXY", false),
		SMTP: SMTPConfig{
			Host:              firstNonEmpty(raw.SMTP.Host, envOrDefault("SMTP_HOST", "smtp.gmail.com")),
			Port:              firstPositive(raw.SMTP.Port, envOrDefaultInt("SMTP_PORT", 587)),
			Username:          firstNonEmpty(raw.SMTP.Username, os.Getenv("EMAIL_USER")),
			Password:          firstNonEmpty(raw.SMTP.Password, os.Getenv("PASSWORD")),
			Auth:              strings.ToLower(firstNonEmpty(raw.SMTP.Auth, envOrDefault("SMTP_AUTH", "plain"))),
			TLS:               strings.ToLower(firstNonEmpty(raw.SMTP.TLS, os.Getenv("SMTP_TLS"))),
			OAuthClientID:     firstNonEmpty(raw.SMTP.OAuth.ClientID, os.Getenv("SMTP_OAUTH_CLIENT_ID")),
			OAuthClientSecret: firstNonEmpty(raw.SMTP.OAuth.ClientSecret, os.Getenv("SMTP_OAUTH_CLIENT_SECRET")),
			OAuthRefreshToken: firstNonEmpty(raw.SMTP.OAuth.RefreshToken, os.Getenv("SMTP_OAUTH_REFRESH_TOKEN")),
			OAuthTokenURL:     firstNonEmpty(raw.SMTP.OAuth.TokenURL, os.Getenv("SMTP_OAUTH_TOKEN_URL")),
		},
		Telegram: TelegramConfig{
			Token:         firstNonEmpty(raw.Telegram.Token, os.Getenv("TELEGRAM_BOT_TOKEN")),
			DefaultChatID: firstNonEmpty(raw.Telegram.ChatID, os.Getenv("TELEGRAM_CHAT_ID")),
			APIURL:        firstNonEmpty(raw.Telegram.APIURL, envOrDefault("TELEGRAM_API_URL", "https://api.telegram.org")),
			RatePerSec:    firstPositive(raw.Telegram.RatePerSec, envOrDefaultInt("TELEGRAM_RATE_PER_SEC", 25)),
		},
		RedisURL:          firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		MaxTrackedCallers: firstPositive(raw.Limits.MaxTrackedCallers, envOrDefaultInt("MAX_TRACKED_CALLERS", 10000)),
		EmailPolicy:       policy(raw.Channels.Email, ChannelPolicy{OriginCheck: true, Quota: true}),
		ChatPolicy:        policy(raw.Channels.Telegram, ChannelPolicy{}),
	}
	cfg.EmailFrom = firstNonEmpty(raw.EmailFrom, os.Getenv("EMAIL_FROM"), cfg.SMTP.Username)

	if cfg.SMTP.TLS == "" {
		if cfg.SMTP.Port == 465 {
			cfg.SMTP.TLS = "ssl"
		} else {
			cfg.SMTP.TLS = "starttls"
		}
	}

	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = ParseOrigins(os.Getenv("ALLOWED_ORIGINS"))
	}

	var err error
	if cfg.RequestTimeout, err = duration("request_timeout", raw.RequestTimeout, "REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.Burst, err = limit("burst", raw.Limits.Burst, "BURST", Limit{Requests: 10, Window: 2 * time.Minute}); err != nil {
		return nil, err
	}
	if cfg.Quota, err = limit("quota", raw.Limits.Quota, "QUOTA", Limit{Requests: 50, Window: 24 * time.Hour}); err != nil {
		return nil, err
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	for name, l := range map[string]Limit{"burst": c.Burst, "quota": c.Quota} {
		if l.Requests <= 0 || l.Window <= 0 {
			return fmt.Errorf("%s limit must have a positive ceiling and window, got %d per %s", name, l.Requests, l.Window)
		}
	}
	switch c.SMTP.Auth {
	case "none", "plain", "login", "xoauth2":
	default:
		return fmt.Errorf("unknown SMTP auth %q", c.SMTP.Auth)
	}
	switch c.SMTP.TLS {
	case "starttls", "ssl", "none":
	default:
		return fmt.Errorf("unknown SMTP TLS mode %q", c.SMTP.TLS)
	}
	return nil
}

// ParseOrigins splits a comma-separated allow-list. "*" is kept as a single
// wildcard entry; blank entries are dropped.
func ParseOrigins(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "*" {
			return []string{"*"}
		}
		out = append(out, part)
	}
	return out
}

func policy(raw rawPolicy, def ChannelPolicy) ChannelPolicy {
	p := def
	if raw.OriginCheck != nil {
		p.OriginCheck = *raw.OriginCheck
	}
	if raw.Quota != nil {
		p.Quota = *raw.Quota
	}
	return p
}

func limit(name string, raw rawLimit, envPrefix string, def Limit) (Limit, error) {
	l := Limit{Requests: firstPositive(raw.Requests, envOrDefaultInt(envPrefix+"_REQUESTS", def.Requests))}
	w, err := duration(name+" window", raw.Window, envPrefix+"_WINDOW", def.Window)
	if err != nil {
		return Limit{}, err
	}
	l.Window = w
	return l, nil
}

func duration(name, raw, envKey string, fallback time.Duration) (time.Duration, error) {
	v := firstNonEmpty(raw, os.Getenv(envKey))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", name, v, err)
	}
	return d, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
