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

// msgrelay: rate counter control
//
// Operator CLI for the shared Redis counters. It shows or clears a single
// counter, e.g. to lift the global email quota early.
//
// Usage:
//
//	go run ./cmd/ratectl/ [--redis redis://host:6379/0] show quota
//	go run ./cmd/ratectl/ reset burst:203.0.113.9
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/msgrelay/internal/admission"
	"github.com/bcem/msgrelay/internal/config"
)

// counterStore is the subset of admission.Store the CLI drives.
type counterStore interface {
	Peek(ctx context.Context, key string) (admission.Snapshot, bool, error)
	Reset(ctx context.Context, key string) error
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	redisFlag := flag.String("redis", "", "Redis URL (default: REDIS_URL from configuration)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ratectl [--redis URL] show|reset KEY\n\nKEY is \"quota\" or \"burst:<caller>\".\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	redisURL := *redisFlag
	if redisURL == "" {
		cfg, err := config.Load()
		if err != nil {
			slog.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
		redisURL = cfg.RedisURL
	}
	if redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: --redis or REDIS_URL is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Error("invalid Redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rs := admission.NewRedisStore(rdb)
	if err := rs.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, rs, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}
}

var errUsage = errors.New("expected: show|reset KEY")

func run(ctx context.Context, store counterStore, args []string, out io.Writer) error {
	if len(args) != 2 {
		return errUsage
	}
	key, err := resolveKey(args[1])
	if err != nil {
		return err
	}

	switch args[0] {
	case "show":
		snap, ok, err := store.Peek(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "%s: no active window\n", key)
			return nil
		}
		fmt.Fprintf(out, "%s: count=%d resets_at=%s\n", key, snap.Count, snap.ResetAt.UTC().Format(time.RFC3339))
		return nil
	case "reset":
		if err := store.Reset(ctx, key); err != nil {
			return err
		}
		slog.Info("counter reset", "key", key)
		fmt.Fprintf(out, "%s: reset\n", key)
		return nil
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

// resolveKey maps the operator's spelling onto a controller key.
func resolveKey(arg string) (string, error) {
	switch {
	case arg == "quota" || arg == admission.QuotaKey():
		return admission.QuotaKey(), nil
	case strings.HasPrefix(arg, "burst:") && len(arg) > len("burst:"):
		return admission.BurstKey(strings.TrimPrefix(arg, "burst:")), nil
	default:
		return "", fmt.Errorf("unknown key %q", arg)
	}
}
