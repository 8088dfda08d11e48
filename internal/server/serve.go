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

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Serve starts the HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// accepting connections. Cancelling ctx drains in-flight requests for up
// to drain before closing; the stopped channel closes once that is done.
func Serve(ctx context.Context, port int, handler http.Handler, drain time.Duration) (ready, stopped <-chan struct{}, err error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	readyCh := make(chan struct{})
	stoppedCh := make(chan struct{})

	go func() {
		defer close(stoppedCh)
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
			server.Close()
		}
	}()

	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		close(readyCh)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return readyCh, stoppedCh, nil
}
