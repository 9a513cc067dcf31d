// Copyright 2025 UMH Systems GmbH
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

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/lindylearn/unclutter-sync/internal/store"
	"github.com/lindylearn/unclutter-sync/pkg/logger"
	"github.com/lindylearn/unclutter-sync/pkg/shutdown"
)

type healthServer struct {
	server *http.Server
}

func startHealthcheck(addr string, st store.Store, handler shutdown.GracefulShutdownHandler) *healthServer {
	log := logger.For(logger.ComponentServer)
	log.Debugf("Setting up healthcheck on %s", addr)

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	health.AddLivenessCheck("database", healthcheck.Timeout(databaseCheck(st), 5*time.Second))
	health.AddReadinessCheck("database", healthcheck.Timeout(databaseCheck(st), 2*time.Second))
	health.AddReadinessCheck("shutdownEnabled", isShutdownEnabled(handler))

	server := &http.Server{
		Addr:              addr,
		Handler:           health,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Error starting healthcheck: %s", err)
		}
	}()

	return &healthServer{server: server}
}

func (h *healthServer) Shutdown(ctx context.Context) error {
	if h == nil {
		return nil
	}

	return h.server.Shutdown(ctx)
}

func databaseCheck(st store.Store) healthcheck.Check {
	return func() error {
		return st.Ping(context.Background())
	}
}

func isShutdownEnabled(handler shutdown.GracefulShutdownHandler) healthcheck.Check {
	return func() error {
		if handler.ShuttingDown() {
			return errors.New("shutdown in progress")
		}

		return nil
	}
}
