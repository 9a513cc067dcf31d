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
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lindylearn/unclutter-sync/internal/api"
	"github.com/lindylearn/unclutter-sync/internal/config"
	"github.com/lindylearn/unclutter-sync/internal/mutators"
	"github.com/lindylearn/unclutter-sync/internal/poke"
	"github.com/lindylearn/unclutter-sync/internal/replicache"
	"github.com/lindylearn/unclutter-sync/internal/store"
	"github.com/lindylearn/unclutter-sync/internal/store/memory"
	"github.com/lindylearn/unclutter-sync/internal/store/postgres"
	"github.com/lindylearn/unclutter-sync/pkg/logger"
	"github.com/lindylearn/unclutter-sync/pkg/metrics"
	"github.com/lindylearn/unclutter-sync/pkg/sentry"
	"github.com/lindylearn/unclutter-sync/pkg/shutdown"
)

// appVersion is set at build time with -ldflags "-X main.appVersion=...".
var appVersion = sentry.DefaultAppVersion

func main() {
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentServer)
	log.Infof("Starting unclutter-sync %s", appVersion)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}

	sentry.InitSentry(cfg.SentryDSN, appVersion, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, exec, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %s", cfg.StoreBackend, err)
	}

	poker, err := poke.New(cfg, exec, logger.For(logger.ComponentPoke))
	if err != nil {
		log.Fatalf("Failed to set up pokes: %s", err)
	}

	// nil for Supabase Realtime, which needs no stream of ours
	hub, _ := poker.(*poke.Hub)

	registry := replicache.NewRegistry()
	if err = mutators.Register(registry, mutators.WithLogger(zap.S())); err != nil {
		log.Fatalf("Failed to register mutators: %s", err)
	}

	log.Infof("Registered %d mutators", len(registry.Names()))

	svc := replicache.NewService(st, registry, poker, logger.For(logger.ComponentSync))
	server := api.NewServer(api.Options{
		Service: svc,
		Hub:     hub,
		Auth:    api.NewAuthenticator(cfg, logger.For(logger.ComponentAuth)),
		Logger:  zap.L(),
	})

	metricsServer := metrics.SetupMetricsEndpoint(cfg.MetricsAddr)

	g, gctx := errgroup.WithContext(ctx)

	var health *healthServer

	handler := shutdown.NewGracefulShutdown(func(shutdownCtx context.Context) error {
		cancel()

		err := g.Wait()

		if hub != nil {
			err = errors.Join(err, hub.Close())
		}

		err = errors.Join(err, metricsServer.Shutdown(shutdownCtx), health.Shutdown(shutdownCtx))
		st.Close()

		return err
	}, shutdown.DefaultTimeout, logger.For(logger.ComponentShutdown))

	health = startHealthcheck(cfg.HealthAddr, st, handler)

	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.HTTPAddr)
	})

	if hub != nil {
		g.Go(func() error {
			return hub.Run(gctx)
		})
	}

	go func() {
		// a failing server takes the process down like a signal would
		if err := g.Wait(); err != nil {
			log.Errorf("Server stopped: %s", err)
		}

		handler.Shutdown()
	}()

	if err = handler.Wait(); err != nil {
		log.Errorf("Shutdown failed: %s", err)
		os.Exit(1)
	}
}

// openStore returns the configured store. exec is the pool for the Postgres
// poke fanout and nil for the memory store.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, poke.Execer, error) {
	log := logger.For(logger.ComponentStore)

	if cfg.StoreBackend == config.StoreBackendMemory {
		log.Warn("Using the in-memory store, data is lost on restart")

		return memory.NewStore(), nil, nil
	}

	pg, err := postgres.Open(ctx, postgres.Options{
		ConnString:  cfg.Postgres.ConnString(),
		MaxConns:    int32(cfg.Postgres.MaxConns),
		AutoMigrate: cfg.Postgres.AutoMigrate,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	return pg, pg.Db, nil
}
