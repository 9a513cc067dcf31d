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

// automigrate applies the sync schema and exits. Run it as an init container
// or job before the sync servers start.
package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	_ "github.com/lib/pq"

	"github.com/lindylearn/unclutter-sync/internal/config"
	"github.com/lindylearn/unclutter-sync/internal/schema"
	"github.com/lindylearn/unclutter-sync/pkg/logger"
	"github.com/lindylearn/unclutter-sync/pkg/metrics"
	"github.com/lindylearn/unclutter-sync/pkg/sentry"
)

var appVersion = sentry.DefaultAppVersion

func main() {
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentMigrate)
	log.Infof("This is automigrate %s", appVersion)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}

	sentry.InitSentry(cfg.SentryDSN, appVersion, false)

	metricsServer := metrics.SetupMetricsEndpoint(cfg.MetricsAddr)
	defer func() { _ = metricsServer.Close() }()

	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))

	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: health, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Error starting healthcheck: %s", err)
		}
	}()
	defer func() { _ = healthServer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := setupDB(ctx, cfg.Postgres.ConnString(), health)
	if err != nil {
		log.Fatalf("Postgres not available: %s", err)
	}
	defer shutdownDB(db)

	applied, err := schema.Migrate(ctx, db, log)
	if err != nil {
		// panics after reporting
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "migration failed: %w", err)
	}

	if applied {
		log.Infof("Migrated to schema %s", schema.Version)
	}
}
