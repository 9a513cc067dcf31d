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
	"database/sql"
	"fmt"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/pkg/backoff"
)

const maxConnectAttempts = 10

// setupDB opens the database and waits until it answers pings.
func setupDB(ctx context.Context, connString string, health healthcheck.Handler) (*sql.DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(2)

	for attempt := int64(0); ; attempt++ {
		if err = isPostgresAvailable(ctx, db); err == nil {
			break
		}

		if attempt+1 >= maxConnectAttempts {
			_ = db.Close()

			return nil, err
		}

		zap.S().Infof("Postgres not yet available (attempt %d): %s", attempt+1, err)

		if err = backoff.SleepBackedOff(ctx, attempt, 500*time.Millisecond, 10*time.Second); err != nil {
			_ = db.Close()

			return nil, err
		}
	}

	health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db, time.Second))
	health.AddLivenessCheck("database", healthcheck.DatabasePingCheck(db, 30*time.Second))

	return db, nil
}

func isPostgresAvailable(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.PingContext(ctx)
}

func shutdownDB(db *sql.DB) {
	zap.S().Infof("Closing database connection")

	if err := db.Close(); err != nil {
		zap.S().Errorf("Error closing database: %s", err)
	}
}
