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

package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/omeid/pgerror"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/pkg/backoff"
)

// CurrentVersion returns the applied schema version, or "" when the database is empty.
func CurrentVersion(ctx context.Context, db *sql.DB) (string, error) {
	var version string

	err := db.QueryRowContext(ctx, SelectVersionQuery, VersionKey).Scan(&version)
	if err == nil {
		return version, nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pgerror.UndefinedTable(pqErr) != nil {
		return "", nil
	}

	return "", fmt.Errorf("read schema version: %w", err)
}

const (
	maxMigrateAttempts = 5
	migrateRetrySlot   = 100 * time.Millisecond
	migrateRetryMax    = 2 * time.Second
)

// Migrate brings the database to Version. It returns whether anything was
// applied. A migration that loses a serialization conflict, for example to a
// server auto-migrating at the same time, is retried from the version check.
func Migrate(ctx context.Context, db *sql.DB, log *zap.SugaredLogger) (bool, error) {
	for attempt := int64(0); ; attempt++ {
		applied, err := migrate(ctx, db, log)
		if err == nil || !ShouldRetry(err) || attempt+1 >= maxMigrateAttempts {
			return applied, err
		}

		log.Infow("Migration conflicted, retrying", "attempt", attempt+1, "error", err)

		if err = backoff.SleepBackedOff(ctx, attempt, migrateRetrySlot, migrateRetryMax); err != nil {
			return false, err
		}
	}
}

// ShouldRetry reports serialization failures and deadlocks from lib/pq.
func ShouldRetry(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return pgerror.SerializationFailure(pqErr) != nil || pgerror.DeadlockDetected(pqErr) != nil
}

func migrate(ctx context.Context, db *sql.DB, log *zap.SugaredLogger) (bool, error) {
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return false, err
	}

	if current == Version {
		log.Infow("Schema is up to date", "version", current)

		return false, nil
	}

	log.Infow("Applying schema", "from", current, "to", Version)

	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, fmt.Errorf("begin migration: %w", err)
	}

	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			if errR := tx.Rollback(); errR != nil {
				log.Errorf("Error while rolling back transaction: %v", errR)
			}

			return false, fmt.Errorf("apply schema: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit migration: %w", err)
	}

	log.Infow("Schema applied", "version", Version)

	return true, nil
}
