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

// Package postgres is the PostgreSQL backend of the sync store, built on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/internal/schema"
	"github.com/lindylearn/unclutter-sync/internal/store"
)

// PgxIface is the part of *pgxpool.Pool the store uses. pgxmock.PgxPoolIface satisfies it.
type PgxIface interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DBTX executes statements. Both pgx.Tx and the pool implement it.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var ErrSchemaMismatch = errors.New("database schema version mismatch")

const (
	defaultMaxAttempts = 10
	defaultSlotTime    = 5 * time.Millisecond
	defaultMaxBackoff  = 500 * time.Millisecond
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	Db  PgxIface
	log *zap.SugaredLogger

	maxAttempts int
	slotTime    time.Duration
	maxBackoff  time.Duration
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an existing pool (or mock).
func NewStore(db PgxIface, log *zap.SugaredLogger) *Store {
	return &Store{
		Db:          db,
		log:         log,
		maxAttempts: defaultMaxAttempts,
		slotTime:    defaultSlotTime,
		maxBackoff:  defaultMaxBackoff,
	}
}

// Options configure Open.
type Options struct {
	ConnString  string
	MaxConns    int32
	AutoMigrate bool
}

// Open connects the pool, waits for the database and checks the schema
// version. With AutoMigrate the schema is created or upgraded first.
func Open(ctx context.Context, opts Options, log *zap.SugaredLogger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres connection string: %w", err)
	}

	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}

	log.Infof("Connecting to %s@%s:%d/%s", poolConfig.ConnConfig.User, poolConfig.ConnConfig.Host,
		poolConfig.ConnConfig.Port, poolConfig.ConnConfig.Database)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	s := NewStore(pool, log)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err = s.Ping(pingCtx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("database is not available: %w", err)
	}

	if opts.AutoMigrate {
		if err = s.Migrate(ctx); err != nil {
			pool.Close()

			return nil, err
		}
	}

	if err = s.CheckSchemaVersion(ctx); err != nil {
		pool.Close()

		return nil, err
	}

	return s, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.Db.Close()
}

// CheckSchemaVersion compares meta.schemaVersion with the version this build expects.
func (s *Store) CheckSchemaVersion(ctx context.Context) error {
	var version string

	err := s.Db.QueryRow(ctx, schema.SelectVersionQuery, schema.VersionKey).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: no schema version recorded, run automigrate", ErrSchemaMismatch)
		}

		return fmt.Errorf("read schema version: %w", err)
	}

	if version != schema.Version {
		return fmt.Errorf("%w: database has %q, expected %q", ErrSchemaMismatch, version, schema.Version)
	}

	return nil
}

// Migrate applies the schema inside one serializable transaction.
func (s *Store) Migrate(ctx context.Context) error {
	return s.Transact(ctx, store.ReadWrite, func(ctx context.Context, tx store.Tx) error {
		exec := tx.(*pgTx).db

		for _, stmt := range schema.Statements() {
			if _, err := exec.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}

		s.log.Infow("Schema applied", "version", schema.Version)

		return nil
	})
}
