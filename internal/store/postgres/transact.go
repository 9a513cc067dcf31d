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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lindylearn/unclutter-sync/internal/store"
	"github.com/lindylearn/unclutter-sync/pkg/backoff"
	"github.com/lindylearn/unclutter-sync/pkg/metrics"
)

func txOptions(opts store.TxOptions) pgx.TxOptions {
	if opts.ReadOnly {
		return pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly}
	}

	return pgx.TxOptions{IsoLevel: pgx.Serializable}
}

// Transact runs fn in a serializable transaction. Serialization failures and
// deadlocks restart the whole unit of work, up to maxAttempts times.
func (s *Store) Transact(ctx context.Context, opts store.TxOptions, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.attempt(ctx, opts, fn)
		if err == nil {
			metrics.IncTxAttempt(metrics.OutcomeSuccess)

			return nil
		}

		if !backoff.IsTransientError(err) {
			metrics.IncTxAttempt(metrics.OutcomeError)

			return err
		}

		metrics.IncTxAttempt(metrics.OutcomeRetry)
		lastErr = backoff.ExtractOriginalError(err)
		s.log.Infow("Retrying transaction", "attempt", attempt, "error", lastErr)

		if attempt == s.maxAttempts {
			break
		}

		metrics.IncTxRetry()

		if err = backoff.SleepBackedOff(ctx, int64(attempt), s.slotTime, s.maxBackoff); err != nil {
			return fmt.Errorf("transaction retry: %w", err)
		}
	}

	return backoff.NewPermanentError(fmt.Errorf("%w: %w", store.ErrTooManyRetries, lastErr))
}

// attempt runs one try. Retryable failures come back as transient errors.
func (s *Store) attempt(ctx context.Context, opts store.TxOptions, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	tx, err := s.Db.BeginTx(ctx, txOptions(opts))
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		rollbackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if errR := tx.Rollback(rollbackCtx); errR != nil && !errors.Is(errR, pgx.ErrTxClosed) {
			s.log.Errorf("Failed to rollback transaction: %s", errR)
		}
	}()

	if err = fn(ctx, &pgTx{db: tx}); err != nil {
		return classify(err)
	}

	if err = tx.Commit(ctx); err != nil {
		// a failed commit has already ended the transaction
		committed = true

		return classify(fmt.Errorf("commit transaction: %w", err))
	}

	committed = true

	return nil
}
