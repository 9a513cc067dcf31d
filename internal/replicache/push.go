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

package replicache

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/lindylearn/unclutter-sync/internal/store"
	"github.com/lindylearn/unclutter-sync/pkg/metrics"
	"github.com/lindylearn/unclutter-sync/pkg/sentry"
)

type mutationOutcome struct {
	name    string
	outcome string
	err     error
}

// Push applies the mutations in body to spaceID. See the package documentation.
func (s *Service) Push(ctx context.Context, spaceID string, body []byte) (PushResult, error) {
	start := time.Now()

	req, err := DecodePush(body)
	if err != nil {
		return PushResult{}, err
	}

	s.log.Debugf("Processing push for space %s from client %s (%d mutations)", spaceID, req.ClientID, len(req.Mutations))

	var (
		result   PushResult
		outcomes []mutationOutcome
	)

	err = s.store.Transact(ctx, store.ReadWrite, func(ctx context.Context, tx store.Tx) error {
		// fn may run again after a serialization failure
		result = PushResult{}
		outcomes = outcomes[:0]

		prevVersion, found, err := tx.GetCookie(ctx, spaceID)
		if err != nil {
			return err
		}

		if !found {
			return fmt.Errorf("%w: %s", store.ErrUnknownSpace, spaceID)
		}

		nextVersion := prevVersion + 1

		lastMutationID, _, err := tx.GetLastMutationID(ctx, req.ClientID)
		if err != nil {
			return err
		}

		wtx := NewWriteTransaction(tx, spaceID, req.ClientID, nextVersion)

		for _, m := range req.Mutations {
			expected := lastMutationID + 1
			id := *m.ID

			if id < expected {
				s.log.Debugf("Mutation %d has already been processed, skipping", id)
				result.Skipped++

				continue
			}

			if id > expected {
				s.log.Warnf("Mutation %d from client %s is from the future (expected %d), aborting batch", id, req.ClientID, expected)

				break
			}

			o := s.apply(ctx, wtx, m)

			var storeErr *StoreError
			if errors.As(o.err, &storeErr) {
				return storeErr
			}

			outcomes = append(outcomes, o)
			lastMutationID = expected
		}

		if err = tx.SetLastMutationID(ctx, req.ClientID, lastMutationID); err != nil {
			return err
		}

		if err = tx.SetCookie(ctx, spaceID, nextVersion); err != nil {
			return err
		}

		if err = wtx.Flush(ctx); err != nil {
			return err
		}

		result.PrevVersion = prevVersion
		result.Version = nextVersion
		result.LastMutationID = lastMutationID

		return nil
	})
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentPush)

		return PushResult{}, fmt.Errorf("push to space %s: %w", spaceID, err)
	}

	for _, o := range outcomes {
		metrics.IncMutation(o.name, o.outcome)

		switch o.outcome {
		case metrics.OutcomeSuccess:
			result.Applied++
		case metrics.OutcomeError:
			result.Failed++
			sentry.ReportMutatorError(s.log, spaceID, req.ClientID, o.name, o.err)
		default:
			result.Skipped++
		}
	}

	// the commit is done, other devices must hear about it even if this client left
	s.poke(context.WithoutCancel(ctx), spaceID)

	elapsed := time.Since(start)
	metrics.ObserveRequestTime(metrics.ComponentPush, elapsed)
	s.log.Debugf("Processed push for space %s in %s: version %d -> %d, lastMutationID %d",
		spaceID, elapsed, result.PrevVersion, result.Version, result.LastMutationID)

	return result, nil
}

// apply runs one mutator. Failures and panics are recorded but never abort
// the push: the mutation still counts as processed.
func (s *Service) apply(ctx context.Context, wtx *WriteTransaction, m Mutation) (o mutationOutcome) {
	o = mutationOutcome{name: m.Name, outcome: metrics.OutcomeSuccess}

	fn, ok := s.mutators.Lookup(m.Name)
	if !ok {
		s.log.Warnf("Unknown mutator %q, skipping", m.Name)
		o.name = metrics.OutcomeUnknown
		o.outcome = metrics.OutcomeSkipped

		return o
	}

	defer func() {
		if r := recover(); r != nil {
			o.outcome = metrics.OutcomeError
			o.err = fmt.Errorf("mutator %s panicked: %v\n%s", m.Name, r, debug.Stack())
		}
	}()

	if err := fn(ctx, wtx, m.Args); err != nil {
		o.outcome = metrics.OutcomeError
		o.err = fmt.Errorf("mutator %s: %w", m.Name, err)
	}

	return o
}
