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

// Package replicache implements the server half of the Replicache sync
// protocol on top of a store.Store.
//
// A push replays client mutations inside one serializable transaction and
// bumps the space version exactly once. A pull returns every entry changed
// since the version in the client's cookie. Pokes tell connected clients
// that a pull is worth doing.
package replicache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/internal/store"
)

// Poker notifies clients of a space that its version changed.
type Poker interface {
	Poke(ctx context.Context, spaceID string) error
}

// Service serves push, pull and space management for all spaces.
type Service struct {
	store    store.Store
	mutators *Registry
	poker    Poker
	log      *zap.SugaredLogger
}

// NewService wires the protocol handlers. poker may be nil when nobody needs
// to be notified.
func NewService(st store.Store, mutators *Registry, poker Poker, log *zap.SugaredLogger) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Service{
		store:    st,
		mutators: mutators,
		poker:    poker,
		log:      log,
	}
}

// CreateSpace creates spaceID at version 0. created is false when it already existed.
func (s *Service) CreateSpace(ctx context.Context, spaceID string) (created bool, err error) {
	if spaceID == "" {
		return false, &ValidationError{Err: errors.New("spaceID is required")}
	}

	err = s.store.Transact(ctx, store.ReadWrite, func(ctx context.Context, tx store.Tx) error {
		created = false

		exists, err := tx.SpaceExists(ctx, spaceID)
		if err != nil || exists {
			return err
		}

		if err = tx.CreateSpace(ctx, spaceID); err != nil {
			if errors.Is(err, store.ErrSpaceExists) {
				return nil
			}

			return err
		}

		created = true

		return nil
	})
	if err != nil {
		return false, fmt.Errorf("create space %s: %w", spaceID, err)
	}

	if created {
		s.log.Infof("Created space %s", spaceID)
	}

	return created, nil
}

// SpaceExists reports whether spaceID has been created.
func (s *Service) SpaceExists(ctx context.Context, spaceID string) (exists bool, err error) {
	err = s.store.Transact(ctx, store.ReadOnly, func(ctx context.Context, tx store.Tx) error {
		exists, err = tx.SpaceExists(ctx, spaceID)

		return err
	})

	return exists, err
}

func (s *Service) poke(ctx context.Context, spaceID string) {
	if s.poker == nil {
		return
	}

	if err := s.poker.Poke(ctx, spaceID); err != nil {
		s.log.Warnf("Failed to poke space %s: %s", spaceID, err)
	}
}
