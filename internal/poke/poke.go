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

// Package poke tells connected clients that a space changed so they pull.
//
// Two backends exist. The SSE Hub keeps listeners of this process and, with a
// Fanout, relays pokes between processes over Redis or Postgres NOTIFY. The
// Managed backend leaves notification to Supabase Realtime, which watches the
// space table itself, so its Poke does nothing.
package poke

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/internal/config"
)

// Poker notifies the clients of a space.
type Poker interface {
	Poke(ctx context.Context, spaceID string) error
}

// Managed is the poke backend for Supabase Realtime.
type Managed struct{}

func (Managed) Poke(context.Context, string) error {
	return nil
}

// New builds the poke backend selected by cfg. exec is used by the Postgres
// fanout to publish and may be nil otherwise.
func New(cfg *config.Config, exec Execer, log *zap.SugaredLogger) (Poker, error) {
	switch cfg.PokeBackend {
	case config.PokeBackendSupabase:
		log.Infof("Using Supabase Realtime for pokes (%s)", cfg.Supabase.URL)

		return Managed{}, nil
	case config.PokeBackendSSE:
	default:
		return nil, fmt.Errorf("%w: poke backend %q", config.ErrInvalidConfig, cfg.PokeBackend)
	}

	var fanout Fanout

	switch cfg.PokeFanout {
	case config.FanoutNone, "":
	case config.FanoutRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		fanout = NewRedisFanout(client, log)
	case config.FanoutPostgres:
		if exec == nil {
			return nil, fmt.Errorf("%w: postgres fanout needs a postgres store", config.ErrInvalidConfig)
		}

		fanout = NewPostgresFanout(exec, cfg.Postgres.ConnString(), log)
	default:
		return nil, fmt.Errorf("%w: poke fanout %q", config.ErrInvalidConfig, cfg.PokeFanout)
	}

	log.Infof("Using SSE for pokes (fanout: %s)", cfg.PokeFanout)

	return NewHub(fanout, log), nil
}
