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

package poke

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/pkg/backoff"
)

// PostgresChannel is the NOTIFY channel pokes are relayed on.
const PostgresChannel = "replicache_poke"

const (
	listenSlotTime   = 100 * time.Millisecond
	listenMaxBackoff = 30 * time.Second
)

// Execer runs a statement. The postgres store pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresFanout relays pokes with NOTIFY. Publishing goes through the
// shared pool; listening needs a connection of its own, which is opened
// from connString and reopened with backoff when it drops.
type PostgresFanout struct {
	exec       Execer
	connString string
	channel    string
	log        *zap.SugaredLogger

	connect func(ctx context.Context, connString string) (*pgx.Conn, error)
}

var _ Fanout = (*PostgresFanout)(nil)

func NewPostgresFanout(exec Execer, connString string, log *zap.SugaredLogger) *PostgresFanout {
	return &PostgresFanout{
		exec:       exec,
		connString: connString,
		channel:    PostgresChannel,
		log:        log,
		connect:    pgx.Connect,
	}
}

func (p *PostgresFanout) Publish(ctx context.Context, spaceID string) error {
	if _, err := p.exec.Exec(ctx, "select pg_notify($1, $2)", p.channel, spaceID); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}

	return nil
}

// Run listens until ctx ends.
func (p *PostgresFanout) Run(ctx context.Context, deliver func(spaceID string)) error {
	var retries int64

	for {
		err := p.listen(ctx, deliver, func() { retries = 0 })
		if ctx.Err() != nil {
			return nil
		}

		retries++
		p.log.Warnf("Listening on %s failed (attempt %d): %s", p.channel, retries, err)

		if err = backoff.SleepBackedOff(ctx, retries, listenSlotTime, listenMaxBackoff); err != nil {
			return nil
		}
	}
}

func (p *PostgresFanout) listen(ctx context.Context, deliver func(spaceID string), connected func()) error {
	conn, err := p.connect(ctx, p.connString)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = conn.Close(closeCtx)
	}()

	if _, err = conn.Exec(ctx, "listen "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	connected()
	p.log.Infof("Listening for pokes on %s", p.channel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		deliver(n.Payload)
	}
}

// Close is a no-op: the listening connection is closed when Run returns and
// the pool belongs to the store.
func (p *PostgresFanout) Close() error {
	return nil
}
