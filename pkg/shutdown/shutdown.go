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

package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the time shutdown tasks get before they are abandoned.
// Kubernetes sends SIGKILL 30 seconds after SIGTERM.
const DefaultTimeout = 25 * time.Second

type GracefulShutdownHandler interface {
	Shutdown()             // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool    // Quickly checks if a shutdown is in progress.
	Done() <-chan struct{} // Closed once shutdown has started.
	Wait() error           // Blocks until shutdown tasks are complete.
}

type gracefulShutdown struct {
	quit         chan os.Signal
	done         chan struct{}
	shuttingDown atomic.Bool
	wg           sync.WaitGroup
	err          error
	log          *zap.SugaredLogger
}

// NewGracefulShutdown starts waiting for SIGINT/SIGTERM (or Shutdown). On the
// first of them, Done is closed and onShutdown runs with a context bounded by timeout.
func NewGracefulShutdown(onShutdown func(ctx context.Context) error, timeout time.Duration, log *zap.SugaredLogger) GracefulShutdownHandler {
	gs := &gracefulShutdown{
		quit: make(chan os.Signal, 1),
		done: make(chan struct{}),
		log:  log,
	}

	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)
	gs.wg.Add(1)

	go func() {
		defer gs.wg.Done()
		defer signal.Stop(gs.quit)

		sig := <-gs.quit
		gs.shuttingDown.Store(true)
		close(gs.done)
		gs.log.Infow("Received signal, shutting down", "signal", sig.String())

		if onShutdown == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		gs.log.Infow("Waiting for shutdown tasks to complete", "timeout", timeout)

		if err := onShutdown(ctx); err != nil {
			gs.log.Errorw("Error during shutdown", "error", err)
			gs.err = err

			return
		}

		gs.log.Info("Shutdown tasks completed. Ready to exit.")
	}()

	return gs
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	return gs.shuttingDown.Load()
}

func (gs *gracefulShutdown) Shutdown() {
	select {
	case gs.quit <- syscall.SIGTERM:
	default:
	}
}

func (gs *gracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

func (gs *gracefulShutdown) Wait() error {
	gs.wg.Wait()

	return gs.err
}
