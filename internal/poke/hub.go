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
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/pkg/metrics"
)

const (
	sourceLocal  = "local"
	sourceFanout = "fanout"
)

// Listener is called for every poke of the space it was registered for.
// It must not block.
type Listener func()

// Fanout relays pokes between processes. Publish sends a poke to every
// process, including the sender; Run delivers received pokes until ctx ends.
type Fanout interface {
	Publish(ctx context.Context, spaceID string) error
	Run(ctx context.Context, deliver func(spaceID string)) error
	Close() error
}

// Hub is the in-process registry of SSE listeners.
type Hub struct {
	mu        sync.Mutex
	listeners map[string]map[uuid.UUID]Listener

	fanout Fanout
	log    *zap.SugaredLogger
}

var _ Poker = (*Hub)(nil)

// NewHub creates a hub. fanout may be nil for a single process.
func NewHub(fanout Fanout, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Hub{
		listeners: make(map[string]map[uuid.UUID]Listener),
		fanout:    fanout,
		log:       log,
	}
}

// AddListener registers fn for spaceID. The returned function unregisters
// it and may be called more than once.
func (h *Hub) AddListener(spaceID string, fn Listener) (unregister func()) {
	id := uuid.New()

	h.mu.Lock()
	space, ok := h.listeners[spaceID]
	if !ok {
		space = make(map[uuid.UUID]Listener)
		h.listeners[spaceID] = space
	}
	space[id] = fn
	h.mu.Unlock()

	metrics.AddSSEListeners(1)
	h.log.Debugf("Added listener %s for space %s", id, spaceID)

	var once sync.Once

	return func() {
		once.Do(func() {
			h.removeListener(spaceID, id)
		})
	}
}

func (h *Hub) removeListener(spaceID string, id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	space := h.listeners[spaceID]
	if _, ok := space[id]; !ok {
		return
	}

	delete(space, id)
	if len(space) == 0 {
		delete(h.listeners, spaceID)
	}

	metrics.AddSSEListeners(-1)
	h.log.Debugf("Removed listener %s for space %s", id, spaceID)
}

// Listeners is the number of listeners registered for spaceID.
func (h *Hub) Listeners(spaceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.listeners[spaceID])
}

// Poke notifies the listeners of spaceID. With a fanout the poke is
// published and delivered when it comes back, so every process takes the
// same path.
func (h *Hub) Poke(ctx context.Context, spaceID string) error {
	if h.fanout != nil {
		if err := h.fanout.Publish(ctx, spaceID); err != nil {
			return fmt.Errorf("publish poke for space %s: %w", spaceID, err)
		}

		return nil
	}

	h.deliver(sourceLocal, spaceID)

	return nil
}

// Run relays pokes from the fanout until ctx ends. Without a fanout it just
// waits for ctx.
func (h *Hub) Run(ctx context.Context) error {
	if h.fanout == nil {
		<-ctx.Done()

		return nil
	}

	err := h.fanout.Run(ctx, func(spaceID string) {
		h.deliver(sourceFanout, spaceID)
	})
	if ctx.Err() != nil {
		return nil
	}

	return err
}

// Close releases the fanout connection.
func (h *Hub) Close() error {
	if h.fanout == nil {
		return nil
	}

	return h.fanout.Close()
}

func (h *Hub) deliver(source, spaceID string) {
	metrics.IncPoke(source)

	h.mu.Lock()
	fns := make([]Listener, 0, len(h.listeners[spaceID]))
	for _, fn := range h.listeners[spaceID] {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	h.log.Debugf("Poking %d listeners of space %s", len(fns), spaceID)

	for _, fn := range fns {
		h.call(spaceID, fn)
	}
}

func (h *Hub) call(spaceID string, fn Listener) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Errorf("Listener of space %s panicked: %v", spaceID, r)
		}
	}()

	fn()
}
