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

// Package memory provides an in-memory implementation of store.Store.
//
// It backs the test suites and the STORE_BACKEND=memory mode of the server,
// where data does not need to survive a restart.
//
// # Transaction Isolation
//
// Units of work run one at a time under a process-wide mutex, which makes
// them trivially serializable:
//   - a read-write unit works on a private copy of the state
//   - the copy replaces the committed state only when fn returns nil
//   - a read-only unit reads the committed state directly and rejects writes
//
// Because nothing ever conflicts, Transact never retries.
//
// # Data Isolation
//
// Values are copied on write and on read, so callers cannot modify stored bytes.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lindylearn/unclutter-sync/internal/store"
)

// ErrReadOnly is returned by writes inside a read-only unit of work.
var ErrReadOnly = errors.New("write in read-only transaction")

type row struct {
	value   json.RawMessage
	deleted bool
	version int64
}

type state struct {
	spaces  map[string]int64
	clients map[string]int64
	entries map[string]map[string]row
}

func newState() *state {
	return &state{
		spaces:  make(map[string]int64),
		clients: make(map[string]int64),
		entries: make(map[string]map[string]row),
	}
}

func (s *state) clone() *state {
	c := &state{
		spaces:  make(map[string]int64, len(s.spaces)),
		clients: make(map[string]int64, len(s.clients)),
		entries: make(map[string]map[string]row, len(s.entries)),
	}

	for k, v := range s.spaces {
		c.spaces[k] = v
	}

	for k, v := range s.clients {
		c.clients[k] = v
	}

	// rows are replaced, never mutated in place, so copying the inner maps is enough
	for space, rows := range s.entries {
		inner := make(map[string]row, len(rows))
		for k, r := range rows {
			inner[k] = r
		}

		c.entries[space] = inner
	}

	return c
}

// Store is a thread-safe in-memory store.Store.
type Store struct {
	mu        sync.Mutex
	committed *state
}

var _ store.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{committed: newState()}
}

// Transact runs fn with exclusive access. See the package documentation.
func (m *Store) Transact(ctx context.Context, opts store.TxOptions, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.ReadOnly {
		return fn(ctx, &memTx{state: m.committed, readOnly: true})
	}

	working := m.committed.clone()
	if err := fn(ctx, &memTx{state: working}); err != nil {
		return err
	}

	m.committed = working

	return nil
}

// Ping always succeeds.
func (m *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (m *Store) Close() {}

type memTx struct {
	state    *state
	readOnly bool
}

var _ store.Tx = (*memTx)(nil)

func copyValue(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}

	out := make(json.RawMessage, len(v))
	copy(out, v)

	return out
}

func (t *memTx) writable() error {
	if t.readOnly {
		return ErrReadOnly
	}

	return nil
}

func (t *memTx) GetEntry(ctx context.Context, spaceID, key string) (json.RawMessage, bool, error) {
	r, ok := t.state.entries[spaceID][key]
	if !ok || r.deleted {
		return nil, false, nil
	}

	return copyValue(r.value), true, nil
}

func (t *memTx) PutEntry(ctx context.Context, spaceID, key string, value json.RawMessage, version int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	if err := store.ValidJSON(key, value); err != nil {
		return fmt.Errorf("put entry %q: %w", key, err)
	}

	rows, ok := t.state.entries[spaceID]
	if !ok {
		rows = make(map[string]row)
		t.state.entries[spaceID] = rows
	}

	rows[key] = row{value: copyValue(value), version: version}

	return nil
}

func (t *memTx) DelEntry(ctx context.Context, spaceID, key string, version int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	r, ok := t.state.entries[spaceID][key]
	if !ok {
		return nil
	}

	r.deleted = true
	r.version = version
	t.state.entries[spaceID][key] = r

	return nil
}

func (t *memTx) GetEntries(ctx context.Context, spaceID, fromKey string) store.EntryIterator {
	rows := t.state.entries[spaceID]
	entries := make([]store.Entry, 0, len(rows))

	for k, r := range rows {
		if r.deleted || k < fromKey {
			continue
		}

		entries = append(entries, store.Entry{Key: k, Value: copyValue(r.value)})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	return &sliceIterator{entries: entries, pos: -1}
}

func (t *memTx) GetChangedEntries(ctx context.Context, spaceID string, fromVersion int64, toVersion *int64) ([]store.ChangedEntry, error) {
	var changed []store.ChangedEntry

	for k, r := range t.state.entries[spaceID] {
		if r.version <= fromVersion || (toVersion != nil && r.version > *toVersion) {
			continue
		}

		changed = append(changed, store.ChangedEntry{Key: k, Value: copyValue(r.value), Deleted: r.deleted})
	}

	sort.Slice(changed, func(i, j int) bool { return changed[i].Key < changed[j].Key })

	return changed, nil
}

func (t *memTx) CreateSpace(ctx context.Context, spaceID string) error {
	if err := t.writable(); err != nil {
		return err
	}

	if _, ok := t.state.spaces[spaceID]; ok {
		return fmt.Errorf("create space %q: %w", spaceID, store.ErrSpaceExists)
	}

	t.state.spaces[spaceID] = 0

	return nil
}

func (t *memTx) SpaceExists(ctx context.Context, spaceID string) (bool, error) {
	_, ok := t.state.spaces[spaceID]

	return ok, nil
}

func (t *memTx) GetCookie(ctx context.Context, spaceID string) (int64, bool, error) {
	v, ok := t.state.spaces[spaceID]

	return v, ok, nil
}

func (t *memTx) SetCookie(ctx context.Context, spaceID string, version int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	// mirrors an UPDATE without a matching row
	if _, ok := t.state.spaces[spaceID]; !ok {
		return nil
	}

	t.state.spaces[spaceID] = version

	return nil
}

func (t *memTx) GetLastMutationID(ctx context.Context, clientID string) (int64, bool, error) {
	v, ok := t.state.clients[clientID]

	return v, ok, nil
}

func (t *memTx) SetLastMutationID(ctx context.Context, clientID string, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}

	t.state.clients[clientID] = id

	return nil
}

type sliceIterator struct {
	entries []store.Entry
	pos     int
	err     error
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		it.err = err

		return false
	}

	it.pos++

	return it.pos < len(it.entries)
}

func (it *sliceIterator) Entry() store.Entry {
	return it.entries[it.pos]
}

func (it *sliceIterator) Err() error {
	return it.err
}

func (it *sliceIterator) Close() {
	it.entries = nil
}
