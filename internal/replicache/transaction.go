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
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	gojson "github.com/goccy/go-json"

	"github.com/lindylearn/unclutter-sync/internal/store"
)

var (
	// ErrAlreadyFlushed is returned by writes and Flush after Flush.
	ErrAlreadyFlushed = errors.New("write transaction already flushed")
	// ErrIndexScanUnsupported is returned for scans over a secondary index.
	ErrIndexScanUnsupported = errors.New("scan over index is not supported")
)

// StoreError is a failure of the underlying store seen through a
// WriteTransaction. Unlike mutator errors it aborts the push, so the
// surrounding transaction can be retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// cached is a read-through or pending value. A nil value means absent.
type cached struct {
	value json.RawMessage
	dirty bool
}

// WriteTransaction buffers the writes of one push on top of a store.Tx.
// Reads see buffered writes first. Nothing reaches the store until Flush,
// which stamps every write with the push's version.
//
// A WriteTransaction belongs to a single goroutine.
type WriteTransaction struct {
	tx       store.Tx
	spaceID  string
	clientID string
	version  int64
	cache    map[string]cached
	flushed  bool
}

// NewWriteTransaction binds a buffer to tx for the given space, client and
// target version.
func NewWriteTransaction(tx store.Tx, spaceID, clientID string, version int64) *WriteTransaction {
	return &WriteTransaction{
		tx:       tx,
		spaceID:  spaceID,
		clientID: clientID,
		version:  version,
		cache:    make(map[string]cached),
	}
}

// ClientID is the id of the client whose mutations run in this transaction.
func (t *WriteTransaction) ClientID() string {
	return t.clientID
}

// SpaceID is the space the transaction writes to.
func (t *WriteTransaction) SpaceID() string {
	return t.spaceID
}

// Version is the version stamped on flushed writes.
func (t *WriteTransaction) Version() int64 {
	return t.version
}

// Put stages value under key. value is marshalled unless it already is a
// json.RawMessage.
func (t *WriteTransaction) Put(ctx context.Context, key string, value any) error {
	if t.flushed {
		return ErrAlreadyFlushed
	}

	raw, err := marshalValue(value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}

	t.cache[key] = cached{value: raw, dirty: true}

	return nil
}

// Del stages a delete of key and reports whether it existed.
func (t *WriteTransaction) Del(ctx context.Context, key string) (bool, error) {
	if t.flushed {
		return false, ErrAlreadyFlushed
	}

	had, err := t.Has(ctx, key)
	if err != nil {
		return false, err
	}

	t.cache[key] = cached{dirty: true}

	return had, nil
}

// Get returns the value of key as seen by this transaction.
func (t *WriteTransaction) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if c, ok := t.cache[key]; ok {
		return c.value, c.value != nil, nil
	}

	value, found, err := t.tx.GetEntry(ctx, t.spaceID, key)
	if err != nil {
		return nil, false, &StoreError{Op: fmt.Sprintf("get %q", key), Err: err}
	}

	if !found {
		value = nil
	}

	t.cache[key] = cached{value: value}

	return value, found, nil
}

// GetInto decodes the value of key into v. found is false when key is absent.
func (t *WriteTransaction) GetInto(ctx context.Context, key string, v any) (bool, error) {
	raw, found, err := t.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}

	if err = gojson.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}

	return true, nil
}

// Has reports whether key has a value.
func (t *WriteTransaction) Has(ctx context.Context, key string) (bool, error) {
	_, found, err := t.Get(ctx, key)

	return found, err
}

// IsEmpty reports whether the space has no live entries.
func (t *WriteTransaction) IsEmpty(ctx context.Context) (bool, error) {
	it, err := t.Scan(ctx, ScanOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	defer it.Close()

	if it.Next(ctx) {
		return false, nil
	}

	return true, it.Err()
}

// Flush writes every staged change in key order. It must be called exactly once.
func (t *WriteTransaction) Flush(ctx context.Context) error {
	if t.flushed {
		return ErrAlreadyFlushed
	}

	t.flushed = true

	for _, key := range t.dirtyKeys("") {
		c := t.cache[key]
		if c.value == nil {
			if err := t.tx.DelEntry(ctx, t.spaceID, key, t.version); err != nil {
				return fmt.Errorf("flush del %q: %w", key, err)
			}

			continue
		}

		if err := t.tx.PutEntry(ctx, t.spaceID, key, c.value, t.version); err != nil {
			return fmt.Errorf("flush put %q: %w", key, err)
		}
	}

	return nil
}

// Pending is the number of staged writes.
func (t *WriteTransaction) Pending() int {
	n := 0

	for _, c := range t.cache {
		if c.dirty {
			n++
		}
	}

	return n
}

// dirtyKeys returns the sorted staged keys >= fromKey.
func (t *WriteTransaction) dirtyKeys(fromKey string) []string {
	keys := make([]string, 0, len(t.cache))

	for k, c := range t.cache {
		if c.dirty && k >= fromKey {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	return keys
}

func marshalValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if err := store.ValidJSON("", v); err != nil {
			return nil, err
		}

		return v, nil
	case nil:
		return json.RawMessage("null"), nil
	}

	raw, err := gojson.Marshal(value)
	if err != nil {
		return nil, err
	}

	return raw, nil
}
