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

// Package store defines the durable key/value model shared by the sync
// backends: spaces with a version counter, clients with their last applied
// mutation id, and versioned entries that are tombstoned instead of deleted.
package store

import (
	"context"
	"encoding/json"
	"errors"

	gojson "github.com/goccy/go-json"
)

var (
	// ErrUnknownSpace is returned when a space has no row (no cookie).
	ErrUnknownSpace = errors.New("unknown space")
	// ErrSpaceExists is returned by CreateSpace for an existing id.
	ErrSpaceExists = errors.New("space already exists")
	// ErrTooManyRetries is returned when a transaction kept failing with
	// serialization failures or deadlocks.
	ErrTooManyRetries = errors.New("tried to execute transaction too many times, giving up")
	// ErrInvalidJSON is returned when a stored value does not parse as JSON.
	ErrInvalidJSON = errors.New("stored value is not valid JSON")
)

// Entry is a live key/value pair.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// ChangedEntry is an entry changed after some version; Deleted marks a tombstone.
type ChangedEntry struct {
	Key     string
	Value   json.RawMessage
	Deleted bool
}

// EntryIterator walks live entries in ascending key order.
//
//	for it.Next(ctx) {
//		e := it.Entry()
//	}
//	if err := it.Err(); err != nil { ... }
type EntryIterator interface {
	Next(ctx context.Context) bool
	Entry() Entry
	Err() error
	Close()
}

// Tx is the entry access layer bound to one transaction. A Tx is used by a
// single goroutine and is only valid inside the Transact callback.
type Tx interface {
	// GetEntry returns the live value of key. Missing and deleted entries report found=false.
	GetEntry(ctx context.Context, spaceID, key string) (value json.RawMessage, found bool, err error)
	// PutEntry upserts key, clears its tombstone and stamps version.
	PutEntry(ctx context.Context, spaceID, key string, value json.RawMessage, version int64) error
	// DelEntry tombstones key at version. Missing keys are left alone.
	DelEntry(ctx context.Context, spaceID, key string, version int64) error
	// GetEntries iterates live entries with key >= fromKey.
	GetEntries(ctx context.Context, spaceID, fromKey string) EntryIterator
	// GetChangedEntries returns entries (tombstones included) with
	// fromVersion < version <= toVersion, ordered by key. A nil toVersion is unbounded.
	GetChangedEntries(ctx context.Context, spaceID string, fromVersion int64, toVersion *int64) ([]ChangedEntry, error)

	CreateSpace(ctx context.Context, spaceID string) error
	SpaceExists(ctx context.Context, spaceID string) (bool, error)
	GetCookie(ctx context.Context, spaceID string) (version int64, found bool, err error)
	SetCookie(ctx context.Context, spaceID string, version int64) error

	GetLastMutationID(ctx context.Context, clientID string) (id int64, found bool, err error)
	SetLastMutationID(ctx context.Context, clientID string, id int64) error
}

// TxOptions configures a unit of work.
type TxOptions struct {
	ReadOnly bool
}

var (
	// ReadWrite is the default for push.
	ReadWrite = TxOptions{}
	// ReadOnly is used by pull.
	ReadOnly = TxOptions{ReadOnly: true}
)

// Store runs units of work with serializable isolation. fn may be invoked
// more than once when the backend retries; it must not keep side effects
// outside of tx between attempts.
type Store interface {
	Transact(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close()
}

// ValidJSON reports ErrInvalidJSON for values that do not parse.
func ValidJSON(key string, value []byte) error {
	if !gojson.Valid(value) {
		return &InvalidJSONError{Key: key}
	}

	return nil
}

type InvalidJSONError struct {
	Key string
}

func (e *InvalidJSONError) Error() string {
	return "entry " + e.Key + ": " + ErrInvalidJSON.Error()
}

func (e *InvalidJSONError) Unwrap() error {
	return ErrInvalidJSON
}
