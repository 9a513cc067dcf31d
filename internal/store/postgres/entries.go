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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lindylearn/unclutter-sync/internal/store"
)

const (
	getEntryQuery = `select value from entry where spaceid = $1 and key = $2 and deleted = false`

	putEntryQuery = `insert into entry (spaceid, key, value, deleted, version, lastmodified)
		values ($1, $2, $3, false, $4, now())
		on conflict (spaceid, key) do update set
		value = $3, deleted = false, version = $4, lastmodified = now()`

	delEntryQuery = `update entry set deleted = true, version = $3, lastmodified = now()
		where spaceid = $1 and key = $2`

	getChangedEntriesQuery = `select key, value, deleted from entry
		where spaceid = $1 and version > $2 order by key collate "C"`

	getChangedEntriesBoundedQuery = `select key, value, deleted from entry
		where spaceid = $1 and version > $2 and version <= $3 order by key collate "C"`

	createSpaceQuery = `insert into space (id, version, lastmodified) values ($1, 0, now())
		on conflict (id) do nothing`

	spaceExistsQuery = `select exists(select 1 from space where id = $1)`

	getCookieQuery = `select version from space where id = $1`

	setCookieQuery = `update space set version = $2, lastmodified = now() where id = $1`

	getLastMutationIDQuery = `select lastmutationid from client where id = $1`

	setLastMutationIDQuery = `insert into client (id, lastmutationid, lastmodified)
		values ($1, $2, now())
		on conflict (id) do update set lastmutationid = $2, lastmodified = now()`
)

// GetEntry returns the live value of key. Deleted and missing keys report found=false.
func GetEntry(ctx context.Context, db DBTX, spaceID, key string) (json.RawMessage, bool, error) {
	var value string

	err := db.QueryRow(ctx, getEntryQuery, spaceID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("get entry %q: %w", key, err)
	}

	if err = store.ValidJSON(key, []byte(value)); err != nil {
		return nil, false, err
	}

	return json.RawMessage(value), true, nil
}

func PutEntry(ctx context.Context, db DBTX, spaceID, key string, value json.RawMessage, version int64) error {
	if _, err := db.Exec(ctx, putEntryQuery, spaceID, key, string(value), version); err != nil {
		return fmt.Errorf("put entry %q: %w", key, err)
	}

	return nil
}

func DelEntry(ctx context.Context, db DBTX, spaceID, key string, version int64) error {
	if _, err := db.Exec(ctx, delEntryQuery, spaceID, key, version); err != nil {
		return fmt.Errorf("delete entry %q: %w", key, err)
	}

	return nil
}

// GetChangedEntries returns all entries, tombstones included, changed after fromVersion.
func GetChangedEntries(ctx context.Context, db DBTX, spaceID string, fromVersion int64, toVersion *int64) ([]store.ChangedEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if toVersion == nil {
		rows, err = db.Query(ctx, getChangedEntriesQuery, spaceID, fromVersion)
	} else {
		rows, err = db.Query(ctx, getChangedEntriesBoundedQuery, spaceID, fromVersion, *toVersion)
	}

	if err != nil {
		return nil, fmt.Errorf("get changed entries: %w", err)
	}
	defer rows.Close()

	var changed []store.ChangedEntry

	for rows.Next() {
		var (
			key, value string
			deleted    bool
		)

		if err = rows.Scan(&key, &value, &deleted); err != nil {
			return nil, fmt.Errorf("scan changed entry: %w", err)
		}

		if !deleted {
			if err = store.ValidJSON(key, []byte(value)); err != nil {
				return nil, err
			}
		}

		changed = append(changed, store.ChangedEntry{Key: key, Value: json.RawMessage(value), Deleted: deleted})
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("get changed entries: %w", err)
	}

	return changed, nil
}

// CreateSpace inserts spaceID at version 0, or returns store.ErrSpaceExists.
// A conflicting insert does not abort the surrounding transaction.
func CreateSpace(ctx context.Context, db DBTX, spaceID string) error {
	tag, err := db.Exec(ctx, createSpaceQuery, spaceID)
	if err != nil {
		return fmt.Errorf("create space %q: %w", spaceID, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("create space %q: %w", spaceID, store.ErrSpaceExists)
	}

	return nil
}

func SpaceExists(ctx context.Context, db DBTX, spaceID string) (bool, error) {
	var exists bool
	if err := db.QueryRow(ctx, spaceExistsQuery, spaceID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check space %q: %w", spaceID, err)
	}

	return exists, nil
}

func GetCookie(ctx context.Context, db DBTX, spaceID string) (int64, bool, error) {
	var version int64

	err := db.QueryRow(ctx, getCookieQuery, spaceID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("get cookie of %q: %w", spaceID, err)
	}

	return version, true, nil
}

func SetCookie(ctx context.Context, db DBTX, spaceID string, version int64) error {
	if _, err := db.Exec(ctx, setCookieQuery, spaceID, version); err != nil {
		return fmt.Errorf("set cookie of %q: %w", spaceID, err)
	}

	return nil
}

func GetLastMutationID(ctx context.Context, db DBTX, clientID string) (int64, bool, error) {
	var id int64

	err := db.QueryRow(ctx, getLastMutationIDQuery, clientID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("get last mutation id of %q: %w", clientID, err)
	}

	return id, true, nil
}

func SetLastMutationID(ctx context.Context, db DBTX, clientID string, id int64) error {
	if _, err := db.Exec(ctx, setLastMutationIDQuery, clientID, id); err != nil {
		return fmt.Errorf("set last mutation id of %q: %w", clientID, err)
	}

	return nil
}

// pgTx binds the entry functions to one pgx transaction.
type pgTx struct {
	db DBTX
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) GetEntry(ctx context.Context, spaceID, key string) (json.RawMessage, bool, error) {
	return GetEntry(ctx, t.db, spaceID, key)
}

func (t *pgTx) PutEntry(ctx context.Context, spaceID, key string, value json.RawMessage, version int64) error {
	return PutEntry(ctx, t.db, spaceID, key, value, version)
}

func (t *pgTx) DelEntry(ctx context.Context, spaceID, key string, version int64) error {
	return DelEntry(ctx, t.db, spaceID, key, version)
}

func (t *pgTx) GetEntries(ctx context.Context, spaceID, fromKey string) store.EntryIterator {
	return newEntryIterator(t.db, spaceID, fromKey, defaultPageSize)
}

func (t *pgTx) GetChangedEntries(ctx context.Context, spaceID string, fromVersion int64, toVersion *int64) ([]store.ChangedEntry, error) {
	return GetChangedEntries(ctx, t.db, spaceID, fromVersion, toVersion)
}

func (t *pgTx) CreateSpace(ctx context.Context, spaceID string) error {
	return CreateSpace(ctx, t.db, spaceID)
}

func (t *pgTx) SpaceExists(ctx context.Context, spaceID string) (bool, error) {
	return SpaceExists(ctx, t.db, spaceID)
}

func (t *pgTx) GetCookie(ctx context.Context, spaceID string) (int64, bool, error) {
	return GetCookie(ctx, t.db, spaceID)
}

func (t *pgTx) SetCookie(ctx context.Context, spaceID string, version int64) error {
	return SetCookie(ctx, t.db, spaceID, version)
}

func (t *pgTx) GetLastMutationID(ctx context.Context, clientID string) (int64, bool, error) {
	return GetLastMutationID(ctx, t.db, clientID)
}

func (t *pgTx) SetLastMutationID(ctx context.Context, clientID string, id int64) error {
	return SetLastMutationID(ctx, t.db, clientID, id)
}
