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
	"fmt"

	"github.com/lindylearn/unclutter-sync/internal/store"
)

const (
	defaultPageSize = 100

	firstPageQuery = `select key, value from entry
		where spaceid = $1 and key >= $2 collate "C" and deleted = false order by key collate "C" limit $3`

	nextPageQuery = `select key, value from entry
		where spaceid = $1 and key > $2 collate "C" and deleted = false order by key collate "C" limit $3`
)

// entryIterator reads live entries page by page. Each page is fully read and
// its rows closed before Next returns, so the connection stays free for
// other statements between calls.
type entryIterator struct {
	db       DBTX
	spaceID  string
	fromKey  string
	pageSize int

	page    []store.Entry
	pos     int
	started bool
	done    bool
	err     error
}

func newEntryIterator(db DBTX, spaceID, fromKey string, pageSize int) *entryIterator {
	return &entryIterator{
		db:       db,
		spaceID:  spaceID,
		fromKey:  fromKey,
		pageSize: pageSize,
		pos:      -1,
	}
}

func (it *entryIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}

	it.pos++
	if it.pos < len(it.page) {
		return true
	}

	if it.done {
		return false
	}

	if err := it.fetch(ctx); err != nil {
		it.err = err

		return false
	}

	it.pos = 0

	return len(it.page) > 0
}

func (it *entryIterator) fetch(ctx context.Context) error {
	query, after := firstPageQuery, it.fromKey
	if it.started {
		query, after = nextPageQuery, it.page[len(it.page)-1].Key
	}

	it.started = true

	rows, err := it.db.Query(ctx, query, it.spaceID, after, it.pageSize)
	if err != nil {
		return fmt.Errorf("get entries: %w", err)
	}
	defer rows.Close()

	page := make([]store.Entry, 0, it.pageSize)

	for rows.Next() {
		var key, value string
		if err = rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan entry: %w", err)
		}

		if err = store.ValidJSON(key, []byte(value)); err != nil {
			return err
		}

		page = append(page, store.Entry{Key: key, Value: json.RawMessage(value)})
	}

	if err = rows.Err(); err != nil {
		return fmt.Errorf("get entries: %w", err)
	}

	it.page = page
	it.done = len(page) < it.pageSize

	return nil
}

func (it *entryIterator) Entry() store.Entry {
	return it.page[it.pos]
}

func (it *entryIterator) Err() error {
	return it.err
}

func (it *entryIterator) Close() {
	it.done = true
	it.page = nil
	it.pos = 0
}
