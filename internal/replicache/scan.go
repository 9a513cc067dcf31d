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
	"strings"

	"github.com/lindylearn/unclutter-sync/internal/store"
)

// ScanOptions selects a key range. Limit <= 0 means unlimited.
type ScanOptions struct {
	Prefix         string
	StartKey       string
	StartExclusive bool
	Limit          int
	IndexName      string
}

// fromKey is the larger of StartKey and Prefix.
func (o ScanOptions) fromKey() string {
	if o.StartKey > o.Prefix {
		return o.StartKey
	}

	return o.Prefix
}

// ScanIterator yields entries of a WriteTransaction in key order, merging
// persisted entries with staged writes. Staged writes win on equal keys and
// staged deletes hide persisted entries.
type ScanIterator struct {
	opts ScanOptions

	persisted   store.EntryIterator
	persistedOK bool
	overlay     []store.Entry
	pos         int

	current store.Entry
	emitted int
	done    bool
	err     error
}

// Scan iterates over the entries selected by opts. The iterator must be
// closed. Writes made while iterating are not observed.
func (t *WriteTransaction) Scan(ctx context.Context, opts ScanOptions) (*ScanIterator, error) {
	if opts.IndexName != "" {
		return nil, ErrIndexScanUnsupported
	}

	from := opts.fromKey()

	keys := t.dirtyKeys(from)
	overlay := make([]store.Entry, 0, len(keys))

	for _, k := range keys {
		overlay = append(overlay, store.Entry{Key: k, Value: t.cache[k].value})
	}

	it := &ScanIterator{
		opts:      opts,
		persisted: t.tx.GetEntries(ctx, t.spaceID, from),
		overlay:   overlay,
	}
	it.advancePersisted(ctx)

	return it, nil
}

// ScanAll collects the entries selected by opts.
func (t *WriteTransaction) ScanAll(ctx context.Context, opts ScanOptions) ([]store.Entry, error) {
	it, err := t.Scan(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []store.Entry
	for it.Next(ctx) {
		out = append(out, it.Entry())
	}

	return out, it.Err()
}

func (it *ScanIterator) advancePersisted(ctx context.Context) {
	it.persistedOK = it.persisted.Next(ctx)
	if !it.persistedOK {
		if err := it.persisted.Err(); err != nil {
			it.err = &StoreError{Op: "scan", Err: err}
		}
	}
}

// merged returns the next entry of the two-way merge. Entries with a nil
// value are staged deletes and are returned too; Next drops them.
func (it *ScanIterator) merged(ctx context.Context) (store.Entry, bool) {
	hasOverlay := it.pos < len(it.overlay)

	switch {
	case !it.persistedOK && !hasOverlay:
		return store.Entry{}, false
	case !it.persistedOK:
		e := it.overlay[it.pos]
		it.pos++

		return e, true
	case !hasOverlay:
		e := it.persisted.Entry()
		it.advancePersisted(ctx)

		return e, true
	}

	p, o := it.persisted.Entry(), it.overlay[it.pos]

	switch {
	case p.Key < o.Key:
		it.advancePersisted(ctx)

		return p, true
	case o.Key < p.Key:
		it.pos++

		return o, true
	default:
		it.advancePersisted(ctx)
		it.pos++

		return o, true
	}
}

// Next advances to the next selected entry.
func (it *ScanIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	if it.opts.Limit > 0 && it.emitted >= it.opts.Limit {
		it.done = true

		return false
	}

	for {
		if it.err != nil {
			it.done = true

			return false
		}

		e, ok := it.merged(ctx)
		if !ok {
			it.done = true

			return false
		}

		if e.Value == nil {
			continue
		}

		// keys are ordered, so the first key outside the prefix ends the range
		if !strings.HasPrefix(e.Key, it.opts.Prefix) {
			it.done = true

			return false
		}

		if it.opts.StartExclusive && e.Key == it.opts.StartKey {
			continue
		}

		it.current = e
		it.emitted++

		return true
	}
}

// Entry returns the current entry.
func (it *ScanIterator) Entry() store.Entry {
	return it.current
}

// Err returns the first error from the underlying store.
func (it *ScanIterator) Err() error {
	return it.err
}

// Close releases the persisted iterator.
func (it *ScanIterator) Close() {
	it.done = true
	it.persisted.Close()
}
