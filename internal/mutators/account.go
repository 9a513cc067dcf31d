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

package mutators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gojson "github.com/goccy/go-json"

	"github.com/lindylearn/unclutter-sync/internal/replicache"
)

const (
	SettingsKey = "settings"
	UserInfoKey = "userInfo"
)

// importedEntry is a [key, value] pair of importEntries.
type importedEntry struct {
	Key   string
	Value json.RawMessage
}

func (e *importedEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := gojson.Unmarshal(data, &pair); err != nil {
		return err
	}

	if len(pair) != 2 {
		return fmt.Errorf("expected a [key, value] pair, got %d elements", len(pair))
	}

	if err := gojson.Unmarshal(pair[0], &e.Key); err != nil {
		return fmt.Errorf("entry key: %w", err)
	}

	if e.Key == "" {
		return errors.New("entry key is empty")
	}

	e.Value = pair[1]

	return nil
}

func (l *Library) updateSettings(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) error {
	return mergeInto(ctx, tx, SettingsKey, diff)
}

func (l *Library) updateUserInfo(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) error {
	return mergeInto(ctx, tx, UserInfoKey, diff)
}

// importEntries writes arbitrary entries, e.g. when migrating local data.
func (l *Library) importEntries(ctx context.Context, tx *replicache.WriteTransaction, entries []importedEntry) error {
	for _, e := range entries {
		if err := tx.Put(ctx, e.Key, e.Value); err != nil {
			return err
		}
	}

	return nil
}

// mergeInto shallow-merges diff into the object stored at key, creating it if needed.
func mergeInto(ctx context.Context, tx *replicache.WriteTransaction, key string, diff Entity) error {
	var saved Entity
	if _, err := tx.GetInto(ctx, key, &saved); err != nil {
		return err
	}

	return tx.Put(ctx, key, saved.merge(diff))
}
