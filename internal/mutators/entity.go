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
	"fmt"
	"maps"

	gojson "github.com/goccy/go-json"

	"github.com/lindylearn/unclutter-sync/internal/replicache"
)

// Entity is a stored JSON object. Its schema belongs to the clients; the
// server only relies on a few fields.
type Entity map[string]any

// ID returns the string id of e, or "" when it has none.
func (e Entity) ID() string {
	id, _ := e["id"].(string)

	return id
}

func (e Entity) number(field string) float64 {
	n, _ := e[field].(float64)

	return n
}

func (e Entity) merge(diff Entity) Entity {
	merged := maps.Clone(e)
	if merged == nil {
		merged = Entity{}
	}

	maps.Copy(merged, diff)

	return merged
}

// truthy follows the client's notion of a set value.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// collection stores entities under "<collection>/<id>".
type collection string

const (
	articles      collection = "articles"
	annotations   collection = "annotations"
	subscriptions collection = "subscription"
	syncStates    collection = "sync"
)

func (c collection) key(id string) string {
	return string(c) + "/" + id
}

func (c collection) requireID(e Entity) (string, error) {
	id := e.ID()
	if id == "" {
		return "", fmt.Errorf("%w: %s entity without id", replicache.ErrInvalidArgs, c)
	}

	return id, nil
}

// get returns nil when the entity does not exist.
func (c collection) get(ctx context.Context, tx *replicache.WriteTransaction, id string) (Entity, error) {
	var e Entity

	found, err := tx.GetInto(ctx, c.key(id), &e)
	if err != nil || !found {
		return nil, err
	}

	return e, nil
}

func (c collection) put(ctx context.Context, tx *replicache.WriteTransaction, e Entity) error {
	id, err := c.requireID(e)
	if err != nil {
		return err
	}

	return tx.Put(ctx, c.key(id), e)
}

// update shallow-merges diff into the stored entity. Missing entities are
// left alone and reported with false.
func (c collection) update(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) (bool, error) {
	id, err := c.requireID(diff)
	if err != nil {
		return false, err
	}

	prev, err := c.get(ctx, tx, id)
	if err != nil || prev == nil {
		return false, err
	}

	return true, tx.Put(ctx, c.key(id), prev.merge(diff))
}

func (c collection) delete(ctx context.Context, tx *replicache.WriteTransaction, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s id is empty", replicache.ErrInvalidArgs, c)
	}

	_, err := tx.Del(ctx, c.key(id))

	return err
}

func (c collection) list(ctx context.Context, tx *replicache.WriteTransaction) ([]Entity, error) {
	entries, err := tx.ScanAll(ctx, replicache.ScanOptions{Prefix: string(c) + "/"})
	if err != nil {
		return nil, err
	}

	out := make([]Entity, 0, len(entries))

	for _, entry := range entries {
		var e Entity
		if err = gojson.Unmarshal(entry.Value, &e); err != nil {
			return nil, fmt.Errorf("decode %q: %w", entry.Key, err)
		}

		out = append(out, e)
	}

	return out, nil
}
