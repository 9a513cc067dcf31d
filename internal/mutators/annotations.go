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

	"github.com/lindylearn/unclutter-sync/internal/replicache"
)

// putAnnotation defaults updated_at to created_at.
func (l *Library) putAnnotation(ctx context.Context, tx *replicache.WriteTransaction, annotation Entity) error {
	if !truthy(annotation["updated_at"]) {
		annotation = annotation.merge(Entity{"updated_at": annotation["created_at"]})
	}

	return annotations.put(ctx, tx, annotation)
}

// mergeRemoteAnnotations upserts annotations fetched from Hypothesis.
// Annotations with an h_id replace the local annotation with the same h_id
// and keep its id.
func (l *Library) mergeRemoteAnnotations(ctx context.Context, tx *replicache.WriteTransaction, remote []Entity) error {
	local, err := annotations.list(ctx, tx)
	if err != nil {
		return err
	}

	for _, annotation := range remote {
		var existing Entity

		if hID, _ := annotation["h_id"].(string); hID != "" {
			existing = find(local, func(a Entity) bool { return a["h_id"] == hID })
			if existing != nil {
				annotation = annotation.merge(Entity{"id": existing.ID()})
			}
		} else {
			id := annotation.ID()
			existing = find(local, func(a Entity) bool { return a.ID() == id })
		}

		if existing == nil {
			err = l.putAnnotation(ctx, tx, annotation)
		} else {
			_, err = annotations.update(ctx, tx, annotation)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (l *Library) updateAnnotation(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) error {
	return l.updateAnnotationRaw(ctx, tx, diff.merge(Entity{"updated_at": l.unixSeconds()}))
}

func (l *Library) updateAnnotationRaw(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) error {
	updated, err := annotations.update(ctx, tx, diff)
	if err == nil && !updated {
		l.log.Debugf("No annotation %s, skipping update", diff.ID())
	}

	return err
}

func (l *Library) deleteAnnotation(ctx context.Context, tx *replicache.WriteTransaction, id string) error {
	return annotations.delete(ctx, tx, id)
}

func find(entities []Entity, match func(Entity) bool) Entity {
	for _, e := range entities {
		if match(e) {
			return e
		}
	}

	return nil
}
