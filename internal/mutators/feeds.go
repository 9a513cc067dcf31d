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

func (l *Library) putSubscription(ctx context.Context, tx *replicache.WriteTransaction, subscription Entity) error {
	return subscriptions.put(ctx, tx, subscription)
}

func (l *Library) updateSubscription(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) error {
	_, err := subscriptions.update(ctx, tx, diff)

	return err
}

func (l *Library) deleteSubscription(ctx context.Context, tx *replicache.WriteTransaction, id string) error {
	return subscriptions.delete(ctx, tx, id)
}

// toggleSubscriptionActive flips is_subscribed. New articles are checked
// for starting now.
func (l *Library) toggleSubscriptionActive(ctx context.Context, tx *replicache.WriteTransaction, id string) error {
	subscription, err := subscriptions.get(ctx, tx, id)
	if err != nil || subscription == nil {
		return err
	}

	_, err = subscriptions.update(ctx, tx, Entity{
		"id":            id,
		"is_subscribed": !truthy(subscription["is_subscribed"]),
		"last_fetched":  l.unixSeconds(),
	})

	return err
}

func (l *Library) putSyncState(ctx context.Context, tx *replicache.WriteTransaction, state Entity) error {
	return syncStates.put(ctx, tx, state)
}

func (l *Library) updateSyncState(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) error {
	_, err := syncStates.update(ctx, tx, diff)

	return err
}

func (l *Library) deleteSyncState(ctx context.Context, tx *replicache.WriteTransaction, id string) error {
	return syncStates.delete(ctx, tx, id)
}
