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

package poke

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisChannel is the pub/sub channel pokes are relayed on. Messages carry the space id.
const RedisChannel = "replicache:poke"

// redisClient is the subset of *redis.Client the fanout needs.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
	Close() error
}

// RedisFanout relays pokes over Redis PUBLISH/SUBSCRIBE.
type RedisFanout struct {
	client  redisClient
	channel string
	log     *zap.SugaredLogger
}

var _ Fanout = (*RedisFanout)(nil)

func NewRedisFanout(client *redis.Client, log *zap.SugaredLogger) *RedisFanout {
	return newRedisFanout(client, log)
}

func newRedisFanout(client redisClient, log *zap.SugaredLogger) *RedisFanout {
	return &RedisFanout{client: client, channel: RedisChannel, log: log}
}

func (r *RedisFanout) Publish(ctx context.Context, spaceID string) error {
	receivers, err := r.client.Publish(ctx, r.channel, spaceID).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	r.log.Debugf("Published poke for space %s to %d subscribers", spaceID, receivers)

	return nil
}

// Run subscribes and delivers messages until ctx ends. go-redis reconnects
// the subscription on its own.
func (r *RedisFanout) Run(ctx context.Context, deliver func(spaceID string)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			r.log.Debugf("Closing redis subscription: %s", err)
		}
	}()

	// wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}

	r.log.Infof("Subscribed to redis channel %s", r.channel)

	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("redis subscription %s closed", r.channel)
			}

			deliver(msg.Payload)
		}
	}
}

func (r *RedisFanout) Close() error {
	return r.client.Close()
}
