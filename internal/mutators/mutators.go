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

// Package mutators implements the server side of the Unclutter library
// mutators. They mirror the client mutators so that a push replays the same
// writes the client applied optimistically.
package mutators

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/internal/replicache"
	"github.com/lindylearn/unclutter-sync/pkg/logger"
)

// ReadingProgressFullClamp is the reading progress at which an article
// counts as read.
const ReadingProgressFullClamp = 0.95

var validate = validator.New(validator.WithRequiredStructEnabled())

// Library holds the mutators of one sync server.
type Library struct {
	now func() time.Time
	log *zap.SugaredLogger
}

type Option func(*Library)

// WithClock replaces time.Now, which stamps sort positions and update times.
func WithClock(now func() time.Time) Option {
	return func(l *Library) {
		l.now = now
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Library) {
		l.log = log
	}
}

func New(opts ...Option) *Library {
	l := &Library{
		now: time.Now,
		log: zap.NewNop().Sugar(),
	}

	for _, opt := range opts {
		opt(l)
	}

	l.log = l.log.Named(logger.ComponentMutators)

	return l
}

// Register adds the default library mutators to r.
func Register(r *replicache.Registry, opts ...Option) error {
	return New(opts...).Register(r)
}

// Register adds every mutator of l to r.
func (l *Library) Register(r *replicache.Registry) error {
	var errs []error

	for name, fn := range l.mutators() {
		if err := r.Register(name, fn); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (l *Library) mutators() map[string]replicache.MutatorFunc {
	return map[string]replicache.MutatorFunc{
		// articles
		"putArticleIfNotExists":        replicache.Typed(l.putArticleIfNotExists),
		"importArticles":               replicache.Typed(l.importArticles),
		"updateArticle":                replicache.Typed(l.updateArticle),
		"updateArticleRaw":             replicache.Typed(l.updateArticleRaw),
		"articleSetFavorite":           replicache.Typed(l.articleSetFavorite),
		"articleTrackOpened":           replicache.Typed(l.articleTrackOpened),
		"updateArticleReadingProgress": replicache.Typed(l.updateArticleReadingProgress),
		"deleteArticle":                replicache.Typed(l.deleteArticle),
		"moveArticlePosition":          replicache.Typed(l.moveArticlePosition),
		"articleAddMoveToQueue":        replicache.Typed(l.articleAddMoveToQueue),
		"articleAddMoveToLibrary":      replicache.Typed(l.articleAddMoveToLibrary),
		// annotations
		"putAnnotation":          replicache.Typed(l.putAnnotation),
		"mergeRemoteAnnotations": replicache.Typed(l.mergeRemoteAnnotations),
		"updateAnnotation":       replicache.Typed(l.updateAnnotation),
		"updateAnnotationRaw":    replicache.Typed(l.updateAnnotationRaw),
		"deleteAnnotation":       replicache.Typed(l.deleteAnnotation),
		// account
		"updateSettings": replicache.Typed(l.updateSettings),
		"updateUserInfo": replicache.Typed(l.updateUserInfo),
		"importEntries":  replicache.Typed(l.importEntries),
		// feeds
		"putSubscription":          replicache.Typed(l.putSubscription),
		"updateSubscription":       replicache.Typed(l.updateSubscription),
		"deleteSubscription":       replicache.Typed(l.deleteSubscription),
		"toggleSubscriptionActive": replicache.Typed(l.toggleSubscriptionActive),
		"putSyncState":             replicache.Typed(l.putSyncState),
		"updateSyncState":          replicache.Typed(l.updateSyncState),
		"deleteSyncState":          replicache.Typed(l.deleteSyncState),
	}
}

// unixSeconds is the current time in rounded unix seconds.
func (l *Library) unixSeconds() float64 {
	return math.Round(float64(l.now().UnixMilli()) / 1000)
}

func (l *Library) unixMillis() float64 {
	return float64(l.now().UnixMilli())
}

func validateArgs(args any) error {
	if err := validate.Struct(args); err != nil {
		return fmt.Errorf("%w: %w", replicache.ErrInvalidArgs, err)
	}

	return nil
}
