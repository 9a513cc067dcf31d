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

// Sort position fields of an article.
const (
	QueueSortPosition     = "queue_sort_position"
	RecencySortPosition   = "recency_sort_position"
	FavoritesSortPosition = "favorites_sort_position"
	TopicSortPosition     = "topic_sort_position"
	DomainSortPosition    = "domain_sort_position"
)

type importArticlesArgs struct {
	Articles []Entity `json:"articles"`
}

type favoriteArgs struct {
	ID         string `json:"id" validate:"required"`
	IsFavorite bool   `json:"is_favorite"`
}

type readingProgressArgs struct {
	ArticleID       string  `json:"articleId" validate:"required"`
	ReadingProgress float64 `json:"readingProgress"`
}

// placement is a drop target between two neighbours of a sorted list.
// Either neighbour may be missing at the ends of the list.
type placement struct {
	Before       *string `json:"articleIdBeforeNewPosition"`
	After        *string `json:"articleIdAfterNewPosition"`
	SortPosition string  `json:"sortPosition" validate:"oneof=queue_sort_position recency_sort_position favorites_sort_position topic_sort_position domain_sort_position"`
}

type moveArgs struct {
	ArticleID    string  `json:"articleId" validate:"required"`
	Before       *string `json:"articleIdBeforeNewPosition"`
	After        *string `json:"articleIdAfterNewPosition"`
	SortPosition string  `json:"sortPosition"`
}

func (a moveArgs) placement() placement {
	return placement{Before: a.Before, After: a.After, SortPosition: a.SortPosition}
}

type moveToQueueArgs struct {
	moveArgs
	IsQueued bool `json:"isQueued"`
}

type moveToLibraryArgs struct {
	TemporaryArticle Entity  `json:"temporaryArticle" validate:"required"`
	Before           *string `json:"articleIdBeforeNewPosition"`
	After            *string `json:"articleIdAfterNewPosition"`
	SortPosition     string  `json:"sortPosition"`
}

// putArticleIfNotExists keeps existing articles untouched. New articles are
// sorted by the time they were added.
func (l *Library) putArticleIfNotExists(ctx context.Context, tx *replicache.WriteTransaction, article Entity) error {
	id, err := articles.requireID(article)
	if err != nil {
		return err
	}

	exists, err := tx.Has(ctx, articles.key(id))
	if err != nil || exists {
		return err
	}

	position := article.number("time_added") * 1000
	article = article.merge(Entity{
		RecencySortPosition: position,
		TopicSortPosition:   position,
	})

	return articles.put(ctx, tx, article)
}

// importArticles batches large inserts into one mutation.
func (l *Library) importArticles(ctx context.Context, tx *replicache.WriteTransaction, args importArticlesArgs) error {
	for _, article := range args.Articles {
		if err := l.putArticleIfNotExists(ctx, tx, article); err != nil {
			return err
		}
	}

	return nil
}

func (l *Library) updateArticle(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) error {
	return l.updateArticleRaw(ctx, tx, diff.merge(Entity{"time_updated": l.unixSeconds()}))
}

func (l *Library) updateArticleRaw(ctx context.Context, tx *replicache.WriteTransaction, diff Entity) error {
	updated, err := articles.update(ctx, tx, diff)
	if err == nil && !updated {
		l.log.Debugf("No article %s, skipping update", diff.ID())
	}

	return err
}

func (l *Library) articleSetFavorite(ctx context.Context, tx *replicache.WriteTransaction, args favoriteArgs) error {
	if err := validateArgs(args); err != nil {
		return err
	}

	var position any
	if args.IsFavorite {
		position = l.unixMillis()
	}

	return l.updateArticle(ctx, tx, Entity{
		"id":                  args.ID,
		"is_favorite":         args.IsFavorite,
		FavoritesSortPosition: position,
	})
}

func (l *Library) articleTrackOpened(ctx context.Context, tx *replicache.WriteTransaction, articleID string) error {
	now := l.unixMillis()

	return l.updateArticle(ctx, tx, Entity{
		"id":                articleID,
		RecencySortPosition: now,
		TopicSortPosition:   now,
		DomainSortPosition:  now,
	})
}

// updateArticleReadingProgress dequeues articles once they are read.
func (l *Library) updateArticleReadingProgress(ctx context.Context, tx *replicache.WriteTransaction, args readingProgressArgs) error {
	if err := validateArgs(args); err != nil {
		return err
	}

	now := l.unixMillis()
	diff := Entity{
		"id":                args.ArticleID,
		"reading_progress":  args.ReadingProgress,
		RecencySortPosition: now,
		TopicSortPosition:   now,
		DomainSortPosition:  now,
	}

	if args.ReadingProgress >= ReadingProgressFullClamp {
		diff["is_queued"] = false
		diff["is_new"] = false
	}

	return l.updateArticle(ctx, tx, diff)
}

// deleteArticle removes the article and all of its annotations.
func (l *Library) deleteArticle(ctx context.Context, tx *replicache.WriteTransaction, articleID string) error {
	all, err := annotations.list(ctx, tx)
	if err != nil {
		return err
	}

	for _, annotation := range all {
		if annotation["article_id"] != articleID {
			continue
		}

		if err = annotations.delete(ctx, tx, annotation.ID()); err != nil {
			return err
		}
	}

	return articles.delete(ctx, tx, articleID)
}

func (l *Library) moveArticlePosition(ctx context.Context, tx *replicache.WriteTransaction, args moveArgs) error {
	if err := validateArgs(args); err != nil {
		return err
	}

	return l.moveArticle(ctx, tx, args.ArticleID, args.placement())
}

// articleAddMoveToQueue changes the queue status and moves the article in
// one mutation, so clients never render the intermediate state.
func (l *Library) articleAddMoveToQueue(ctx context.Context, tx *replicache.WriteTransaction, args moveToQueueArgs) error {
	if err := validateArgs(args.moveArgs); err != nil {
		return err
	}

	if err := validateArgs(args.placement()); err != nil {
		return err
	}

	diff := Entity{
		"id":        args.ArticleID,
		"is_queued": args.IsQueued,
	}

	if args.IsQueued {
		diff[QueueSortPosition] = l.unixMillis()

		article, err := articles.get(ctx, tx, args.ArticleID)
		if err != nil {
			return err
		}

		// queueing a read article starts it over
		if article != nil && article.number("reading_progress") >= ReadingProgressFullClamp {
			diff["reading_progress"] = 0
		}
	}

	if err := l.updateArticle(ctx, tx, diff); err != nil {
		return err
	}

	return l.moveArticle(ctx, tx, args.ArticleID, args.placement())
}

func (l *Library) articleAddMoveToLibrary(ctx context.Context, tx *replicache.WriteTransaction, args moveToLibraryArgs) error {
	p := placement{Before: args.Before, After: args.After, SortPosition: args.SortPosition}

	if err := validateArgs(args); err != nil {
		return err
	}

	if err := validateArgs(p); err != nil {
		return err
	}

	article := args.TemporaryArticle.merge(Entity{
		"is_temporary": false,
		"is_new":       false,
		"time_added":   l.unixSeconds(),
	})

	if err := l.putArticleIfNotExists(ctx, tx, article); err != nil {
		return err
	}

	return l.moveArticle(ctx, tx, article.ID(), p)
}

// moveArticle puts the article halfway between its new neighbours. Moves
// without a known neighbour are ignored.
func (l *Library) moveArticle(ctx context.Context, tx *replicache.WriteTransaction, articleID string, p placement) error {
	if err := validateArgs(p); err != nil {
		return err
	}

	active, err := articles.get(ctx, tx, articleID)
	if err != nil || active == nil {
		return err
	}

	before, err := l.neighbour(ctx, tx, p.Before)
	if err != nil {
		return err
	}

	after, err := l.neighbour(ctx, tx, p.After)
	if err != nil {
		return err
	}

	if before == nil && after == nil {
		return nil
	}

	// higher positions sort first
	var upper, lower float64
	if before != nil {
		upper = sortPosition(before, p.SortPosition)
	}

	if after != nil {
		lower = sortPosition(after, p.SortPosition)
	}

	switch {
	case upper == 0:
		upper = lower + 1000
	case lower == 0:
		lower = upper - 1000
	}

	return l.updateArticle(ctx, tx, Entity{
		"id":           articleID,
		p.SortPosition: (lower + upper) / 2,
	})
}

func (l *Library) neighbour(ctx context.Context, tx *replicache.WriteTransaction, id *string) (Entity, error) {
	if id == nil || *id == "" {
		return nil, nil
	}

	return articles.get(ctx, tx, *id)
}

// sortPosition falls back to the time added for articles without a manual
// position or with a position from the old index based ordering.
func sortPosition(article Entity, field string) float64 {
	position, ok := article[field].(float64)
	if !ok || position < 1000 {
		return article.number("time_added") * 1000
	}

	return position
}
