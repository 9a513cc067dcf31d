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

package mutators_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lindylearn/unclutter-sync/internal/mutators"
	"github.com/lindylearn/unclutter-sync/internal/replicache"
)

func article(id string, timeAdded int) map[string]any {
	return map[string]any{
		"id":               id,
		"url":              "https://example.com/" + id,
		"title":            id,
		"time_added":       timeAdded,
		"reading_progress": 0,
		"is_favorite":      false,
	}
}

var _ = Describe("Register", func() {
	It("registers every library mutator once", func() {
		registry := replicache.NewRegistry()
		Expect(mutators.Register(registry)).To(Succeed())
		Expect(registry.Names()).To(ContainElements(
			"putArticleIfNotExists", "importArticles", "updateArticle", "updateArticleRaw",
			"articleSetFavorite", "articleTrackOpened", "updateArticleReadingProgress", "deleteArticle",
			"moveArticlePosition", "articleAddMoveToQueue", "articleAddMoveToLibrary",
			"putAnnotation", "mergeRemoteAnnotations", "updateAnnotation", "updateAnnotationRaw", "deleteAnnotation",
			"updateSettings", "updateUserInfo", "importEntries",
			"putSubscription", "updateSubscription", "deleteSubscription", "toggleSubscriptionActive",
			"putSyncState", "updateSyncState", "deleteSyncState",
		))
		Expect(registry.Names()).To(HaveLen(26))

		err := mutators.Register(registry)
		Expect(err).To(MatchError(replicache.ErrDuplicateMutator))
	})
})

var _ = Describe("Articles", func() {
	var lib *library

	BeforeEach(func() {
		lib = newLibrary()
	})

	Describe("putArticleIfNotExists", func() {
		It("sorts new articles by the time they were added", func() {
			lib.apply("putArticleIfNotExists", article("a", 10))

			stored := lib.get("articles/a")
			Expect(stored).To(HaveKeyWithValue("title", "a"))
			Expect(stored["recency_sort_position"]).To(BeNumerically("==", 10_000))
			Expect(stored["topic_sort_position"]).To(BeNumerically("==", 10_000))
		})

		It("keeps existing articles", func() {
			lib.apply("putArticleIfNotExists", article("a", 10))

			changed := article("a", 20)
			changed["title"] = "changed"
			lib.apply("putArticleIfNotExists", changed)

			Expect(lib.get("articles/a")).To(HaveKeyWithValue("title", "a"))
		})

		It("fails without an id", func() {
			result := lib.push("putArticleIfNotExists", map[string]any{"url": "https://example.com"})
			Expect(result.Failed).To(Equal(1))
		})
	})

	It("imports articles in one mutation", func() {
		lib.apply("putArticleIfNotExists", article("a", 10))

		existing := article("a", 99)
		existing["title"] = "ignored"
		lib.apply("importArticles", map[string]any{
			"articles": []map[string]any{existing, article("b", 20), article("c", 30)},
		})

		Expect(lib.get("articles/a")).To(HaveKeyWithValue("title", "a"))
		Expect(lib.get("articles/b")).NotTo(BeNil())
		Expect(lib.get("articles/c")["recency_sort_position"]).To(BeNumerically("==", 30_000))
	})

	Describe("updates", func() {
		BeforeEach(func() {
			lib.apply("putArticleIfNotExists", article("a", 10))
		})

		It("merges the diff and stamps the update time", func() {
			lib.apply("updateArticle", map[string]any{"id": "a", "title": "new title"})

			stored := lib.get("articles/a")
			Expect(stored).To(HaveKeyWithValue("title", "new title"))
			Expect(stored).To(HaveKeyWithValue("url", "https://example.com/a"))
			Expect(stored["time_updated"]).To(BeNumerically("==", nowSeconds))
		})

		It("leaves the update time alone for raw updates", func() {
			lib.apply("updateArticleRaw", map[string]any{"id": "a", "topic_id": "t1"})

			stored := lib.get("articles/a")
			Expect(stored).To(HaveKeyWithValue("topic_id", "t1"))
			Expect(stored).NotTo(HaveKey("time_updated"))
		})

		It("skips missing articles", func() {
			lib.apply("updateArticle", map[string]any{"id": "missing", "title": "x"})

			Expect(lib.get("articles/missing")).To(BeNil())
		})

		It("sets and clears favorites", func() {
			lib.apply("articleSetFavorite", map[string]any{"id": "a", "is_favorite": true})

			stored := lib.get("articles/a")
			Expect(stored).To(HaveKeyWithValue("is_favorite", true))
			Expect(stored["favorites_sort_position"]).To(BeNumerically("==", nowMillis))

			lib.apply("articleSetFavorite", map[string]any{"id": "a", "is_favorite": false})

			stored = lib.get("articles/a")
			Expect(stored).To(HaveKeyWithValue("is_favorite", false))
			Expect(stored).To(HaveKeyWithValue("favorites_sort_position", BeNil()))
		})

		It("moves opened articles to the top", func() {
			lib.apply("articleTrackOpened", "a")

			stored := lib.get("articles/a")
			for _, field := range []string{"recency_sort_position", "topic_sort_position", "domain_sort_position"} {
				Expect(stored[field]).To(BeNumerically("==", nowMillis), field)
			}
		})

		DescribeTable("tracks reading progress",
			func(progress float64, dequeued bool) {
				lib.apply("updateArticle", map[string]any{"id": "a", "is_queued": true, "is_new": true})
				lib.apply("updateArticleReadingProgress", map[string]any{"articleId": "a", "readingProgress": progress})

				stored := lib.get("articles/a")
				Expect(stored["reading_progress"]).To(BeNumerically("==", progress))
				Expect(stored).To(HaveKeyWithValue("is_queued", !dequeued))
				Expect(stored).To(HaveKeyWithValue("is_new", !dequeued))
			},
			Entry("halfway", 0.5, false),
			Entry("almost done", 0.95, true),
			Entry("done", 1.0, true),
		)

		It("rejects reading progress without an article", func() {
			result := lib.push("updateArticleReadingProgress", map[string]any{"readingProgress": 1})
			Expect(result.Failed).To(Equal(1))
		})
	})

	It("deletes an article with its annotations", func() {
		lib.apply("putArticleIfNotExists", article("a", 10))
		lib.apply("putAnnotation", map[string]any{"id": "n1", "article_id": "a", "created_at": 1})
		lib.apply("putAnnotation", map[string]any{"id": "n2", "article_id": "a", "created_at": 1})
		lib.apply("putAnnotation", map[string]any{"id": "n3", "article_id": "b", "created_at": 1})

		lib.apply("deleteArticle", "a")

		Expect(lib.get("articles/a")).To(BeNil())
		Expect(lib.get("annotations/n1")).To(BeNil())
		Expect(lib.get("annotations/n2")).To(BeNil())
		Expect(lib.get("annotations/n3")).NotTo(BeNil())
	})

	Describe("positions", func() {
		BeforeEach(func() {
			lib.apply("importArticles", map[string]any{
				"articles": []map[string]any{article("a", 10), article("b", 20), article("c", 30)},
			})
		})

		move := func(before, after any) map[string]any {
			return map[string]any{
				"articleId":                  "a",
				"articleIdBeforeNewPosition": before,
				"articleIdAfterNewPosition":  after,
				"sortPosition":               "recency_sort_position",
			}
		}

		DescribeTable("moves an article between its neighbours",
			func(before, after any, expected float64) {
				lib.apply("moveArticlePosition", move(before, after))

				Expect(lib.get("articles/a")["recency_sort_position"]).To(BeNumerically("==", expected))
			},
			Entry("between two articles", "c", "b", 25_000.0),
			Entry("at the end of the list", "c", nil, 29_500.0),
			Entry("at the start of the list", nil, "c", 30_500.0),
		)

		It("uses the time added for positions of the old index ordering", func() {
			lib.apply("updateArticleRaw", map[string]any{"id": "c", "recency_sort_position": 3})
			lib.apply("moveArticlePosition", move("c", "b"))

			Expect(lib.get("articles/a")["recency_sort_position"]).To(BeNumerically("==", 25_000))
		})

		It("ignores moves without known neighbours", func() {
			lib.apply("moveArticlePosition", move("x", nil))

			Expect(lib.get("articles/a")["recency_sort_position"]).To(BeNumerically("==", 10_000))
		})

		It("rejects unknown sort positions", func() {
			args := move("c", "b")
			args["sortPosition"] = "title"

			Expect(lib.push("moveArticlePosition", args).Failed).To(Equal(1))
			Expect(lib.get("articles/a")["recency_sort_position"]).To(BeNumerically("==", 10_000))
		})

		It("queues a read article and restarts it", func() {
			lib.apply("updateArticleReadingProgress", map[string]any{"articleId": "a", "readingProgress": 1})

			args := move("c", "b")
			args["isQueued"] = true
			args["sortPosition"] = "queue_sort_position"
			lib.apply("articleAddMoveToQueue", args)

			stored := lib.get("articles/a")
			Expect(stored).To(HaveKeyWithValue("is_queued", true))
			Expect(stored["reading_progress"]).To(BeNumerically("==", 0))
			// the neighbours have no queue position and fall back to the time added
			Expect(stored["queue_sort_position"]).To(BeNumerically("==", 25_000))
		})

		It("adds a temporary article to the library", func() {
			temporary := article("t", 0)
			temporary["is_temporary"] = true
			temporary["is_new"] = true

			lib.apply("articleAddMoveToLibrary", map[string]any{
				"temporaryArticle":           temporary,
				"articleIdBeforeNewPosition": nil,
				"articleIdAfterNewPosition":  nil,
				"sortPosition":               "recency_sort_position",
			})

			stored := lib.get("articles/t")
			Expect(stored).To(HaveKeyWithValue("is_temporary", false))
			Expect(stored).To(HaveKeyWithValue("is_new", false))
			Expect(stored["time_added"]).To(BeNumerically("==", nowSeconds))
			Expect(stored["recency_sort_position"]).To(BeNumerically("==", nowSeconds*1000))
		})
	})
})

var _ = Describe("Annotations", func() {
	var lib *library

	BeforeEach(func() {
		lib = newLibrary()
	})

	It("defaults updated_at to created_at", func() {
		lib.apply("putAnnotation", map[string]any{"id": "n1", "created_at": 100})
		lib.apply("putAnnotation", map[string]any{"id": "n2", "created_at": 100, "updated_at": 200})

		Expect(lib.get("annotations/n1")["updated_at"]).To(BeNumerically("==", 100))
		Expect(lib.get("annotations/n2")["updated_at"]).To(BeNumerically("==", 200))
	})

	It("stamps updates", func() {
		lib.apply("putAnnotation", map[string]any{"id": "n1", "text": "a", "created_at": 100})
		lib.apply("updateAnnotation", map[string]any{"id": "n1", "text": "b"})

		stored := lib.get("annotations/n1")
		Expect(stored).To(HaveKeyWithValue("text", "b"))
		Expect(stored["updated_at"]).To(BeNumerically("==", nowSeconds))

		lib.apply("updateAnnotationRaw", map[string]any{"id": "n1", "h_id": "h1"})
		Expect(lib.get("annotations/n1")["updated_at"]).To(BeNumerically("==", nowSeconds))
		Expect(lib.get("annotations/n1")).To(HaveKeyWithValue("h_id", "h1"))
	})

	It("deletes annotations", func() {
		lib.apply("putAnnotation", map[string]any{"id": "n1", "created_at": 100})
		lib.apply("deleteAnnotation", "n1")

		Expect(lib.get("annotations/n1")).To(BeNil())
	})

	It("merges remote annotations", func() {
		lib.apply("putAnnotation", map[string]any{"id": "local", "h_id": "h1", "text": "old", "created_at": 1})
		lib.apply("putAnnotation", map[string]any{"id": "n2", "text": "old", "created_at": 1})

		lib.apply("mergeRemoteAnnotations", []map[string]any{
			{"id": "remote", "h_id": "h1", "text": "from hypothesis"},
			{"id": "n2", "text": "edited"},
			{"id": "n3", "text": "new", "created_at": 5},
		})

		Expect(lib.get("annotations/local")).To(HaveKeyWithValue("text", "from hypothesis"))
		Expect(lib.get("annotations/remote")).To(BeNil())
		Expect(lib.get("annotations/n2")).To(HaveKeyWithValue("text", "edited"))
		Expect(lib.get("annotations/n3")["updated_at"]).To(BeNumerically("==", 5))
	})
})

var _ = Describe("Account", func() {
	var lib *library

	BeforeEach(func() {
		lib = newLibrary()
	})

	It("merges settings", func() {
		lib.apply("updateSettings", map[string]any{"tutorial_stage": 1})
		lib.apply("updateSettings", map[string]any{"theme": "dark"})

		Expect(lib.get("settings")).To(Equal(mutators.Entity{"tutorial_stage": float64(1), "theme": "dark"}))
	})

	It("merges user info", func() {
		lib.apply("updateUserInfo", map[string]any{"id": "user-1", "aiEnabled": false})
		lib.apply("updateUserInfo", map[string]any{"aiEnabled": true})

		Expect(lib.get("userInfo")).To(Equal(mutators.Entity{"id": "user-1", "aiEnabled": true}))
	})

	It("imports raw entries", func() {
		lib.apply("importEntries", [][]any{
			{"topics/t1", map[string]any{"name": "Go"}},
			{"control/flag", true},
		})

		Expect(lib.get("topics/t1")).To(HaveKeyWithValue("name", "Go"))
	})

	DescribeTable("rejects malformed entries",
		func(args any) {
			Expect(lib.push("importEntries", args).Failed).To(Equal(1))
		},
		Entry("single element", [][]any{{"k"}}),
		Entry("non-string key", [][]any{{1, "v"}}),
		Entry("empty key", [][]any{{"", "v"}}),
	)
})

var _ = Describe("Feeds", func() {
	var lib *library

	BeforeEach(func() {
		lib = newLibrary()
		lib.apply("putSubscription", map[string]any{"id": "example.com", "is_subscribed": false, "rss_url": "https://example.com/feed"})
	})

	It("toggles subscriptions", func() {
		lib.apply("toggleSubscriptionActive", "example.com")

		stored := lib.get("subscription/example.com")
		Expect(stored).To(HaveKeyWithValue("is_subscribed", true))
		Expect(stored["last_fetched"]).To(BeNumerically("==", nowSeconds))

		lib.apply("toggleSubscriptionActive", "example.com")
		Expect(lib.get("subscription/example.com")).To(HaveKeyWithValue("is_subscribed", false))
	})

	It("ignores toggles of unknown subscriptions", func() {
		lib.apply("toggleSubscriptionActive", "unknown.com")

		Expect(lib.get("subscription/unknown.com")).To(BeNil())
	})

	It("updates and deletes subscriptions", func() {
		lib.apply("updateSubscription", map[string]any{"id": "example.com", "title": "Example"})
		Expect(lib.get("subscription/example.com")).To(HaveKeyWithValue("rss_url", "https://example.com/feed"))
		Expect(lib.get("subscription/example.com")).To(HaveKeyWithValue("title", "Example"))

		lib.apply("deleteSubscription", "example.com")
		Expect(lib.get("subscription/example.com")).To(BeNil())
	})

	It("keeps sync states", func() {
		lib.apply("putSyncState", map[string]any{"id": "hypothesis", "username": "u"})
		lib.apply("updateSyncState", map[string]any{"id": "hypothesis", "last_download": 10})

		stored := lib.get("sync/hypothesis")
		Expect(stored).To(HaveKeyWithValue("username", "u"))
		Expect(stored["last_download"]).To(BeNumerically("==", 10))

		lib.apply("deleteSyncState", "hypothesis")
		Expect(lib.get("sync/hypothesis")).To(BeNil())
	})
})
