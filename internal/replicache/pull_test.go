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

package replicache_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lindylearn/unclutter-sync/internal/replicache"
	"github.com/lindylearn/unclutter-sync/internal/store"
	"github.com/lindylearn/unclutter-sync/internal/store/memory"
)

var _ = Describe("Pull", func() {
	var (
		ctx context.Context
		mem *memory.Store
		svc *replicache.Service
	)

	seed := func(fn func(tx store.Tx) error) {
		Expect(mem.Transact(ctx, store.ReadWrite, func(ctx context.Context, tx store.Tx) error {
			return fn(tx)
		})).To(Succeed())
	}

	keys := func(patch []replicache.PatchOperation) []string {
		out := []string{}
		for _, op := range patch {
			out = append(out, string(op.Op)+" "+op.Key)
		}

		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.NewStore()
		svc = replicache.NewService(mem, testRegistry(), nil, nil)

		seed(func(tx store.Tx) error {
			Expect(tx.CreateSpace(ctx, "s1")).To(Succeed())
			Expect(tx.SetCookie(ctx, "s1", 3)).To(Succeed())
			Expect(tx.SetLastMutationID(ctx, "c1", 7)).To(Succeed())

			Expect(tx.PutEntry(ctx, "s1", "b", json.RawMessage(`"b"`), 1)).To(Succeed())
			Expect(tx.PutEntry(ctx, "s1", "a", json.RawMessage(`"a"`), 2)).To(Succeed())
			Expect(tx.PutEntry(ctx, "s1", "c", json.RawMessage(`"c"`), 2)).To(Succeed())
			Expect(tx.DelEntry(ctx, "s1", "c", 3)).To(Succeed())
			Expect(tx.PutEntry(ctx, "s1", "text/a", json.RawMessage(`{"paragraphs":[]}`), 3)).To(Succeed())

			return nil
		})
	})

	It("returns everything for a first pull", func() {
		resp, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"c1","cookie":null,"schemaVersion":"1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Cookie).To(Equal(replicache.Cookie{Version: 3}))
		Expect(resp.LastMutationID).To(BeEquivalentTo(7))
		Expect(keys(resp.Patch)).To(Equal([]string{"put a", "put b", "del c"}))
	})

	It("treats a missing cookie like null", func() {
		resp, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"c1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(resp.Patch)).To(Equal([]string{"put a", "put b", "del c"}))
	})

	It("returns only changes after the cookie version", func() {
		resp, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"c1","cookie":{"version":2},"schemaVersion":"1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(resp.Patch)).To(Equal([]string{"del c"}))
	})

	It("returns an empty patch for an up to date client", func() {
		resp, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"c1","cookie":{"version":3},"schemaVersion":"1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Patch).To(BeEmpty())
		Expect(resp.Patch).NotTo(BeNil(), "patch is serialised as [] rather than null")
	})

	It("accepts the legacy numeric cookie", func() {
		resp, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"c1","cookie":1,"schemaVersion":"1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(resp.Patch)).To(Equal([]string{"put a", "del c"}))
		Expect(resp.Cookie).To(Equal(replicache.Cookie{Version: 3}))
	})

	It("holds back full-text entries", func() {
		resp, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"c1","cookie":null,"schemaVersion":"1"}`))
		Expect(err).NotTo(HaveOccurred())

		for _, op := range resp.Patch {
			Expect(op.Key).NotTo(HavePrefix(replicache.TextKeyPrefix))
		}
	})

	It("reports 0 for a client that never pushed", func() {
		resp, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"new","cookie":null,"schemaVersion":"1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.LastMutationID).To(BeEquivalentTo(0))
	})

	It("fails for an unknown space", func() {
		_, err := svc.Pull(ctx, "missing", []byte(`{"clientID":"c1","cookie":null,"schemaVersion":"1"}`))
		Expect(err).To(MatchError(store.ErrUnknownSpace))
	})

	DescribeTable("rejects malformed bodies",
		func(body string) {
			_, err := svc.Pull(ctx, "s1", []byte(body))

			var verr *replicache.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue(), "got %v", err)
		},
		Entry("missing clientID", `{"cookie":null}`),
		Entry("cookie of the wrong type", `{"clientID":"c1","cookie":"abc"}`),
		Entry("cookie without version", `{"clientID":"c1","cookie":{}}`),
	)

	It("sees a push made after the first pull", func() {
		first, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"c1","cookie":null,"schemaVersion":"1"}`))
		Expect(err).NotTo(HaveOccurred())

		_, err = svc.Push(ctx, "s1", []byte(`{"clientID":"c1","mutations":[{"id":8,"name":"put","args":{"key":"d","value":4}}]}`))
		Expect(err).NotTo(HaveOccurred())

		cookie, err := json.Marshal(first.Cookie)
		Expect(err).NotTo(HaveOccurred())

		second, err := svc.Pull(ctx, "s1", []byte(`{"clientID":"c1","cookie":`+string(cookie)+`,"schemaVersion":"1"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(keys(second.Patch)).To(Equal([]string{"put d"}))
		Expect(second.Cookie.Version).To(BeEquivalentTo(4))
		Expect(second.LastMutationID).To(BeEquivalentTo(8))
	})
})

var _ = Describe("PullCookie", func() {
	DescribeTable("decodes every accepted form",
		func(raw string, version int64, legacy bool) {
			var c replicache.PullCookie
			Expect(json.Unmarshal([]byte(raw), &c)).To(Succeed())
			Expect(c.BaseVersion()).To(Equal(version))
			Expect(c.Legacy).To(Equal(legacy))
		},
		Entry("null", `null`, int64(0), false),
		Entry("object", `{"version":12}`, int64(12), false),
		Entry("object with partial sync state", `{"version":12,"partialSync":"PARTIAL_SYNC_COMPLETE"}`, int64(12), false),
		Entry("number", `12`, int64(12), true),
	)
})
