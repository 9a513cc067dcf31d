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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lindylearn/unclutter-sync/internal/replicache"
)

var _ = Describe("Registry", func() {
	noop := func(context.Context, *replicache.WriteTransaction, json.RawMessage) error { return nil }

	It("rejects empty and duplicate names", func() {
		r := replicache.NewRegistry()

		Expect(r.Register("", noop)).To(MatchError(replicache.ErrEmptyMutatorName))
		Expect(r.Register("put", noop)).To(Succeed())
		Expect(r.Register("put", noop)).To(MatchError(replicache.ErrDuplicateMutator))
		Expect(r.Register("nil", nil)).NotTo(Succeed())

		Expect(func() { r.MustRegister("put", noop) }).To(Panic())
		Expect(r.Names()).To(Equal([]string{"put"}))
	})

	It("looks mutators up by name", func() {
		r := replicache.NewRegistry()
		Expect(r.Register("b", noop)).To(Succeed())
		Expect(r.Register("a", noop)).To(Succeed())

		_, ok := r.Lookup("a")
		Expect(ok).To(BeTrue())

		_, ok = r.Lookup("c")
		Expect(ok).To(BeFalse())

		Expect(r.Names()).To(Equal([]string{"a", "b"}))
	})

	Describe("Typed", func() {
		type args struct {
			ID string `json:"id"`
		}

		var got args

		fn := replicache.Typed(func(_ context.Context, _ *replicache.WriteTransaction, a args) error {
			got = a

			return nil
		})

		BeforeEach(func() {
			got = args{}
		})

		It("decodes args", func() {
			Expect(fn(context.Background(), nil, json.RawMessage(`{"id":"a1"}`))).To(Succeed())
			Expect(got.ID).To(Equal("a1"))
		})

		It("passes the zero value for missing args", func() {
			Expect(fn(context.Background(), nil, nil)).To(Succeed())
			Expect(got).To(Equal(args{}))
		})

		It("reports undecodable args", func() {
			Expect(fn(context.Background(), nil, json.RawMessage(`[1]`))).To(MatchError(replicache.ErrInvalidArgs))
		})

		It("decodes bare string args", func() {
			var id string
			byID := replicache.Typed(func(_ context.Context, _ *replicache.WriteTransaction, a string) error {
				id = a

				return nil
			})

			Expect(byID(context.Background(), nil, json.RawMessage(`"article-1"`))).To(Succeed())
			Expect(id).To(Equal("article-1"))
		})
	})
})
