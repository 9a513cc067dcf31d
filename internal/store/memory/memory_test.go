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

package memory_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lindylearn/unclutter-sync/internal/store"
	"github.com/lindylearn/unclutter-sync/internal/store/memory"
)

var _ = Describe("Store", func() {
	var (
		ctx context.Context
		s   *memory.Store
	)

	write := func(fn func(tx store.Tx)) {
		Expect(s.Transact(ctx, store.ReadWrite, func(ctx context.Context, tx store.Tx) error {
			fn(tx)

			return nil
		})).To(Succeed())
	}

	read := func(fn func(tx store.Tx)) {
		Expect(s.Transact(ctx, store.ReadOnly, func(ctx context.Context, tx store.Tx) error {
			fn(tx)

			return nil
		})).To(Succeed())
	}

	keys := func(tx store.Tx, fromKey string) []string {
		it := tx.GetEntries(ctx, "s1", fromKey)
		defer it.Close()

		out := []string{}
		for it.Next(ctx) {
			out = append(out, it.Entry().Key)
		}

		Expect(it.Err()).NotTo(HaveOccurred())

		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		s = memory.NewStore()
	})

	Describe("GetEntry", func() {
		It("hides missing and deleted entries", func() {
			write(func(tx store.Tx) {
				Expect(tx.PutEntry(ctx, "s1", "foo", json.RawMessage(`42`), 1)).To(Succeed())
				Expect(tx.PutEntry(ctx, "s1", "bar", json.RawMessage(`42`), 1)).To(Succeed())
				Expect(tx.DelEntry(ctx, "s1", "bar", 2)).To(Succeed())
			})

			read(func(tx store.Tx) {
				value, found, err := tx.GetEntry(ctx, "s1", "foo")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(string(value)).To(Equal("42"))

				_, found, _ = tx.GetEntry(ctx, "s1", "bar")
				Expect(found).To(BeFalse())

				_, found, _ = tx.GetEntry(ctx, "s1", "missing")
				Expect(found).To(BeFalse())
			})
		})

		It("rejects invalid JSON", func() {
			err := s.Transact(ctx, store.ReadWrite, func(ctx context.Context, tx store.Tx) error {
				return tx.PutEntry(ctx, "s1", "foo", json.RawMessage(`not json`), 1)
			})
			Expect(err).To(MatchError(store.ErrInvalidJSON))
		})

		It("round-trips JSON types", func() {
			values := map[string]string{
				"boolean": `true`,
				"number":  `42`,
				"string":  `"foo"`,
				"array":   `[1,2,3]`,
				"object":  `{"a":1,"b":2}`,
			}

			write(func(tx store.Tx) {
				for k, v := range values {
					Expect(tx.PutEntry(ctx, "s1", k, json.RawMessage(v), 1)).To(Succeed())
				}
			})

			read(func(tx store.Tx) {
				for k, v := range values {
					got, found, err := tx.GetEntry(ctx, "s1", k)
					Expect(err).NotTo(HaveOccurred())
					Expect(found).To(BeTrue())
					Expect(string(got)).To(MatchJSON(v))
				}
			})
		})
	})

	Describe("GetEntries", func() {
		BeforeEach(func() {
			write(func(tx store.Tx) {
				for _, k := range []string{"foo", "bar", "baz"} {
					Expect(tx.PutEntry(ctx, "s1", k, json.RawMessage(`"`+k+`"`), 1)).To(Succeed())
				}
			})
		})

		DescribeTable("iterates live keys from a start key",
			func(fromKey string, expected []string) {
				read(func(tx store.Tx) {
					Expect(keys(tx, fromKey)).To(Equal(expected))
				})
			},
			Entry("from empty", "", []string{"bar", "baz", "foo"}),
			Entry("from b", "b", []string{"bar", "baz", "foo"}),
			Entry("from bar", "bar", []string{"bar", "baz", "foo"}),
			Entry("from bas", "bas", []string{"baz", "foo"}),
			Entry("from f", "f", []string{"foo"}),
			Entry("from fooa", "fooa", []string{}),
		)

		It("skips tombstones", func() {
			write(func(tx store.Tx) {
				Expect(tx.DelEntry(ctx, "s1", "baz", 2)).To(Succeed())
			})

			read(func(tx store.Tx) {
				Expect(keys(tx, "")).To(Equal([]string{"bar", "foo"}))
			})
		})
	})

	Describe("GetChangedEntries", func() {
		It("returns entries newer than the cookie, tombstones included, by key", func() {
			write(func(tx store.Tx) {
				Expect(tx.PutEntry(ctx, "s1", "c", json.RawMessage(`1`), 1)).To(Succeed())
				Expect(tx.PutEntry(ctx, "s1", "b", json.RawMessage(`2`), 2)).To(Succeed())
				Expect(tx.PutEntry(ctx, "s1", "a", json.RawMessage(`3`), 3)).To(Succeed())
				Expect(tx.DelEntry(ctx, "s1", "c", 3)).To(Succeed())
				Expect(tx.PutEntry(ctx, "s2", "z", json.RawMessage(`4`), 3)).To(Succeed())
			})

			read(func(tx store.Tx) {
				changed, err := tx.GetChangedEntries(ctx, "s1", 1, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(changed).To(HaveLen(3))
				Expect(changed[0].Key).To(Equal("a"))
				Expect(changed[1].Key).To(Equal("b"))
				Expect(changed[2].Key).To(Equal("c"))
				Expect(changed[2].Deleted).To(BeTrue())

				to := int64(2)
				changed, err = tx.GetChangedEntries(ctx, "s1", 0, &to)
				Expect(err).NotTo(HaveOccurred())
				Expect(changed).To(HaveLen(1))
				Expect(changed[0].Key).To(Equal("b"))
			})
		})

		It("resurrects a deleted key on put", func() {
			write(func(tx store.Tx) {
				Expect(tx.PutEntry(ctx, "s1", "k", json.RawMessage(`1`), 1)).To(Succeed())
				Expect(tx.DelEntry(ctx, "s1", "k", 2)).To(Succeed())
				Expect(tx.PutEntry(ctx, "s1", "k", json.RawMessage(`2`), 3)).To(Succeed())
			})

			read(func(tx store.Tx) {
				changed, err := tx.GetChangedEntries(ctx, "s1", 2, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(changed).To(ConsistOf(store.ChangedEntry{Key: "k", Value: json.RawMessage(`2`)}))
			})
		})
	})

	Describe("spaces and clients", func() {
		It("creates a space once at version zero", func() {
			write(func(tx store.Tx) {
				Expect(tx.CreateSpace(ctx, "s1")).To(Succeed())
				Expect(tx.CreateSpace(ctx, "s1")).To(MatchError(store.ErrSpaceExists))
			})

			read(func(tx store.Tx) {
				version, found, err := tx.GetCookie(ctx, "s1")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(version).To(BeZero())

				exists, _ := tx.SpaceExists(ctx, "s1")
				Expect(exists).To(BeTrue())

				_, found, _ = tx.GetCookie(ctx, "nope")
				Expect(found).To(BeFalse())
			})
		})

		It("upserts the last mutation id", func() {
			write(func(tx store.Tx) {
				Expect(tx.SetLastMutationID(ctx, "c1", 1)).To(Succeed())
				Expect(tx.SetLastMutationID(ctx, "c1", 2)).To(Succeed())
			})

			read(func(tx store.Tx) {
				id, found, err := tx.GetLastMutationID(ctx, "c1")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue())
				Expect(id).To(Equal(int64(2)))
			})
		})
	})

	Describe("Transact", func() {
		It("discards writes when the unit of work fails", func() {
			boom := errors.New("boom")

			err := s.Transact(ctx, store.ReadWrite, func(ctx context.Context, tx store.Tx) error {
				Expect(tx.CreateSpace(ctx, "s1")).To(Succeed())
				Expect(tx.PutEntry(ctx, "s1", "k", json.RawMessage(`1`), 1)).To(Succeed())

				return boom
			})
			Expect(err).To(MatchError(boom))

			read(func(tx store.Tx) {
				exists, _ := tx.SpaceExists(ctx, "s1")
				Expect(exists).To(BeFalse())
			})
		})

		It("rejects writes in read-only units", func() {
			err := s.Transact(ctx, store.ReadOnly, func(ctx context.Context, tx store.Tx) error {
				return tx.SetLastMutationID(ctx, "c1", 1)
			})
			Expect(err).To(MatchError(memory.ErrReadOnly))
		})

		It("refuses to start with a cancelled context", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			Expect(s.Transact(cancelled, store.ReadOnly, func(ctx context.Context, tx store.Tx) error {
				Fail("unit of work must not run")

				return nil
			})).To(MatchError(context.Canceled))
		})
	})
})
