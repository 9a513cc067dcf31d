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

package backoff_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lindylearn/unclutter-sync/pkg/backoff"
)

var _ = Describe("Error categories", func() {
	It("finds the category through wrapping", func() {
		root := errors.New("could not serialize access") //nolint:err113 // Test needs dynamic error
		wrapped := fmt.Errorf("push: %w", backoff.NewTransientError(root))

		Expect(backoff.IsTransientError(wrapped)).To(BeTrue())
		Expect(backoff.IsPermanentError(wrapped)).To(BeFalse())
		Expect(backoff.ExtractOriginalError(wrapped)).To(Equal(root))
	})

	It("keeps the original message", func() {
		err := backoff.NewPermanentError(errors.New("too many retries")) //nolint:err113 // Test needs dynamic error
		Expect(err.Error()).To(Equal("too many retries"))
		Expect(backoff.IsPermanentError(err)).To(BeTrue())
	})

	It("does not categorize plain errors", func() {
		err := errors.New("plain") //nolint:err113 // Test needs dynamic error
		Expect(backoff.IsTransientError(err)).To(BeFalse())
		Expect(backoff.IsPermanentError(err)).To(BeFalse())
		Expect(backoff.ExtractOriginalError(nil)).To(BeNil())
	})
})

var _ = Describe("GetBackoffTime", func() {
	It("returns zero without retries or slot time", func() {
		Expect(backoff.GetBackoffTime(0, time.Millisecond, time.Second)).To(BeZero())
		Expect(backoff.GetBackoffTime(3, 0, time.Second)).To(BeZero())
	})

	It("stays within the window of the attempt", func() {
		for range 100 {
			d := backoff.GetBackoffTime(3, 10*time.Millisecond, time.Second)
			Expect(d).To(BeNumerically(">=", 0))
			Expect(d).To(BeNumerically("<", 80*time.Millisecond))
			Expect(d % (10 * time.Millisecond)).To(BeZero())
		}
	})

	It("caps at the maximum", func() {
		Expect(backoff.GetBackoffTime(100, time.Second, 5*time.Second)).To(Equal(5 * time.Second))

		for range 100 {
			Expect(backoff.GetBackoffTime(20, time.Second, 5*time.Second)).To(BeNumerically("<=", 5*time.Second))
		}
	})
})

var _ = Describe("SleepBackedOff", func() {
	It("returns early when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := backoff.SleepBackedOff(ctx, 30, time.Hour, time.Hour)
		Expect(err).To(MatchError(context.Canceled))
	})
})
