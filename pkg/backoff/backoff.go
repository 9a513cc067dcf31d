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

package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

const int64Max = 1<<63 - 1

// GetBackoffTime returns a random multiple of slotTime in [0, 2^retries) slots,
// capped at maximum (truncated binary exponential backoff).
func GetBackoffTime(retries int64, slotTime time.Duration, maximum time.Duration) (backoff time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			backoff = maximum
		}
	}()

	if slotTime <= 0 || retries <= 0 {
		return 0
	}

	if retries >= 63 {
		return maximum
	}

	slots := rand.Int64N(int64(1) << retries)

	if uint64(slotTime.Nanoseconds())*uint64(slots) > int64Max {
		return maximum
	}

	backoff = time.Duration(slots) * slotTime
	if backoff > maximum {
		backoff = maximum
	}

	return backoff
}

// SleepBackedOff sleeps for GetBackoffTime or until ctx is done.
func SleepBackedOff(ctx context.Context, retries int64, slotTime time.Duration, maximum time.Duration) error {
	d := GetBackoffTime(retries, slotTime, maximum)
	if d == 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
