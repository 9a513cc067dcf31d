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

package sentry

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const debounceInterval = 2 * time.Hour

// reportFatal sends a fatal error to Sentry and panics afterwards.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error("The sync server has encountered a fatal error and will now terminate.")
	log.Errorf("Error: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	event := createSentryEventWithContext(sentry.LevelFatal, err, context)
	sendSentryEvent(event)
	sentry.Flush(time.Second * 5)

	log.Panic("Fatal error")
}

// debouncer lets at most one event per interval through.
type debouncer struct {
	lastSent time.Time
	mu       sync.Mutex
}

func (d *debouncer) allow(now time.Time) bool {
	if !shouldDebounceErrors {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if now.Sub(d.lastSent) < debounceInterval {
		return false
	}

	d.lastSent = now

	return true
}

var (
	errorDebouncer   = &debouncer{lastSent: time.Now().Add(-24 * time.Hour)}
	warningDebouncer = &debouncer{lastSent: time.Now().Add(-24 * time.Hour)}
)

func reportError(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Errorw(err.Error(), flatten(context)...)

	if !errorDebouncer.allow(time.Now()) {
		return
	}

	sendSentryEvent(createSentryEventWithContext(sentry.LevelError, err, context))
}

func reportWarning(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Warnw(err.Error(), flatten(context)...)

	if !warningDebouncer.allow(time.Now()) {
		return
	}

	sendSentryEvent(createSentryEventWithContext(sentry.LevelWarning, err, context))
}

func flatten(context map[string]interface{}) []interface{} {
	kv := make([]interface{}, 0, len(context)*2)
	for k, v := range context {
		kv = append(kv, k, v)
	}

	return kv
}
