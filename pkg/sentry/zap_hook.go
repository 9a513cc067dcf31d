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
	"fmt"
	"math"
	"strconv"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"
)

// FingerprintKeys group Sentry events. Space, client and request ids vary per
// user and stay tags only.
var FingerprintKeys = map[string]bool{
	"operation": true,
	"mutator":   true,
}

// SentryHook wraps a zapcore.Core and sends Warn and above to Sentry from a
// separate goroutine. Logging itself is left to the wrapped core.
type SentryHook struct {
	zapcore.Core
}

func NewSentryHook(core zapcore.Core) *SentryHook {
	return &SentryHook{Core: core}
}

func (h *SentryHook) With(fields []zapcore.Field) zapcore.Core {
	return &SentryHook{Core: h.Core.With(fields)}
}

func (h *SentryHook) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !h.Enabled(entry.Level) {
		return ce
	}

	return ce.AddCore(entry, h)
}

func (h *SentryHook) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if entry.Level >= zapcore.WarnLevel {
		go capture(entry, fields)
	}

	return h.Core.Write(entry, fields)
}

func capture(entry zapcore.Entry, fields []zapcore.Field) {
	level := sentryLevel(entry.Level)
	tags := make(map[string]string, len(fields))
	fingerprint := []string{"{{ default }}", "level: " + getLevelString(level)}

	for _, field := range fields {
		value, ok := fieldValue(field)
		if !ok {
			continue
		}

		tags[field.Key] = value

		if FingerprintKeys[field.Key] {
			fingerprint = append(fingerprint, field.Key+": "+value)
		}
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetFingerprint(fingerprint)
		scope.SetTags(tags)

		sentry.CaptureMessage(entry.Message)
	})
}

// fieldValue renders a field as a tag value. Fields without a value, such as
// namespaces, report false.
func fieldValue(field zapcore.Field) (string, bool) {
	switch field.Type {
	case zapcore.StringType:
		return field.String, true
	case zapcore.BoolType:
		return strconv.FormatBool(field.Integer == 1), true
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type, zapcore.DurationType:
		return strconv.FormatInt(field.Integer, 10), true
	case zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return strconv.FormatUint(uint64(field.Integer), 10), true
	case zapcore.Float64Type:
		return strconv.FormatFloat(math.Float64frombits(uint64(field.Integer)), 'g', -1, 64), true
	case zapcore.Float32Type:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(field.Integer))), 'g', -1, 32), true
	}

	if field.Interface == nil {
		return "", false
	}

	return fmt.Sprint(field.Interface), true
}

// sentryLevel maps the captured zap levels; only Warn and above get here.
func sentryLevel(level zapcore.Level) sentry.Level {
	switch level {
	case zapcore.WarnLevel:
		return sentry.LevelWarning
	case zapcore.ErrorLevel:
		return sentry.LevelError
	default:
		return sentry.LevelFatal
	}
}
