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

package replicache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	gojson "github.com/goccy/go-json"
)

var (
	// ErrEmptyMutatorName is returned when registering a mutator without a name.
	ErrEmptyMutatorName = errors.New("mutator name must not be empty")
	// ErrDuplicateMutator is returned when a name is registered twice.
	ErrDuplicateMutator = errors.New("mutator already registered")
	// ErrInvalidArgs wraps failures to decode mutation args.
	ErrInvalidArgs = errors.New("invalid mutator args")
)

// MutatorFunc applies one mutation to tx. args is the raw JSON sent by the
// client and may be empty.
type MutatorFunc func(ctx context.Context, tx *WriteTransaction, args json.RawMessage) error

// Registry maps mutator names to implementations. It is filled once at
// startup and read concurrently by pushes afterwards.
type Registry struct {
	mu       sync.RWMutex
	mutators map[string]MutatorFunc
}

func NewRegistry() *Registry {
	return &Registry{mutators: make(map[string]MutatorFunc)}
}

// Register adds fn under name.
func (r *Registry) Register(name string, fn MutatorFunc) error {
	if name == "" {
		return ErrEmptyMutatorName
	}

	if fn == nil {
		return fmt.Errorf("mutator %q: nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.mutators[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMutator, name)
	}

	r.mutators[name] = fn

	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(name string, fn MutatorFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the mutator registered under name.
func (r *Registry) Lookup(name string) (MutatorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.mutators[name]

	return fn, ok
}

// Names lists the registered mutators in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.mutators))
	for n := range r.mutators {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Typed adapts a handler taking decoded args. Missing args decode as the zero value.
func Typed[A any](fn func(ctx context.Context, tx *WriteTransaction, args A) error) MutatorFunc {
	return func(ctx context.Context, tx *WriteTransaction, raw json.RawMessage) error {
		var args A
		if len(raw) > 0 {
			if err := gojson.Unmarshal(raw, &args); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidArgs, err)
			}
		}

		return fn(ctx, tx, args)
	}
}
