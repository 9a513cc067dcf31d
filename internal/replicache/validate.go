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
	"errors"
	"fmt"
	"reflect"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/go-playground/validator/v10"
)

// ValidationError is returned for request bodies that do not have the
// expected shape. The API maps it to 400.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report fields by their json names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// DecodePush parses and validates a push body.
func DecodePush(body []byte) (*PushRequest, error) {
	var req PushRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	return &req, nil
}

// DecodePull parses and validates a pull body.
func DecodePull(body []byte) (*PullRequest, error) {
	var req PullRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	return &req, nil
}

func decode(body []byte, v any) error {
	if len(body) == 0 {
		return &ValidationError{Err: errors.New("empty body")}
	}

	if err := gojson.Unmarshal(body, v); err != nil {
		return &ValidationError{Err: err}
	}

	if err := validate.Struct(v); err != nil {
		return &ValidationError{Err: describe(err)}
	}

	return nil
}

// describe turns validator output into "clientID is required"-style messages.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", jsonPath(fe.Namespace()), fe.Tag()))
	}

	return errors.New(strings.Join(msgs, "; "))
}

// jsonPath drops the root struct name: PushRequest.mutations[0].name -> mutations[0].name.
func jsonPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}

	return ns
}
