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
	"bytes"
	"encoding/json"
	"fmt"

	gojson "github.com/goccy/go-json"
)

// Mutation is one client-side operation to replay on the server.
type Mutation struct {
	ID   *int64          `json:"id" validate:"required"`
	Name string          `json:"name" validate:"required"`
	Args json.RawMessage `json:"args"`
}

// PushRequest is the body of POST /replicache/push.
type PushRequest struct {
	ClientID      string     `json:"clientID" validate:"required"`
	Mutations     []Mutation `json:"mutations" validate:"required,dive"`
	PushVersion   int        `json:"pushVersion,omitempty"`
	SchemaVersion string     `json:"schemaVersion,omitempty"`
}

// Cookie is the opaque pull cursor handed to clients.
type Cookie struct {
	Version int64 `json:"version"`
}

// PullCookie accepts {"version": n}, null and the legacy bare number n.
type PullCookie struct {
	Cookie *Cookie
	Legacy bool
}

func (c *PullCookie) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		c.Cookie = nil

		return nil
	}

	if data[0] != '{' {
		var n int64
		if err := gojson.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("cookie must be an object, a number or null: %w", err)
		}

		c.Cookie = &Cookie{Version: n}
		c.Legacy = true

		return nil
	}

	var raw struct {
		Version *int64 `json:"version"`
	}
	if err := gojson.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid cookie: %w", err)
	}

	if raw.Version == nil {
		return fmt.Errorf("cookie is missing version")
	}

	c.Cookie = &Cookie{Version: *raw.Version}

	return nil
}

// BaseVersion is the version the client already has, 0 for a first pull.
func (c PullCookie) BaseVersion() int64 {
	if c.Cookie == nil {
		return 0
	}

	return c.Cookie.Version
}

// PullRequest is the body of POST /replicache/pull.
type PullRequest struct {
	ClientID      string     `json:"clientID" validate:"required"`
	Cookie        PullCookie `json:"cookie"`
	SchemaVersion string     `json:"schemaVersion"`
	PullVersion   int        `json:"pullVersion,omitempty"`
}

// PatchOp is either "put" or "del".
type PatchOp string

const (
	OpPut PatchOp = "put"
	OpDel PatchOp = "del"
)

// PatchOperation is one entry of a pull patch. Value is only set for puts.
type PatchOperation struct {
	Op    PatchOp         `json:"op"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// PullResponse is returned by pull.
type PullResponse struct {
	Cookie         Cookie           `json:"cookie"`
	LastMutationID int64            `json:"lastMutationID"`
	Patch          []PatchOperation `json:"patch"`
}

// PushResult describes what a push did. It is not sent to clients.
type PushResult struct {
	PrevVersion    int64
	Version        int64
	LastMutationID int64
	Applied        int
	Skipped        int
	Failed         int
}
