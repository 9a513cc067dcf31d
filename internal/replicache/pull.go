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
	"fmt"
	"strings"
	"time"

	"github.com/lindylearn/unclutter-sync/internal/store"
	"github.com/lindylearn/unclutter-sync/pkg/metrics"
)

// TextKeyPrefix marks full-text entries. They are kept out of pull patches;
// clients fetch article text separately.
const TextKeyPrefix = "text/"

// Pull returns every change of spaceID since the version in the request's cookie.
func (s *Service) Pull(ctx context.Context, spaceID string, body []byte) (*PullResponse, error) {
	start := time.Now()

	req, err := DecodePull(body)
	if err != nil {
		return nil, err
	}

	if req.Cookie.Legacy {
		s.log.Debugf("Converting legacy cookie %d from client %s", req.Cookie.BaseVersion(), req.ClientID)
	}

	var (
		changed        []store.ChangedEntry
		lastMutationID int64
		version        int64
	)

	err = s.store.Transact(ctx, store.ReadOnly, func(ctx context.Context, tx store.Tx) error {
		var (
			found bool
			err   error
		)

		if changed, err = tx.GetChangedEntries(ctx, spaceID, req.Cookie.BaseVersion(), nil); err != nil {
			return err
		}

		if lastMutationID, _, err = tx.GetLastMutationID(ctx, req.ClientID); err != nil {
			return err
		}

		if version, found, err = tx.GetCookie(ctx, spaceID); err != nil {
			return err
		}

		if !found {
			return fmt.Errorf("%w: %s", store.ErrUnknownSpace, spaceID)
		}

		return nil
	})
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentPull)

		return nil, fmt.Errorf("pull from space %s: %w", spaceID, err)
	}

	resp := &PullResponse{
		Cookie:         Cookie{Version: version},
		LastMutationID: lastMutationID,
		Patch:          make([]PatchOperation, 0, len(changed)),
	}

	textEntries := 0

	for _, e := range changed {
		if strings.HasPrefix(e.Key, TextKeyPrefix) {
			textEntries++

			continue
		}

		if e.Deleted {
			resp.Patch = append(resp.Patch, PatchOperation{Op: OpDel, Key: e.Key})

			continue
		}

		resp.Patch = append(resp.Patch, PatchOperation{Op: OpPut, Key: e.Key, Value: e.Value})
	}

	elapsed := time.Since(start)
	metrics.ObservePullPatchSize(len(resp.Patch))
	metrics.ObserveRequestTime(metrics.ComponentPull, elapsed)
	s.log.Debugf("Pull for space %s from version %d: %d entries (%d text entries held back), cookie %d, in %s",
		spaceID, req.Cookie.BaseVersion(), len(resp.Patch), textEntries, version, elapsed)

	return resp, nil
}
