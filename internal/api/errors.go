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

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lindylearn/unclutter-sync/internal/replicache"
	"github.com/lindylearn/unclutter-sync/internal/store"
	"github.com/lindylearn/unclutter-sync/pkg/metrics"
	"github.com/lindylearn/unclutter-sync/pkg/sentry"
)

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"requestID,omitempty"`
}

// fail maps err to a status code and writes the error body. An unknown space
// is answered with 404 rather than the generic 500; Replicache clients treat
// both as a failed request and retry, and a missing createSpace call is not
// reported to Sentry.
func (s *Server) fail(c *gin.Context, operation string, err error) {
	requestID := getRequestID(c)

	var verr *replicache.ValidationError

	switch {
	case errors.As(err, &verr):
		s.log.Infow("Invalid request", "request_id", requestID, "operation", operation, "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "InvalidRequest", Message: verr.Error(), RequestID: requestID})
	case errors.Is(err, store.ErrUnknownSpace):
		s.log.Infow("Unknown space", "request_id", requestID, "operation", operation, "space_id", c.Query("spaceID"))
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Error: "SpaceNotFound", Message: err.Error(), RequestID: requestID})
	case errors.Is(err, context.Canceled) && c.Request.Context().Err() != nil:
		// client went away; nobody reads the response
		s.log.Debugw("Request cancelled", "request_id", requestID, "operation", operation)
		c.Abort()
	default:
		metrics.IncErrorCount(metrics.ComponentAPI)
		sentry.ReportRequestError(s.log, requestID, operation, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Error:     "InternalServerError",
			Message:   "The server had an internal error. Please mention the request id when contacting support.",
			RequestID: requestID,
		})
	}
}
