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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-Id"

	requestIDKey = "requestID"
	identityKey  = "identity"
)

// cors allows every origin. Preflight requests are answered directly with {}.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "*")

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "PUT, POST, PATCH, DELETE, GET")
			c.AbortWithStatusJSON(http.StatusOK, gin.H{})

			return
		}

		c.Next()
	}
}

// requestID tags every request with an id, reusing the caller's if present.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// requireSpaceAccess authenticates the caller and checks that it may access
// the space named by the spaceID query parameter.
func requireSpaceAccess(auth Authenticator, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		spaceID := c.Query("spaceID")
		if spaceID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "InvalidRequest", Message: "spaceID is required"})

			return
		}

		id, err := auth.Authenticate(c.Request)
		if err != nil || id == nil {
			if err != nil && !errors.Is(err, ErrNoCredentials) && !errors.Is(err, ErrUnauthenticated) {
				log.Warnf("Authentication failed for request %s: %s", getRequestID(c), err)
			}

			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error:   "Unauthenticated",
				Message: "The authentication token is invalid",
			})

			return
		}

		if !id.Trusted && id.UserID != spaceID {
			log.Infof("User %s (%s) has no access to space %s", id.UserID, id.Method, spaceID)
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
				Error:   "Forbidden",
				Message: "User has no access to this spaceID",
			})

			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}
