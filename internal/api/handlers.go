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
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	gojson "github.com/goccy/go-json"
)

// compressed gzips responses for clients that accept it. Pull patches of a
// fresh client contain the whole library.
func compressed() gin.HandlerFunc {
	return gzip.Gzip(gzip.DefaultCompression)
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
}

func (s *Server) writeJSON(c *gin.Context, status int, v any) {
	body, err := gojson.Marshal(v)
	if err != nil {
		s.fail(c, "encode", err)

		return
	}

	c.Data(status, "application/json; charset=utf-8", body)
}

func (s *Server) push(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{Error: "InvalidRequest", Message: err.Error()})

		return
	}

	if _, err = s.svc.Push(c.Request.Context(), c.Query("spaceID"), body); err != nil {
		s.fail(c, "push", err)

		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

func (s *Server) pull(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody{Error: "InvalidRequest", Message: err.Error()})

		return
	}

	resp, err := s.svc.Pull(c.Request.Context(), c.Query("spaceID"), body)
	if err != nil {
		s.fail(c, "pull", err)

		return
	}

	s.writeJSON(c, http.StatusOK, resp)
}

func (s *Server) createSpace(c *gin.Context) {
	created, err := s.svc.CreateSpace(c.Request.Context(), c.Query("spaceID"))
	if err != nil {
		s.fail(c, "createSpace", err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"created": created})
}

// pokeSSE streams unnamed events so that EventSource.onmessage fires:
// "hello" right away, "poke" when the space changed and "beat" as keep-alive.
func (s *Server) pokeSSE(c *gin.Context) {
	spaceID := c.Query("spaceID")

	pokes := make(chan struct{}, 1)
	unregister := s.hub.AddListener(spaceID, func() {
		// coalesce pokes the client has not received yet
		select {
		case pokes <- struct{}{}:
		default:
		}
	})
	defer unregister()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeEvent(c, "hello")
	c.Writer.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		case <-pokes:
			writeEvent(c, "poke")
		case <-ticker.C:
			writeEvent(c, "beat")
		}

		return true
	})

	s.log.Debugf("Closed poke stream for space %s", spaceID)
}

func writeEvent(c *gin.Context, data string) {
	c.Render(-1, sse.Event{
		Id:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Data: data,
	})
}
