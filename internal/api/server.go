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

// Package api is the HTTP surface of the sync server.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lindylearn/unclutter-sync/internal/poke"
	"github.com/lindylearn/unclutter-sync/internal/replicache"
	"github.com/lindylearn/unclutter-sync/pkg/logger"
)

const (
	defaultHeartbeat = 30 * time.Second
	maxBodyBytes     = 32 << 20
)

// RoutePrefixes are the mount points of the replicache routes.
// /replicache is kept for clients built against the old path.
var RoutePrefixes = []string{"/api/replicache", "/replicache"}

// Options wire a Server.
type Options struct {
	Service *replicache.Service
	// Hub serves poke-sse; nil when pokes go through Supabase Realtime.
	Hub  *poke.Hub
	Auth Authenticator
	// Heartbeat is the interval of SSE keep-alive events. Zero means 30s.
	Heartbeat time.Duration
	Logger    *zap.Logger
}

// Server holds the handlers.
type Server struct {
	svc       *replicache.Service
	hub       *poke.Hub
	auth      Authenticator
	heartbeat time.Duration
	log       *zap.SugaredLogger
	router    *gin.Engine

	closing   chan struct{}
	closeOnce sync.Once
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}

	if opts.Auth == nil {
		opts.Auth = Chain{}
	}

	s := &Server{
		svc:       opts.Service,
		hub:       opts.Hub,
		auth:      opts.Auth,
		heartbeat: opts.Heartbeat,
		log:       opts.Logger.Sugar().Named(logger.ComponentAPI),
		closing:   make(chan struct{}),
	}
	s.router = s.newRouter(opts.Logger)

	return s
}

func (s *Server) newRouter(logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// access log, RFC3339 in UTC
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	// panics are logged with their stack and answered with 500
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(requestID())
	router.Use(cors())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	if s.hub == nil {
		s.log.Warn("Poke backend is not SSE, poke-sse is not served; clients must subscribe to Supabase Realtime. Set REQUIRE_POKE_SSE=true to refuse this at startup")
	}

	for _, prefix := range RoutePrefixes {
		group := router.Group(prefix, requireSpaceAccess(s.auth, s.log))
		{
			group.POST("/push", s.push)
			group.POST("/pull", compressed(), s.pull)
			group.POST("/space", s.createSpace)

			if s.hub != nil {
				group.GET("/poke-sse", s.pokeSSE)
			}
		}
	}

	return router
}

// CloseStreams ends every open poke-sse stream.
func (s *Server) CloseStreams() {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown waits for active requests; open SSE streams would never finish
	srv.RegisterOnShutdown(s.CloseStreams)

	errCh := make(chan error, 1)

	go func() {
		s.log.Infof("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		_ = srv.Close()
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
