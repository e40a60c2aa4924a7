// Copyright 2025 Kellogg Brengel
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

// Package server exposes the chat pipeline over HTTP: the public /chat,
// /contact and /health endpoints plus the localhost-only metrics and
// admin surfaces.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/kbrengel/talkingrock/pkg/analytics"
	"github.com/kbrengel/talkingrock/pkg/config"
	"github.com/kbrengel/talkingrock/pkg/contact"
	"github.com/kbrengel/talkingrock/pkg/observability"
	"github.com/kbrengel/talkingrock/pkg/pipeline"
)

const apiVersion = "0.1.0"

// Pipeline is the request-processing side of an orchestrator.
type Pipeline interface {
	Process(ctx context.Context, input pipeline.ChatInput) pipeline.ChatResponse
	HealthCheck(ctx context.Context) map[string]bool
}

// StreamingPipeline is implemented by orchestrators that can stream.
type StreamingPipeline interface {
	ProcessStream(ctx context.Context, input pipeline.ChatInput, fn func(chunk string) error) error
}

// Server wires the HTTP surface to a pipeline and its storage backends.
type Server struct {
	cfg       *config.Config
	pipe      Pipeline
	streamer  StreamingPipeline
	contacts  *contact.Storage
	analytics *analytics.Service
	logs      *analytics.Storage
	metrics   observability.Metrics

	httpServer *http.Server
}

// Options carries the server's dependencies. Streamer, Analytics, Logs
// and Metrics are optional.
type Options struct {
	Config    *config.Config
	Pipeline  Pipeline
	Streamer  StreamingPipeline
	Contacts  *contact.Storage
	Analytics *analytics.Service
	Logs      *analytics.Storage
	Metrics   observability.Metrics
}

// New builds the server and its route table.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if opts.Contacts == nil {
		return nil, fmt.Errorf("contact storage is required")
	}

	s := &Server{
		cfg:       opts.Config,
		pipe:      opts.Pipeline,
		streamer:  opts.Streamer,
		contacts:  opts.Contacts,
		analytics: opts.Analytics,
		logs:      opts.Logs,
		metrics:   opts.Metrics,
	}

	addr := fmt.Sprintf("%s:%d", opts.Config.Server.Host, opts.Config.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.Config.Security.RequestTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: false,
	}))
	r.Use(requestMeta)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/chat", s.handleChat)
	if s.streamer != nil && s.cfg.Pipeline.EnableStreaming {
		r.Post("/chat/stream", s.handleChatStream)
	}
	r.Post("/contact", s.handleContact)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminOnly)
		r.Get("/analytics/stats", s.handleAdminStats)
		r.Get("/analytics/conversations", s.handleAdminConversations)
		r.Get("/analytics/conversations/{conversationID}", s.handleAdminConversation)
		r.Get("/inbox", s.handleAdminInbox)
		r.Get("/inbox/{messageID}", s.handleAdminInboxMessage)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
