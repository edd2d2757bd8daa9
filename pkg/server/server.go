// Copyright 2025 Kadir Pekel
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

// Package server is the HTTP edge of the search service: the public
// search API, the history and voting endpoints, and the admin surface
// for export jobs, query moderation, models, and API tokens.
package server

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/ganj/pkg/cache"
	"github.com/kadirpekel/ganj/pkg/config"
	"github.com/kadirpekel/ganj/pkg/embedder"
	"github.com/kadirpekel/ganj/pkg/search"
	"github.com/kadirpekel/ganj/pkg/store"
	"github.com/kadirpekel/ganj/pkg/vector"
)

//go:embed static/index.html
var indexHTML []byte

//go:embed static/admin.html
var adminHTML []byte

// Server wires the search service and its stores into an HTTP API.
type Server struct {
	cfg     *config.Config
	svc     *search.Service
	vectors vector.Store
	cache   *cache.Cache
	db      *store.Store

	httpServer *http.Server
	metrics    *metrics
}

// New creates a server. cache may be nil; everything else is required.
func New(cfg *config.Config, svc *search.Service, vectors vector.Store, c *cache.Cache, db *store.Store) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		vectors: vectors,
		cache:   c,
		db:      db,
		metrics: newMetrics(),
	}
}

// Validate checks the backends before serving. An unreachable vector
// store or a missing collection is fatal; a dead cache only warns.
func (s *Server) Validate(ctx context.Context) error {
	if err := s.vectors.Heartbeat(ctx); err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}

	if _, err := s.vectors.GetCollection(ctx, s.cfg.Chroma.Collection); err != nil {
		names := "none"
		if infos, lerr := s.vectors.ListCollections(ctx); lerr == nil && len(infos) > 0 {
			var parts []string
			for _, info := range infos {
				parts = append(parts, info.Name)
			}
			names = strings.Join(parts, ", ")
		}
		return fmt.Errorf("collection %q not found (available: %s): %w", s.cfg.Chroma.Collection, names, err)
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			slog.Warn("Redis unavailable, search caching disabled", "error", err)
		}
	}

	if s.cfg.Embedding.Provider != config.ProviderNone && s.cfg.Embedding.Provider != config.ProviderHuggingFace {
		if s.cfg.APIKeyFor(s.cfg.Embedding.Provider) == "" {
			return fmt.Errorf("no API key configured for embedding provider %q", s.cfg.Embedding.Provider)
		}
	}
	if _, err := embedder.ForModel(embedder.Config{
		Provider: s.cfg.Embedding.Provider,
		Model:    s.cfg.Embedding.Model,
		APIKey:   s.cfg.APIKeyFor(s.cfg.Embedding.Provider),
		Endpoint: s.cfg.Embedding.HFEndpoint,
	}); err != nil {
		return fmt.Errorf("invalid embedding configuration: %w", err)
	}
	return nil
}

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(s.metrics.middleware)
	if s.cfg.Auth.Enabled {
		r.Use(s.requireToken)
	}

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	r.Post("/search", s.handleSearch)
	r.Post("/search/multi", s.handleMultiSearch)
	r.Post("/search/vote", s.handleVote)

	r.Get("/history", s.handleHistory)
	r.Get("/history/top", s.handleTopQueries)
	r.Get("/history/{id}", s.handleHistoryByID)

	r.Get("/approved-queries", s.handleApprovedQueries)
	r.Get("/models/active", s.handleActiveModels)

	r.Route("/admin", func(r chi.Router) {
		r.Get("/", s.handleAdminPage)

		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}", s.handleJobByID)
		r.Delete("/jobs/{id}", s.handleDeleteJob)

		r.Get("/chroma/collections", s.handleCollections)
		r.Delete("/chroma/collections/{name}", s.handleDeleteCollection)
		r.Post("/chroma/test-connection", s.handleTestConnection)
		r.Post("/chroma/generate-export-command", s.handleGenerateExportCommand)
		r.Post("/chroma/generate-serve-command", s.handleGenerateServeCommand)

		r.Get("/queries", s.handleQueryApprovals)
		r.Get("/queries/stats", s.handleQueryStats)
		r.Post("/queries/{query}/approve", s.handleApproveQuery)
		r.Post("/queries/{query}/reject", s.handleRejectQuery)
		r.Delete("/queries/{query}", s.handleDeleteQuery)

		r.Get("/models", s.handleModels)
		r.Post("/models/{id}/toggle", s.handleToggleModel)
		r.Put("/models/{id}/color", s.handleModelColor)

		r.Get("/search/votes", s.handleVotes)
		r.Get("/search/votes/summary", s.handleVoteSummary)

		r.Post("/auth/users", s.handleCreateUser)
		r.Get("/auth/users", s.handleUsers)
		r.Post("/auth/tokens", s.handleCreateToken)
		r.Get("/auth/tokens", s.handleTokens)
		r.Delete("/auth/tokens/{id}", s.handleRevokeToken)
		r.Get("/auth/tokens/{id}/usage", s.handleTokenUsage)

		r.Get("/debug/segment-info", s.handleSegmentInfo)
	})

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.App.Host, s.cfg.App.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(adminHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := map[string]string{}

	if err := s.vectors.Heartbeat(r.Context()); err != nil {
		status = "degraded"
		checks["vector_store"] = err.Error()
	} else {
		checks["vector_store"] = "ok"
	}

	if s.cache != nil {
		if err := s.cache.Ping(r.Context()); err != nil {
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	} else {
		checks["redis"] = "disabled"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":     status,
		"collection": s.cfg.Chroma.Collection,
		"checks":     checks,
	})
}
