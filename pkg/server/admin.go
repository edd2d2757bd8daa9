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

package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/ganj/pkg/store"
)

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50, 1, 500)
	jobs, err := s.db.ExportJobs(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []store.ExportJob{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "شناسه نامعتبر است.")
		return
	}
	job, err := s.db.ExportJobByID(id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("کار با شناسه %d یافت نشد.", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "شناسه نامعتبر است.")
		return
	}
	if err := s.db.DeleteExportJob(id); errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("کار با شناسه %d یافت نشد.", id))
		return
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "job_id": id})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := s.vectors.ListCollections(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	collections := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		entry := map[string]any{
			"name":     info.Name,
			"metadata": info.Metadata,
		}
		if count, err := s.vectors.Count(r.Context(), info.Name); err == nil {
			entry["count"] = count
		}
		collections = append(collections, entry)
	}
	respondJSON(w, http.StatusOK, map[string]any{"collections": collections})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		respondError(w, http.StatusUnprocessableEntity, "نام کالکشن الزامی است.")
		return
	}
	if err := s.vectors.DeleteCollection(r.Context(), name); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "collection": name})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.vectors.Heartbeat(r.Context()); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "backend": s.vectors.Name()})
}

type exportCommandRequest struct {
	SQLPath           string `json:"sql_path"`
	Collection        string `json:"collection"`
	BatchSize         int    `json:"batch_size"`
	MaxLength         int    `json:"max_length"`
	ContextLength     int    `json:"context_length"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	SSL               bool   `json:"ssl"`
	PersistDir        string `json:"persist_directory"`
	Reset             bool   `json:"reset"`
	PageLevel         bool   `json:"page_level"`
}

// handleGenerateExportCommand renders a copy-pasteable export invocation
// from form values, so operators do not hand-assemble flag soup.
func (s *Server) handleGenerateExportCommand(w http.ResponseWriter, r *http.Request) {
	var req exportCommandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SQLPath == "" || req.Collection == "" {
		respondError(w, http.StatusUnprocessableEntity, "مسیر فایل SQL و نام کالکشن الزامی هستند.")
		return
	}

	parts := []string{"ganj", "export",
		"--sql-path", req.SQLPath,
		"--collection", req.Collection,
	}
	if req.EmbeddingProvider != "" {
		parts = append(parts, "--provider", req.EmbeddingProvider)
	}
	if req.EmbeddingModel != "" {
		parts = append(parts, "--model", req.EmbeddingModel)
	}
	if req.BatchSize > 0 {
		parts = append(parts, "--batch-size", fmt.Sprint(req.BatchSize))
	}
	if req.MaxLength > 0 {
		parts = append(parts, "--max-length", fmt.Sprint(req.MaxLength))
	}
	if req.ContextLength > 0 {
		parts = append(parts, "--context-length", fmt.Sprint(req.ContextLength))
	}
	if req.PersistDir != "" {
		parts = append(parts, "--persist-dir", req.PersistDir)
	} else {
		if req.Host != "" {
			parts = append(parts, "--host", req.Host)
		}
		if req.Port > 0 {
			parts = append(parts, "--port", fmt.Sprint(req.Port))
		}
		if req.SSL {
			parts = append(parts, "--ssl")
		}
	}
	if req.PageLevel {
		parts = append(parts, "--page-level")
	}
	if req.Reset {
		parts = append(parts, "--reset")
	}

	respondJSON(w, http.StatusOK, map[string]any{"command": strings.Join(parts, " ")})
}

type serveCommandRequest struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

func (s *Server) handleGenerateServeCommand(w http.ResponseWriter, r *http.Request) {
	var req serveCommandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Host == "" {
		req.Host = s.cfg.App.Host
	}
	if req.Port == 0 {
		req.Port = s.cfg.App.Port
	}

	parts := []string{"ganj", "serve", "--host", req.Host, "--port", fmt.Sprint(req.Port)}
	if req.LogLevel != "" {
		parts = append(parts, "--log-level", req.LogLevel)
	}
	respondJSON(w, http.StatusOK, map[string]any{"command": strings.Join(parts, " ")})
}

func (s *Server) handleQueryApprovals(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100, 1, 1000)
	minCount := intQuery(r, "min_count", 1, 1, 1<<30)
	status := r.URL.Query().Get("status")

	queries, err := s.db.QueryApprovals(limit, minCount, status)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if queries == nil {
		queries = []store.QueryApproval{}
	}
	stats, err := s.db.QueryStatsSummary()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"queries": queries, "stats": stats})
}

// queryParam returns the {query} path segment, URL-decoded. Queries may
// contain spaces and Persian text, so clients send them percent-encoded.
func queryParam(r *http.Request) string {
	raw := chi.URLParam(r, "query")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func (s *Server) handleApproveQuery(w http.ResponseWriter, r *http.Request) {
	query := queryParam(r)
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusUnprocessableEntity, "عبارت جستجو الزامی است.")
		return
	}
	if err := s.db.ApproveQuery(query, nil); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": store.ApprovalApproved, "query": query})
}

func (s *Server) handleRejectQuery(w http.ResponseWriter, r *http.Request) {
	query := queryParam(r)
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusUnprocessableEntity, "عبارت جستجو الزامی است.")
		return
	}
	if err := s.db.RejectQuery(query, nil); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": store.ApprovalRejected, "query": query})
}

func (s *Server) handleDeleteQuery(w http.ResponseWriter, r *http.Request) {
	query := queryParam(r)
	if strings.TrimSpace(query) == "" {
		respondError(w, http.StatusUnprocessableEntity, "عبارت جستجو الزامی است.")
		return
	}
	deleted, err := s.db.DeleteQuery(query)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "عبارت جستجو یافت نشد.")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "query": query})
}

func (s *Server) handleQueryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.QueryStatsSummary()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50, 1, 500)
	activeOnly := r.URL.Query().Get("active_only") == "true"

	models, err := s.db.EmbeddingModels(limit, activeOnly, true)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []store.EmbeddingModel{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"models": models})
}

type toggleModelRequest struct {
	IsActive bool `json:"is_active"`
}

func (s *Server) handleToggleModel(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "شناسه نامعتبر است.")
		return
	}
	var req toggleModelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.db.SetEmbeddingModelActive(id, req.IsActive)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !updated {
		respondError(w, http.StatusNotFound, fmt.Sprintf("مدل با شناسه %d یافت نشد.", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"model_id": id, "is_active": req.IsActive})
}

var hexColorRe = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

type modelColorRequest struct {
	Color string `json:"color"`
}

func (s *Server) handleModelColor(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "شناسه نامعتبر است.")
		return
	}
	var req modelColorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !hexColorRe.MatchString(req.Color) {
		respondError(w, http.StatusBadRequest, "کد رنگ نامعتبر است. مثال: #3B82F6")
		return
	}

	updated, err := s.db.UpdateEmbeddingModelColor(id, req.Color)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !updated {
		respondError(w, http.StatusNotFound, fmt.Sprintf("مدل با شناسه %d یافت نشد.", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"model_id": id, "color": req.Color})
}

func (s *Server) handleVotes(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100, 1, 1000)
	votes, err := s.db.Votes(limit, r.URL.Query().Get("query"), int64Query(r, "model_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if votes == nil {
		votes = []store.Vote{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"votes": votes})
}

func (s *Server) handleVoteSummary(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100, 1, 1000)
	summary, err := s.db.VoteSummary(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summary == nil {
		summary = []store.VoteSummaryRow{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

type createUserRequest struct {
	Username string  `json:"username"`
	Email    *string `json:"email,omitempty"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		respondError(w, http.StatusUnprocessableEntity, "نام کاربری الزامی است.")
		return
	}
	id, err := s.db.CreateUser(req.Username, req.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"user_id": id, "username": req.Username})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.Users()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if users == nil {
		users = []store.APIUser{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

type createTokenRequest struct {
	UserID          int64  `json:"user_id"`
	Name            string `json:"name"`
	RateLimitPerDay int    `json:"rate_limit_per_day"`
	ExpiresDays     int    `json:"expires_days"`
}

// handleCreateToken mints a bearer token. The plaintext is returned once
// here; only its SHA-256 digest is stored.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == 0 || strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusUnprocessableEntity, "شناسه کاربر و نام توکن الزامی هستند.")
		return
	}
	if req.RateLimitPerDay <= 0 {
		req.RateLimitPerDay = s.cfg.Auth.DefaultRateLimitDay
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	plaintext := "ganj_" + hex.EncodeToString(raw)
	digest := sha256.Sum256([]byte(plaintext))

	var expiresAt *time.Time
	if req.ExpiresDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, req.ExpiresDays)
		expiresAt = &t
	}

	id, err := s.db.CreateToken(req.UserID, hex.EncodeToString(digest[:]), req.Name, req.RateLimitPerDay, expiresAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"token_id":           id,
		"token":              plaintext,
		"name":               req.Name,
		"rate_limit_per_day": req.RateLimitPerDay,
		"expires_at":         expiresAt,
	})
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.db.Tokens(int64Query(r, "user_id"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tokens == nil {
		tokens = []store.APIToken{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "شناسه نامعتبر است.")
		return
	}
	revoked, err := s.db.RevokeToken(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !revoked {
		respondError(w, http.StatusNotFound, fmt.Sprintf("توکن با شناسه %d یافت نشد.", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "revoked", "token_id": id})
}

func (s *Server) handleTokenUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "شناسه نامعتبر است.")
		return
	}

	tokens, err := s.db.Tokens(nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var token *store.APIToken
	for i := range tokens {
		if tokens[i].ID == id {
			token = &tokens[i]
			break
		}
	}
	if token == nil {
		respondError(w, http.StatusNotFound, fmt.Sprintf("توکن با شناسه %d یافت نشد.", id))
		return
	}

	usedToday, err := s.db.TokenUsageToday(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	remaining := token.RateLimitPerDay - usedToday
	if remaining < 0 {
		remaining = 0
	}

	limit := intQuery(r, "limit", 30, 1, 365)
	history, err := s.db.TokenUsageHistory(&id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []store.TokenUsage{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token_id":    id,
		"usage_today": usedToday,
		"rate_limit":  token.RateLimitPerDay,
		"remaining":   remaining,
		"reset_at":    nextUTCMidnight(),
		"history":     history,
	})
}

// handleSegmentInfo lists the stored segments of one paragraph, in
// segment order. Useful for debugging chunking decisions.
func (s *Server) handleSegmentInfo(w http.ResponseWriter, r *http.Request) {
	bookID := int64Query(r, "book_id")
	pageID := int64Query(r, "page_id")
	paraIndex := int64Query(r, "paragraph_index")
	if bookID == nil || pageID == nil || paraIndex == nil {
		respondError(w, http.StatusUnprocessableEntity, "book_id و page_id و paragraph_index الزامی هستند.")
		return
	}

	records, err := s.vectors.Get(r.Context(), s.cfg.Chroma.Collection, map[string]any{
		"book_id":         *bookID,
		"page_id":         *pageID,
		"paragraph_index": *paraIndex,
	}, 0)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		return segmentIndexOf(records[i].Metadata) < segmentIndexOf(records[j].Metadata)
	})

	segments := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		segments = append(segments, map[string]any{
			"id":       rec.ID,
			"document": rec.Document,
			"metadata": rec.Metadata,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"book_id":         *bookID,
		"page_id":         *pageID,
		"paragraph_index": *paraIndex,
		"segments":        segments,
	})
}

func segmentIndexOf(md map[string]any) int64 {
	switch v := md["segment_index"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
