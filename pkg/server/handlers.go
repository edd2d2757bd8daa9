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
	"errors"
	"net/http"
	"strings"

	"github.com/kadirpekel/ganj/pkg/search"
	"github.com/kadirpekel/ganj/pkg/store"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.svc.Search(r.Context(), &req)
	if err != nil {
		respondSearchError(w, err)
		return
	}
	s.metrics.observeSearch(resp.CacheSource)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMultiSearch(w http.ResponseWriter, r *http.Request) {
	var req search.MultiRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.svc.MultiSearch(r.Context(), &req)
	if err != nil {
		respondSearchError(w, err)
		return
	}
	s.metrics.observeSearch(resp.CacheSource)
	respondJSON(w, http.StatusOK, resp)
}

type voteRequest struct {
	Query       string  `json:"query"`
	GuestUserID string  `json:"guest_user_id"`
	VoteType    string  `json:"vote_type"`
	ModelID     *int64  `json:"model_id,omitempty"`
	ResultID    *string `json:"result_id,omitempty"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusUnprocessableEntity, "عبارت جستجو الزامی است.")
		return
	}
	if len(strings.TrimSpace(req.GuestUserID)) < 8 {
		respondError(w, http.StatusUnprocessableEntity, "شناسه کاربر مهمان باید حداقل ۸ نویسه باشد.")
		return
	}

	if req.ModelID != nil {
		if _, err := s.db.EmbeddingModelByID(*req.ModelID); errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "مدل انتخابی یافت نشد")
			return
		} else if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if _, err := s.db.SaveVote(req.GuestUserID, req.Query, req.ModelID, req.ResultID, req.VoteType); err != nil {
		respondError(w, http.StatusBadRequest, "نوع رأی نامعتبر است.")
		return
	}

	stats, err := s.db.VoteStatsFor(req.Query, req.ModelID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"likes":    stats.Likes,
		"dislikes": stats.Dislikes,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 20, 1, 100)
	offset := intQuery(r, "offset", 0, 0, 1<<30)

	if sid := int64Query(r, "search_id"); sid != nil {
		record, err := s.db.SearchByID(*sid)
		if errors.Is(err, store.ErrNotFound) {
			respondJSON(w, http.StatusOK, map[string]any{
				"searches": []store.SearchRecord{}, "total": 0, "limit": limit, "offset": offset,
			})
			return
		}
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"searches": []store.SearchRecord{*record}, "total": 1, "limit": limit, "offset": offset,
		})
		return
	}

	records, total, err := s.db.SearchHistory(limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []store.SearchRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"searches": records,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleTopQueries(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 10, 1, 100)
	minCount := intQuery(r, "min_count", 1, 1, 1<<30)

	queries, err := s.db.TopQueries(limit, minCount)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if queries == nil {
		queries = []store.TopQuery{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"queries": queries})
}

func (s *Server) handleHistoryByID(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "id")
	if !ok {
		respondError(w, http.StatusUnprocessableEntity, "شناسه نامعتبر است.")
		return
	}
	record, err := s.db.SearchByID(id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "جستجو یافت نشد.")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleApprovedQueries(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Search.ShowApprovedQueries {
		respondJSON(w, http.StatusOK, map[string]any{"enabled": false, "queries": []any{}})
		return
	}

	approvals, err := s.db.ApprovedQueries(s.cfg.Search.ApprovedQueriesLimit, s.cfg.Search.ApprovedQueriesMinCount)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	queries := make([]map[string]any, 0, len(approvals))
	for _, a := range approvals {
		queries = append(queries, map[string]any{
			"query":        a.Query,
			"search_count": a.SearchCount,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"enabled": true, "queries": queries})
}

func (s *Server) handleActiveModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.db.EmbeddingModels(50, true, true)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if models == nil {
		models = []store.EmbeddingModel{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"models": models})
}
