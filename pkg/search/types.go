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

// Package search implements semantic search over the vector store:
// single-model search with pagination and context expansion, and
// multi-model search with round-robin result merging.
package search

import "fmt"

// Cache source markers on responses.
const (
	SourceCache    = "cache"
	SourceRealtime = "realtime"
	SourceLive     = "live"
)

// Error is a search failure carrying the HTTP status the edge should
// respond with. Messages are user-facing.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Request is a single-model search.
type Request struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`

	// ModelID selects a registered embedding model; zero means the
	// service defaults.
	ModelID int64 `json:"model_id,omitempty"`

	// UseCache overrides the configured default when set.
	UseCache *bool `json:"use_cache,omitempty"`

	// IncludeFullContext replaces segment text with the whole paragraph.
	IncludeFullContext bool `json:"include_full_context,omitempty"`

	// Save writes the search into history.
	Save bool `json:"save,omitempty"`
}

// MultiRequest is a search across several models at once.
type MultiRequest struct {
	Query    string  `json:"query"`
	TopK     int     `json:"top_k"`
	ModelIDs []int64 `json:"model_ids"`
	Save     bool    `json:"save,omitempty"`
}

// Result is one matched document.
type Result struct {
	ID       string         `json:"id"`
	Distance *float64       `json:"distance"`
	Score    *float64       `json:"score"`
	Document string         `json:"document"`
	Metadata map[string]any `json:"metadata"`

	// Set on multi-model results only.
	ModelID           int64  `json:"model_id,omitempty"`
	ModelColor        string `json:"model_color,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
}

// Pagination describes the returned page of results. The estimated total
// is a string because it saturates to "1000+" at the fetch cap.
type Pagination struct {
	Page                  int     `json:"page"`
	PageSize              int     `json:"page_size"`
	TotalPages            *int    `json:"total_pages"`
	HasNextPage           bool    `json:"has_next_page"`
	HasPreviousPage       bool    `json:"has_previous_page"`
	EstimatedTotalResults *string `json:"estimated_total_results"`
}

// Response is a single-model search result set.
type Response struct {
	Query          string      `json:"query"`
	TopK           int         `json:"top_k"`
	Returned       int         `json:"returned"`
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	Collection     string      `json:"collection"`
	Results        []Result    `json:"results"`
	TookMS         float64     `json:"took_ms"`
	TotalDocuments *int        `json:"total_documents"`
	Pagination     *Pagination `json:"pagination"`
	CacheSource    string      `json:"cache_source"`
}

// ModelError reports one model that failed during multi-model search.
type ModelError struct {
	Collection string `json:"collection"`
	Model      string `json:"model"`
	Error      string `json:"error"`
}

// MultiResponse is a merged multi-model result set.
type MultiResponse struct {
	Query       string       `json:"query"`
	ModelIDs    []int64      `json:"model_ids"`
	Returned    int          `json:"returned"`
	Results     []Result     `json:"results"`
	TookMS      float64      `json:"took_ms"`
	Errors      []ModelError `json:"errors,omitempty"`
	CacheSource string       `json:"cache_source"`
}
