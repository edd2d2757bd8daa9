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

package search

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/kadirpekel/ganj/pkg/cache"
	"github.com/kadirpekel/ganj/pkg/embedder"
	"github.com/kadirpekel/ganj/pkg/store"
	"github.com/kadirpekel/ganj/pkg/vector"
)

// Search runs a single-model semantic search.
func (s *Service) Search(ctx context.Context, req *Request) (*Response, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	provider := s.cfg.Embedding.Provider
	model := s.cfg.Embedding.Model
	collection := s.cfg.Chroma.Collection
	emb := s.defaultEmbedder
	modelSpecific := false

	if req.ModelID != 0 {
		m, err := s.db.EmbeddingModelByID(req.ModelID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(http.StatusNotFound, "مدل با شناسه %d یافت نشد.", req.ModelID)
		}
		if err != nil {
			return nil, newError(http.StatusInternalServerError, "خطا در بارگذاری مدل: %v", err)
		}
		if !m.IsActive {
			return nil, newError(http.StatusBadRequest, "مدل با شناسه %d غیرفعال است.", req.ModelID)
		}

		collection = m.Collection
		provider = m.EmbeddingProvider
		model = m.EmbeddingModel

		if _, err := s.vectors.GetCollection(ctx, collection); err != nil {
			return nil, newError(http.StatusInternalServerError, "عدم دسترسی به کالکشن %s: %v", collection, err)
		}

		e, err := s.embedderFor(provider, model)
		if err != nil {
			return nil, newError(http.StatusInternalServerError, "خطا در ساخت امبدر: %v", err)
		}
		defer e.Close()
		emb = e
		modelSpecific = true

		slog.Info("Using model-specific collection and embedder",
			"model_id", req.ModelID,
			"collection", collection,
			"provider", provider,
			"model", model)
	}

	useCache := s.cfg.Search.DefaultUseCache
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	var key string
	if useCache && s.cache != nil {
		key = cache.SearchKey(req.Query, provider, model, collection, req.TopK, req.Page, req.PageSize, req.IncludeFullContext)
		var cached Response
		if cache.TryGetJSON(ctx, s.cache, key, &cached) {
			slog.Info("Search cache hit", "query", req.Query)
			cached.CacheSource = SourceCache
			return &cached, nil
		}
	}

	if info, err := s.vectors.GetCollection(ctx, collection); err == nil {
		s.warnOnModelMismatch(info, provider, model)
	} else {
		slog.Warn("Could not validate embedding model match", "collection", collection, "error", err)
	}

	n := req.TopK
	if s.cfg.Search.EnablePagination {
		n = req.Page * req.PageSize
		if n > s.cfg.Search.MaxEstimatedResults {
			n = s.cfg.Search.MaxEstimatedResults
		}
		if n < req.PageSize {
			n = req.PageSize
		}
	}

	start := time.Now()
	hits, err := s.query(ctx, collection, emb, req.Query, n, modelSpecific)
	if err != nil {
		return nil, err
	}
	tookMS := float64(time.Since(start)) / float64(time.Millisecond)

	allCount := len(hits)
	pageHits := hits
	if s.cfg.Search.EnablePagination {
		startIdx := (req.Page - 1) * req.PageSize
		endIdx := startIdx + req.PageSize
		if startIdx > len(hits) {
			startIdx = len(hits)
		}
		if endIdx > len(hits) {
			endIdx = len(hits)
		}
		pageHits = hits[startIdx:endIdx]
	}

	results := make([]Result, 0, len(pageHits))
	for _, hit := range pageHits {
		r := toResult(hit)
		if req.IncludeFullContext && r.Metadata != nil && !isTruthy(r.Metadata["page_level"]) {
			if full, ok := r.Metadata["paragraph_full_text"].(string); ok && full != "" {
				r.Document = full
			} else if full := s.paragraphContext(ctx, collection, r.Metadata); full != "" {
				r.Document = full
			}
		}
		results = append(results, r)
	}

	var totalDocuments *int
	if s.cfg.Search.EnableTotalDocuments {
		if count, err := s.vectors.Count(ctx, collection); err != nil {
			slog.Warn("Failed to get total documents count", "error", err)
		} else {
			totalDocuments = &count
		}
	}

	var pagination *Pagination
	if s.cfg.Search.EnablePagination {
		pagination = s.buildPagination(req, allCount, len(results))
	}

	slog.Info("Search completed",
		"query", req.Query,
		"top_k", req.TopK,
		"returned", len(results),
		"took_ms", tookMS)

	resp := &Response{
		Query:          req.Query,
		TopK:           req.TopK,
		Returned:       len(results),
		Provider:       provider,
		Model:          model,
		Collection:     collection,
		Results:        results,
		TookMS:         tookMS,
		TotalDocuments: totalDocuments,
		Pagination:     pagination,
		CacheSource:    SourceRealtime,
	}

	// Only non-empty result sets are cached; a transient store hiccup
	// must not pin an empty answer.
	if useCache && s.cache != nil && len(results) > 0 {
		ttl := time.Duration(s.cfg.Search.CacheTTLSeconds) * time.Second
		cache.TrySetJSON(ctx, s.cache, key, resp, ttl)
	}

	if req.Save && s.db != nil {
		if _, err := s.db.SaveSearch(req.Query, len(results), tookMS, collection, provider, model, results); err != nil {
			slog.Warn("Failed to save search to database", "error", err)
		}
	}

	return resp, nil
}

// query runs the nearest-neighbour lookup. With a model-specific
// embedder the query is always embedded explicitly; otherwise the
// store's text path is tried first with embedding as the fallback.
func (s *Service) query(ctx context.Context, collection string, emb embedder.Embedder, text string, n int, modelSpecific bool) ([]vector.QueryResult, error) {
	if !modelSpecific {
		hits, err := s.vectors.Search(ctx, collection, vector.Query{Text: text, N: n})
		if err == nil {
			return hits, nil
		}
		slog.Debug("Text query failed, falling back to explicit embedding", "error", err)
	}

	vecs, err := emb.Embed(ctx, []string{text})
	if err != nil {
		return nil, newError(http.StatusBadGateway, "Failed to query ChromaDB: %v", err)
	}
	if len(vecs) == 0 {
		return nil, newError(http.StatusBadGateway, "Failed to generate embeddings for query")
	}

	hits, err := s.vectors.Search(ctx, collection, vector.Query{Embedding: vecs[0], N: n})
	if err != nil {
		return nil, newError(http.StatusBadGateway, "ChromaDB query failed: %v", err)
	}
	return hits, nil
}

func (s *Service) buildPagination(req *Request, allCount, returned int) *Pagination {
	p := &Pagination{
		Page:            req.Page,
		PageSize:        req.PageSize,
		HasPreviousPage: req.Page > 1,
	}

	if !s.cfg.Search.EnableEstimatedResults {
		p.HasNextPage = returned == req.PageSize
		return p
	}

	if allCount >= s.cfg.Search.MaxEstimatedResults {
		est := "1000+"
		p.EstimatedTotalResults = &est
		p.HasNextPage = true
		return p
	}

	est := strconv.Itoa(allCount)
	p.EstimatedTotalResults = &est
	p.HasNextPage = req.Page*req.PageSize < allCount
	totalPages := (allCount + req.PageSize - 1) / req.PageSize
	p.TotalPages = &totalPages
	return p
}

// paragraphContext reassembles a full paragraph from its stored segments.
// Failures degrade to the segment text; backends without filtered
// retrieval simply never expand.
func (s *Service) paragraphContext(ctx context.Context, collection string, md map[string]any) string {
	bookID, ok1 := md["book_id"]
	pageID, ok2 := md["page_id"]
	paraIndex, ok3 := md["paragraph_index"]
	if !ok1 || !ok2 || !ok3 {
		return ""
	}

	records, err := s.vectors.Get(ctx, collection, map[string]any{
		"book_id":         bookID,
		"page_id":         pageID,
		"paragraph_index": paraIndex,
	}, 0)
	if err != nil || len(records) == 0 {
		if err != nil && !errors.Is(err, vector.ErrUnsupported) {
			slog.Debug("Failed to fetch paragraph context", "error", err)
		}
		return ""
	}

	if full, ok := records[0].Metadata["paragraph_full_text"].(string); ok && full != "" {
		return full
	}

	sort.SliceStable(records, func(i, j int) bool {
		return asInt(records[i].Metadata["segment_index"]) < asInt(records[j].Metadata["segment_index"])
	})
	var combined []string
	for _, rec := range records {
		combined = append(combined, rec.Document)
	}
	return joinNonEmpty(combined, " ")
}

func joinNonEmpty(parts []string, sep string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += sep
		}
		out += p
	}
	return out
}

// asInt reads a numeric metadata value regardless of how the backend
// round-tripped it (JSON gives float64, the embedded store int64).
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}

func isTruthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}
