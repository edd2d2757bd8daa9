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
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/ganj/pkg/cache"
	"github.com/kadirpekel/ganj/pkg/store"
	"github.com/kadirpekel/ganj/pkg/vector"
)

const (
	// maxMultiModels bounds how many models one request may fan out to.
	maxMultiModels = 3

	// multiOverallCap bounds the merged result count across all models.
	multiOverallCap = 20

	multiCacheTTL = 24 * time.Hour
)

// MultiSearch fans a query out to several embedding models concurrently
// and merges their results round-robin, deduplicated by document id.
func (s *Service) MultiSearch(ctx context.Context, req *MultiRequest) (*MultiResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, newError(http.StatusUnprocessableEntity, "عبارت جستجو الزامی است.")
	}
	if req.TopK == 0 {
		req.TopK = 10
	}
	if req.TopK < 1 || req.TopK > 50 {
		return nil, newError(http.StatusUnprocessableEntity, "top_k باید بین 1 و 50 باشد.")
	}
	if len(req.ModelIDs) == 0 {
		return nil, newError(http.StatusBadRequest, "حداقل یک مدل باید انتخاب شود.")
	}

	// Preserve selection order but drop duplicates.
	var ordered []int64
	seen := make(map[int64]struct{})
	for _, id := range req.ModelIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ordered = append(ordered, id)
		}
	}
	if len(ordered) > maxMultiModels {
		return nil, newError(http.StatusBadRequest, "حداکثر %d مدل قابل انتخاب است.", maxMultiModels)
	}

	models, err := s.db.EmbeddingModelsByIDs(ordered)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "خطا در بارگذاری مدل‌ها: %v", err)
	}
	modelMap := make(map[int64]store.EmbeddingModel, len(models))
	for _, m := range models {
		modelMap[m.ID] = m
	}
	var missing []int64
	for _, id := range ordered {
		if _, ok := modelMap[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, newError(http.StatusNotFound, "مدل‌های %v یافت نشدند.", missing)
	}
	for _, m := range models {
		if !m.IsActive {
			return nil, newError(http.StatusBadRequest, "برخی از مدل‌های انتخاب شده غیرفعال هستند.")
		}
	}

	key := cache.MultiSearchKey(req.Query, ordered, req.TopK)
	if s.cache != nil {
		var cached MultiResponse
		if cache.TryGetJSON(ctx, s.cache, key, &cached) {
			cached.CacheSource = SourceCache
			return &cached, nil
		}
	}

	modelCount := len(ordered)
	perModelLimit := req.TopK
	if modelCount > 1 {
		fair := (multiOverallCap + modelCount - 1) / modelCount
		if fair < perModelLimit {
			perModelLimit = fair
		}
	}
	overallLimit := perModelLimit
	if modelCount > 1 {
		overallLimit = perModelLimit * modelCount
		if overallLimit > multiOverallCap {
			overallLimit = multiOverallCap
		}
	}
	fetchN := perModelLimit
	if req.TopK > fetchN {
		fetchN = req.TopK
	}
	if fetchN > s.cfg.Search.MaxEstimatedResults {
		fetchN = s.cfg.Search.MaxEstimatedResults
	}

	start := time.Now()

	type outcome struct {
		items   []Result
		failure *ModelError
	}
	outcomes := make([]outcome, modelCount)
	var wg sync.WaitGroup
	for i, id := range ordered {
		wg.Add(1)
		go func(slot int, m store.EmbeddingModel) {
			defer wg.Done()
			items, failure := s.searchModel(ctx, m, req.Query, fetchN)
			outcomes[slot] = outcome{items: items, failure: failure}
		}(i, modelMap[id])
	}
	wg.Wait()

	perModel := make(map[int64][]Result, modelCount)
	var modelErrors []ModelError
	var successful []int64
	for i, id := range ordered {
		if outcomes[i].failure != nil {
			modelErrors = append(modelErrors, *outcomes[i].failure)
			continue
		}
		perModel[id] = outcomes[i].items
		successful = append(successful, id)
	}

	if len(successful) == 0 && len(modelErrors) > 0 {
		return nil, newError(http.StatusBadGateway, "جستجو در تمام مدل‌ها ناموفق بود. %s", modelErrors[0].Error)
	}

	combined := mergeRoundRobin(successful, perModel, perModelLimit, overallLimit)
	tookMS := float64(time.Since(start)) / float64(time.Millisecond)

	resp := &MultiResponse{
		Query:       req.Query,
		ModelIDs:    ordered,
		Returned:    len(combined),
		Results:     combined,
		TookMS:      tookMS,
		Errors:      modelErrors,
		CacheSource: SourceLive,
	}

	if s.cache != nil && len(combined) > 0 {
		cache.TrySetJSON(ctx, s.cache, key, resp, multiCacheTTL)
	}

	if req.Save && s.db != nil {
		s.saveMultiHistory(req.Query, tookMS, successful, modelMap, perModel, perModelLimit)
	}

	return resp, nil
}

// mergeRoundRobin interleaves per-model result lists by rank, preserving
// model submission order. The first occurrence of a document wins; later
// duplicates from other models are dropped.
func mergeRoundRobin(successful []int64, perModel map[int64][]Result, perModelLimit, overallLimit int) []Result {
	if len(successful) == 0 {
		return nil
	}
	if len(successful) == 1 {
		items := perModel[successful[0]]
		if len(items) > perModelLimit {
			items = items[:perModelLimit]
		}
		return items
	}

	maxDepth := 0
	for _, id := range successful {
		if n := len(perModel[id]); n > maxDepth {
			maxDepth = n
		}
	}

	var combined []Result
	seenDocs := make(map[string]struct{})
	for depth := 0; depth < maxDepth && len(combined) < overallLimit; depth++ {
		for _, id := range successful {
			if len(combined) >= overallLimit {
				break
			}
			items := perModel[id]
			if depth >= len(items) {
				continue
			}
			item := items[depth]
			if _, dup := seenDocs[item.ID]; dup {
				continue
			}
			seenDocs[item.ID] = struct{}{}
			combined = append(combined, item)
		}
	}
	return combined
}

// searchModel runs the query against one model's collection. Errors are
// reported, not returned, so sibling models still contribute.
func (s *Service) searchModel(ctx context.Context, m store.EmbeddingModel, query string, fetchN int) ([]Result, *ModelError) {
	info, err := s.vectors.GetCollection(ctx, m.Collection)
	if err != nil {
		slog.Warn("Failed to access collection", "collection", m.Collection, "error", err)
		return nil, &ModelError{
			Collection: m.Collection,
			Model:      m.EmbeddingModel,
			Error:      fmt.Sprintf("عدم دسترسی به کالکشن %s", m.Collection),
		}
	}
	s.warnOnModelMismatch(info, m.EmbeddingProvider, m.EmbeddingModel)

	hits, err := s.queryWithModel(ctx, m, query, fetchN)
	if err != nil {
		slog.Warn("Multi-model search failed for collection",
			"collection", m.Collection,
			"model", m.EmbeddingModel,
			"error", err)
		return nil, &ModelError{
			Collection: m.Collection,
			Model:      m.EmbeddingModel,
			Error:      fmt.Sprintf("جستجو در کالکشن %s ناموفق بود", m.Collection),
		}
	}

	items := make([]Result, 0, len(hits))
	for _, hit := range hits {
		r := toResult(hit)
		r.ModelID = m.ID
		r.ModelColor = m.Color
		r.EmbeddingModel = m.EmbeddingModel
		r.EmbeddingProvider = m.EmbeddingProvider
		items = append(items, r)
	}
	return items, nil
}

// queryWithModel embeds with the model's own embedder; if that fails the
// collection's server-side embedding is tried before giving up.
func (s *Service) queryWithModel(ctx context.Context, m store.EmbeddingModel, query string, fetchN int) ([]vector.QueryResult, error) {
	emb, err := s.embedderFor(m.EmbeddingProvider, m.EmbeddingModel)
	if err == nil {
		defer emb.Close()
		vecs, eerr := emb.Embed(ctx, []string{query})
		if eerr == nil && len(vecs) > 0 {
			hits, serr := s.vectors.Search(ctx, m.Collection, vector.Query{Embedding: vecs[0], N: fetchN})
			if serr == nil {
				return hits, nil
			}
			err = serr
		} else if eerr != nil {
			err = eerr
		} else {
			err = fmt.Errorf("embedder returned no vectors")
		}
	}

	slog.Debug("Model-specific embedding failed, trying collection's embedding function",
		"collection", m.Collection, "error", err)
	hits, terr := s.vectors.Search(ctx, m.Collection, vector.Query{Text: query, N: fetchN})
	if terr != nil {
		return nil, err
	}
	slog.Warn("Used collection's embedding function instead of model-specific embedder",
		"collection", m.Collection)
	return hits, nil
}

func (s *Service) saveMultiHistory(query string, tookMS float64, successful []int64, modelMap map[int64]store.EmbeddingModel, perModel map[int64][]Result, perModelLimit int) {
	for _, id := range successful {
		m := modelMap[id]
		items := perModel[id]
		if len(items) > perModelLimit {
			items = items[:perModelLimit]
		}
		if len(items) == 0 {
			continue
		}

		// History keeps the plain result shape without model decoration.
		slim := make([]Result, len(items))
		for i, item := range items {
			slim[i] = Result{
				ID:       item.ID,
				Distance: item.Distance,
				Score:    item.Score,
				Document: item.Document,
				Metadata: item.Metadata,
			}
		}
		if _, err := s.db.SaveSearch(query, len(slim), tookMS, m.Collection, m.EmbeddingProvider, m.EmbeddingModel, slim); err != nil {
			slog.Warn("Failed to save multi-search history", "error", err)
		}
	}
}
