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
	"log/slog"
	"net/http"
	"strings"

	"github.com/kadirpekel/ganj/pkg/cache"
	"github.com/kadirpekel/ganj/pkg/config"
	"github.com/kadirpekel/ganj/pkg/embedder"
	"github.com/kadirpekel/ganj/pkg/store"
	"github.com/kadirpekel/ganj/pkg/vector"
)

// Service runs searches against the vector store. The cache and history
// store are optional; absent components degrade, never fail requests.
type Service struct {
	cfg     *config.Config
	vectors vector.Store
	cache   *cache.Cache
	db      *store.Store

	// defaultEmbedder serves searches without a model_id.
	defaultEmbedder embedder.Embedder

	// embedderFor builds a model-specific embedder; replaced in tests.
	embedderFor func(provider, model string) (embedder.Embedder, error)
}

// New creates the search service.
func New(cfg *config.Config, vectors vector.Store, c *cache.Cache, db *store.Store, def embedder.Embedder) *Service {
	s := &Service{
		cfg:             cfg,
		vectors:         vectors,
		cache:           c,
		db:              db,
		defaultEmbedder: def,
	}
	s.embedderFor = s.buildEmbedder
	return s
}

func (s *Service) buildEmbedder(provider, model string) (embedder.Embedder, error) {
	return embedder.ForModel(embedder.Config{
		Provider: provider,
		Model:    model,
		APIKey:   s.cfg.APIKeyFor(provider),
		Endpoint: s.cfg.Embedding.HFEndpoint,
	})
}

// normalize applies request defaults and bounds.
func (r *Request) normalize() *Error {
	if strings.TrimSpace(r.Query) == "" {
		return newError(http.StatusUnprocessableEntity, "عبارت جستجو الزامی است.")
	}
	if r.TopK == 0 {
		r.TopK = 10
	}
	if r.TopK < 1 || r.TopK > 50 {
		return newError(http.StatusUnprocessableEntity, "top_k باید بین 1 و 50 باشد.")
	}
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Page < 1 {
		return newError(http.StatusUnprocessableEntity, "شماره صفحه باید حداقل 1 باشد.")
	}
	if r.PageSize == 0 {
		r.PageSize = 20
	}
	if r.PageSize < 1 || r.PageSize > 100 {
		return newError(http.StatusUnprocessableEntity, "اندازه صفحه باید بین 1 و 100 باشد.")
	}
	return nil
}

// warnOnModelMismatch compares the collection's export-time embedding
// identity against the one used for the query. Mismatches only log; the
// search proceeds with possibly degraded relevance.
func (s *Service) warnOnModelMismatch(info *vector.CollectionInfo, provider, model string) {
	if info == nil || info.Metadata == nil {
		return
	}
	exportProvider, _ := info.Metadata["embedding_provider"].(string)
	exportModel, _ := info.Metadata["embedding_model"].(string)
	if exportProvider == "" || exportModel == "" {
		return
	}
	if exportProvider != provider || exportModel != model {
		slog.Warn("Query model does not match collection export model, results may be inaccurate",
			"collection", info.Name,
			"exported_with", exportProvider+"/"+exportModel,
			"querying_with", provider+"/"+model)
	}
}

func float64ptr(v float64) *float64 { return &v }

// toResult converts one store hit.
func toResult(hit vector.QueryResult) Result {
	return Result{
		ID:       hit.ID,
		Distance: float64ptr(float64(hit.Distance)),
		Score:    float64ptr(float64(hit.Score)),
		Document: hit.Document,
		Metadata: hit.Metadata,
	}
}
