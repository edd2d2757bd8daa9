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
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/ganj/pkg/cache"
	"github.com/kadirpekel/ganj/pkg/config"
	"github.com/kadirpekel/ganj/pkg/embedder"
	"github.com/kadirpekel/ganj/pkg/store"
	"github.com/kadirpekel/ganj/pkg/vector"
)

type fakeEmbedder struct {
	provider string
	model    string
	vec      []float32
	err      error
	closed   bool
}

func (e *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e *fakeEmbedder) Provider() string { return e.provider }
func (e *fakeEmbedder) Model() string    { return e.model }
func (e *fakeEmbedder) Dimension() int   { return len(e.vec) }
func (e *fakeEmbedder) Close() error     { e.closed = true; return nil }

type fakeVectorStore struct {
	collections map[string]map[string]any
	hits        map[string][]vector.QueryResult
	records     map[string][]vector.Record
	failSearch  map[string]bool
	allowText   bool
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{
		collections: make(map[string]map[string]any),
		hits:        make(map[string][]vector.QueryResult),
		records:     make(map[string][]vector.Record),
		failSearch:  make(map[string]bool),
	}
}

func (f *fakeVectorStore) Heartbeat(ctx context.Context) error { return nil }

func (f *fakeVectorStore) ListCollections(ctx context.Context) ([]vector.CollectionInfo, error) {
	var infos []vector.CollectionInfo
	for name, md := range f.collections {
		infos = append(infos, vector.CollectionInfo{Name: name, Metadata: md})
	}
	return infos, nil
}

func (f *fakeVectorStore) GetCollection(ctx context.Context, name string) (*vector.CollectionInfo, error) {
	md, ok := f.collections[name]
	if !ok {
		return nil, vector.ErrNotFound
	}
	return &vector.CollectionInfo{Name: name, Metadata: md}, nil
}

func (f *fakeVectorStore) CreateCollection(ctx context.Context, name string, metadata map[string]any) error {
	f.collections[name] = metadata
	return nil
}

func (f *fakeVectorStore) DeleteCollection(ctx context.Context, name string) error {
	if _, ok := f.collections[name]; !ok {
		return vector.ErrNotFound
	}
	delete(f.collections, name)
	return nil
}

func (f *fakeVectorStore) Count(ctx context.Context, collection string) (int, error) {
	return len(f.hits[collection]), nil
}

func (f *fakeVectorStore) Add(ctx context.Context, collection string, records []vector.Record) error {
	f.records[collection] = append(f.records[collection], records...)
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, q vector.Query) ([]vector.QueryResult, error) {
	if f.failSearch[collection] {
		return nil, errors.New("search unavailable")
	}
	if len(q.Embedding) == 0 && !f.allowText {
		return nil, vector.ErrUnsupported
	}
	hits := f.hits[collection]
	if q.N > 0 && q.N < len(hits) {
		hits = hits[:q.N]
	}
	return hits, nil
}

func (f *fakeVectorStore) Get(ctx context.Context, collection string, where map[string]any, limit int) ([]vector.Record, error) {
	var out []vector.Record
	for _, rec := range f.records[collection] {
		match := true
		for k, v := range where {
			if rec.Metadata[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, rec)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeVectorStore) Name() string { return "fake" }
func (f *fakeVectorStore) Close() error { return nil }

func makeHits(prefix string, n int) []vector.QueryResult {
	hits := make([]vector.QueryResult, n)
	for i := 0; i < n; i++ {
		d := float32(i) / 100
		hits[i] = vector.QueryResult{
			ID:       fmt.Sprintf("%s-%d", prefix, i),
			Document: fmt.Sprintf("متن %s %d", prefix, i),
			Distance: d,
			Score:    1 - d,
			Metadata: map[string]any{"book_id": int64(7)},
		}
	}
	return hits
}

func testConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Host: "127.0.0.1", Port: 8000},
		Chroma: config.ChromaConfig{Collection: "book_pages"},
		Embedding: config.EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Search: config.SearchConfig{
			EnableTotalDocuments:   true,
			EnableEstimatedResults: true,
			EnablePagination:       true,
			MaxEstimatedResults:    1000,
			DefaultUseCache:        false,
			CacheTTLSeconds:        3600,
		},
		DatabasePath: ":memory:",
	}
}

// newModelStore seeds a history store with two registered models and
// returns them keyed by collection name.
func newModelStore(t *testing.T) (*store.Store, map[string]store.EmbeddingModel) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobs := []store.ExportJobParams{
		{Collection: "col-a", EmbeddingProvider: "openai", EmbeddingModel: "model-a", SQLPath: "a.sql"},
		{Collection: "col-b", EmbeddingProvider: "gemini", EmbeddingModel: "model-b", SQLPath: "b.sql"},
	}
	for _, p := range jobs {
		id, err := db.CreateExportJob(p)
		if err != nil {
			t.Fatalf("CreateExportJob: %v", err)
		}
		if err := db.UpdateExportJob(id, store.JobCompleted, store.ExportJobUpdate{}); err != nil {
			t.Fatalf("UpdateExportJob: %v", err)
		}
	}
	if err := db.SyncEmbeddingModelsFromJobs(10); err != nil {
		t.Fatalf("SyncEmbeddingModelsFromJobs: %v", err)
	}

	models, err := db.EmbeddingModels(10, false, false)
	if err != nil {
		t.Fatalf("EmbeddingModels: %v", err)
	}
	byCollection := make(map[string]store.EmbeddingModel, len(models))
	for _, m := range models {
		byCollection[m.Collection] = m
	}
	if len(byCollection) != 2 {
		t.Fatalf("expected 2 models, got %d", len(byCollection))
	}
	return db, byCollection
}

func newTestService(t *testing.T, cfg *config.Config, vs vector.Store, c *cache.Cache) (*Service, map[string]store.EmbeddingModel) {
	t.Helper()
	db, models := newModelStore(t)
	svc := New(cfg, vs, c, db, &fakeEmbedder{
		provider: cfg.Embedding.Provider,
		model:    cfg.Embedding.Model,
		vec:      []float32{0.1, 0.2},
	})
	svc.embedderFor = func(provider, model string) (embedder.Embedder, error) {
		return &fakeEmbedder{provider: provider, model: model, vec: []float32{0.3, 0.4}}, nil
	}
	return svc, models
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })
	return c
}

func searchErr(t *testing.T, err error) *Error {
	t.Helper()
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected *search.Error, got %T: %v", err, err)
	}
	return se
}

func TestRequestNormalize(t *testing.T) {
	r := &Request{Query: "  "}
	if err := r.normalize(); err == nil || err.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty query, got %v", err)
	}

	r = &Request{Query: "ایمان", TopK: 51}
	if err := r.normalize(); err == nil || err.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for top_k=51, got %v", err)
	}

	r = &Request{Query: "ایمان"}
	if err := r.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if r.TopK != 10 || r.Page != 1 || r.PageSize != 20 {
		t.Fatalf("unexpected defaults: top_k=%d page=%d page_size=%d", r.TopK, r.Page, r.PageSize)
	}

	r = &Request{Query: "ایمان", PageSize: 101}
	if err := r.normalize(); err == nil {
		t.Fatal("expected error for page_size=101")
	}
}

func TestSearchRealtime(t *testing.T) {
	cfg := testConfig()
	vs := newFakeVectorStore()
	vs.hits["book_pages"] = makeHits("doc", 5)
	svc, _ := newTestService(t, cfg, vs, nil)

	resp, err := svc.Search(context.Background(), &Request{Query: "نماز"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if resp.CacheSource != SourceRealtime {
		t.Errorf("cache_source = %q, want %q", resp.CacheSource, SourceRealtime)
	}
	if resp.Returned != 5 || len(resp.Results) != 5 {
		t.Fatalf("returned %d results, want 5", resp.Returned)
	}
	if resp.Results[0].ID != "doc-0" {
		t.Errorf("rank order lost: first id %q", resp.Results[0].ID)
	}
	if resp.Collection != "book_pages" || resp.Provider != "openai" {
		t.Errorf("unexpected collection/provider: %s/%s", resp.Collection, resp.Provider)
	}
	if resp.TotalDocuments == nil || *resp.TotalDocuments != 5 {
		t.Errorf("total_documents = %v, want 5", resp.TotalDocuments)
	}

	p := resp.Pagination
	if p == nil {
		t.Fatal("expected pagination")
	}
	if p.EstimatedTotalResults == nil || *p.EstimatedTotalResults != "5" {
		t.Errorf("estimated_total_results = %v, want 5", p.EstimatedTotalResults)
	}
	if p.HasNextPage || p.HasPreviousPage {
		t.Errorf("unexpected pagination flags: next=%v prev=%v", p.HasNextPage, p.HasPreviousPage)
	}
	if p.TotalPages == nil || *p.TotalPages != 1 {
		t.Errorf("total_pages = %v, want 1", p.TotalPages)
	}
}

func TestSearchPaginationSaturation(t *testing.T) {
	cfg := testConfig()
	cfg.Search.MaxEstimatedResults = 4
	vs := newFakeVectorStore()
	vs.hits["book_pages"] = makeHits("doc", 10)
	svc, _ := newTestService(t, cfg, vs, nil)

	resp, err := svc.Search(context.Background(), &Request{Query: "نماز", Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) != 2 {
		t.Fatalf("returned %d results, want 2", len(resp.Results))
	}
	if resp.Results[0].ID != "doc-2" {
		t.Errorf("page 2 starts at %q, want doc-2", resp.Results[0].ID)
	}

	p := resp.Pagination
	if p == nil {
		t.Fatal("expected pagination")
	}
	if p.EstimatedTotalResults == nil || *p.EstimatedTotalResults != "1000+" {
		t.Errorf("estimated_total_results = %v, want 1000+", p.EstimatedTotalResults)
	}
	if !p.HasNextPage || !p.HasPreviousPage {
		t.Errorf("unexpected pagination flags: next=%v prev=%v", p.HasNextPage, p.HasPreviousPage)
	}
	if p.TotalPages != nil {
		t.Errorf("total_pages should be unset at the cap, got %v", p.TotalPages)
	}
}

func TestSearchCacheHit(t *testing.T) {
	cfg := testConfig()
	cfg.Search.DefaultUseCache = true
	vs := newFakeVectorStore()
	vs.hits["book_pages"] = makeHits("doc", 3)
	svc, _ := newTestService(t, cfg, vs, newTestCache(t))

	first, err := svc.Search(context.Background(), &Request{Query: "توحید"})
	if err != nil {
		t.Fatalf("first Search: %v", err)
	}
	if first.CacheSource != SourceRealtime {
		t.Fatalf("first cache_source = %q", first.CacheSource)
	}

	second, err := svc.Search(context.Background(), &Request{Query: "توحید"})
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if second.CacheSource != SourceCache {
		t.Errorf("second cache_source = %q, want %q", second.CacheSource, SourceCache)
	}
	if second.Returned != first.Returned {
		t.Errorf("cached result count %d != %d", second.Returned, first.Returned)
	}

	// A different top_k must miss the cache.
	third, err := svc.Search(context.Background(), &Request{Query: "توحید", TopK: 5})
	if err != nil {
		t.Fatalf("third Search: %v", err)
	}
	if third.CacheSource != SourceRealtime {
		t.Errorf("third cache_source = %q, want realtime", third.CacheSource)
	}
}

func TestSearchModelSpecific(t *testing.T) {
	cfg := testConfig()
	vs := newFakeVectorStore()
	vs.collections["col-a"] = map[string]any{
		"embedding_provider": "openai",
		"embedding_model":    "model-a",
	}
	vs.hits["col-a"] = makeHits("a", 3)
	svc, models := newTestService(t, cfg, vs, nil)
	modelA := models["col-a"]

	resp, err := svc.Search(context.Background(), &Request{Query: "نماز", ModelID: modelA.ID})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Collection != "col-a" || resp.Model != "model-a" {
		t.Errorf("collection/model = %s/%s, want col-a/model-a", resp.Collection, resp.Model)
	}
	if resp.Returned != 3 {
		t.Errorf("returned %d, want 3", resp.Returned)
	}

	_, err = svc.Search(context.Background(), &Request{Query: "نماز", ModelID: 9999})
	se := searchErr(t, err)
	if se.Status != http.StatusNotFound || !strings.Contains(se.Message, "یافت نشد") {
		t.Errorf("unexpected missing-model error: %d %q", se.Status, se.Message)
	}

	if _, err := svc.db.SetEmbeddingModelActive(modelA.ID, false); err != nil {
		t.Fatalf("SetEmbeddingModelActive: %v", err)
	}
	_, err = svc.Search(context.Background(), &Request{Query: "نماز", ModelID: modelA.ID})
	se = searchErr(t, err)
	if se.Status != http.StatusBadRequest || !strings.Contains(se.Message, "غیرفعال") {
		t.Errorf("unexpected inactive-model error: %d %q", se.Status, se.Message)
	}
}

func TestSearchIncludeFullContext(t *testing.T) {
	cfg := testConfig()
	vs := newFakeVectorStore()
	vs.hits["book_pages"] = []vector.QueryResult{
		{
			ID:       "inline",
			Document: "تکه اول",
			Metadata: map[string]any{
				"paragraph_full_text": "تکه اول و دوم با هم",
			},
		},
		{
			ID:       "fetched",
			Document: "بخش دوم",
			Metadata: map[string]any{
				"book_id":         int64(1),
				"page_id":         int64(2),
				"paragraph_index": int64(0),
			},
		},
		{
			ID:       "page",
			Document: "متن کل صفحه",
			Metadata: map[string]any{"page_level": true},
		},
	}
	vs.records["book_pages"] = []vector.Record{
		{
			ID:       "seg-1",
			Document: "بخش دوم",
			Metadata: map[string]any{
				"book_id": int64(1), "page_id": int64(2), "paragraph_index": int64(0),
				"segment_index": int64(1),
			},
		},
		{
			ID:       "seg-0",
			Document: "بخش اول",
			Metadata: map[string]any{
				"book_id": int64(1), "page_id": int64(2), "paragraph_index": int64(0),
				"segment_index": int64(0),
			},
		},
	}
	svc, _ := newTestService(t, cfg, vs, nil)

	resp, err := svc.Search(context.Background(), &Request{Query: "نماز", IncludeFullContext: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := resp.Results[0].Document; got != "تکه اول و دوم با هم" {
		t.Errorf("inline expansion = %q", got)
	}
	if got := resp.Results[1].Document; got != "بخش اول بخش دوم" {
		t.Errorf("fetched expansion = %q", got)
	}
	if got := resp.Results[2].Document; got != "متن کل صفحه" {
		t.Errorf("page-level document changed: %q", got)
	}
}

func TestSearchSavesHistory(t *testing.T) {
	cfg := testConfig()
	vs := newFakeVectorStore()
	vs.hits["book_pages"] = makeHits("doc", 2)
	svc, _ := newTestService(t, cfg, vs, nil)

	if _, err := svc.Search(context.Background(), &Request{Query: "زکات", Save: true}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	records, total, err := svc.db.SearchHistory(10, 0)
	if err != nil {
		t.Fatalf("SearchHistory: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("expected 1 history row, got %d", total)
	}
	if records[0].Query != "زکات" || records[0].ResultCount != 2 {
		t.Errorf("unexpected history row: %+v", records[0])
	}
}

func multiFixture(t *testing.T, cfg *config.Config, c *cache.Cache) (*Service, *fakeVectorStore, map[string]store.EmbeddingModel) {
	t.Helper()
	vs := newFakeVectorStore()
	vs.collections["col-a"] = map[string]any{}
	vs.collections["col-b"] = map[string]any{}
	svc, models := newTestService(t, cfg, vs, c)
	return svc, vs, models
}

func TestMultiSearchValidation(t *testing.T) {
	svc, _, models := multiFixture(t, testConfig(), nil)
	modelA := models["col-a"]
	ctx := context.Background()

	_, err := svc.MultiSearch(ctx, &MultiRequest{Query: "نماز"})
	if se := searchErr(t, err); se.Status != http.StatusBadRequest || !strings.Contains(se.Message, "حداقل یک مدل") {
		t.Errorf("empty model_ids: %d %q", se.Status, se.Message)
	}

	_, err = svc.MultiSearch(ctx, &MultiRequest{Query: "نماز", ModelIDs: []int64{modelA.ID, 777}})
	if se := searchErr(t, err); se.Status != http.StatusNotFound || !strings.Contains(se.Message, "یافت نشدند") {
		t.Errorf("missing model: %d %q", se.Status, se.Message)
	}

	_, err = svc.MultiSearch(ctx, &MultiRequest{Query: "نماز", ModelIDs: []int64{1, 2, 3, 4}})
	if se := searchErr(t, err); se.Status != http.StatusBadRequest {
		t.Errorf("too many models: %d %q", se.Status, se.Message)
	}

	if _, err := svc.db.SetEmbeddingModelActive(modelA.ID, false); err != nil {
		t.Fatalf("SetEmbeddingModelActive: %v", err)
	}
	_, err = svc.MultiSearch(ctx, &MultiRequest{Query: "نماز", ModelIDs: []int64{modelA.ID}})
	if se := searchErr(t, err); se.Status != http.StatusBadRequest || !strings.Contains(se.Message, "غیرفعال") {
		t.Errorf("inactive model: %d %q", se.Status, se.Message)
	}
}

func TestMultiSearchMerge(t *testing.T) {
	svc, vs, models := multiFixture(t, testConfig(), nil)
	modelA, modelB := models["col-a"], models["col-b"]

	shared := vector.QueryResult{ID: "shared", Document: "مشترک", Distance: 0.05, Score: 0.95}
	vs.hits["col-a"] = []vector.QueryResult{
		{ID: "a-0", Document: "الف", Distance: 0.01, Score: 0.99},
		shared,
		{ID: "a-2", Document: "الف دو", Distance: 0.2, Score: 0.8},
	}
	vs.hits["col-b"] = []vector.QueryResult{
		shared,
		{ID: "b-1", Document: "ب", Distance: 0.1, Score: 0.9},
	}

	resp, err := svc.MultiSearch(context.Background(), &MultiRequest{
		Query:    "نماز",
		ModelIDs: []int64{modelA.ID, modelB.ID},
	})
	if err != nil {
		t.Fatalf("MultiSearch: %v", err)
	}

	if resp.CacheSource != SourceLive {
		t.Errorf("cache_source = %q, want live", resp.CacheSource)
	}
	wantOrder := []string{"a-0", "shared", "b-1", "a-2"}
	if len(resp.Results) != len(wantOrder) {
		t.Fatalf("returned %d results, want %d", len(resp.Results), len(wantOrder))
	}
	for i, want := range wantOrder {
		if resp.Results[i].ID != want {
			t.Errorf("result[%d] = %q, want %q", i, resp.Results[i].ID, want)
		}
	}
	// In round-robin order the shared doc is first reached through model
	// B's rank 0, ahead of model A's rank 1.
	if resp.Results[1].ModelID != modelB.ID {
		t.Errorf("shared doc attributed to model %d, want %d", resp.Results[1].ModelID, modelB.ID)
	}
	if resp.Results[2].ModelID != modelB.ID || resp.Results[2].EmbeddingModel != "model-b" {
		t.Errorf("b-1 attribution: %+v", resp.Results[2])
	}
	if len(resp.Errors) != 0 {
		t.Errorf("unexpected errors: %v", resp.Errors)
	}
}

func TestMultiSearchOverallCap(t *testing.T) {
	svc, vs, models := multiFixture(t, testConfig(), nil)
	vs.collections["col-c"] = map[string]any{}

	// Register a third model through another completed export.
	id, err := svc.db.CreateExportJob(store.ExportJobParams{
		Collection: "col-c", EmbeddingProvider: "openai", EmbeddingModel: "model-c",
	})
	if err != nil {
		t.Fatalf("CreateExportJob: %v", err)
	}
	if err := svc.db.UpdateExportJob(id, store.JobCompleted, store.ExportJobUpdate{}); err != nil {
		t.Fatalf("UpdateExportJob: %v", err)
	}
	if err := svc.db.SyncEmbeddingModelsFromJobs(10); err != nil {
		t.Fatalf("SyncEmbeddingModelsFromJobs: %v", err)
	}
	all, err := svc.db.EmbeddingModels(10, false, false)
	if err != nil {
		t.Fatalf("EmbeddingModels: %v", err)
	}
	var modelC store.EmbeddingModel
	for _, m := range all {
		if m.Collection == "col-c" {
			modelC = m
		}
	}

	vs.hits["col-a"] = makeHits("a", 10)
	vs.hits["col-b"] = makeHits("b", 10)
	vs.hits["col-c"] = makeHits("c", 10)

	resp, err := svc.MultiSearch(context.Background(), &MultiRequest{
		Query:    "نماز",
		TopK:     10,
		ModelIDs: []int64{models["col-a"].ID, models["col-b"].ID, modelC.ID},
	})
	if err != nil {
		t.Fatalf("MultiSearch: %v", err)
	}
	if resp.Returned != 20 {
		t.Errorf("returned %d, want the overall cap of 20", resp.Returned)
	}
}

func TestMultiSearchPartialFailure(t *testing.T) {
	svc, vs, models := multiFixture(t, testConfig(), nil)
	vs.hits["col-a"] = makeHits("a", 2)
	vs.failSearch["col-b"] = true

	resp, err := svc.MultiSearch(context.Background(), &MultiRequest{
		Query:    "نماز",
		ModelIDs: []int64{models["col-a"].ID, models["col-b"].ID},
	})
	if err != nil {
		t.Fatalf("MultiSearch: %v", err)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 model error, got %d", len(resp.Errors))
	}
	if resp.Errors[0].Collection != "col-b" || !strings.Contains(resp.Errors[0].Error, "ناموفق") {
		t.Errorf("unexpected model error: %+v", resp.Errors[0])
	}
	for _, r := range resp.Results {
		if r.ModelID != models["col-a"].ID {
			t.Errorf("result from failed model leaked: %+v", r)
		}
	}

	vs.failSearch["col-a"] = true
	_, err = svc.MultiSearch(context.Background(), &MultiRequest{
		Query:    "روزه",
		ModelIDs: []int64{models["col-a"].ID, models["col-b"].ID},
	})
	se := searchErr(t, err)
	if se.Status != http.StatusBadGateway || !strings.Contains(se.Message, "تمام مدل‌ها") {
		t.Errorf("all-fail error: %d %q", se.Status, se.Message)
	}
}

func TestMultiSearchCacheHit(t *testing.T) {
	svc, vs, models := multiFixture(t, testConfig(), newTestCache(t))
	vs.hits["col-a"] = makeHits("a", 2)
	vs.hits["col-b"] = makeHits("b", 2)
	req := &MultiRequest{Query: "نماز", ModelIDs: []int64{models["col-a"].ID, models["col-b"].ID}}

	first, err := svc.MultiSearch(context.Background(), req)
	if err != nil {
		t.Fatalf("first MultiSearch: %v", err)
	}
	if first.CacheSource != SourceLive {
		t.Fatalf("first cache_source = %q", first.CacheSource)
	}

	// Duplicate ids and reversed order map to the same cache key.
	second, err := svc.MultiSearch(context.Background(), &MultiRequest{
		Query:    "نماز",
		ModelIDs: []int64{models["col-b"].ID, models["col-a"].ID, models["col-a"].ID},
	})
	if err != nil {
		t.Fatalf("second MultiSearch: %v", err)
	}
	if second.CacheSource != SourceCache {
		t.Errorf("second cache_source = %q, want cache", second.CacheSource)
	}
	if second.Returned != first.Returned {
		t.Errorf("cached returned %d != %d", second.Returned, first.Returned)
	}
}

func TestMultiSearchSavesPerModel(t *testing.T) {
	svc, vs, models := multiFixture(t, testConfig(), nil)
	vs.hits["col-a"] = makeHits("a", 2)
	vs.hits["col-b"] = makeHits("b", 3)

	_, err := svc.MultiSearch(context.Background(), &MultiRequest{
		Query:    "حج",
		ModelIDs: []int64{models["col-a"].ID, models["col-b"].ID},
		Save:     true,
	})
	if err != nil {
		t.Fatalf("MultiSearch: %v", err)
	}

	records, total, err := svc.db.SearchHistory(10, 0)
	if err != nil {
		t.Fatalf("SearchHistory: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected one history row per model, got %d", total)
	}
	byCollection := make(map[string]store.SearchRecord)
	for _, r := range records {
		byCollection[r.Collection] = r
	}
	if byCollection["col-a"].ResultCount != 2 || byCollection["col-b"].ResultCount != 3 {
		t.Errorf("unexpected per-model counts: %+v", records)
	}
}
