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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemStore implements Store using chromem-go for embedded storage.
// It needs no external services, which makes it the right backend for
// single-process deployments and tests. Vectors live in memory with
// optional gzip-compressed file persistence.
//
// Limitations against the remote backend:
//   - metadata values are flattened to strings (decoded back on read)
//   - text-mode queries need a server-side embedder, so they are rejected
//   - Get by metadata filter is not supported
type ChromemStore struct {
	db          *chromem.DB
	persistPath string
	mu          sync.RWMutex

	collections map[string]*chromem.Collection
	// metadata as passed to CreateCollection; chromem does not expose
	// collection metadata back, so it is cached here.
	collectionMeta map[string]map[string]any

	embeddingFunc chromem.EmbeddingFunc
}

// ChromemConfig configures the embedded backend.
type ChromemConfig struct {
	// PersistPath for file persistence. Empty keeps vectors in memory only.
	PersistPath string

	// Compress enables gzip compression for persisted data.
	Compress bool
}

// NewChromemStore creates an embedded vector store.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			slog.Warn("Failed to open persistent vector database, using in-memory store",
				"path", cfg.PersistPath,
				"error", err)
			db = chromem.NewDB()
		} else {
			slog.Info("Opened persistent vector database", "path", cfg.PersistPath)
		}
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory vector database (no persistence)")
	}

	// Embeddings are computed externally; this must never be reached.
	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	return &ChromemStore{
		db:             db,
		persistPath:    cfg.PersistPath,
		collections:    make(map[string]*chromem.Collection),
		collectionMeta: make(map[string]map[string]any),
		embeddingFunc:  identityEmbed,
	}, nil
}

// Name returns the backend name.
func (s *ChromemStore) Name() string {
	return "chromem"
}

// Heartbeat always succeeds for the embedded backend.
func (s *ChromemStore) Heartbeat(ctx context.Context) error {
	return nil
}

// ListCollections returns all collections.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CollectionInfo, 0)
	for name := range s.db.ListCollections() {
		out = append(out, CollectionInfo{Name: name, Metadata: s.collectionMeta[name]})
	}
	return out, nil
}

// GetCollection returns a collection or ErrNotFound.
func (s *ChromemStore) GetCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if col := s.db.GetCollection(name, s.embeddingFunc); col == nil {
		return nil, ErrNotFound
	}
	return &CollectionInfo{Name: name, Metadata: s.collectionMeta[name]}, nil
}

// CreateCollection creates a collection with metadata.
func (s *ChromemStore) CreateCollection(ctx context.Context, name string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, err := s.db.CreateCollection(name, encodeMetadata(metadata), s.embeddingFunc)
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	s.collections[name] = col
	s.collectionMeta[name] = metadata
	return nil
}

// DeleteCollection removes a collection and its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col := s.db.GetCollection(name, s.embeddingFunc); col == nil {
		return ErrNotFound
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", name, err)
	}
	delete(s.collections, name)
	delete(s.collectionMeta, name)
	return nil
}

// Count returns the number of documents in a collection.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Add inserts records with pre-computed embeddings.
func (s *ChromemStore) Add(ctx context.Context, collection string, records []Record) error {
	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Document,
			Metadata:  encodeMetadata(r.Metadata),
			Embedding: r.Embedding,
		})
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search runs a nearest-neighbour query. Text-mode queries are rejected
// because embedding happens outside the store.
func (s *ChromemStore) Search(ctx context.Context, collection string, q Query) ([]QueryResult, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("text-mode query: %w", ErrUnsupported)
	}

	col, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count.
	n := q.N
	if count := col.Count(); n > count {
		n = count
	}
	if n == 0 {
		return []QueryResult{}, nil
	}

	var where map[string]string
	if len(q.Where) > 0 {
		where = encodeMetadata(q.Where)
	}

	results, err := col.QueryEmbedding(ctx, q.Embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	out := make([]QueryResult, 0, len(results))
	for _, r := range results {
		out = append(out, QueryResult{
			ID:       r.ID,
			Document: r.Content,
			Score:    r.Similarity,
			Distance: 1.0 - r.Similarity,
			Metadata: decodeMetadata(r.Metadata),
		})
	}
	return out, nil
}

// Get is not supported: chromem has no filtered retrieval without a query.
func (s *ChromemStore) Get(ctx context.Context, collection string, where map[string]any, limit int) ([]Record, error) {
	return nil, fmt.Errorf("get by filter: %w", ErrUnsupported)
}

// Close releases resources. Persistence is write-through, so nothing to
// flush here.
func (s *ChromemStore) Close() error {
	return nil
}

func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col := s.db.GetCollection(name, s.embeddingFunc)
	if col == nil {
		return nil, ErrNotFound
	}
	s.collections[name] = col
	return col, nil
}

// encodeMetadata flattens metadata to the string map chromem requires.
func encodeMetadata(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'g', -1, 64)
		case float32:
			out[k] = strconv.FormatFloat(float64(val), 'g', -1, 32)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// decodeMetadata restores scalar types from the string map.
func decodeMetadata(metadata map[string]string) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = n
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
