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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/ganj/pkg/httpclient"
)

// ChromaConfig configures the remote Chroma backend.
type ChromaConfig struct {
	// Host is the Chroma server hostname.
	Host string

	// Port is the Chroma HTTP port (default: 8000).
	Port int

	// APIKey for authenticated access (optional).
	APIKey string

	// UseTLS enables HTTPS connections.
	UseTLS bool

	// CACert is a path to a custom CA certificate for TLS connections
	// (optional).
	CACert string

	// InsecureTLS skips certificate verification. Dev and test only.
	InsecureTLS bool
}

// ChromaStore implements Store against a Chroma HTTP server. Calls go
// through a retrying client that honors Retry-After on 429/503 and
// backs off transient server errors.
type ChromaStore struct {
	baseURL    string
	apiKey     string
	httpClient *httpclient.Client
}

// NewChromaStore creates a remote Chroma store. Extra options override
// the default retry behavior.
func NewChromaStore(cfg ChromaConfig, opts ...httpclient.Option) (*ChromaStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required for Chroma")
	}

	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}

	port := cfg.Port
	if port == 0 {
		port = 8000
	}

	clientOpts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(3),
		httpclient.WithBaseDelay(time.Second),
		httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
	}
	if cfg.UseTLS {
		clientOpts = append(clientOpts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			CACertificate:      cfg.CACert,
			InsecureSkipVerify: cfg.InsecureTLS,
		}))
	}
	clientOpts = append(clientOpts, opts...)

	return &ChromaStore{
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port),
		apiKey:     cfg.APIKey,
		httpClient: httpclient.New(clientOpts...),
	}, nil
}

// Name returns the backend name.
func (s *ChromaStore) Name() string {
	return "chroma"
}

// Heartbeat checks server connectivity.
func (s *ChromaStore) Heartbeat(ctx context.Context) error {
	var out map[string]any
	if err := s.doJSON(ctx, http.MethodGet, "/api/v1/heartbeat", nil, &out); err != nil {
		return fmt.Errorf("chroma heartbeat failed: %w", err)
	}
	return nil
}

// ListCollections returns all collections on the server.
func (s *ChromaStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var raw []struct {
		Name     string         `json:"name"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := s.doJSON(ctx, http.MethodGet, "/api/v1/collections", nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	out := make([]CollectionInfo, 0, len(raw))
	for _, c := range raw {
		out = append(out, CollectionInfo{Name: c.Name, Metadata: c.Metadata})
	}
	return out, nil
}

// GetCollection returns a collection by name.
func (s *ChromaStore) GetCollection(ctx context.Context, name string) (*CollectionInfo, error) {
	var raw struct {
		Name     string         `json:"name"`
		Metadata map[string]any `json:"metadata"`
	}
	err := s.doJSON(ctx, http.MethodGet, "/api/v1/collections/"+name, nil, &raw)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get collection %q: %w", name, err)
	}
	return &CollectionInfo{Name: raw.Name, Metadata: raw.Metadata}, nil
}

// CreateCollection creates a collection with metadata.
func (s *ChromaStore) CreateCollection(ctx context.Context, name string, metadata map[string]any) error {
	payload := map[string]any{
		"name":          name,
		"metadata":      metadata,
		"get_or_create": false,
	}
	if err := s.doJSON(ctx, http.MethodPost, "/api/v1/collections", payload, nil); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return nil
}

// DeleteCollection removes a collection.
func (s *ChromaStore) DeleteCollection(ctx context.Context, name string) error {
	err := s.doJSON(ctx, http.MethodDelete, "/api/v1/collections/"+name, nil, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete collection %q: %w", name, err)
	}
	return nil
}

// Count returns the number of documents in a collection.
func (s *ChromaStore) Count(ctx context.Context, collection string) (int, error) {
	var count int
	if err := s.doJSON(ctx, http.MethodGet, "/api/v1/collections/"+collection+"/count", nil, &count); err != nil {
		return 0, fmt.Errorf("failed to count collection %q: %w", collection, err)
	}
	return count, nil
}

// Add inserts records with their embeddings.
func (s *ChromaStore) Add(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	documents := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	metadatas := make([]map[string]any, len(records))
	for i, r := range records {
		ids[i] = r.ID
		documents[i] = r.Document
		embeddings[i] = r.Embedding
		metadatas[i] = r.Metadata
	}

	payload := map[string]any{
		"ids":       ids,
		"documents": documents,
		"metadatas": metadatas,
	}
	// Omit embeddings entirely when none were computed so the server
	// embeds the documents itself.
	if len(records[0].Embedding) > 0 {
		payload["embeddings"] = embeddings
	}

	path := "/api/v1/collections/" + collection + "/add"
	if err := s.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
		return fmt.Errorf("failed to add %d records to %q: %w", len(records), collection, err)
	}
	return nil
}

// Search runs a nearest-neighbour query.
func (s *ChromaStore) Search(ctx context.Context, collection string, q Query) ([]QueryResult, error) {
	payload := map[string]any{
		"n_results": q.N,
		"include":   []string{"documents", "metadatas", "distances"},
	}
	switch {
	case len(q.Embedding) > 0:
		payload["query_embeddings"] = [][]float32{q.Embedding}
	case q.Text != "":
		payload["query_texts"] = []string{q.Text}
	default:
		return nil, fmt.Errorf("query needs an embedding or text")
	}
	if len(q.Where) > 0 {
		payload["where"] = q.Where
	}

	var raw map[string]any
	path := "/api/v1/collections/" + collection + "/query"
	if err := s.doJSON(ctx, http.MethodPost, path, payload, &raw); err != nil {
		return nil, fmt.Errorf("query failed on %q: %w", collection, err)
	}
	return convertChromaResults(raw), nil
}

// Get fetches records by metadata filter.
func (s *ChromaStore) Get(ctx context.Context, collection string, where map[string]any, limit int) ([]Record, error) {
	payload := map[string]any{
		"where":   where,
		"include": []string{"documents", "metadatas"},
	}
	if limit > 0 {
		payload["limit"] = limit
	}

	var raw struct {
		IDs       []string         `json:"ids"`
		Documents []string         `json:"documents"`
		Metadatas []map[string]any `json:"metadatas"`
	}
	path := "/api/v1/collections/" + collection + "/get"
	if err := s.doJSON(ctx, http.MethodPost, path, payload, &raw); err != nil {
		return nil, fmt.Errorf("get failed on %q: %w", collection, err)
	}

	out := make([]Record, 0, len(raw.IDs))
	for i, id := range raw.IDs {
		rec := Record{ID: id}
		if i < len(raw.Documents) {
			rec.Document = raw.Documents[i]
		}
		if i < len(raw.Metadatas) {
			rec.Metadata = raw.Metadatas[i]
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close is a no-op for the HTTP backend.
func (s *ChromaStore) Close() error {
	return nil
}

// statusError carries the HTTP status of a failed call for errors.Is-style
// checks via isStatus.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d, body: %s", e.status, e.body)
}

func isStatus(err error, status int) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == status
}

func (s *ChromaStore) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	// The retrying client returns the final response alongside the error
	// once retries are exhausted, so the status check runs either way.
	resp, err := s.httpClient.Do(req)
	if resp == nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &statusError{status: resp.StatusCode, body: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// convertChromaResults flattens Chroma's nested result arrays for a
// single-query request. Score is derived from distance.
func convertChromaResults(result map[string]any) []QueryResult {
	if result == nil {
		return []QueryResult{}
	}

	ids, _ := result["ids"].([]any)
	if len(ids) == 0 {
		return []QueryResult{}
	}

	firstIDs, _ := ids[0].([]any)
	var firstDistances, firstDocs, firstMetas []any
	if distances, _ := result["distances"].([]any); len(distances) > 0 {
		firstDistances, _ = distances[0].([]any)
	}
	if documents, _ := result["documents"].([]any); len(documents) > 0 {
		firstDocs, _ = documents[0].([]any)
	}
	if metadatas, _ := result["metadatas"].([]any); len(metadatas) > 0 {
		firstMetas, _ = metadatas[0].([]any)
	}

	results := make([]QueryResult, 0, len(firstIDs))
	for i := 0; i < len(firstIDs); i++ {
		r := QueryResult{}
		if idVal, ok := firstIDs[i].(string); ok {
			r.ID = idVal
		}
		if i < len(firstDistances) {
			if distVal, ok := firstDistances[i].(float64); ok {
				r.Distance = float32(distVal)
				r.Score = float32(1.0 - distVal)
			}
		}
		if i < len(firstDocs) && firstDocs[i] != nil {
			if docVal, ok := firstDocs[i].(string); ok {
				r.Document = docVal
			}
		}
		r.Metadata = make(map[string]any)
		if i < len(firstMetas) && firstMetas[i] != nil {
			if metaVal, ok := firstMetas[i].(map[string]any); ok {
				r.Metadata = metaVal
			}
		}
		results = append(results, r)
	}

	return results
}

// Ensure ChromaStore implements Store.
var _ Store = (*ChromaStore)(nil)
