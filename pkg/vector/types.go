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

// Package vector provides access to the vector database holding book-page
// segments. Two backends are supported: a remote Chroma server reached over
// HTTP and an embedded chromem-go store for single-process deployments.
package vector

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a collection or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupported is returned when a backend cannot serve an operation.
	// Callers that can degrade gracefully should treat it as a soft failure.
	ErrUnsupported = errors.New("operation not supported by this backend")
)

// Record is a stored document with its embedding and metadata.
type Record struct {
	ID        string
	Document  string
	Embedding []float32
	Metadata  map[string]any
}

// QueryResult is a nearest-neighbour match. Score is 1 - distance.
type QueryResult struct {
	ID       string
	Document string
	Score    float32
	Distance float32
	Metadata map[string]any
}

// CollectionInfo describes a collection and its creation-time metadata.
type CollectionInfo struct {
	Name     string
	Metadata map[string]any
}

// Query describes a nearest-neighbour request. Exactly one of Embedding or
// Text must be set; Text delegates embedding to the server, which only the
// remote backend supports.
type Query struct {
	Embedding []float32
	Text      string
	N         int
	Where     map[string]any
}

// Store is the vector database gateway.
type Store interface {
	// Heartbeat checks connectivity.
	Heartbeat(ctx context.Context) error

	// ListCollections returns all collections.
	ListCollections(ctx context.Context) ([]CollectionInfo, error)

	// GetCollection returns a collection or ErrNotFound.
	GetCollection(ctx context.Context, name string) (*CollectionInfo, error)

	// CreateCollection creates a collection with metadata.
	CreateCollection(ctx context.Context, name string, metadata map[string]any) error

	// DeleteCollection removes a collection. Returns ErrNotFound when absent.
	DeleteCollection(ctx context.Context, name string) error

	// Count returns the number of documents in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Add inserts records with pre-computed embeddings.
	Add(ctx context.Context, collection string, records []Record) error

	// Search runs a nearest-neighbour query.
	Search(ctx context.Context, collection string, q Query) ([]QueryResult, error)

	// Get fetches records by metadata filter without a similarity query.
	// Backends without filtered retrieval return ErrUnsupported.
	Get(ctx context.Context, collection string, where map[string]any, limit int) ([]Record, error)

	// Name identifies the backend.
	Name() string

	// Close releases resources.
	Close() error
}
