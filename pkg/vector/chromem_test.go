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
	"errors"
	"strings"
	"testing"
)

func newMemStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestChromemAddAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)

	if err := store.CreateCollection(ctx, "books", map[string]any{"source": "dump.sql"}); err != nil {
		t.Fatal(err)
	}

	records := []Record{
		{ID: "a", Document: "alpha", Embedding: []float32{1, 0}, Metadata: map[string]any{"book_id": 1, "page_level": false}},
		{ID: "b", Document: "beta", Embedding: []float32{0, 1}, Metadata: map[string]any{"book_id": 2, "page_level": false}},
	}
	if err := store.Add(ctx, "books", records); err != nil {
		t.Fatal(err)
	}

	count, err := store.Count(ctx, "books")
	if err != nil || count != 2 {
		t.Fatalf("count = %d, err = %v", count, err)
	}

	results, err := store.Search(ctx, "books", Query{Embedding: []float32{1, 0}, N: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].ID != "a" {
		t.Errorf("nearest = %q, want a", results[0].ID)
	}
	if bookID, ok := results[0].Metadata["book_id"].(int64); !ok || bookID != 1 {
		t.Errorf("book_id not restored as integer: %#v", results[0].Metadata["book_id"])
	}
}

func TestChromemSearchClampsN(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)
	_ = store.CreateCollection(ctx, "books", nil)
	_ = store.Add(ctx, "books", []Record{{ID: "a", Document: "x", Embedding: []float32{1, 0}}})

	results, err := store.Search(ctx, "books", Query{Embedding: []float32{1, 0}, N: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestChromemUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)
	_ = store.CreateCollection(ctx, "books", nil)

	if _, err := store.Search(ctx, "books", Query{Text: "hello", N: 3}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("text search should be unsupported, got %v", err)
	}
	if _, err := store.Get(ctx, "books", map[string]any{"book_id": 1}, 0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("get should be unsupported, got %v", err)
	}
}

func TestChromemMissingCollection(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)

	if _, err := store.Count(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteCollection(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMetadataCodecRoundTrip(t *testing.T) {
	in := map[string]any{
		"text":  "hello",
		"count": 42,
		"ratio": 1.5,
		"flag":  true,
	}
	out := decodeMetadata(encodeMetadata(in))

	if out["text"] != "hello" {
		t.Errorf("text = %#v", out["text"])
	}
	if out["count"] != int64(42) {
		t.Errorf("count = %#v", out["count"])
	}
	if out["ratio"] != 1.5 {
		t.Errorf("ratio = %#v", out["ratio"])
	}
	if out["flag"] != true {
		t.Errorf("flag = %#v", out["flag"])
	}
}

func TestEnsureCollectionCollisionGetsSuffix(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)

	name, err := EnsureCollection(ctx, store, "books", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if name != "books" {
		t.Fatalf("first create renamed to %q", name)
	}

	name2, err := EnsureCollection(ctx, store, "books", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if name2 == "books" || !strings.HasPrefix(name2, "books_") {
		t.Errorf("collision name = %q, want books_<timestamp>", name2)
	}
}

func TestEnsureCollectionReset(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(t)

	if _, err := EnsureCollection(ctx, store, "books", nil, false); err != nil {
		t.Fatal(err)
	}
	name, err := EnsureCollection(ctx, store, "books", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if name != "books" {
		t.Errorf("reset should reuse the original name, got %q", name)
	}
}
