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

package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestForModelProviders(t *testing.T) {
	if _, err := ForModel(Config{Provider: "none"}); err != nil {
		t.Errorf("none provider: %v", err)
	}
	if _, err := ForModel(Config{Provider: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai provider: %v", err)
	}
	if _, err := ForModel(Config{Provider: "huggingface", Endpoint: "http://localhost:8080"}); err != nil {
		t.Errorf("huggingface provider: %v", err)
	}
}

func TestForModelUnknownProvider(t *testing.T) {
	_, err := ForModel(Config{Provider: "cohere"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	for _, want := range []string{"openai", "huggingface", "gemini", "none"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should name valid provider %q: %v", want, err)
		}
	}
}

func TestForModelRequiresCredentials(t *testing.T) {
	if _, err := ForModel(Config{Provider: "openai"}); err == nil {
		t.Error("openai without API key should fail")
	}
	if _, err := ForModel(Config{Provider: "gemini"}); err == nil {
		t.Error("gemini without API key should fail")
	}
	if _, err := ForModel(Config{Provider: "huggingface"}); err == nil {
		t.Error("huggingface without endpoint should fail")
	}
}

func TestNoneEmbedderReturnsNoVectors(t *testing.T) {
	vecs, err := NoneEmbedder{}.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs != nil {
		t.Errorf("expected nil vectors, got %v", vecs)
	}
}

func TestOpenAIEmbedBatchOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openAIEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		// Answer out of order to exercise index-based reassembly.
		resp := openAIEmbedResponse{Model: req.Model}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i)}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Config{Provider: "openai", APIKey: "sk-test", Endpoint: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	vecs, err := e.Embed(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 1 || v[0] != float32(i) {
			t.Errorf("vector %d = %v, out of order", i, v)
		}
	}
}

func TestOpenAIEmbedErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(Config{Provider: "openai", APIKey: "sk-bad", Endpoint: srv.URL})
	_, err := e.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("expected API error message, got %v", err)
	}
}

func TestOpenAIEmbedSplitsBatches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req openAIEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := openAIEmbedResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{1}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, _ := NewOpenAIEmbedder(Config{Provider: "openai", APIKey: "sk-test", Endpoint: srv.URL, BatchSize: 2})
	vecs, err := e.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 5 {
		t.Errorf("got %d vectors", len(vecs))
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestHFEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req hfEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		out := make([][]float32, len(req.Inputs))
		for i := range out {
			out[i] = []float32{0.5}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	e, err := NewHFEmbedder(Config{Provider: "huggingface", Endpoint: srv.URL, Model: "paraphrase-multilingual"})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.Embed(context.Background(), []string{"سلام", "دنیا"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Errorf("got %d vectors", len(vecs))
	}
	if e.Model() != "paraphrase-multilingual" {
		t.Errorf("model = %q", e.Model())
	}
}
