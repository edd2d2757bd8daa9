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

// Package embedder turns query and document text into vectors. Providers:
// openai (embeddings REST API), gemini (Google genai SDK), huggingface
// (a local inference server), and none (no vectors; the vector store is
// expected to embed text itself).
package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Embedder computes embeddings for batches of texts. Implementations
// must return one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Provider() string
	Model() string
	Dimension() int
	Close() error
}

// Config configures an embedder instance.
type Config struct {
	Provider string
	Model    string

	// APIKey for hosted providers.
	APIKey string

	// Endpoint overrides the provider's default URL. Required for the
	// huggingface provider, where it points at the inference server.
	Endpoint string

	// BatchSize caps texts per request (provider default when zero).
	BatchSize int

	// TimeoutSeconds for each HTTP call (provider default when zero).
	TimeoutSeconds int

	// MaxRetries for transient failures (provider default when zero).
	MaxRetries int
}

// Valid provider names.
const (
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
	ProviderGemini      = "gemini"
	ProviderNone        = "none"
)

// ForModel creates an embedder for the given configuration.
func ForModel(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	case ProviderGemini:
		return NewGeminiEmbedder(cfg)
	case ProviderHuggingFace:
		return NewHFEmbedder(cfg)
	case ProviderNone:
		return NoneEmbedder{}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q (valid: %s)",
			cfg.Provider,
			strings.Join([]string{ProviderOpenAI, ProviderHuggingFace, ProviderGemini, ProviderNone}, ", "))
	}
}

// NoneEmbedder computes no vectors. Searches fall back to text-mode
// queries, which only the remote vector store supports.
type NoneEmbedder struct{}

// Embed returns no vectors.
func (NoneEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

// Provider returns "none".
func (NoneEmbedder) Provider() string { return ProviderNone }

// Model returns the empty string.
func (NoneEmbedder) Model() string { return "" }

// Dimension returns zero.
func (NoneEmbedder) Dimension() int { return 0 }

// Close is a no-op.
func (NoneEmbedder) Close() error { return nil }
