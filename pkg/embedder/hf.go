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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/ganj/pkg/httpclient"
)

// HFEmbedder talks to a local text-embeddings inference server hosting a
// Hugging Face model (e.g. text-embeddings-inference). The transformer
// itself runs in that server; this client only ships text over HTTP.
type HFEmbedder struct {
	client    *httpclient.Client
	endpoint  string
	model     string
	batchSize int
}

// hfEmbedRequest is the inference server's request payload.
type hfEmbedRequest struct {
	Inputs []string `json:"inputs"`
}

// NewHFEmbedder creates a client for the inference server at cfg.Endpoint.
func NewHFEmbedder(cfg Config) (*HFEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for the huggingface embedder (set HF_ENDPOINT)")
	}

	timeout := 60 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	batchSize := 32
	if cfg.BatchSize > 0 {
		batchSize = cfg.BatchSize
	}

	maxRetries := 3
	if cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	client := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithBaseDelay(time.Second),
		httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
	)

	return &HFEmbedder{
		client:    client,
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		batchSize: batchSize,
	}, nil
}

// Embed computes embeddings for texts, batching requests as needed.
func (e *HFEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		embeddings, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, err
		}
		results = append(results, embeddings...)
	}
	return results, nil
}

func (e *HFEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	reqBody, err := json.Marshal(hfEmbedRequest{Inputs: batch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(reqBody)), nil
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach inference server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server returned status %d: %s", resp.StatusCode, string(body))
	}

	var embeddings [][]float32
	if err := json.Unmarshal(body, &embeddings); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embeddings) != len(batch) {
		return nil, fmt.Errorf("received %d embeddings for %d inputs", len(embeddings), len(batch))
	}
	return embeddings, nil
}

// Provider returns "huggingface".
func (e *HFEmbedder) Provider() string { return ProviderHuggingFace }

// Model returns the model name.
func (e *HFEmbedder) Model() string { return e.model }

// Dimension is unknown ahead of time for arbitrary hosted models.
func (e *HFEmbedder) Dimension() int { return 0 }

// Close is a no-op.
func (e *HFEmbedder) Close() error { return nil }

var _ Embedder = (*HFEmbedder)(nil)
