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
	"fmt"
	"log/slog"
	"time"
)

// CollectionMetadata describes how a collection was built. It is stored as
// collection metadata so searches can replay the same embedding setup.
type CollectionMetadata struct {
	Source            string
	MaxLength         int
	ContextLength     int
	MinParagraphLines int
	TitleWeight       float64
	EmbeddingProvider string
	EmbeddingModel    string
}

// ToMap converts the metadata to the map form stores accept.
func (m CollectionMetadata) ToMap() map[string]any {
	return map[string]any{
		"source":              m.Source,
		"max_length":          m.MaxLength,
		"context_length":      m.ContextLength,
		"min_paragraph_lines": m.MinParagraphLines,
		"title_weight":        m.TitleWeight,
		"embedding_provider":  m.EmbeddingProvider,
		"embedding_model":     m.EmbeddingModel,
	}
}

// EnsureCollection prepares a collection for writing and returns the name
// actually used. With reset, any existing collection is dropped first.
// Without reset, a name collision gets a timestamp suffix so existing data
// is never written into with different parameters.
func EnsureCollection(ctx context.Context, store Store, name string, metadata map[string]any, reset bool) (string, error) {
	if reset {
		if err := store.DeleteCollection(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("failed to reset collection %q: %w", name, err)
		}
	}

	target := name
	if _, err := store.GetCollection(ctx, target); err == nil {
		target = fmt.Sprintf("%s_%s", name, time.Now().Format("20060102_150405"))
		slog.Warn("Collection already exists, using timestamped name",
			"requested", name,
			"using", target)
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	if err := store.CreateCollection(ctx, target, metadata); err != nil {
		return "", err
	}
	return target, nil
}
