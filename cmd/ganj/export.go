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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/ganj/pkg/config"
	"github.com/kadirpekel/ganj/pkg/embedder"
	"github.com/kadirpekel/ganj/pkg/ingest"
	"github.com/kadirpekel/ganj/pkg/store"
)

// ExportCmd streams a book_pages SQL dump into a collection.
type ExportCmd struct {
	SQLPath    string `name:"sql-path" required:"" type:"path" help:"Path to the SQL dump."`
	Collection string `help:"Target collection (overrides CHROMA_COLLECTION)."`

	Provider string `help:"Embedding provider (overrides EMBEDDING_PROVIDER)."`
	Model    string `help:"Embedding model (overrides EMBEDDING_MODEL)."`

	BatchSize         int     `name:"batch-size" default:"48" help:"Segments per embedding batch."`
	MaxLength         int     `name:"max-length" default:"200" help:"Segment window size in characters."`
	ContextLength     int     `name:"context-length" default:"100" help:"Overlap between consecutive windows."`
	MinParagraphLines int     `name:"min-paragraph-lines" default:"3" help:"Glue shorter paragraphs together."`
	TitleWeight       float64 `name:"title-weight" default:"1.5" help:"Importance assigned to title segments."`
	PageLevel         bool    `name:"page-level" help:"Also store one whole-page document per page."`
	Reset             bool    `help:"Drop and recreate the collection first."`

	Host       string `help:"Chroma host (overrides CHROMA_HOST)."`
	Port       int    `help:"Chroma port (overrides CHROMA_PORT)."`
	SSL        bool   `help:"Use HTTPS for Chroma."`
	PersistDir string `name:"persist-dir" type:"path" help:"Use an embedded store at this path instead of a server."`
}

func (c *ExportCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.Collection != "" {
		cfg.Chroma.Collection = c.Collection
	}
	if c.Provider != "" {
		cfg.Embedding.Provider = c.Provider
	}
	if c.Model != "" {
		cfg.Embedding.Model = c.Model
	}
	if c.Host != "" {
		cfg.Chroma.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Chroma.Port = c.Port
	}
	if c.SSL {
		cfg.Chroma.SSL = true
	}
	if c.PersistDir != "" {
		cfg.Chroma.PersistDir = c.PersistDir
	}
	if !config.IsValidProvider(cfg.Embedding.Provider) {
		return fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	vectors, err := openVectorStore(cfg)
	if err != nil {
		return err
	}
	defer vectors.Close()

	apiKey := cfg.APIKeyFor(cfg.Embedding.Provider)
	emb, err := embedder.ForModel(embedder.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		APIKey:    apiKey,
		Endpoint:  cfg.Embedding.HFEndpoint,
		BatchSize: c.BatchSize,
	})
	if err != nil {
		return err
	}
	defer emb.Close()

	jobs, err := store.Open(cfg.DatabasePath)
	if err != nil {
		slog.Warn("Job tracking disabled", "error", err)
		jobs = nil
	} else {
		defer jobs.Close()
	}

	exporter := ingest.New(vectors, emb, jobs)
	summary, err := exporter.Run(ctx, ingest.Config{
		SQLPath:    c.SQLPath,
		Collection: cfg.Chroma.Collection,
		BatchSize:  c.BatchSize,
		Reset:      c.Reset,
		Chunk: ingest.ChunkOptions{
			MaxLength:         c.MaxLength,
			ContextLength:     c.ContextLength,
			MinParagraphLines: c.MinParagraphLines,
			TitleWeight:       c.TitleWeight,
			PageLevel:         c.PageLevel,
			Titles:            ingest.DefaultTitleHeuristic(),
		},
		Host:       cfg.Chroma.Host,
		Port:       cfg.Chroma.Port,
		SSL:        cfg.Chroma.SSL,
		PersistDir: cfg.Chroma.PersistDir,
		HasAPIKey:  apiKey != "",
	})
	if err != nil {
		return err
	}

	fmt.Printf("Export finished: collection=%s records=%d books=%d segments=%d\n",
		summary.Collection, summary.TotalRecords, summary.TotalBooks, summary.TotalSegments)
	if summary.TotalDocumentsInCollection != nil {
		fmt.Printf("Documents in collection: %d\n", *summary.TotalDocumentsInCollection)
	}
	if summary.JobID != nil {
		fmt.Printf("Export job: %d\n", *summary.JobID)
	}
	return nil
}
