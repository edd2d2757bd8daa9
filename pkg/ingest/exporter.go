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

package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/ganj/pkg/embedder"
	"github.com/kadirpekel/ganj/pkg/store"
	"github.com/kadirpekel/ganj/pkg/vector"
)

// Config configures one export run.
type Config struct {
	SQLPath    string
	Collection string
	BatchSize  int
	Reset      bool

	Chunk ChunkOptions

	// Connection details recorded on the export job for reproducibility.
	Host       string
	Port       int
	SSL        bool
	PersistDir string
	HasAPIKey  bool
}

// Summary reports what an export run produced.
type Summary struct {
	Collection                 string
	TotalRecords               int64
	TotalBooks                 int
	TotalSegments              int64
	TotalDocumentsInCollection *int64
	JobID                      *int64
}

// Exporter streams a SQL dump into a vector-store collection. Job
// tracking is optional; without a store the run is untracked.
type Exporter struct {
	vectors  vector.Store
	embedder embedder.Embedder
	jobs     *store.Store
}

// New creates an exporter. jobs may be nil.
func New(vectors vector.Store, emb embedder.Embedder, jobs *store.Store) *Exporter {
	return &Exporter{vectors: vectors, embedder: emb, jobs: jobs}
}

// Run executes the export: a counting pass, collection setup, then
// batched embed-and-add over every segment in the dump.
func (e *Exporter) Run(ctx context.Context, cfg Config) (*Summary, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 48
	}

	slog.Info("Counting records and books in dump", "path", cfg.SQLPath)
	totalRecords, totalBooks, err := CountRecordsAndBooks(cfg.SQLPath)
	if err != nil {
		return nil, err
	}
	slog.Info("Dump statistics",
		"records", totalRecords,
		"books", totalBooks,
		"provider", e.embedder.Provider(),
		"model", e.embedder.Model(),
		"batch_size", cfg.BatchSize)

	summary := &Summary{}
	var jobID *int64
	if e.jobs != nil {
		id, jerr := e.jobs.CreateExportJob(store.ExportJobParams{
			SQLPath:           cfg.SQLPath,
			Collection:        cfg.Collection,
			BatchSize:         cfg.BatchSize,
			MaxLength:         cfg.Chunk.MaxLength,
			ContextLength:     cfg.Chunk.ContextLength,
			Host:              cfg.Host,
			Port:              cfg.Port,
			SSL:               cfg.SSL,
			PersistDir:        cfg.PersistDir,
			EmbeddingProvider: e.embedder.Provider(),
			EmbeddingModel:    e.embedder.Model(),
			HasAPIKey:         cfg.HasAPIKey,
			Reset:             cfg.Reset,
		})
		if jerr != nil {
			slog.Warn("Failed to create export job record", "error", jerr)
		} else {
			jobID = &id
			summary.JobID = jobID
			slog.Info("Export job registered", "job_id", id)
		}
	}

	if err := e.export(ctx, cfg, totalRecords, totalBooks, summary); err != nil {
		if jobID != nil {
			msg := err.Error()
			if uerr := e.jobs.UpdateExportJob(*jobID, store.JobFailed, store.ExportJobUpdate{ErrorMessage: &msg}); uerr != nil {
				slog.Warn("Failed to mark export job failed", "job_id", *jobID, "error", uerr)
			}
		}
		return nil, err
	}

	if jobID != nil {
		books := int64(summary.TotalBooks)
		update := store.ExportJobUpdate{
			TotalRecords:               &summary.TotalRecords,
			TotalBooks:                 &books,
			TotalSegments:              &summary.TotalSegments,
			TotalDocumentsInCollection: summary.TotalDocumentsInCollection,
		}
		if uerr := e.jobs.UpdateExportJob(*jobID, store.JobCompleted, update); uerr != nil {
			slog.Warn("Failed to mark export job completed", "job_id", *jobID, "error", uerr)
		}
	}
	return summary, nil
}

func (e *Exporter) export(ctx context.Context, cfg Config, totalRecords int64, totalBooks int, summary *Summary) error {
	metadata := vector.CollectionMetadata{
		Source:            "book_pages_sql_export",
		MaxLength:         cfg.Chunk.MaxLength,
		ContextLength:     cfg.Chunk.ContextLength,
		MinParagraphLines: cfg.Chunk.MinParagraphLines,
		TitleWeight:       cfg.Chunk.TitleWeight,
		EmbeddingProvider: e.embedder.Provider(),
		EmbeddingModel:    e.embedder.Model(),
	}
	collection, err := vector.EnsureCollection(ctx, e.vectors, cfg.Collection, metadata.ToMap(), cfg.Reset)
	if err != nil {
		return err
	}
	summary.Collection = collection

	var (
		batch            []Segment
		batchNumber      int
		processedRecords int64
		processedBooks   = make(map[int64]struct{})
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		batchNumber++

		texts := make([]string, len(batch))
		for i, seg := range batch {
			texts[i] = seg.Text
		}

		vectors, err := e.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("batch %d: embedding failed: %w", batchNumber, err)
		}
		if vectors != nil && len(vectors) != len(batch) {
			return fmt.Errorf("batch %d: embedder returned %d vectors for %d texts", batchNumber, len(vectors), len(batch))
		}

		records := make([]vector.Record, len(batch))
		for i, seg := range batch {
			records[i] = vector.Record{
				ID:       seg.DocumentID,
				Document: seg.Text,
				Metadata: seg.Metadata,
			}
			if vectors != nil {
				records[i].Embedding = vectors[i]
			}
		}
		if err := e.vectors.Add(ctx, collection, records); err != nil {
			return fmt.Errorf("batch %d: add failed: %w", batchNumber, err)
		}

		summary.TotalSegments += int64(len(batch))
		batch = batch[:0]

		progress := 0.0
		if totalRecords > 0 {
			progress = float64(processedRecords) / float64(totalRecords) * 100
		}
		slog.Info("Batch stored",
			"batch", batchNumber,
			"segments_total", summary.TotalSegments,
			"records", fmt.Sprintf("%d/%d", processedRecords, totalRecords),
			"books", fmt.Sprintf("%d/%d", len(processedBooks), totalBooks),
			"progress", fmt.Sprintf("%.1f%%", progress))
		return nil
	}

	err = ReadPages(cfg.SQLPath, func(page *BookPage) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if page.RecordID > processedRecords {
			processedRecords = page.RecordID
		}
		processedBooks[page.BookID] = struct{}{}

		for _, seg := range BuildSegments(page, cfg.Chunk) {
			batch = append(batch, seg)
			if len(batch) >= cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	summary.TotalRecords = processedRecords
	summary.TotalBooks = len(processedBooks)

	if count, err := e.vectors.Count(ctx, collection); err != nil {
		slog.Warn("Failed to read collection count", "collection", collection, "error", err)
	} else {
		total := int64(count)
		summary.TotalDocumentsInCollection = &total
	}

	slog.Info("Export completed",
		"collection", collection,
		"segments", summary.TotalSegments,
		"records", summary.TotalRecords,
		"books", summary.TotalBooks)
	return nil
}
