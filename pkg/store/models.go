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

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// EmbeddingModel is a searchable model registered from completed exports.
type EmbeddingModel struct {
	ID                         int64      `json:"id"`
	EmbeddingProvider          string     `json:"embedding_provider"`
	EmbeddingModel             string     `json:"embedding_model"`
	Collection                 string     `json:"collection"`
	IsActive                   bool       `json:"is_active"`
	Color                      string     `json:"color"`
	JobID                      int64      `json:"job_id"`
	CompletedAt                *time.Time `json:"completed_at"`
	TotalDocumentsInCollection *int64     `json:"total_documents_in_collection"`
	TotalRecords               *int64     `json:"total_records"`
	TotalBooks                 *int64     `json:"total_books"`
	TotalSegments              *int64     `json:"total_segments"`
}

// SyncEmbeddingModelsFromJobs upserts one model row per unique
// (provider, model, collection) found among completed jobs. New rows get
// the next palette color; existing rows keep color and active state.
func (s *Store) SyncEmbeddingModelsFromJobs(limit int) error {
	latest, err := s.LatestCompletedModelJobs(limit)
	if err != nil {
		return err
	}
	if len(latest) == 0 {
		slog.Debug("No completed jobs found to sync embedding models")
		return nil
	}

	var existingCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM embedding_models`).Scan(&existingCount); err != nil {
		return fmt.Errorf("failed to count embedding models: %w", err)
	}

	now := nowISO()
	for idx, job := range latest {
		lastCompleted := now
		if job.CompletedAt != nil {
			lastCompleted = job.CompletedAt.UTC().Format(isoLayout)
		}
		_, err := s.db.Exec(`
			INSERT INTO embedding_models (
				embedding_provider, embedding_model, collection, job_id,
				is_active, color, created_at, updated_at, last_completed_job_at
			)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)
			ON CONFLICT(embedding_provider, embedding_model, collection) DO UPDATE SET
				job_id = excluded.job_id,
				last_completed_job_at = excluded.last_completed_job_at,
				updated_at = ?`,
			job.EmbeddingProvider, job.EmbeddingModel, job.Collection, job.JobID,
			pickDefaultModelColor(existingCount+idx), now, now, lastCompleted, now)
		if err != nil {
			return fmt.Errorf("failed to sync embedding model: %w", err)
		}
	}
	return nil
}

const embeddingModelColumns = `
	em.id, em.embedding_provider, em.embedding_model, em.collection,
	em.is_active, em.color, em.job_id, em.last_completed_job_at,
	ej.completed_at, ej.total_documents_in_collection,
	ej.total_records, ej.total_books, ej.total_segments`

func scanEmbeddingModel(row interface{ Scan(...any) error }) (*EmbeddingModel, error) {
	var m EmbeddingModel
	var lastCompleted, jobCompleted sql.NullString
	var totalDocs, totalRecords, totalBooks, totalSegments sql.NullInt64

	err := row.Scan(&m.ID, &m.EmbeddingProvider, &m.EmbeddingModel, &m.Collection,
		&m.IsActive, &m.Color, &m.JobID, &lastCompleted,
		&jobCompleted, &totalDocs, &totalRecords, &totalBooks, &totalSegments)
	if err != nil {
		return nil, err
	}

	// Prefer the model's own completion marker, falling back to the job's.
	if t := nullableTime(lastCompleted); t != nil {
		m.CompletedAt = t
	} else {
		m.CompletedAt = nullableTime(jobCompleted)
	}
	if totalDocs.Valid {
		m.TotalDocumentsInCollection = &totalDocs.Int64
	}
	if totalRecords.Valid {
		m.TotalRecords = &totalRecords.Int64
	}
	if totalBooks.Valid {
		m.TotalBooks = &totalBooks.Int64
	}
	if totalSegments.Valid {
		m.TotalSegments = &totalSegments.Int64
	}
	return &m, nil
}

// EmbeddingModels lists models with their latest job info, newest first.
// With ensureSync, completed jobs are synced in first.
func (s *Store) EmbeddingModels(limit int, activeOnly, ensureSync bool) ([]EmbeddingModel, error) {
	if ensureSync {
		if err := s.SyncEmbeddingModelsFromJobs(limit); err != nil {
			slog.Warn("Failed to sync embedding models from jobs", "error", err)
		}
	}

	query := `
		SELECT ` + embeddingModelColumns + `
		FROM embedding_models em
		LEFT JOIN export_jobs ej ON ej.id = em.job_id
		WHERE 1=1`
	var params []any
	if activeOnly {
		query += " AND em.is_active = 1"
	}
	query += `
		ORDER BY COALESCE(em.last_completed_job_at, ej.completed_at) DESC
		LIMIT ?`
	params = append(params, limit)

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding models: %w", err)
	}
	defer rows.Close()

	var models []EmbeddingModel
	for rows.Next() {
		m, err := scanEmbeddingModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedding model: %w", err)
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

// EmbeddingModelByID returns one model.
func (s *Store) EmbeddingModelByID(id int64) (*EmbeddingModel, error) {
	row := s.db.QueryRow(`
		SELECT `+embeddingModelColumns+`
		FROM embedding_models em
		LEFT JOIN export_jobs ej ON ej.id = em.job_id
		WHERE em.id = ?`, id)
	m, err := scanEmbeddingModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding model %d: %w", id, err)
	}
	return m, nil
}

// EmbeddingModelsByIDs returns the models for the given IDs.
func (s *Store) EmbeddingModelsByIDs(ids []int64) ([]EmbeddingModel, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	params := make([]any, len(ids))
	for i, id := range ids {
		params[i] = id
	}

	rows, err := s.db.Query(`
		SELECT `+embeddingModelColumns+`
		FROM embedding_models em
		LEFT JOIN export_jobs ej ON ej.id = em.job_id
		WHERE em.id IN (`+placeholders+`)`, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embedding models by ids: %w", err)
	}
	defer rows.Close()

	var models []EmbeddingModel
	for rows.Next() {
		m, err := scanEmbeddingModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedding model: %w", err)
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

// SetEmbeddingModelActive toggles a model's active flag.
func (s *Store) SetEmbeddingModelActive(id int64, active bool) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE embedding_models SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, nowISO(), id)
	if err != nil {
		return false, fmt.Errorf("failed to toggle embedding model %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateEmbeddingModelColor sets a model's display color.
func (s *Store) UpdateEmbeddingModelColor(id int64, color string) (bool, error) {
	if color == "" {
		return false, nil
	}
	res, err := s.db.Exec(`
		UPDATE embedding_models SET color = ?, updated_at = ? WHERE id = ?`,
		color, nowISO(), id)
	if err != nil {
		return false, fmt.Errorf("failed to update embedding model color %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
