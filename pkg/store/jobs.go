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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Export job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// ExportJobParams captures the invocation that started an export.
type ExportJobParams struct {
	SQLPath           string `json:"sql_path"`
	Collection        string `json:"collection"`
	BatchSize         int    `json:"batch_size"`
	MaxLength         int    `json:"max_length"`
	ContextLength     int    `json:"context"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	SSL               bool   `json:"ssl"`
	PersistDir        string `json:"persist_directory"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	HasAPIKey         bool   `json:"-"`
	Reset             bool   `json:"reset"`
}

// ExportJob is one export run.
type ExportJob struct {
	ID              int64      `json:"id"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	DurationSeconds *float64   `json:"duration_seconds"`

	SQLPath           string `json:"sql_path"`
	Collection        string `json:"collection"`
	BatchSize         int    `json:"batch_size"`
	MaxLength         int    `json:"max_length"`
	ContextLength     int    `json:"context_length"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	SSL               bool   `json:"ssl"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	Reset             bool   `json:"reset"`

	TotalRecords               *int64 `json:"total_records"`
	TotalBooks                 *int64 `json:"total_books"`
	TotalSegments              *int64 `json:"total_segments"`
	TotalDocumentsInCollection *int64 `json:"total_documents_in_collection"`

	ErrorMessage    *string `json:"error_message"`
	CommandLineArgs *string `json:"command_line_args"`
}

// ExportJobUpdate carries optional counters and errors for job updates.
type ExportJobUpdate struct {
	TotalRecords               *int64
	TotalBooks                 *int64
	TotalSegments              *int64
	TotalDocumentsInCollection *int64
	ErrorMessage               *string
}

// CreateExportJob records a new running job and returns its ID. The full
// invocation is kept as JSON, with credentials masked.
func (s *Store) CreateExportJob(p ExportJobParams) (int64, error) {
	args := map[string]any{
		"sql_path":           p.SQLPath,
		"collection":         p.Collection,
		"batch_size":         p.BatchSize,
		"max_length":         p.MaxLength,
		"context":            p.ContextLength,
		"host":               p.Host,
		"port":               p.Port,
		"ssl":                p.SSL,
		"persist_directory":  p.PersistDir,
		"embedding_provider": p.EmbeddingProvider,
		"embedding_model":    p.EmbeddingModel,
		"reset":              p.Reset,
	}
	if p.HasAPIKey {
		args["openai_api_key"] = "***"
	} else {
		args["openai_api_key"] = ""
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal job args: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO export_jobs
		(status, started_at, sql_path, collection, batch_size, max_length, context_length,
		 host, port, ssl, embedding_provider, embedding_model, reset, command_line_args)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		JobRunning, nowISO(), p.SQLPath, p.Collection, p.BatchSize, p.MaxLength, p.ContextLength,
		p.Host, p.Port, p.SSL, p.EmbeddingProvider, p.EmbeddingModel, p.Reset, string(argsJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to create export job: %w", err)
	}
	return res.LastInsertId()
}

// UpdateExportJob sets a job's status and optional counters. Terminal
// statuses also record completed_at and the duration since started_at.
func (s *Store) UpdateExportJob(jobID int64, status string, update ExportJobUpdate) error {
	switch status {
	case JobPending, JobRunning, JobCompleted, JobFailed:
	default:
		return fmt.Errorf("invalid status: %s", status)
	}

	fields := []string{"status = ?"}
	values := []any{status}

	if status == JobCompleted || status == JobFailed {
		completedAt := nowISO()
		fields = append(fields, "completed_at = ?")
		values = append(values, completedAt)

		var startedAt sql.NullString
		if err := s.db.QueryRow(`SELECT started_at FROM export_jobs WHERE id = ?`, jobID).Scan(&startedAt); err == nil {
			if started := nullableTime(startedAt); started != nil {
				if completed, ok := parseTime(completedAt); ok {
					fields = append(fields, "duration_seconds = ?")
					values = append(values, completed.Sub(*started).Seconds())
				}
			}
		}
	}

	if update.TotalRecords != nil {
		fields = append(fields, "total_records = ?")
		values = append(values, *update.TotalRecords)
	}
	if update.TotalBooks != nil {
		fields = append(fields, "total_books = ?")
		values = append(values, *update.TotalBooks)
	}
	if update.TotalSegments != nil {
		fields = append(fields, "total_segments = ?")
		values = append(values, *update.TotalSegments)
	}
	if update.TotalDocumentsInCollection != nil {
		fields = append(fields, "total_documents_in_collection = ?")
		values = append(values, *update.TotalDocumentsInCollection)
	}
	if update.ErrorMessage != nil {
		fields = append(fields, "error_message = ?")
		values = append(values, *update.ErrorMessage)
	}

	values = append(values, jobID)
	query := fmt.Sprintf("UPDATE export_jobs SET %s WHERE id = ?", strings.Join(fields, ", "))
	if _, err := s.db.Exec(query, values...); err != nil {
		return fmt.Errorf("failed to update export job %d: %w", jobID, err)
	}
	return nil
}

const exportJobColumns = `
	id, status, started_at, completed_at, duration_seconds,
	sql_path, collection, batch_size, max_length, context_length,
	host, port, ssl, embedding_provider, embedding_model, reset,
	total_records, total_books, total_segments, total_documents_in_collection,
	error_message, command_line_args`

func scanExportJob(row interface{ Scan(...any) error }) (*ExportJob, error) {
	var j ExportJob
	var startedAt, completedAt, errorMessage, commandArgs sql.NullString
	var duration sql.NullFloat64
	var totalRecords, totalBooks, totalSegments, totalDocs sql.NullInt64

	err := row.Scan(
		&j.ID, &j.Status, &startedAt, &completedAt, &duration,
		&j.SQLPath, &j.Collection, &j.BatchSize, &j.MaxLength, &j.ContextLength,
		&j.Host, &j.Port, &j.SSL, &j.EmbeddingProvider, &j.EmbeddingModel, &j.Reset,
		&totalRecords, &totalBooks, &totalSegments, &totalDocs,
		&errorMessage, &commandArgs)
	if err != nil {
		return nil, err
	}

	j.StartedAt = nullableTime(startedAt)
	j.CompletedAt = nullableTime(completedAt)
	if duration.Valid {
		j.DurationSeconds = &duration.Float64
	}
	if totalRecords.Valid {
		j.TotalRecords = &totalRecords.Int64
	}
	if totalBooks.Valid {
		j.TotalBooks = &totalBooks.Int64
	}
	if totalSegments.Valid {
		j.TotalSegments = &totalSegments.Int64
	}
	if totalDocs.Valid {
		j.TotalDocumentsInCollection = &totalDocs.Int64
	}
	if errorMessage.Valid {
		j.ErrorMessage = &errorMessage.String
	}
	if commandArgs.Valid {
		j.CommandLineArgs = &commandArgs.String
	}
	return &j, nil
}

// ExportJobs lists jobs, most recent first.
func (s *Store) ExportJobs(limit int) ([]ExportJob, error) {
	rows, err := s.db.Query(`
		SELECT `+exportJobColumns+`
		FROM export_jobs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query export jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ExportJob
	for rows.Next() {
		j, err := scanExportJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ExportJobByID returns one job.
func (s *Store) ExportJobByID(jobID int64) (*ExportJob, error) {
	row := s.db.QueryRow(`
		SELECT `+exportJobColumns+`
		FROM export_jobs
		WHERE id = ?`, jobID)
	j, err := scanExportJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load export job %d: %w", jobID, err)
	}
	return j, nil
}

// DeleteExportJob removes a job row.
func (s *Store) DeleteExportJob(jobID int64) error {
	res, err := s.db.Exec(`DELETE FROM export_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete export job %d: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompletedModelJob is the newest completed job for one
// (provider, model, collection) combination.
type CompletedModelJob struct {
	JobID                      int64      `json:"job_id"`
	EmbeddingProvider          string     `json:"embedding_provider"`
	EmbeddingModel             string     `json:"embedding_model"`
	Collection                 string     `json:"collection"`
	CompletedAt                *time.Time `json:"completed_at"`
	TotalDocumentsInCollection *int64     `json:"total_documents_in_collection"`
	TotalRecords               *int64     `json:"total_records"`
	TotalBooks                 *int64     `json:"total_books"`
	TotalSegments              *int64     `json:"total_segments"`
}

// LatestCompletedModelJobs returns the newest completed job per unique
// (provider, model, collection).
func (s *Store) LatestCompletedModelJobs(limit int) ([]CompletedModelJob, error) {
	rows, err := s.db.Query(`
		SELECT ej.id,
		       ej.embedding_provider,
		       ej.embedding_model,
		       ej.collection,
		       ej.completed_at,
		       ej.total_documents_in_collection,
		       ej.total_records,
		       ej.total_books,
		       ej.total_segments
		FROM export_jobs ej
		JOIN (
			SELECT embedding_provider,
			       embedding_model,
			       collection,
			       MAX(completed_at) AS max_completed_at
			FROM export_jobs
			WHERE status = 'completed' AND completed_at IS NOT NULL
			GROUP BY embedding_provider, embedding_model, collection
		) latest
		  ON latest.embedding_provider = ej.embedding_provider
		 AND latest.embedding_model = ej.embedding_model
		 AND latest.collection = ej.collection
		 AND latest.max_completed_at = ej.completed_at
		WHERE ej.status = 'completed'
		ORDER BY ej.completed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed model jobs: %w", err)
	}
	defer rows.Close()

	var jobs []CompletedModelJob
	for rows.Next() {
		var j CompletedModelJob
		var completedAt sql.NullString
		var totalDocs, totalRecords, totalBooks, totalSegments sql.NullInt64
		if err := rows.Scan(&j.JobID, &j.EmbeddingProvider, &j.EmbeddingModel, &j.Collection,
			&completedAt, &totalDocs, &totalRecords, &totalBooks, &totalSegments); err != nil {
			return nil, fmt.Errorf("failed to scan completed job: %w", err)
		}
		j.CompletedAt = nullableTime(completedAt)
		if totalDocs.Valid {
			j.TotalDocumentsInCollection = &totalDocs.Int64
		}
		if totalRecords.Valid {
			j.TotalRecords = &totalRecords.Int64
		}
		if totalBooks.Valid {
			j.TotalBooks = &totalBooks.Int64
		}
		if totalSegments.Valid {
			j.TotalSegments = &totalSegments.Int64
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
