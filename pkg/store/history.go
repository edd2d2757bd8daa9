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
	"log/slog"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// SearchRecord is one saved search.
type SearchRecord struct {
	ID          int64      `json:"id"`
	Query       string     `json:"query"`
	ResultCount int        `json:"result_count"`
	TookMS      float64    `json:"took_ms"`
	Timestamp   *time.Time `json:"timestamp"`
	Collection  string     `json:"collection"`
	Provider    string     `json:"provider"`
	Model       string     `json:"model"`

	// Results is only populated by SearchByID.
	Results json.RawMessage `json:"results,omitempty"`
}

// TopQuery is a query aggregated over the search history.
type TopQuery struct {
	Query          string     `json:"query"`
	SearchCount    int        `json:"search_count"`
	LastSearchedAt *time.Time `json:"last_searched_at"`
}

// SaveSearch records a search and its serialized results. It also bumps
// the query's approval counter; a failure there only logs.
func (s *Store) SaveSearch(query string, resultCount int, tookMS float64, collection, provider, model string, results any) (int64, error) {
	var resultsJSON sql.NullString
	if results != nil {
		data, err := json.Marshal(results)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal results: %w", err)
		}
		resultsJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO search_history
		(query, result_count, took_ms, timestamp, collection, provider, model, results_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		query, resultCount, tookMS, nowISO(), collection, provider, model, resultsJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to save search: %w", err)
	}
	id, _ := res.LastInsertId()

	if err := s.BumpQuerySearchCount(query); err != nil {
		slog.Warn("Failed to update query search count", "query", query, "error", err)
	}
	return id, nil
}

// SearchHistory returns recent searches plus the total row count.
func (s *Store) SearchHistory(limit, offset int) ([]SearchRecord, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM search_history`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, query, result_count, took_ms, timestamp, collection, provider, model
		FROM search_history
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []SearchRecord
	for rows.Next() {
		var r SearchRecord
		var ts sql.NullString
		if err := rows.Scan(&r.ID, &r.Query, &r.ResultCount, &r.TookMS, &ts, &r.Collection, &r.Provider, &r.Model); err != nil {
			return nil, 0, fmt.Errorf("failed to scan history row: %w", err)
		}
		r.Timestamp = nullableTime(ts)
		records = append(records, r)
	}
	return records, total, rows.Err()
}

// SearchByID returns a search including its stored results.
func (s *Store) SearchByID(id int64) (*SearchRecord, error) {
	var r SearchRecord
	var ts, resultsJSON sql.NullString
	err := s.db.QueryRow(`
		SELECT query, result_count, took_ms, timestamp, collection, provider, model, results_json
		FROM search_history
		WHERE id = ?`, id).
		Scan(&r.Query, &r.ResultCount, &r.TookMS, &ts, &r.Collection, &r.Provider, &r.Model, &resultsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load search %d: %w", id, err)
	}
	r.ID = id
	r.Timestamp = nullableTime(ts)
	if resultsJSON.Valid {
		r.Results = json.RawMessage(resultsJSON.String)
	}
	return &r, nil
}

// TopQueries aggregates the most searched queries.
func (s *Store) TopQueries(limit, minCount int) ([]TopQuery, error) {
	rows, err := s.db.Query(`
		SELECT query, COUNT(*) AS search_count, MAX(timestamp) AS last_searched_at
		FROM search_history
		GROUP BY query
		HAVING COUNT(*) >= ?
		ORDER BY search_count DESC, last_searched_at DESC
		LIMIT ?`, minCount, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top queries: %w", err)
	}
	defer rows.Close()

	var out []TopQuery
	for rows.Next() {
		var q TopQuery
		var last sql.NullString
		if err := rows.Scan(&q.Query, &q.SearchCount, &last); err != nil {
			return nil, fmt.Errorf("failed to scan top query: %w", err)
		}
		q.LastSearchedAt = nullableTime(last)
		out = append(out, q)
	}
	return out, rows.Err()
}
