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
	"fmt"
	"time"
)

// Approval statuses.
const (
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
	ApprovalPending  = "pending"
)

// QueryApproval is the moderation state of one query.
type QueryApproval struct {
	ID             int64      `json:"id"`
	Query          string     `json:"query"`
	Status         string     `json:"status"`
	ApprovedAt     *time.Time `json:"approved_at"`
	RejectedAt     *time.Time `json:"rejected_at"`
	Notes          *string    `json:"notes"`
	SearchCount    int        `json:"search_count"`
	LastSearchedAt *time.Time `json:"last_searched_at"`
}

// QueryStats summarizes the approval table.
type QueryStats struct {
	TotalQueries  int `json:"total_queries"`
	Approved      int `json:"approved"`
	Rejected      int `json:"rejected"`
	Pending       int `json:"pending"`
	TotalSearches int `json:"total_searches"`
}

// BumpQuerySearchCount upserts the query's approval row and increments
// its search counter. New queries default to approved.
func (s *Store) BumpQuerySearchCount(query string) error {
	now := nowISO()
	_, err := s.db.Exec(`
		INSERT INTO query_approvals (query, status, search_count, last_searched_at, approved_at)
		VALUES (?, 'approved', 1, ?, ?)
		ON CONFLICT(query) DO UPDATE SET
			search_count = search_count + 1,
			last_searched_at = ?`,
		query, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to bump query search count: %w", err)
	}
	return nil
}

// ApproveQuery marks a query approved, creating the row if needed.
// A nil notes keeps any existing notes.
func (s *Store) ApproveQuery(query string, notes *string) error {
	now := nowISO()
	_, err := s.db.Exec(`
		INSERT INTO query_approvals (query, status, approved_at, notes)
		VALUES (?, 'approved', ?, ?)
		ON CONFLICT(query) DO UPDATE SET
			status = 'approved',
			approved_at = ?,
			rejected_at = NULL,
			notes = COALESCE(?, notes)`,
		query, now, notes, now, notes)
	if err != nil {
		return fmt.Errorf("failed to approve query: %w", err)
	}
	return nil
}

// RejectQuery marks a query rejected, creating the row if needed.
func (s *Store) RejectQuery(query string, notes *string) error {
	now := nowISO()
	_, err := s.db.Exec(`
		INSERT INTO query_approvals (query, status, rejected_at, notes)
		VALUES (?, 'rejected', ?, ?)
		ON CONFLICT(query) DO UPDATE SET
			status = 'rejected',
			rejected_at = ?,
			approved_at = NULL,
			notes = COALESCE(?, notes)`,
		query, now, notes, now, notes)
	if err != nil {
		return fmt.Errorf("failed to reject query: %w", err)
	}
	return nil
}

// DeleteQuery removes a query's approval row entirely.
func (s *Store) DeleteQuery(query string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM query_approvals WHERE query = ?`, query)
	if err != nil {
		return false, fmt.Errorf("failed to delete query: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// QueryApprovals lists queries ordered by popularity. minCount filters out
// rarely searched queries; status filters by approval state when non-empty.
func (s *Store) QueryApprovals(limit, minCount int, status string) ([]QueryApproval, error) {
	query := `
		SELECT id, query, status, approved_at, rejected_at, notes, search_count, last_searched_at
		FROM query_approvals
		WHERE search_count >= ?`
	params := []any{minCount}
	if status != "" {
		query += " AND status = ?"
		params = append(params, status)
	}
	query += `
		ORDER BY search_count DESC, last_searched_at DESC
		LIMIT ?`
	params = append(params, limit)

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var out []QueryApproval
	for rows.Next() {
		var a QueryApproval
		var approvedAt, rejectedAt, lastSearched, notes sql.NullString
		if err := rows.Scan(&a.ID, &a.Query, &a.Status, &approvedAt, &rejectedAt, &notes, &a.SearchCount, &lastSearched); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.ApprovedAt = nullableTime(approvedAt)
		a.RejectedAt = nullableTime(rejectedAt)
		a.LastSearchedAt = nullableTime(lastSearched)
		if notes.Valid {
			a.Notes = &notes.String
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApprovedQueries returns approved queries only, for the public endpoint.
func (s *Store) ApprovedQueries(limit, minCount int) ([]QueryApproval, error) {
	return s.QueryApprovals(limit, minCount, ApprovalApproved)
}

// QueryStats aggregates approval counts.
func (s *Store) QueryStatsSummary() (*QueryStats, error) {
	var stats QueryStats
	err := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'approved' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(search_count), 0)
		FROM query_approvals`).
		Scan(&stats.TotalQueries, &stats.Approved, &stats.Rejected, &stats.Pending, &stats.TotalSearches)
	if err != nil {
		return nil, fmt.Errorf("failed to compute query stats: %w", err)
	}
	return &stats, nil
}
