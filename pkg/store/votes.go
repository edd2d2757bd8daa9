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

// Vote types.
const (
	VoteLike    = "like"
	VoteDislike = "dislike"
)

// Vote is one guest vote on a search result.
type Vote struct {
	ID          int64      `json:"id"`
	GuestUserID string     `json:"guest_user_id"`
	Query       string     `json:"query"`
	ModelID     *int64     `json:"model_id"`
	ModelName   *string    `json:"model_name"`
	ResultID    *string    `json:"result_id"`
	VoteType    string     `json:"vote_type"`
	CreatedAt   *time.Time `json:"created_at"`
}

// VoteStats counts likes and dislikes for one (query, model) pair.
type VoteStats struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
}

// VoteSummaryRow aggregates votes per query and model.
type VoteSummaryRow struct {
	Query       string     `json:"query"`
	ModelID     *int64     `json:"model_id"`
	ModelName   *string    `json:"model_name"`
	Likes       int        `json:"likes"`
	Dislikes    int        `json:"dislikes"`
	LastVotedAt *time.Time `json:"last_voted_at"`
}

// SaveVote records a guest's vote. A prior vote by the same guest on the
// same (query, model, result) is replaced, so the latest vote wins.
func (s *Store) SaveVote(guestUserID, query string, modelID *int64, resultID *string, voteType string) (int64, error) {
	if voteType != VoteLike && voteType != VoteDislike {
		return 0, fmt.Errorf("invalid vote type: %q", voteType)
	}

	_, err := s.db.Exec(`
		DELETE FROM search_votes
		WHERE guest_user_id = ? AND query = ?
			AND ((model_id IS NULL AND ? IS NULL) OR model_id = ?)
			AND ((result_id IS NULL AND ? IS NULL) OR result_id = ?)`,
		guestUserID, query, modelID, modelID, resultID, resultID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear previous vote: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO search_votes (guest_user_id, query, model_id, result_id, vote_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		guestUserID, query, modelID, resultID, voteType, nowISO())
	if err != nil {
		return 0, fmt.Errorf("failed to save vote: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// Votes lists votes newest first, optionally filtered by query and model.
func (s *Store) Votes(limit int, query string, modelID *int64) ([]Vote, error) {
	sqlQuery := `
		SELECT v.id, v.guest_user_id, v.query, v.model_id, em.embedding_model,
			v.result_id, v.vote_type, v.created_at
		FROM search_votes v
		LEFT JOIN embedding_models em ON em.id = v.model_id
		WHERE 1=1`
	var params []any
	if query != "" {
		sqlQuery += " AND v.query = ?"
		params = append(params, query)
	}
	if modelID != nil {
		sqlQuery += " AND v.model_id = ?"
		params = append(params, *modelID)
	}
	sqlQuery += `
		ORDER BY v.created_at DESC
		LIMIT ?`
	params = append(params, limit)

	rows, err := s.db.Query(sqlQuery, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes: %w", err)
	}
	defer rows.Close()

	var out []Vote
	for rows.Next() {
		var v Vote
		var mid sql.NullInt64
		var modelName, resultID, createdAt sql.NullString
		if err := rows.Scan(&v.ID, &v.GuestUserID, &v.Query, &mid, &modelName, &resultID, &v.VoteType, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		if mid.Valid {
			v.ModelID = &mid.Int64
		}
		if modelName.Valid {
			v.ModelName = &modelName.String
		}
		if resultID.Valid {
			v.ResultID = &resultID.String
		}
		v.CreatedAt = nullableTime(createdAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// VoteStatsFor counts likes and dislikes for a query under one model.
func (s *Store) VoteStatsFor(query string, modelID *int64) (*VoteStats, error) {
	var stats VoteStats
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN vote_type = 'like' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN vote_type = 'dislike' THEN 1 ELSE 0 END), 0)
		FROM search_votes
		WHERE query = ? AND ((model_id IS NULL AND ? IS NULL) OR model_id = ?)`,
		query, modelID, modelID).
		Scan(&stats.Likes, &stats.Dislikes)
	if err != nil {
		return nil, fmt.Errorf("failed to compute vote stats: %w", err)
	}
	return &stats, nil
}

// VoteSummary aggregates votes per (query, model), most recently voted first.
func (s *Store) VoteSummary(limit int) ([]VoteSummaryRow, error) {
	rows, err := s.db.Query(`
		SELECT v.query, v.model_id, em.embedding_model,
			SUM(CASE WHEN v.vote_type = 'like' THEN 1 ELSE 0 END) AS likes,
			SUM(CASE WHEN v.vote_type = 'dislike' THEN 1 ELSE 0 END) AS dislikes,
			MAX(v.created_at) AS last_voted_at
		FROM search_votes v
		LEFT JOIN embedding_models em ON em.id = v.model_id
		GROUP BY v.query, v.model_id
		ORDER BY last_voted_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vote summary: %w", err)
	}
	defer rows.Close()

	var out []VoteSummaryRow
	for rows.Next() {
		var r VoteSummaryRow
		var mid sql.NullInt64
		var modelName, lastVoted sql.NullString
		if err := rows.Scan(&r.Query, &mid, &modelName, &r.Likes, &r.Dislikes, &lastVoted); err != nil {
			return nil, fmt.Errorf("failed to scan vote summary: %w", err)
		}
		if mid.Valid {
			r.ModelID = &mid.Int64
		}
		if modelName.Valid {
			r.ModelName = &modelName.String
		}
		r.LastVotedAt = nullableTime(lastVoted)
		out = append(out, r)
	}
	return out, rows.Err()
}
