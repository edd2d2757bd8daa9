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
	"time"
)

// APIUser owns API tokens.
type APIUser struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Email     *string    `json:"email"`
	CreatedAt *time.Time `json:"created_at"`
	IsActive  bool       `json:"is_active"`
}

// APIToken is a hashed bearer token. The Token column holds the SHA-256
// hex digest, never the plaintext.
type APIToken struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Username        string     `json:"username,omitempty"`
	Name            string     `json:"name"`
	RateLimitPerDay int        `json:"rate_limit_per_day"`
	CreatedAt       *time.Time `json:"created_at"`
	ExpiresAt       *time.Time `json:"expires_at"`
	IsActive        bool       `json:"is_active"`
	LastUsedAt      *time.Time `json:"last_used_at"`
}

// TokenUsage is one day's request count for a token.
type TokenUsage struct {
	TokenID       int64      `json:"token_id"`
	TokenName     string     `json:"token_name,omitempty"`
	Date          string     `json:"date"`
	RequestCount  int        `json:"request_count"`
	LastRequestAt *time.Time `json:"last_request_at"`
}

// CreateUser registers an API user.
func (s *Store) CreateUser(username string, email *string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO api_users (username, email, created_at) VALUES (?, ?, ?)`,
		username, email, nowISO())
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// Users lists all API users.
func (s *Store) Users() ([]APIUser, error) {
	rows, err := s.db.Query(`
		SELECT id, username, email, created_at, is_active
		FROM api_users
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var out []APIUser
	for rows.Next() {
		var u APIUser
		var email, createdAt sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &email, &createdAt, &u.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if email.Valid {
			u.Email = &email.String
		}
		u.CreatedAt = nullableTime(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateToken stores a hashed token for a user. expiresAt is optional.
func (s *Store) CreateToken(userID int64, tokenHash, name string, rateLimitPerDay int, expiresAt *time.Time) (int64, error) {
	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC().Format(isoLayout)
	}
	res, err := s.db.Exec(`
		INSERT INTO api_tokens (user_id, token, name, rate_limit_per_day, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, tokenHash, name, rateLimitPerDay, nowISO(), expires)
	if err != nil {
		return 0, fmt.Errorf("failed to create token: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// TokenByHash looks up an active token whose owner is also active.
// Returns ErrNotFound when no such token exists.
func (s *Store) TokenByHash(tokenHash string) (*APIToken, error) {
	var t APIToken
	var createdAt, expiresAt, lastUsedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT t.id, t.user_id, u.username, t.name, t.rate_limit_per_day,
			t.created_at, t.expires_at, t.is_active, t.last_used_at
		FROM api_tokens t
		JOIN api_users u ON u.id = t.user_id
		WHERE t.token = ? AND t.is_active = 1 AND u.is_active = 1`, tokenHash).
		Scan(&t.ID, &t.UserID, &t.Username, &t.Name, &t.RateLimitPerDay,
			&createdAt, &expiresAt, &t.IsActive, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	t.CreatedAt = nullableTime(createdAt)
	t.ExpiresAt = nullableTime(expiresAt)
	t.LastUsedAt = nullableTime(lastUsedAt)
	return &t, nil
}

// IncrementTokenUsage bumps today's request counter for a token and
// stamps the token's last_used_at.
func (s *Store) IncrementTokenUsage(tokenID int64) error {
	now := nowISO()
	_, err := s.db.Exec(`
		INSERT INTO api_token_usage (token_id, date, request_count, last_request_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(token_id, date) DO UPDATE SET
			request_count = request_count + 1,
			last_request_at = ?`,
		tokenID, todayISO(), now, now)
	if err != nil {
		return fmt.Errorf("failed to increment token usage: %w", err)
	}

	if _, err := s.db.Exec(`UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, now, tokenID); err != nil {
		return fmt.Errorf("failed to update token last_used_at: %w", err)
	}
	return nil
}

// TokenUsageToday returns today's request count for a token.
func (s *Store) TokenUsageToday(tokenID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COALESCE(request_count, 0) FROM api_token_usage
		WHERE token_id = ? AND date = ?`, tokenID, todayISO()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read token usage: %w", err)
	}
	return count, nil
}

// Tokens lists tokens, optionally filtered to one user.
func (s *Store) Tokens(userID *int64) ([]APIToken, error) {
	query := `
		SELECT t.id, t.user_id, u.username, t.name, t.rate_limit_per_day,
			t.created_at, t.expires_at, t.is_active, t.last_used_at
		FROM api_tokens t
		JOIN api_users u ON u.id = t.user_id`
	var params []any
	if userID != nil {
		query += " WHERE t.user_id = ?"
		params = append(params, *userID)
	}
	query += " ORDER BY t.created_at DESC"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var out []APIToken
	for rows.Next() {
		var t APIToken
		var createdAt, expiresAt, lastUsedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Username, &t.Name, &t.RateLimitPerDay,
			&createdAt, &expiresAt, &t.IsActive, &lastUsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		t.CreatedAt = nullableTime(createdAt)
		t.ExpiresAt = nullableTime(expiresAt)
		t.LastUsedAt = nullableTime(lastUsedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RevokeToken deactivates a token.
func (s *Store) RevokeToken(tokenID int64) (bool, error) {
	res, err := s.db.Exec(`UPDATE api_tokens SET is_active = 0 WHERE id = ?`, tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TokenUsageHistory lists recent daily usage rows, newest first.
func (s *Store) TokenUsageHistory(tokenID *int64, limit int) ([]TokenUsage, error) {
	query := `
		SELECT u.token_id, t.name, u.date, u.request_count, u.last_request_at
		FROM api_token_usage u
		JOIN api_tokens t ON t.id = u.token_id`
	var params []any
	if tokenID != nil {
		query += " WHERE u.token_id = ?"
		params = append(params, *tokenID)
	}
	query += `
		ORDER BY u.date DESC
		LIMIT ?`
	params = append(params, limit)

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	defer rows.Close()

	var out []TokenUsage
	for rows.Next() {
		var u TokenUsage
		var last sql.NullString
		if err := rows.Scan(&u.TokenID, &u.TokenName, &u.Date, &u.RequestCount, &last); err != nil {
			return nil, fmt.Errorf("failed to scan token usage: %w", err)
		}
		u.LastRequestAt = nullableTime(last)
		out = append(out, u)
	}
	return out, rows.Err()
}
