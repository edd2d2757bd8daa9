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

// Package store persists search history, export jobs, query approvals,
// embedding models, votes, and API auth data in sqlite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// defaultModelColors is the palette cycled through when models are first
// registered.
var defaultModelColors = []string{
	"#3B82F6",
	"#10B981",
	"#F59E0B",
	"#EF4444",
	"#8B5CF6",
	"#06B6D4",
	"#F97316",
	"#84CC16",
	"#EC4899",
	"#6366F1",
}

func pickDefaultModelColor(index int) string {
	return defaultModelColors[index%len(defaultModelColors)]
}

const schema = `
CREATE TABLE IF NOT EXISTS search_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	took_ms REAL NOT NULL,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	collection TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	results_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_timestamp ON search_history(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_query ON search_history(query);

CREATE TABLE IF NOT EXISTS export_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'completed', 'failed')),
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME,
	duration_seconds REAL,
	sql_path TEXT NOT NULL,
	collection TEXT NOT NULL,
	batch_size INTEGER NOT NULL,
	max_length INTEGER NOT NULL,
	context_length INTEGER NOT NULL,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	ssl BOOLEAN NOT NULL DEFAULT 0,
	embedding_provider TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	reset BOOLEAN NOT NULL DEFAULT 0,
	total_records INTEGER,
	total_books INTEGER,
	total_segments INTEGER,
	total_documents_in_collection INTEGER,
	error_message TEXT,
	command_line_args TEXT
);
CREATE INDEX IF NOT EXISTS idx_export_jobs_started_at ON export_jobs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_export_jobs_status ON export_jobs(status);

CREATE TABLE IF NOT EXISTS query_approvals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'approved' CHECK(status IN ('approved', 'rejected', 'pending')),
	approved_at DATETIME,
	rejected_at DATETIME,
	notes TEXT,
	search_count INTEGER NOT NULL DEFAULT 0,
	last_searched_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_query_approvals_status ON query_approvals(status);
CREATE INDEX IF NOT EXISTS idx_query_approvals_search_count ON query_approvals(search_count DESC);
CREATE INDEX IF NOT EXISTS idx_query_approvals_last_searched ON query_approvals(last_searched_at DESC);

CREATE TABLE IF NOT EXISTS embedding_models (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	embedding_provider TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	collection TEXT NOT NULL,
	job_id INTEGER NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	color TEXT NOT NULL DEFAULT '#3B82F6',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_completed_job_at DATETIME,
	FOREIGN KEY(job_id) REFERENCES export_jobs(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_embedding_models_unique
	ON embedding_models(embedding_provider, embedding_model, collection);
CREATE INDEX IF NOT EXISTS idx_embedding_models_active ON embedding_models(is_active);

CREATE TABLE IF NOT EXISTS search_votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	guest_user_id TEXT NOT NULL,
	query TEXT NOT NULL,
	model_id INTEGER,
	result_id TEXT,
	vote_type TEXT NOT NULL CHECK(vote_type IN ('like', 'dislike')),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY(model_id) REFERENCES embedding_models(id)
);
CREATE INDEX IF NOT EXISTS idx_search_votes_guest_user ON search_votes(guest_user_id);
CREATE INDEX IF NOT EXISTS idx_search_votes_query ON search_votes(query);
CREATE UNIQUE INDEX IF NOT EXISTS idx_search_votes_unique
	ON search_votes(guest_user_id, query, COALESCE(model_id, -1), COALESCE(result_id, ''));

CREATE TABLE IF NOT EXISTS api_users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	is_active BOOLEAN NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_api_users_username ON api_users(username);

CREATE TABLE IF NOT EXISTS api_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	token TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	rate_limit_per_day INTEGER NOT NULL DEFAULT 1000,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	last_used_at DATETIME,
	FOREIGN KEY (user_id) REFERENCES api_users(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_api_tokens_token ON api_tokens(token);
CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id);

CREATE TABLE IF NOT EXISTS api_token_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token_id INTEGER NOT NULL,
	date DATE NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_request_at DATETIME,
	FOREIGN KEY (token_id) REFERENCES api_tokens(id) ON DELETE CASCADE,
	UNIQUE(token_id, date)
);
CREATE INDEX IF NOT EXISTS idx_api_token_usage_token_date ON api_token_usage(token_id, date DESC);
`

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
// The schema uses IF NOT EXISTS throughout, so Open is idempotent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite handles one writer at a time; serializing through a single
	// connection avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA encoding='UTF-8'"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set encoding: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// isoLayout is fixed-width so stored timestamps sort correctly as text.
const isoLayout = "2006-01-02T15:04:05.000000Z07:00"

// timestamps are stored as UTC ISO-8601 strings.
func nowISO() string {
	return time.Now().UTC().Format(isoLayout)
}

func todayISO() string {
	return time.Now().UTC().Format("2006-01-02")
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts the timestamp formats found in the database: the ISO
// strings written by this package and sqlite's CURRENT_TIMESTAMP default.
func parseTime(value string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func nullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if t, ok := parseTime(ns.String); ok {
		return &t
	}
	return nil
}
