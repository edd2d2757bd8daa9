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
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveSearchAndHistory(t *testing.T) {
	s := newTestStore(t)

	results := []map[string]any{{"document_id": "b1-p1-0-0-abc", "score": 0.9}}
	id, err := s.SaveSearch("نماز جماعت", 1, 12.5, "book_pages", "openai", "text-embedding-3-small", results)
	if err != nil {
		t.Fatalf("SaveSearch: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	records, total, err := s.SearchHistory(10, 0)
	if err != nil {
		t.Fatalf("SearchHistory: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("total = %d, len = %d", total, len(records))
	}
	if records[0].Query != "نماز جماعت" || records[0].Results != nil {
		t.Errorf("unexpected record: %+v", records[0])
	}

	full, err := s.SearchByID(id)
	if err != nil {
		t.Fatalf("SearchByID: %v", err)
	}
	if len(full.Results) == 0 {
		t.Error("expected stored results json")
	}

	if _, err := s.SearchByID(9999); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTopQueriesAggregation(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.SaveSearch("popular", 5, 1, "c", "openai", "m", nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.SaveSearch("rare", 5, 1, "c", "openai", "m", nil); err != nil {
		t.Fatal(err)
	}

	top, err := s.TopQueries(10, 2)
	if err != nil {
		t.Fatalf("TopQueries: %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("expected 1 top query, got %d", len(top))
	}
	if top[0].Query != "popular" || top[0].SearchCount != 3 {
		t.Errorf("unexpected top query: %+v", top[0])
	}
}

func TestExportJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	params := ExportJobParams{
		SQLPath:           "dump.sql",
		Collection:        "book_pages",
		BatchSize:         48,
		MaxLength:         2000,
		ContextLength:     200,
		Host:              "localhost",
		Port:              8000,
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		HasAPIKey:         true,
	}
	id, err := s.CreateExportJob(params)
	if err != nil {
		t.Fatalf("CreateExportJob: %v", err)
	}

	job, err := s.ExportJobByID(id)
	if err != nil {
		t.Fatalf("ExportJobByID: %v", err)
	}
	if job.Status != JobRunning {
		t.Errorf("status = %q", job.Status)
	}
	if job.CommandLineArgs == nil || !strings.Contains(*job.CommandLineArgs, `"openai_api_key":"***"`) {
		t.Errorf("api key not masked in args: %v", job.CommandLineArgs)
	}

	records := int64(120)
	if err := s.UpdateExportJob(id, JobCompleted, ExportJobUpdate{TotalRecords: &records}); err != nil {
		t.Fatalf("UpdateExportJob: %v", err)
	}

	job, err = s.ExportJobByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != JobCompleted || job.CompletedAt == nil || job.DurationSeconds == nil {
		t.Errorf("terminal fields not set: %+v", job)
	}
	if job.TotalRecords == nil || *job.TotalRecords != 120 {
		t.Errorf("total_records = %v", job.TotalRecords)
	}

	if err := s.UpdateExportJob(id, "bogus", ExportJobUpdate{}); err == nil {
		t.Error("expected error for invalid status")
	}

	if err := s.DeleteExportJob(id); err != nil {
		t.Fatalf("DeleteExportJob: %v", err)
	}
	if err := s.DeleteExportJob(id); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestCompletedModelJobs(t *testing.T) {
	s := newTestStore(t)

	// Two completed runs of the same model; only the newer should be kept.
	params := ExportJobParams{Collection: "c", EmbeddingProvider: "openai", EmbeddingModel: "m1"}
	first, _ := s.CreateExportJob(params)
	_ = s.UpdateExportJob(first, JobCompleted, ExportJobUpdate{})
	time.Sleep(5 * time.Millisecond)
	second, _ := s.CreateExportJob(params)
	_ = s.UpdateExportJob(second, JobCompleted, ExportJobUpdate{})

	// A failed job of another model must not appear.
	failed, _ := s.CreateExportJob(ExportJobParams{Collection: "c", EmbeddingProvider: "openai", EmbeddingModel: "m2"})
	_ = s.UpdateExportJob(failed, JobFailed, ExportJobUpdate{})

	jobs, err := s.LatestCompletedModelJobs(10)
	if err != nil {
		t.Fatalf("LatestCompletedModelJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].JobID != second {
		t.Errorf("expected job %d, got %d", second, jobs[0].JobID)
	}
}

func TestQueryApprovalFlow(t *testing.T) {
	s := newTestStore(t)

	// Searches auto-approve and count up.
	for i := 0; i < 5; i++ {
		if _, err := s.SaveSearch("q1", 1, 1, "c", "p", "m", nil); err != nil {
			t.Fatal(err)
		}
	}

	approved, err := s.ApprovedQueries(10, 4)
	if err != nil {
		t.Fatalf("ApprovedQueries: %v", err)
	}
	if len(approved) != 1 || approved[0].SearchCount != 5 {
		t.Fatalf("unexpected approvals: %+v", approved)
	}

	notes := "spam"
	if err := s.RejectQuery("q1", &notes); err != nil {
		t.Fatalf("RejectQuery: %v", err)
	}
	approved, _ = s.ApprovedQueries(10, 0)
	if len(approved) != 0 {
		t.Error("rejected query still listed as approved")
	}

	// Re-approving with nil notes must keep the existing notes.
	if err := s.ApproveQuery("q1", nil); err != nil {
		t.Fatalf("ApproveQuery: %v", err)
	}
	all, err := s.QueryApprovals(10, 0, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Status != ApprovalApproved {
		t.Fatalf("unexpected state: %+v", all)
	}
	if all[0].Notes == nil || *all[0].Notes != "spam" {
		t.Errorf("notes not preserved: %v", all[0].Notes)
	}
	if all[0].RejectedAt != nil {
		t.Error("rejected_at should be cleared on approval")
	}

	stats, err := s.QueryStatsSummary()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalQueries != 1 || stats.Approved != 1 || stats.TotalSearches != 5 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	ok, err := s.DeleteQuery("q1")
	if err != nil || !ok {
		t.Fatalf("DeleteQuery: ok=%v err=%v", ok, err)
	}
	ok, _ = s.DeleteQuery("q1")
	if ok {
		t.Error("second delete should report not found")
	}
}

func TestEmbeddingModelSync(t *testing.T) {
	s := newTestStore(t)

	for _, model := range []string{"m1", "m2"} {
		id, _ := s.CreateExportJob(ExportJobParams{Collection: "c", EmbeddingProvider: "openai", EmbeddingModel: model})
		if err := s.UpdateExportJob(id, JobCompleted, ExportJobUpdate{}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	models, err := s.EmbeddingModels(50, false, true)
	if err != nil {
		t.Fatalf("EmbeddingModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	for _, m := range models {
		if !m.IsActive {
			t.Errorf("model %s should start active", m.EmbeddingModel)
		}
		if m.Color == "" {
			t.Errorf("model %s missing color", m.EmbeddingModel)
		}
	}
	if models[0].Color == models[1].Color {
		t.Error("palette should differ across newly synced models")
	}

	// Re-sync is idempotent and keeps manual changes.
	target := models[0]
	if ok, err := s.SetEmbeddingModelActive(target.ID, false); err != nil || !ok {
		t.Fatalf("SetEmbeddingModelActive: ok=%v err=%v", ok, err)
	}
	if ok, err := s.UpdateEmbeddingModelColor(target.ID, "#000000"); err != nil || !ok {
		t.Fatalf("UpdateEmbeddingModelColor: ok=%v err=%v", ok, err)
	}

	models, err = s.EmbeddingModels(50, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("re-sync duplicated models: %d", len(models))
	}
	m, err := s.EmbeddingModelByID(target.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsActive || m.Color != "#000000" {
		t.Errorf("manual changes lost on re-sync: %+v", m)
	}

	active, err := s.EmbeddingModels(50, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 {
		t.Errorf("expected 1 active model, got %d", len(active))
	}

	byIDs, err := s.EmbeddingModelsByIDs([]int64{models[0].ID, models[1].ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(byIDs) != 2 {
		t.Errorf("expected 2 models by id, got %d", len(byIDs))
	}

	if _, err := s.EmbeddingModelByID(9999); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveVoteLatestWins(t *testing.T) {
	s := newTestStore(t)

	resultID := "b1-p1-0-0-abc"
	if _, err := s.SaveVote("guest-1", "q", nil, &resultID, VoteLike); err != nil {
		t.Fatalf("SaveVote: %v", err)
	}
	if _, err := s.SaveVote("guest-1", "q", nil, &resultID, VoteDislike); err != nil {
		t.Fatalf("SaveVote replace: %v", err)
	}

	votes, err := s.Votes(10, "q", nil)
	if err != nil {
		t.Fatalf("Votes: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("expected replacement, got %d votes", len(votes))
	}
	if votes[0].VoteType != VoteDislike {
		t.Errorf("vote_type = %q", votes[0].VoteType)
	}

	// A different guest votes independently.
	if _, err := s.SaveVote("guest-2", "q", nil, &resultID, VoteLike); err != nil {
		t.Fatal(err)
	}

	stats, err := s.VoteStatsFor("q", nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Likes != 1 || stats.Dislikes != 1 {
		t.Errorf("stats = %+v", stats)
	}

	summary, err := s.VoteSummary(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary) != 1 || summary[0].Likes != 1 || summary[0].Dislikes != 1 {
		t.Errorf("summary = %+v", summary)
	}

	if _, err := s.SaveVote("guest-1", "q", nil, &resultID, "meh"); err == nil {
		t.Error("expected error for invalid vote type")
	}
}

func TestTokenAuthAndUsage(t *testing.T) {
	s := newTestStore(t)

	email := "u@example.com"
	userID, err := s.CreateUser("u1", &email)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	hash := "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	tokenID, err := s.CreateToken(userID, hash, "ci", 100, nil)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	tok, err := s.TokenByHash(hash)
	if err != nil {
		t.Fatalf("TokenByHash: %v", err)
	}
	if tok.ID != tokenID || tok.Username != "u1" || tok.RateLimitPerDay != 100 {
		t.Errorf("unexpected token: %+v", tok)
	}

	if _, err := s.TokenByHash("unknown"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// Usage upserts on the (token, day) pair.
	for i := 0; i < 3; i++ {
		if err := s.IncrementTokenUsage(tokenID); err != nil {
			t.Fatalf("IncrementTokenUsage: %v", err)
		}
	}
	count, err := s.TokenUsageToday(tokenID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("usage = %d, want 3", count)
	}

	usage, err := s.TokenUsageHistory(&tokenID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(usage) != 1 || usage[0].RequestCount != 3 {
		t.Errorf("usage history = %+v", usage)
	}

	tokens, err := s.Tokens(&userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 1 || tokens[0].LastUsedAt == nil {
		t.Errorf("tokens = %+v", tokens)
	}

	// Revoked tokens stop resolving.
	if ok, err := s.RevokeToken(tokenID); err != nil || !ok {
		t.Fatalf("RevokeToken: ok=%v err=%v", ok, err)
	}
	if _, err := s.TokenByHash(hash); err != ErrNotFound {
		t.Errorf("revoked token still resolves: %v", err)
	}

	users, err := s.Users()
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Email == nil || *users[0].Email != email {
		t.Errorf("users = %+v", users)
	}
}
