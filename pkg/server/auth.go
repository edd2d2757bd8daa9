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

package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/ganj/pkg/store"
)

// publicPrefixes bypass token auth. The admin surface is expected to sit
// behind a separate network boundary.
var publicPrefixes = []string{
	"/health",
	"/metrics",
	"/approved-queries",
	"/admin",
	"/static",
	"/docs",
	"/redoc",
	"/openapi.json",
}

func isPublicPath(path string) bool {
	if path == "/" {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// requireToken enforces bearer-token auth with a per-token daily quota.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			w.Header().Set("WWW-Authenticate", "Bearer")
			respondError(w, http.StatusUnauthorized, "توکن دسترسی الزامی است.")
			return
		}

		digest := sha256.Sum256([]byte(strings.TrimPrefix(header, "Bearer ")))
		token, err := s.db.TokenByHash(hex.EncodeToString(digest[:]))
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusUnauthorized, "توکن نامعتبر است.")
			return
		}
		if err != nil {
			slog.Error("Token lookup failed", "error", err)
			respondError(w, http.StatusInternalServerError, "خطای داخلی سرور")
			return
		}
		if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now().UTC()) {
			respondError(w, http.StatusUnauthorized, "توکن منقضی شده است.")
			return
		}

		used, err := s.db.TokenUsageToday(token.ID)
		if err != nil {
			slog.Warn("Failed to read token usage, allowing request", "token_id", token.ID, "error", err)
		}
		limit := token.RateLimitPerDay
		if limit <= 0 {
			limit = s.cfg.Auth.DefaultRateLimitDay
		}
		if used >= limit {
			w.Header().Set("Retry-After", "86400")
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", "0")
			respondError(w, http.StatusTooManyRequests, "سقف درخواست روزانه شما به پایان رسیده است.")
			return
		}

		if err := s.db.IncrementTokenUsage(token.ID); err != nil {
			slog.Warn("Failed to record token usage", "token_id", token.ID, "error", err)
		}

		remaining := limit - used - 1
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(nextUTCMidnight().Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

func nextUTCMidnight() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
