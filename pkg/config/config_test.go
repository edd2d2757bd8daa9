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

package config

import (
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.App.Port != 8000 {
		t.Errorf("App.Port = %d, want 8000", cfg.App.Port)
	}
	if cfg.Chroma.Collection != "book_pages" {
		t.Errorf("Chroma.Collection = %q, want book_pages", cfg.Chroma.Collection)
	}
	if cfg.Embedding.Provider != ProviderOpenAI {
		t.Errorf("Embedding.Provider = %q, want openai", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding.Model = %q", cfg.Embedding.Model)
	}
	if cfg.Search.MaxEstimatedResults != 1000 {
		t.Errorf("MaxEstimatedResults = %d, want 1000", cfg.Search.MaxEstimatedResults)
	}
	if !cfg.Search.DefaultUseCache {
		t.Error("DefaultUseCache should default to true")
	}
	if cfg.Search.CacheTTLSeconds != 3600 {
		t.Errorf("CacheTTLSeconds = %d, want 3600", cfg.Search.CacheTTLSeconds)
	}
	if cfg.Auth.Enabled {
		t.Error("Auth should default to disabled")
	}
	if cfg.Auth.DefaultRateLimitDay != 1000 {
		t.Errorf("DefaultRateLimitDay = %d, want 1000", cfg.Auth.DefaultRateLimitDay)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Embedding.Provider = "cohere"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestValidateAcceptsAllProviders(t *testing.T) {
	for _, p := range ValidProviders() {
		cfg := &Config{}
		cfg.SetDefaults()
		cfg.Embedding.Provider = p
		if err := cfg.Validate(); err != nil {
			t.Errorf("provider %q should validate: %v", p, err)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9001")
	t.Setenv("ENABLE_PAGINATION", "false")
	t.Setenv("CHROMA_SSL", "true")

	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.App.Port != 9001 {
		t.Errorf("App.Port = %d, want 9001", cfg.App.Port)
	}
	if cfg.Search.EnablePagination {
		t.Error("EnablePagination should be false")
	}
	if !cfg.Chroma.SSL {
		t.Error("Chroma.SSL should be true")
	}
}

func TestRedisDSN(t *testing.T) {
	c := RedisConfig{Host: "cache.local", Port: 6380, DB: 2}
	if got := c.DSN(); got != "redis://cache.local:6380/2" {
		t.Errorf("DSN() = %q", got)
	}

	c.Password = "secret"
	if got := c.DSN(); got != "redis://:secret@cache.local:6380/2" {
		t.Errorf("DSN() with password = %q", got)
	}

	c.URL = "redis://explicit:6379/0"
	if got := c.DSN(); got != "redis://explicit:6379/0" {
		t.Errorf("DSN() with URL = %q", got)
	}
}

func TestLogLevelFallback(t *testing.T) {
	t.Setenv("APP_LOG_LEVEL", "shouting")
	cfg := &Config{}
	cfg.SetDefaults()
	// Unknown levels are preserved here and resolved to INFO by the logger.
	if cfg.App.LogLevel != "shouting" {
		t.Errorf("LogLevel = %q", cfg.App.LogLevel)
	}
}
