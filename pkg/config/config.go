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

// Package config holds the environment-driven settings for the search
// service and the export pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Providers the embedding factory understands.
const (
	ProviderOpenAI      = "openai"
	ProviderHuggingFace = "huggingface"
	ProviderGemini      = "gemini"
	ProviderNone        = "none"
)

// ValidProviders returns the authoritative provider set.
func ValidProviders() []string {
	return []string{ProviderOpenAI, ProviderHuggingFace, ProviderGemini, ProviderNone}
}

// IsValidProvider reports whether name is a known embedding provider.
func IsValidProvider(name string) bool {
	switch name {
	case ProviderOpenAI, ProviderHuggingFace, ProviderGemini, ProviderNone:
		return true
	}
	return false
}

// AppConfig holds the HTTP server settings.
type AppConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	LogLevel string
}

// ChromaConfig holds the vector store connection settings. When PersistDir
// is set the service uses an embedded local store instead of a remote
// Chroma server.
type ChromaConfig struct {
	Host       string
	Port       int `validate:"min=1,max=65535"`
	SSL        bool
	CACert     string
	APIKey     string
	Collection string `validate:"required"`
	PersistDir string
	Telemetry  bool
}

// EmbeddingConfig selects the default embedding backend.
type EmbeddingConfig struct {
	Provider string `validate:"required"`
	Model    string `validate:"required"`
	Device   string

	OpenAIAPIKey string
	GeminiAPIKey string
	HFEndpoint   string
}

// RedisConfig holds the cache connection settings. URL wins over the
// individual fields when both are present.
type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	DB       int
	Password string
}

// DSN returns the redis connection string, deriving one from the
// individual fields when no explicit URL is configured.
func (c *RedisConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", c.Password, c.Host, c.Port, c.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", c.Host, c.Port, c.DB)
}

// SearchConfig holds result-shaping knobs.
type SearchConfig struct {
	EnableTotalDocuments   bool
	EnableEstimatedResults bool
	EnablePagination       bool
	MaxEstimatedResults    int `validate:"min=1"`

	ShowApprovedQueries     bool
	ApprovedQueriesMinCount int
	ApprovedQueriesLimit    int

	DefaultUseCache bool
	CacheTTLSeconds int
}

// AuthConfig holds API token auth settings.
type AuthConfig struct {
	Enabled             bool
	DefaultRateLimitDay int
}

// Config is the root settings object.
type Config struct {
	App       AppConfig
	Chroma    ChromaConfig
	Embedding EmbeddingConfig
	Redis     RedisConfig
	Search    SearchConfig
	Auth      AuthConfig

	DatabasePath string `validate:"required"`
}

// Load builds a Config from the environment, after loading .env files.
func Load() (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults populates the config from environment variables, applying
// documented defaults for everything unset.
func (c *Config) SetDefaults() {
	c.App = AppConfig{
		Host:     getEnv("APP_HOST", "0.0.0.0"),
		Port:     getEnvInt("APP_PORT", 8000),
		LogLevel: getEnv("APP_LOG_LEVEL", "info"),
	}
	c.Chroma = ChromaConfig{
		Host:       getEnv("CHROMA_HOST", "localhost"),
		Port:       getEnvInt("CHROMA_PORT", 8000),
		SSL:        getEnvBool("CHROMA_SSL", false),
		CACert:     os.Getenv("CHROMA_CA_CERT"),
		APIKey:     os.Getenv("CHROMA_API_KEY"),
		Collection: getEnv("CHROMA_COLLECTION", "book_pages"),
		PersistDir: os.Getenv("CHROMA_PERSIST_DIR"),
		Telemetry:  getEnvBool("ANONYMIZED_TELEMETRY", false),
	}
	c.Embedding = EmbeddingConfig{
		Provider:     getEnv("EMBEDDING_PROVIDER", ProviderOpenAI),
		Model:        getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		Device:       os.Getenv("EMBEDDING_DEVICE"),
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		HFEndpoint:   os.Getenv("HF_ENDPOINT"),
	}
	c.Redis = RedisConfig{
		URL:      expandEnvVars(os.Getenv("REDIS_URL")),
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnvInt("REDIS_PORT", 6379),
		DB:       getEnvInt("REDIS_DB", 0),
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	c.Search = SearchConfig{
		EnableTotalDocuments:    getEnvBool("ENABLE_TOTAL_DOCUMENTS", true),
		EnableEstimatedResults:  getEnvBool("ENABLE_ESTIMATED_RESULTS", true),
		EnablePagination:        getEnvBool("ENABLE_PAGINATION", true),
		MaxEstimatedResults:     getEnvInt("MAX_ESTIMATED_RESULTS", 1000),
		ShowApprovedQueries:     getEnvBool("SHOW_APPROVED_QUERIES", true),
		ApprovedQueriesMinCount: getEnvInt("APPROVED_QUERIES_MIN_COUNT", 4),
		ApprovedQueriesLimit:    getEnvInt("APPROVED_QUERIES_LIMIT", 10),
		DefaultUseCache:         getEnvBool("DEFAULT_USE_CACHE", true),
		CacheTTLSeconds:         getEnvInt("SEARCH_CACHE_TTL", 3600),
	}
	c.Auth = AuthConfig{
		Enabled:             getEnvBool("ENABLE_API_AUTH", false),
		DefaultRateLimitDay: getEnvInt("DEFAULT_RATE_LIMIT_PER_DAY", 1000),
	}
	c.DatabasePath = getEnv("DATABASE_PATH", "search_history.db")
}

// Validate checks the config, returning the first problem found.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if !IsValidProvider(c.Embedding.Provider) {
		return fmt.Errorf("unknown embedding provider %q (valid: %s)",
			c.Embedding.Provider, strings.Join(ValidProviders(), ", "))
	}
	return nil
}

// APIKeyFor returns the configured API key for a provider, falling back
// to the provider's conventional environment variable.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case ProviderOpenAI:
		if c.Embedding.OpenAIAPIKey != "" {
			return c.Embedding.OpenAIAPIKey
		}
	case ProviderGemini:
		if c.Embedding.GeminiAPIKey != "" {
			return c.Embedding.GeminiAPIKey
		}
	}
	return GetProviderAPIKey(provider)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
