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

// Package cache wraps redis for search result caching. A failed or absent
// cache never fails a search; callers log and continue.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is not in the cache.
var ErrMiss = errors.New("cache miss")

// Cache stores serialized search results in redis.
type Cache struct {
	client *redis.Client
}

// New connects to redis using a DSN like redis://[:pass@]host:port/db.
func New(dsn string) (*Cache, error) {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid redis DSN: %w", err)
	}
	return &Cache{client: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetJSON loads a key and unmarshals it into out. Returns ErrMiss when
// the key is absent.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cache entry for %q is corrupt: %w", key, err)
	}
	return nil
}

// SetJSON marshals value and stores it under key with a TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Close releases the connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// TryGetJSON is GetJSON with miss/error folded into a boolean, logging
// unexpected errors. Cache trouble must never surface to searches.
func TryGetJSON(ctx context.Context, c *Cache, key string, out any) bool {
	if c == nil {
		return false
	}
	err := c.GetJSON(ctx, key, out)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrMiss) {
		slog.Warn("Cache read failed", "key", key, "error", err)
	}
	return false
}

// TrySetJSON is SetJSON that only logs failures.
func TrySetJSON(ctx context.Context, c *Cache, key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	if err := c.SetJSON(ctx, key, value, ttl); err != nil {
		slog.Warn("Cache write failed", "key", key, "error", err)
	}
}
