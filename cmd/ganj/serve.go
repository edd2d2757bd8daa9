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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kadirpekel/ganj/pkg/cache"
	"github.com/kadirpekel/ganj/pkg/config"
	"github.com/kadirpekel/ganj/pkg/embedder"
	"github.com/kadirpekel/ganj/pkg/search"
	"github.com/kadirpekel/ganj/pkg/server"
	"github.com/kadirpekel/ganj/pkg/store"
	"github.com/kadirpekel/ganj/pkg/vector"
)

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Host    string `help:"Bind address (overrides APP_HOST)."`
	Port    int    `help:"Port to listen on (overrides APP_PORT)."`
	NoCache bool   `name:"no-cache" help:"Disable the redis result cache."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.App.Host = c.Host
	}
	if c.Port != 0 {
		cfg.App.Port = c.Port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	vectors, err := openVectorStore(cfg)
	if err != nil {
		return err
	}
	defer vectors.Close()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	var resultCache *cache.Cache
	if !c.NoCache {
		resultCache, err = cache.New(cfg.Redis.DSN())
		if err != nil {
			slog.Warn("Redis disabled", "error", err)
			resultCache = nil
		} else {
			defer resultCache.Close()
		}
	}

	defaultEmbedder, err := embedder.ForModel(embedder.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		APIKey:   cfg.APIKeyFor(cfg.Embedding.Provider),
		Endpoint: cfg.Embedding.HFEndpoint,
	})
	if err != nil {
		return err
	}
	defer defaultEmbedder.Close()

	svc := search.New(cfg, vectors, resultCache, db, defaultEmbedder)
	srv := server.New(cfg, svc, vectors, resultCache, db)

	if err := srv.Validate(ctx); err != nil {
		return err
	}

	slog.Info("Starting search service",
		"collection", cfg.Chroma.Collection,
		"provider", cfg.Embedding.Provider,
		"model", cfg.Embedding.Model,
		"backend", vectors.Name())
	return srv.Run(ctx)
}

// openVectorStore picks the embedded store when a persist directory is
// configured, the remote Chroma server otherwise.
func openVectorStore(cfg *config.Config) (vector.Store, error) {
	storeCfg := &vector.StoreConfig{}
	if cfg.Chroma.PersistDir != "" {
		storeCfg.Type = vector.BackendChromem
		storeCfg.Chromem = &vector.ChromemConfig{PersistPath: cfg.Chroma.PersistDir}
	} else {
		storeCfg.Type = vector.BackendChroma
		storeCfg.Chroma = &vector.ChromaConfig{
			Host:   cfg.Chroma.Host,
			Port:   cfg.Chroma.Port,
			APIKey: cfg.Chroma.APIKey,
			UseTLS: cfg.Chroma.SSL,
			CACert: cfg.Chroma.CACert,
		}
	}
	if err := storeCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vector store configuration: %w", err)
	}
	return vector.NewStore(storeCfg)
}
