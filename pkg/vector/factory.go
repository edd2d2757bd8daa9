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

package vector

import (
	"fmt"
)

// BackendType identifies a vector store implementation.
type BackendType string

const (
	// BackendChromem uses chromem-go for embedded storage. Zero-config,
	// no external services.
	BackendChromem BackendType = "chromem"

	// BackendChroma talks to a remote Chroma server over HTTP.
	BackendChroma BackendType = "chroma"
)

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Type    BackendType
	Chroma  *ChromaConfig
	Chromem *ChromemConfig
}

// SetDefaults applies default values.
func (c *StoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = BackendChromem
	}
	if c.Type == BackendChromem && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

// Validate checks the configuration.
func (c *StoreConfig) Validate() error {
	switch c.Type {
	case BackendChromem:
		return nil
	case BackendChroma:
		if c.Chroma == nil {
			return fmt.Errorf("chroma configuration is required")
		}
		if c.Chroma.Host == "" {
			return fmt.Errorf("chroma host is required")
		}
		return nil
	case "":
		return fmt.Errorf("backend type is required")
	default:
		return fmt.Errorf("unknown backend type: %q", c.Type)
	}
}

// NewStore creates a vector store from configuration.
func NewStore(cfg *StoreConfig) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store configuration is required")
	}

	switch cfg.Type {
	case BackendChromem:
		chromemCfg := ChromemConfig{}
		if cfg.Chromem != nil {
			chromemCfg = *cfg.Chromem
		}
		return NewChromemStore(chromemCfg)

	case BackendChroma:
		if cfg.Chroma == nil {
			return nil, fmt.Errorf("chroma configuration is required")
		}
		return NewChromaStore(*cfg.Chroma)

	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}
