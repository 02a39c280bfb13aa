// Copyright 2026 Maestro Works
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

// Package embedders produces the vector embeddings behind semantic search.
// Only the OpenAI-compatible HTTP surface is implemented, which also covers
// self-hosted inference servers that speak the same API.
package embedders

import (
	"context"
	"fmt"
)

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Close() error
}

type Config struct {
	// Host is the API base URL. Defaults to the OpenAI endpoint.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// APIKey authenticates the request. Optional for local servers.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Model is the embedding model name.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Dimension of the produced vectors. Defaulted per known model.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty"`

	// Timeout in seconds for one embedding call.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		switch c.Model {
		case "text-embedding-3-large":
			c.Dimension = 3072
		case "text-embedding-ada-002", "text-embedding-3-small":
			c.Dimension = 1536
		default:
			c.Dimension = 1536
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// New builds the configured embedder.
func New(cfg Config) (Embedder, error) {
	cfg.SetDefaults()
	e, err := NewOpenAIEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return e, nil
}
