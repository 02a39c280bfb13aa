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

// Package vector abstracts the vector stores behind semantic search: an
// embedded chromem database for zero-config deployments and Qdrant for
// remote ones.
package vector

import (
	"context"
	"fmt"
)

// Result is one similarity hit.
type Result struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Provider is the closed contract both stores implement.
type Provider interface {
	Name() string

	// Upsert adds or replaces a document with a pre-computed embedding.
	Upsert(ctx context.Context, collection, id string, vec []float32, content string, metadata map[string]string) error

	// Search returns the topK most similar documents, best first.
	Search(ctx context.Context, collection string, vec []float32, topK int) ([]Result, error)

	Close() error
}

type ProviderType string

const (
	ProviderChromem ProviderType = "chromem"
	ProviderQdrant  ProviderType = "qdrant"
)

type ProviderConfig struct {
	Type    ProviderType   `yaml:"type" json:"type"`
	Chromem *ChromemConfig `yaml:"chromem,omitempty" json:"chromem,omitempty"`
	Qdrant  *QdrantConfig  `yaml:"qdrant,omitempty" json:"qdrant,omitempty"`
}

func (c *ProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderChromem
	}
	if c.Type == ProviderChromem && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderChromem:
		return nil
	case ProviderQdrant:
		if c.Qdrant == nil || c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown vector provider type: %q", c.Type)
	}
}

// NewProvider builds the configured provider.
func NewProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		cfg = &ProviderConfig{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case ProviderChromem:
		return NewChromemProvider(*cfg.Chromem)
	case ProviderQdrant:
		return NewQdrantProvider(*cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unknown vector provider type: %q", cfg.Type)
	}
}
