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

package tools

import (
	"context"
	"fmt"

	"github.com/maestroworks/maestro/pkg/embedders"
	"github.com/maestroworks/maestro/pkg/vector"
)

// SemanticItem is one ranked retrieval hit.
type SemanticItem struct {
	Content string            `json:"content"`
	Score   float32           `json:"score"`
	Source  map[string]string `json:"source_metadata,omitempty"`
}

// SemanticPayload carries the ranked hits plus index provenance.
type SemanticPayload struct {
	Items      []SemanticItem `json:"items"`
	Collection string         `json:"collection,omitempty"`
	Provider   string         `json:"provider,omitempty"`
}

// SemanticConfig wires the semantic_search tool.
type SemanticConfig struct {
	Collection string `yaml:"collection" json:"collection"`
	TopK       int    `yaml:"top_k" json:"top_k"`
}

func (c *SemanticConfig) SetDefaults() {
	if c.Collection == "" {
		c.Collection = "conversations"
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
}

// SemanticSearchTool embeds the query and ranks stored content by cosine
// similarity.
type SemanticSearchTool struct {
	provider vector.Provider
	embedder embedders.Embedder
	config   SemanticConfig
}

func NewSemanticSearchTool(provider vector.Provider, embedder embedders.Embedder, cfg SemanticConfig) *SemanticSearchTool {
	cfg.SetDefaults()
	return &SemanticSearchTool{
		provider: provider,
		embedder: embedder,
		config:   cfg,
	}
}

func (t *SemanticSearchTool) Info() Info {
	return Info{
		Name:        IDSemanticSearch,
		Description: "Search indexed team knowledge (past discussions, decisions, docs) by meaning.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Natural-language search query", Required: true},
			{Name: "top_k", Type: "number", Description: "How many results to return (default 5)", Required: false},
		},
	}
}

func (t *SemanticSearchTool) Execute(ctx context.Context, args map[string]any) Result {
	query := stringArg(args, "query")
	if query == "" {
		return failure(IDSemanticSearch, args, fmt.Errorf("query is required"))
	}
	topK := intArg(args, "top_k", t.config.TopK)

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return failure(IDSemanticSearch, args, fmt.Errorf("failed to embed query: %w", err))
	}

	hits, err := t.provider.Search(ctx, t.config.Collection, vec, topK)
	if err != nil {
		return failure(IDSemanticSearch, args, fmt.Errorf("index unavailable: %w", err))
	}

	payload := SemanticPayload{
		Collection: t.config.Collection,
		Provider:   t.provider.Name(),
	}
	for _, hit := range hits {
		payload.Items = append(payload.Items, SemanticItem{
			Content: hit.Content,
			Score:   hit.Score,
			Source:  hit.Metadata,
		})
	}

	// An empty list with no per-item metadata carries nothing usable.
	result := Result{
		ToolID:  IDSemanticSearch,
		Input:   args,
		Success: len(payload.Items) > 0,
		Payload: payload,
	}
	if !result.Success {
		result.Error = "no matching content in the index"
	}
	return result
}
