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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/maestroworks/maestro/pkg/httpclient"
)

// WebUsage is the token accounting the answer API reports.
type WebUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// WebPayload is the synthesized web answer plus its citations.
type WebPayload struct {
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	Usage     WebUsage   `json:"usage"`
}

// WebConfig wires the web_search tool to an answer-style search API
// (Perplexity-compatible chat surface).
type WebConfig struct {
	Host      string `yaml:"host" json:"host"`
	APIKey    string `yaml:"api_key" json:"api_key"`
	Model     string `yaml:"model,omitempty" json:"model,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Timeout   int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *WebConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "https://api.perplexity.ai"
	}
	if c.Model == "" {
		c.Model = "sonar"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

type webSearchRequest struct {
	Model               string          `json:"model"`
	Messages            []webSearchMsg  `json:"messages"`
	MaxTokens           int             `json:"max_tokens,omitempty"`
	SearchRecency       string          `json:"search_recency_filter,omitempty"`
	SearchDomainFilter  []string        `json:"search_domain_filter,omitempty"`
	WebSearchOptions    *map[string]any `json:"web_search_options,omitempty"`
	ReturnSearchResults bool            `json:"return_search_results,omitempty"`
}

type webSearchMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type webSearchResponse struct {
	Choices []struct {
		Message webSearchMsg `json:"message"`
	} `json:"choices"`
	SearchResults []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet,omitempty"`
		Date    string `json:"date,omitempty"`
	} `json:"search_results,omitempty"`
	Citations []string `json:"citations,omitempty"`
	Usage     WebUsage `json:"usage"`
	Error     *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// WebSearchTool answers current-events queries through an external search
// API. Queries are idempotent reads, so transport retries are safe.
type WebSearchTool struct {
	config     WebConfig
	httpClient *httpclient.Client
}

func NewWebSearchTool(cfg WebConfig) *WebSearchTool {
	cfg.SetDefaults()
	return &WebSearchTool{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
}

func (t *WebSearchTool) Info() Info {
	return Info{
		Name:        IDWebSearch,
		Description: "Search the live web for current events, news, and external facts with citations.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "What to search for", Required: true},
			{Name: "max_tokens", Type: "number", Description: "Answer length budget", Required: false},
			{Name: "recency", Type: "string", Description: "Restrict results by age", Required: false,
				Enum: []string{"day", "week", "month", "year"}},
			{Name: "domains", Type: "array", Description: "Restrict results to these domains", Required: false},
		},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) Result {
	query := stringArg(args, "query")
	if query == "" {
		return failure(IDWebSearch, args, fmt.Errorf("query is required"))
	}

	reqBody, err := json.Marshal(webSearchRequest{
		Model:              t.config.Model,
		Messages:           []webSearchMsg{{Role: "user", Content: query}},
		MaxTokens:          intArg(args, "max_tokens", t.config.MaxTokens),
		SearchRecency:      stringArg(args, "recency"),
		SearchDomainFilter: stringsArg(args, "domains"),
	})
	if err != nil {
		return failure(IDWebSearch, args, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Host+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return failure(IDWebSearch, args, fmt.Errorf("failed to create request: %w", err))
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(reqBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return failure(IDWebSearch, args, fmt.Errorf("web search request failed: %w", err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return failure(IDWebSearch, args,
			fmt.Errorf("web search failed with status %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var response webSearchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return failure(IDWebSearch, args, fmt.Errorf("failed to decode web search response: %w", err))
	}
	if response.Error != nil {
		return failure(IDWebSearch, args, fmt.Errorf("web search API error: %s", response.Error.Message))
	}

	payload := WebPayload{Usage: response.Usage}
	if len(response.Choices) > 0 {
		payload.Content = response.Choices[0].Message.Content
	}
	for _, sr := range response.SearchResults {
		payload.Citations = append(payload.Citations, Citation{
			Title:   sr.Title,
			URL:     sr.URL,
			Snippet: sr.Snippet,
		})
	}
	// Older API versions return bare citation URLs only.
	if len(payload.Citations) == 0 {
		for _, url := range response.Citations {
			payload.Citations = append(payload.Citations, Citation{Title: url, URL: url})
		}
	}

	// Empty content is a failed search regardless of citations.
	result := Result{
		ToolID:    IDWebSearch,
		Input:     args,
		Success:   payload.Content != "",
		Payload:   payload,
		Citations: payload.Citations,
	}
	if !result.Success {
		result.Error = "web search returned no content"
	}
	return result
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
