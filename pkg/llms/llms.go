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

// Package llms is the model client: providers for the Anthropic, OpenAI,
// and Gemini APIs behind one interface, a tiered router with quota-driven
// fallback, and a rate gate that spaces successive calls per provider.
package llms

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tier names a model capability level. The engine plans and synthesizes on
// the preferred tier and extracts/evaluates on the cheap one.
type Tier string

const (
	TierPreferred Tier = "preferred"
	TierCheap     Tier = "cheap"
)

// ErrQuotaExhausted is the distinguished saturation signal. The engine falls
// back one tier when errors.Is reports it.
var ErrQuotaExhausted = errors.New("model quota exhausted")

// IsQuotaExhausted reports whether err signals model-tier saturation.
func IsQuotaExhausted(err error) bool {
	return errors.Is(err, ErrQuotaExhausted)
}

// quotaSignal inspects a provider error body for saturation wording so HTTP
// 429s and RESOURCE_EXHAUSTED payloads both map to ErrQuotaExhausted.
func quotaSignal(statusCode int, body string) bool {
	if statusCode == 429 {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "quota") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "resource exhausted") ||
		strings.Contains(lower, "rate_limit_error")
}

// Request is one generation call. Deadlines travel on the context.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// ChunkFunc receives streamed text fragments as they arrive.
type ChunkFunc func(text string)

// Provider is one model API. Generate returns the full completion;
// GenerateStreaming additionally forwards fragments to onChunk.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	GenerateStreaming(ctx context.Context, req Request, onChunk ChunkFunc) (string, error)
	ModelName() string
	Close() error
}

// ProviderType selects the API a tier talks to.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderGemini    ProviderType = "gemini"
)

// ProviderConfig configures one tier's provider.
type ProviderConfig struct {
	Type        ProviderType `yaml:"type" json:"type"`
	Model       string       `yaml:"model" json:"model"`
	APIKey      string       `yaml:"api_key" json:"api_key"`
	Host        string       `yaml:"host,omitempty" json:"host,omitempty"`
	MaxTokens   int          `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature float64      `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Timeout     int          `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries  int          `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelay  int          `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
}

func (c *ProviderConfig) SetDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
}

func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
	case "":
		return fmt.Errorf("provider type is required")
	default:
		return fmt.Errorf("unknown provider type: %q", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key is required for %s", c.Type)
	}
	return nil
}

// NewProvider builds a provider from its config.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
}
