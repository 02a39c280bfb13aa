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

package llms

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider talks to the Gemini API through the official genai SDK.
type GeminiProvider struct {
	config ProviderConfig
	client *genai.Client
}

func NewGeminiProvider(cfg ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	// Constructors shouldn't require a context; calls carry their own.
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		config: cfg,
		client: client,
	}, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.config.Model
}

func (p *GeminiProvider) Close() error {
	return nil
}

func (p *GeminiProvider) buildConfig(req Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	return cfg
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, genai.Text(req.User), p.buildConfig(req))
	if err != nil {
		return "", wrapGeminiError(err)
	}
	return resp.Text(), nil
}

func (p *GeminiProvider) GenerateStreaming(ctx context.Context, req Request, onChunk ChunkFunc) (string, error) {
	var full strings.Builder

	for resp, err := range p.client.Models.GenerateContentStream(ctx, p.config.Model, genai.Text(req.User), p.buildConfig(req)) {
		if err != nil {
			return full.String(), wrapGeminiError(err)
		}
		if text := resp.Text(); text != "" {
			full.WriteString(text)
			if onChunk != nil {
				onChunk(text)
			}
		}
		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}
	}

	return full.String(), nil
}

func wrapGeminiError(err error) error {
	if quotaSignal(0, err.Error()) {
		return fmt.Errorf("gemini API error: %v: %w", err, ErrQuotaExhausted)
	}
	return fmt.Errorf("gemini request failed: %w", err)
}
