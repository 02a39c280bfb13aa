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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maestroworks/maestro/pkg/httpclient"
)

// AnthropicProvider talks to the Anthropic Messages API over raw HTTP.
type AnthropicProvider struct {
	config     ProviderConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Error *anthropicError `json:"error,omitempty"`
}

func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic")
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}

	return &AnthropicProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

func (p *AnthropicProvider) ModelName() string {
	return p.config.Model
}

func (p *AnthropicProvider) Close() error {
	return nil
}

func (p *AnthropicProvider) buildRequest(req Request, stream bool) anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}

	return anthropicRequest{
		Model:       p.config.Model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.User}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
		System:      req.System,
	}
}

func (p *AnthropicProvider) newHTTPRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	return req, nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, genReq Request) (string, error) {
	jsonData, err := json.Marshal(p.buildRequest(genReq, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := p.newHTTPRequest(ctx, jsonData)
	if err != nil {
		return "", err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", wrapTransportError("anthropic", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if quotaSignal(resp.StatusCode, string(body)) {
			return "", fmt.Errorf("anthropic API status %d: %w", resp.StatusCode, ErrQuotaExhausted)
		}
		return "", fmt.Errorf("anthropic API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		if quotaSignal(0, response.Error.Type+" "+response.Error.Message) {
			return "", fmt.Errorf("anthropic API error: %s: %w", response.Error.Message, ErrQuotaExhausted)
		}
		return "", fmt.Errorf("anthropic API error: %s", response.Error.Message)
	}

	var text string
	for _, content := range response.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}
	return text, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, genReq Request, onChunk ChunkFunc) (string, error) {
	jsonData, err := json.Marshal(p.buildRequest(genReq, true))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := p.newHTTPRequest(ctx, jsonData)
	if err != nil {
		return "", err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", wrapTransportError("anthropic", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if quotaSignal(resp.StatusCode, string(body)) {
			return "", fmt.Errorf("anthropic API status %d: %w", resp.StatusCode, ErrQuotaExhausted)
		}
		return "", fmt.Errorf("anthropic API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var full bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var streamResp anthropicStreamResponse
		if err := json.Unmarshal([]byte(line[len("data: "):]), &streamResp); err != nil {
			return full.String(), fmt.Errorf("failed to decode streaming response: %w", err)
		}

		switch streamResp.Type {
		case "content_block_delta":
			if streamResp.Delta != nil && streamResp.Delta.Text != "" {
				full.WriteString(streamResp.Delta.Text)
				if onChunk != nil {
					onChunk(streamResp.Delta.Text)
				}
			}
		case "error":
			if streamResp.Error != nil {
				return full.String(), fmt.Errorf("anthropic streaming error: %s", streamResp.Error.Message)
			}
		case "message_stop":
			return full.String(), nil
		}

		if ctx.Err() != nil {
			return full.String(), ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("failed to read streaming response: %w", err)
	}
	return full.String(), nil
}

// wrapTransportError maps retry-exhausted 429s to the quota sentinel so the
// router can fall back a tier instead of failing the request.
func wrapTransportError(provider string, err error) error {
	var re *httpclient.RetryableError
	if errors.As(err, &re) && re.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s request rate limited: %w", provider, ErrQuotaExhausted)
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}
