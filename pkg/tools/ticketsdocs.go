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
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// DocItem is one normalized ticket or wiki page.
type DocItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Type    string `json:"type"` // "confluence" or "jira"
	Summary string `json:"summary,omitempty"`
}

// DocsPayload is the normalized tickets_and_docs outcome.
type DocsPayload struct {
	Status          string    `json:"status"`
	Items           []DocItem `json:"items"`
	ExecutionMethod string    `json:"execution_method,omitempty"`
}

// DocsConfig wires the tickets_and_docs tool to an MCP server fronting the
// ticket and wiki systems.
type DocsConfig struct {
	// ServerURL is the MCP server endpoint (streamable HTTP transport).
	ServerURL string `yaml:"server_url" json:"server_url"`

	// ToolName is the MCP tool that accepts a natural-language task.
	ToolName string `yaml:"tool_name,omitempty" json:"tool_name,omitempty"`
}

func (c *DocsConfig) SetDefaults() {
	if c.ToolName == "" {
		c.ToolName = "execute_task"
	}
}

// TicketsDocsTool forwards a natural-language task to the MCP server and
// normalizes whatever comes back into DocItems. The connection is lazy;
// the first call pays for initialization.
type TicketsDocsTool struct {
	config DocsConfig

	mu        sync.Mutex
	client    *client.Client
	connected bool
}

func NewTicketsDocsTool(cfg DocsConfig) (*TicketsDocsTool, error) {
	cfg.SetDefaults()
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url is required for tickets_and_docs")
	}
	return &TicketsDocsTool{config: cfg}, nil
}

func (t *TicketsDocsTool) Info() Info {
	return Info{
		Name:        IDTicketsAndDocs,
		Description: "Look up Jira tickets and Confluence pages by describing the task in plain language.",
		Parameters: []Parameter{
			{Name: "task", Type: "string", Description: "Natural-language description of what to find or do", Required: true},
		},
	}
}

func (t *TicketsDocsTool) connect(ctx context.Context) (*client.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return t.client, nil
	}

	mcpClient, err := client.NewStreamableHttpClient(t.config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "maestro",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	t.client = mcpClient
	t.connected = true
	return t.client, nil
}

func (t *TicketsDocsTool) Execute(ctx context.Context, args map[string]any) Result {
	task := stringArg(args, "task")
	if task == "" {
		return failure(IDTicketsAndDocs, args, fmt.Errorf("task is required"))
	}

	mcpClient, err := t.connect(ctx)
	if err != nil {
		return failure(IDTicketsAndDocs, args, fmt.Errorf("upstream unreachable: %w", err))
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.config.ToolName
	req.Params.Arguments = map[string]any{"task": task}

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		// Force a reconnect on the next call; the session may be dead.
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
		return failure(IDTicketsAndDocs, args, fmt.Errorf("MCP call failed: %w", err))
	}

	var text strings.Builder
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}

	if resp.IsError {
		return failure(IDTicketsAndDocs, args,
			fmt.Errorf("upstream error: %s", truncate(text.String(), 200)))
	}

	payload := normalizeDocsResponse(text.String())
	result := Result{
		ToolID:  IDTicketsAndDocs,
		Input:   args,
		Success: payload.Status != "error",
		Payload: payload,
	}
	if !result.Success {
		result.Error = "ticket/doc system reported failure"
	}
	return result
}

func (t *TicketsDocsTool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		t.connected = false
		return err
	}
	return nil
}

// rawDocsResponse is the loosely-shaped upstream envelope.
type rawDocsResponse struct {
	Status          string `json:"status"`
	ExecutionMethod string `json:"execution_method,omitempty"`
	Data            any    `json:"data,omitempty"`
}

// normalizeDocsResponse parses the upstream text into DocsPayload. The data
// field may be a list of items, a single item, or prose; anything
// unparseable becomes a single untyped item carrying the text.
func normalizeDocsResponse(text string) DocsPayload {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return DocsPayload{Status: "empty"}
	}

	var raw rawDocsResponse
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return DocsPayload{
			Status: "ok",
			Items:  []DocItem{{Title: firstLine(trimmed), Summary: trimmed, Type: "confluence"}},
		}
	}
	if raw.Status == "" {
		raw.Status = "ok"
	}

	payload := DocsPayload{
		Status:          raw.Status,
		ExecutionMethod: raw.ExecutionMethod,
	}

	switch data := raw.Data.(type) {
	case []any:
		for _, item := range data {
			if m, ok := item.(map[string]any); ok {
				payload.Items = append(payload.Items, docItemFromMap(m))
			}
		}
	case map[string]any:
		payload.Items = append(payload.Items, docItemFromMap(data))
	case string:
		if data != "" {
			payload.Items = append(payload.Items, DocItem{Title: firstLine(data), Summary: data, Type: "confluence"})
		}
	}

	return payload
}

func docItemFromMap(m map[string]any) DocItem {
	item := DocItem{}
	if v, ok := m["title"].(string); ok {
		item.Title = v
	}
	if v, ok := m["url"].(string); ok {
		item.URL = v
	}
	if v, ok := m["type"].(string); ok {
		item.Type = strings.ToLower(v)
	}
	if v, ok := m["summary"].(string); ok {
		item.Summary = v
	}

	// Jira items often arrive with a key instead of a title.
	if item.Title == "" {
		if v, ok := m["key"].(string); ok {
			item.Title = v
			if item.Type == "" {
				item.Type = "jira"
			}
		}
	}
	if item.Type != "jira" && item.Type != "confluence" {
		if strings.Contains(item.URL, "/browse/") {
			item.Type = "jira"
		} else {
			item.Type = "confluence"
		}
	}
	return item
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return truncate(strings.TrimSpace(s), 120)
}
