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

// Package tools is the uniform façade over the four tool families the
// engine can plan with: semantic retrieval, web retrieval, ticket/doc
// retrieval, and calendar operations. Every call resolves to a Result
// whose Success flag says whether the payload is usable; adapter errors
// never escape as Go errors to the planning loop.
package tools

import (
	"context"
	"time"
)

// Tool family identifiers. The set is closed; the planner may only select
// from these.
const (
	IDSemanticSearch = "semantic_search"
	IDWebSearch      = "web_search"
	IDTicketsAndDocs = "tickets_and_docs"
	IDCalendarOp     = "calendar_op"
)

// FamilyOrder is the fixed substitution order used by failure replanning.
var FamilyOrder = []string{IDSemanticSearch, IDWebSearch, IDTicketsAndDocs}

// Citation is one source reference attached to a result.
type Citation struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Result is the uniform outcome shape shared by all tools.
type Result struct {
	ToolID    string         `json:"tool_id"`
	Input     map[string]any `json:"input,omitempty"`
	Success   bool           `json:"success"`
	Payload   any            `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	Citations []Citation     `json:"citations,omitempty"`
	Latency   time.Duration  `json:"latency"`
}

// Parameter describes one tool argument for the planner prompt.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Info is the discoverable description of a tool.
type Info struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// Tool is one family behind the registry. Execute honors the context
// deadline; the registry supplies the per-call timeout.
type Tool interface {
	Info() Info
	Execute(ctx context.Context, args map[string]any) Result
}

// failure builds an unsuccessful Result.
func failure(toolID string, args map[string]any, err error) Result {
	return Result{
		ToolID:  toolID,
		Input:   args,
		Success: false,
		Error:   err.Error(),
	}
}

// stringArg reads a string argument, tolerating absence.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg reads a numeric argument. JSON decoding yields float64.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// stringsArg reads a string-list argument.
func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
