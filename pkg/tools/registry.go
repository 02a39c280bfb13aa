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
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maestroworks/maestro/pkg/observability"
	"github.com/maestroworks/maestro/pkg/registry"
)

// DefaultToolTimeout is applied when the caller passes no timeout.
const DefaultToolTimeout = 30 * time.Second

// RegistryError reports a registry-level failure (unknown tool, duplicate
// registration).
type RegistryError struct {
	Action  string
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[ToolRegistry:%s] %s: %v", e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[ToolRegistry:%s] %s", e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Registry holds the closed tool set and executes calls with spans, metrics,
// and per-call timeouts.
type Registry struct {
	*registry.BaseRegistry[Tool]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Tool](),
	}
}

// RegisterTool adds a tool under its Info name.
func (r *Registry) RegisterTool(tool Tool) error {
	info := tool.Info()
	if info.Name == "" {
		return &RegistryError{Action: "RegisterTool", Message: "tool name cannot be empty"}
	}
	if err := r.Register(info.Name, tool); err != nil {
		return &RegistryError{Action: "RegisterTool",
			Message: fmt.Sprintf("failed to register tool %s", info.Name), Err: err}
	}
	return nil
}

// GetTool resolves a tool by id.
func (r *Registry) GetTool(name string) (Tool, error) {
	tool, exists := r.Get(name)
	if !exists {
		return nil, &RegistryError{Action: "GetTool",
			Message: fmt.Sprintf("tool %s not found", name)}
	}
	return tool, nil
}

// ListTools returns the discoverable catalog, sorted by name. The planner
// prompt is built from this.
func (r *Registry) ListTools() []Info {
	var infos []Info
	for _, tool := range r.List() {
		infos = append(infos, tool.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Execute runs one tool call under the given timeout. All failures,
// including unknown tools and deadline hits, come back inside the Result;
// the caller branches on Success, never on an error value.
func (r *Registry) Execute(ctx context.Context, toolName string, args map[string]any, timeout time.Duration) Result {
	startTime := time.Now()

	tracer := observability.GetTracer("maestro.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, toolName),
		),
	)
	defer span.End()

	finish := func(result Result) Result {
		result.Latency = time.Since(startTime)
		var recordErr error
		if !result.Success {
			recordErr = fmt.Errorf("%s", result.Error)
			span.RecordError(recordErr)
			span.SetStatus(codes.Error, result.Error)
		}
		observability.GetGlobalMetrics().RecordToolExecution(ctx, toolName, result.Latency, recordErr)
		return result
	}

	tool, err := r.GetTool(toolName)
	if err != nil {
		return finish(failure(toolName, args, err))
	}

	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := tool.Execute(callCtx, args)
	if callCtx.Err() != nil && !result.Success && result.Error == "" {
		result.Error = callCtx.Err().Error()
	}
	return finish(result)
}
