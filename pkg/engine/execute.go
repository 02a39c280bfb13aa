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

package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maestroworks/maestro/pkg/progress"
	"github.com/maestroworks/maestro/pkg/tools"
)

// executePlan walks the plan's tool list under the chosen strategy and
// appends every outcome to the run's result and step lists. Per-call
// failures stay inside the ToolResult; the only error out of here is
// cancellation.
func (r *run) executePlan(ctx context.Context, plan Plan) error {
	calls := plan.ToolsNeeded
	if len(calls) == 0 {
		return ctx.Err()
	}

	switch plan.ExecutionStrategy {
	case StrategyParallel:
		return r.executeParallel(ctx, calls)
	case StrategyHybrid:
		return r.executeHybrid(ctx, calls)
	default:
		return r.executeSequential(ctx, calls)
	}
}

func (r *run) executeSequential(ctx context.Context, calls []ToolCall) error {
	for _, call := range calls {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.executeOne(ctx, call)
	}
	return ctx.Err()
}

func (r *run) executeParallel(ctx context.Context, calls []ToolCall) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, call := range calls {
		call := call
		g.Go(func() error {
			r.executeOne(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// executeHybrid fans out same-tool calls in parallel and chains across
// distinct tools in plan order.
func (r *run) executeHybrid(ctx context.Context, calls []ToolCall) error {
	var groups [][]ToolCall
	for _, call := range calls {
		if n := len(groups); n > 0 && groups[n-1][0].Tool == call.Tool {
			groups[n-1] = append(groups[n-1], call)
			continue
		}
		groups = append(groups, []ToolCall{call})
	}
	for _, group := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.executeParallel(ctx, group); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// executeOne runs a single call: searching event, invocation, preview
// event, step bookkeeping. Preview events always precede the step's
// completion record.
func (r *run) executeOne(ctx context.Context, call ToolCall) {
	step := r.beginStep(call.Tool, searchPhrase(call))
	r.emit(progress.KindSearching, call.Tool, searchPhrase(call))

	result := r.engine.deps.Tools.Execute(ctx, call.Tool, call.Args, r.engine.cfg.ToolTimeout)

	if preview := previewLines(result); preview != "" {
		r.emit(progress.KindDiscovery, call.Tool, preview)
	}

	r.recordResult(step, result)
}

// run-level result/step bookkeeping, shared by concurrent executions.
type runResults struct {
	mu      sync.Mutex
	results []tools.Result
	steps   []ExecutionStep
}

func (rr *runResults) begin(actionID, description string) int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.steps = append(rr.steps, ExecutionStep{
		StepIndex:   len(rr.steps),
		ActionID:    actionID,
		Description: description,
		Status:      StepInProgress,
		StartedAt:   time.Now().UTC(),
	})
	return len(rr.steps) - 1
}

func (rr *runResults) complete(index int, result tools.Result) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.results = append(rr.results, result)
	step := &rr.steps[index]
	step.CompletedAt = time.Now().UTC()
	step.ResultSummary = summarizeResult(result)
	if result.Success {
		step.Status = StepCompleted
	} else {
		step.Status = StepFailed
	}
}

func (rr *runResults) snapshot() ([]tools.Result, []ExecutionStep) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return append([]tools.Result{}, rr.results...), append([]ExecutionStep{}, rr.steps...)
}

func (rr *runResults) resultsCount() int {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return len(rr.results)
}

// resultsSince returns the results appended after the given count, i.e. the
// batch produced by the most recent Execute phase.
func (rr *runResults) resultsSince(n int) []tools.Result {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	if n > len(rr.results) {
		return nil
	}
	return append([]tools.Result{}, rr.results[n:]...)
}

func (r *run) beginStep(actionID, description string) int {
	return r.state.begin(actionID, description)
}

func (r *run) recordResult(step int, result tools.Result) {
	r.state.complete(step, result)
}

// searchPhrase derives the human-readable line shown while a tool runs.
func searchPhrase(call ToolCall) string {
	switch call.Tool {
	case tools.IDSemanticSearch:
		return "Searching team knowledge for " + quoteArg(call.Args, "query")
	case tools.IDWebSearch:
		return "Searching the web for " + quoteArg(call.Args, "query")
	case tools.IDTicketsAndDocs:
		return "Checking tickets and docs: " + plainArg(call.Args, "task")
	case tools.IDCalendarOp:
		return "Working with the calendar (" + plainArg(call.Args, "action") + ")"
	default:
		return "Running " + call.Tool
	}
}

func quoteArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return "\"" + shorten(v, 60) + "\""
	}
	return "your request"
}

func plainArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return shorten(v, 60)
	}
	return "your request"
}

// previewLines renders up to three compact items from a successful result.
// Only selected fields ever reach the display, never raw payload JSON.
func previewLines(result tools.Result) string {
	if !result.Success {
		return ""
	}

	const maxItems = 3
	var lines []string
	switch payload := result.Payload.(type) {
	case tools.SemanticPayload:
		for _, item := range payload.Items {
			lines = append(lines, "• "+shorten(item.Content, 80))
			if len(lines) == maxItems {
				break
			}
		}
	case tools.WebPayload:
		for _, c := range result.Citations {
			title := c.Title
			if title == "" {
				title = c.URL
			}
			lines = append(lines, "• "+shorten(title, 80))
			if len(lines) == maxItems {
				break
			}
		}
		if len(lines) == 0 && payload.Content != "" {
			lines = append(lines, "• "+shorten(payload.Content, 80))
		}
	case tools.DocsPayload:
		for _, item := range payload.Items {
			lines = append(lines, "• "+shorten(item.Title, 80))
			if len(lines) == maxItems {
				break
			}
		}
	default:
		return ""
	}

	if len(lines) == 0 {
		return ""
	}
	return "Found:\n" + strings.Join(lines, "\n")
}

// summarizeResult is the one-line step summary fed to the evaluator. Counts
// and short descriptions only, never raw payloads.
func summarizeResult(result tools.Result) string {
	if !result.Success {
		return "failed: " + shorten(result.Error, 120)
	}
	switch payload := result.Payload.(type) {
	case tools.SemanticPayload:
		return fmt.Sprintf("%d indexed discussions matched", len(payload.Items))
	case tools.WebPayload:
		return fmt.Sprintf("web answer with %d citations", len(payload.Citations))
	case tools.DocsPayload:
		return fmt.Sprintf("%d tickets/docs returned (%s)", len(payload.Items), payload.Status)
	default:
		return "completed"
	}
}

func shorten(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
