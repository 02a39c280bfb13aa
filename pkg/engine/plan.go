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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
	"github.com/maestroworks/maestro/pkg/progress"
	"github.com/maestroworks/maestro/pkg/tools"
)

// Plan complexity levels.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
	ComplexityResearch = "research"
)

// Execution strategies.
const (
	StrategySequential = "sequential"
	StrategyParallel   = "parallel"
	StrategyHybrid     = "hybrid"
)

// ToolCall is one planned tool invocation.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Plan is the structured outcome of the analyze/plan phase. One plan exists
// per request at a time; replanning replaces it wholesale.
type Plan struct {
	ReasoningSummary  string     `json:"reasoning_summary"`
	Complexity        string     `json:"complexity"`
	ToolsNeeded       []ToolCall `json:"tools_needed"`
	ExecutionStrategy string     `json:"execution_strategy"`
	ObservationPlan   string     `json:"observation_plan,omitempty"`
	SynthesisApproach string     `json:"synthesis_approach,omitempty"`
}

// reasoningStages are the only strings the progress channel ever sees
// during fluid reasoning. Raw model tokens stay internal; the stages rotate
// on a timer instead of sniffing token content.
var reasoningStages = []string{
	"Understanding your request…",
	"Considering approach…",
	"Weighing available tools…",
	"Shaping a plan…",
}

const stageRotateInterval = 3 * time.Second

const reasoningSystemPrompt = `You are the planning brain of an engineering team assistant.
Think through the request out loud: restate the user's intent, consider which
of the available tools would add value, and whether calls can run in parallel.
Finish with a JSON object on its own lines:
{"reasoning_summary": "...", "complexity": "simple|moderate|complex|research",
"tools_needed": [{"tool": "...", "args": {...}}],
"execution_strategy": "sequential|parallel|hybrid",
"observation_plan": "...", "synthesis_approach": "..."}`

// fluidReasoning runs the free-form pass against the preferred model while
// rotating curated stage messages to the progress channel.
func (r *run) fluidReasoning(ctx context.Context, history memory.HybridHistory) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.engine.cfg.ReasoningDeadline)
	defer cancel()

	stageDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(stageRotateInterval)
		defer ticker.Stop()
		stage := 1
		for {
			select {
			case <-stageDone:
				return
			case <-ticker.C:
				if stage < len(reasoningStages) {
					r.emit(progress.KindReasoning, "analyze", reasoningStages[stage])
					stage++
				}
			}
		}
	}()
	defer close(stageDone)

	text, err := r.engine.deps.Models.GenerateStreaming(ctx, llms.TierPreferred, llms.Request{
		System: reasoningSystemPrompt,
		User:   r.reasoningInput(history),
	}, func(chunk string) {
		// Tokens accumulate in the return value only; nothing streams out.
	})
	return text, err
}

func (r *run) reasoningInput(history memory.HybridHistory) string {
	var sb strings.Builder
	if history.SummaryText != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(history.SummaryText)
		sb.WriteString("\n\n")
	}
	if history.LiveWindowText != "" {
		sb.WriteString("Recent turns:\n")
		sb.WriteString(history.LiveWindowText)
		sb.WriteString("\n\n")
	}
	if len(history.RelevantEntities) > 0 {
		sb.WriteString("Known facts:\n")
		for _, e := range history.RelevantEntities {
			sb.WriteString("- ")
			sb.WriteString(string(e.Type))
			sb.WriteString(": ")
			sb.WriteString(e.Value)
			if e.Context != "" {
				sb.WriteString(" (")
				sb.WriteString(e.Context)
				sb.WriteString(")")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	if r.req.UserProfile != "" {
		sb.WriteString("User profile: ")
		sb.WriteString(r.req.UserProfile)
		sb.WriteString("\n")
	}
	sb.WriteString("Available tools:\n")
	for _, info := range r.engine.deps.Tools.ListTools() {
		sb.WriteString("- ")
		sb.WriteString(info.Name)
		sb.WriteString(": ")
		sb.WriteString(info.Description)
		sb.WriteString("\n")
	}
	sb.WriteString("\nRequest: ")
	sb.WriteString(r.req.UserText)
	return sb.String()
}

const planExtractionPrompt = `Extract the final JSON plan object from the reasoning below.
Return only the JSON object, no prose, no code fences. The object has fields:
reasoning_summary, complexity, tools_needed, execution_strategy,
observation_plan, synthesis_approach.`

// extractPlan asks the cheap tier to pull the structured plan out of the
// reasoning text. Any failure falls back to the keyword heuristic.
func (r *run) extractPlan(ctx context.Context, reasoning string) Plan {
	ctx, cancel := context.WithTimeout(ctx, r.engine.cfg.PlanDeadline)
	defer cancel()

	raw, err := r.engine.deps.Models.Generate(ctx, llms.TierCheap, llms.Request{
		System: planExtractionPrompt,
		User:   reasoning,
	})
	if err != nil {
		slog.Warn("Plan extraction failed, using heuristic plan", "error", err)
		return r.heuristicPlan()
	}

	plan, err := parsePlan(raw)
	if err != nil {
		slog.Warn("Plan JSON invalid, using heuristic plan", "error", err)
		return r.heuristicPlan()
	}
	return r.validatePlan(plan)
}

// parsePlan decodes planner JSON strictly: unknown fields are rejected,
// missing optional fields are tolerated.
func parsePlan(raw string) (Plan, error) {
	cleaned := extractJSONObject(raw)
	if cleaned == "" {
		return Plan{}, fmt.Errorf("no JSON object in planner output")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()
	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		return Plan{}, fmt.Errorf("invalid plan JSON: %w", err)
	}
	return plan, nil
}

// extractJSONObject pulls the outermost {...} span out of model output that
// may be wrapped in prose or code fences.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

// validatePlan drops unknown tools and normalizes enum fields.
func (r *run) validatePlan(plan Plan) Plan {
	switch plan.Complexity {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityResearch:
	default:
		plan.Complexity = ComplexityModerate
	}
	switch plan.ExecutionStrategy {
	case StrategySequential, StrategyParallel, StrategyHybrid:
	default:
		plan.ExecutionStrategy = StrategySequential
	}

	known := make(map[string]bool)
	for _, info := range r.engine.deps.Tools.ListTools() {
		known[info.Name] = true
	}
	kept := plan.ToolsNeeded[:0]
	for _, call := range plan.ToolsNeeded {
		if !known[call.Tool] {
			slog.Warn("Planner selected unknown tool, dropping", "tool", call.Tool)
			continue
		}
		kept = append(kept, call)
	}
	plan.ToolsNeeded = kept
	return plan
}

var (
	greetingRe = regexp.MustCompile(`(?i)^\s*(hey|hi|hello|yo|sup|good (morning|afternoon|evening)|thanks|thank you)\b[\s!,.?]*\w{0,10}[\s!,.?]*$`)
	ticketRe   = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}-\d{1,6}\b`)
)

var calendarWords = []string{"meeting", "schedule", "calendar", "availability", "available", "invite", "book a"}
var webWords = []string{"latest", "news", "recent", "trend", "today", "this week", "current", "2025", "2026"}
var ticketWords = []string{"jira", "ticket", "sprint", "confluence", "epic", "backlog", "runbook", "wiki"}

// heuristicPlan is the deterministic fallback when the model cannot plan:
// a small keyword vocabulary picks the tool family.
func (r *run) heuristicPlan() Plan {
	text := strings.ToLower(r.req.UserText)

	if greetingRe.MatchString(r.req.UserText) {
		return Plan{
			ReasoningSummary:  "Conversational message, no tools needed",
			Complexity:        ComplexitySimple,
			ExecutionStrategy: StrategySequential,
		}
	}

	containsAny := func(words []string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}

	var call ToolCall
	switch {
	case containsAny(calendarWords):
		call = ToolCall{Tool: tools.IDCalendarOp, Args: map[string]any{"action": "get_calendar"}}
	case containsAny(webWords):
		call = ToolCall{Tool: tools.IDWebSearch, Args: map[string]any{"query": r.req.UserText}}
	case ticketRe.MatchString(r.req.UserText) || containsAny(ticketWords):
		call = ToolCall{Tool: tools.IDTicketsAndDocs, Args: map[string]any{"task": r.req.UserText}}
	default:
		call = ToolCall{Tool: tools.IDSemanticSearch, Args: map[string]any{"query": r.req.UserText}}
	}

	return Plan{
		ReasoningSummary:  "Keyword heuristic selected " + call.Tool,
		Complexity:        ComplexityModerate,
		ToolsNeeded:       []ToolCall{call},
		ExecutionStrategy: StrategySequential,
	}
}
