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
	"strings"

	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/tools"
)

// evaluation is the evaluator model's decision. new_plan is optional; when
// absent but more work is requested, the engine reuses the failure-replan
// substitution.
type evaluation struct {
	NeedsMoreTools bool   `json:"needs_more_tools"`
	Reasoning      string `json:"reasoning"`
	NewPlan        *Plan  `json:"new_plan,omitempty"`
}

const evaluatorSystemPrompt = `You judge whether an assistant has gathered enough to answer.
Given the question and the summarized tool outcomes, decide if more tool work is needed.
Return only JSON: {"needs_more_tools": bool, "reasoning": "...", "new_plan": {...} or omit}.
new_plan, when present, has the same shape as the original plan.
Prefer answering with what exists; request more work only for clear gaps.`

// observe asks the low-latency evaluator whether to loop. Input carries
// counts and brief summaries only.
func (r *run) observe(ctx context.Context, batch []tools.Result) evaluation {
	ctx, cancel := context.WithTimeout(ctx, r.engine.cfg.EvaluatorDeadline)
	defer cancel()

	raw, err := r.engine.deps.Models.Generate(ctx, llms.TierCheap, llms.Request{
		System: evaluatorSystemPrompt,
		User:   r.evaluatorInput(batch),
	})
	if err != nil {
		slog.Warn("Evaluator unavailable, proceeding to synthesis", "error", err)
		return evaluation{Reasoning: "evaluator unavailable"}
	}

	decision, err := parseEvaluation(raw)
	if err != nil {
		slog.Warn("Evaluator output invalid, proceeding to synthesis", "error", err)
		return evaluation{Reasoning: "evaluator output invalid"}
	}
	if decision.NewPlan != nil {
		validated := r.validatePlan(*decision.NewPlan)
		decision.NewPlan = &validated
	}
	return decision
}

func parseEvaluation(raw string) (evaluation, error) {
	cleaned := extractJSONObject(raw)
	if cleaned == "" {
		return evaluation{}, fmt.Errorf("no JSON object in evaluator output")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()
	var decision evaluation
	if err := dec.Decode(&decision); err != nil {
		return evaluation{}, fmt.Errorf("invalid evaluator JSON: %w", err)
	}
	return decision, nil
}

func (r *run) evaluatorInput(batch []tools.Result) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(r.req.UserText)
	sb.WriteString("\n\nOutcomes:\n")
	succeeded := 0
	for _, result := range batch {
		if result.Success {
			succeeded++
		}
		sb.WriteString("- ")
		sb.WriteString(result.ToolID)
		sb.WriteString(": ")
		sb.WriteString(summarizeResult(result))
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("\n%d of %d calls succeeded.", succeeded, len(batch)))
	return sb.String()
}

// failureReplan substitutes the next untried tool family when a whole batch
// failed. The substitution order is fixed; when it is exhausted, no plan is
// returned and the engine synthesizes with what exists.
func (r *run) failureReplan(failed []tools.Result) (Plan, bool) {
	tried := make(map[string]bool)
	for _, result := range failed {
		tried[result.ToolID] = true
	}
	for _, step := range r.triedFamilies {
		tried[step] = true
	}

	for _, family := range tools.FamilyOrder {
		if tried[family] {
			continue
		}
		var args map[string]any
		if family == tools.IDTicketsAndDocs {
			args = map[string]any{"task": r.req.UserText}
		} else {
			args = map[string]any{"query": r.req.UserText}
		}
		return Plan{
			ReasoningSummary:  "Previous tools failed, substituting " + family,
			Complexity:        ComplexityModerate,
			ToolsNeeded:       []ToolCall{{Tool: family, Args: args}},
			ExecutionStrategy: StrategySequential,
		}, true
	}
	return Plan{}, false
}

// allFailed reports whether every result in the batch failed. An empty
// batch is not a failure.
func allFailed(batch []tools.Result) bool {
	if len(batch) == 0 {
		return false
	}
	for _, result := range batch {
		if result.Success {
			return false
		}
	}
	return true
}
