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
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
	"github.com/maestroworks/maestro/pkg/observability"
	"github.com/maestroworks/maestro/pkg/progress"
	"github.com/maestroworks/maestro/pkg/tools"
)

// run is the per-request state. A single request's state is never observed
// concurrently by two workers; the runResults inner lists carry their own
// lock for the Execute fan-out.
type run struct {
	engine *Engine
	req    Request
	prog   *progress.Channel
	state  *runResults

	replans       int
	triedFamilies []string
	cancelled     atomic.Bool
}

// emit publishes one progress event unless cancellation has already been
// acknowledged.
func (r *run) emit(kind progress.Kind, action, details string) {
	if r.cancelled.Load() {
		return
	}
	r.prog.Publish(kind, action, details)
}

// acknowledgeCancel emits the single terminal warning and silences all
// further emission.
func (r *run) acknowledgeCancel() {
	if r.cancelled.CompareAndSwap(false, true) {
		r.prog.Publish(progress.KindWarning, "cancelled", "Request cancelled before an answer was ready")
	}
}

// Process drives one request through the full loop and returns its single
// SynthesizedAnswer. Cancellation returns ErrCancelled and no answer; every
// other failure mode resolves to a fallback answer instead of an error.
func (e *Engine) Process(ctx context.Context, req Request, prog *progress.Channel) (*SynthesizedAnswer, error) {
	started := time.Now()
	tracer := observability.GetTracer("maestro.engine")
	ctx, span := tracer.Start(ctx, observability.SpanEngineRequest,
		trace.WithAttributes(attribute.String(observability.AttrConversation, req.ConversationID.String())))
	defer span.End()

	r := &run{engine: e, req: req, prog: prog, state: &runResults{}}

	answer, err := r.process(ctx)

	fellBack := answer != nil && answer.RequiresHumanInput
	observability.GetGlobalMetrics().RecordRequest(ctx, time.Since(started), fellBack)
	return answer, err
}

func (r *run) process(ctx context.Context) (*SynthesizedAnswer, error) {
	// The soft budget bounds planning and execution. Synthesis still runs
	// after it fires; only outright cancellation of the parent skips it.
	workCtx, cancelWork := context.WithTimeout(ctx, r.engine.cfg.RequestBudget)
	defer cancelWork()

	r.emit(progress.KindReasoning, "analyze", reasoningStages[0])

	history, err := r.engine.deps.Memory.HybridHistory(workCtx, r.req.ConversationID, r.req.UserText)
	if err != nil {
		slog.Warn("Hybrid history unavailable, planning without context", "error", err)
	}
	if history.OverBudget {
		r.emit(progress.KindWarning, "memory", "A single recent message exceeds the context budget; keeping it anyway")
	}

	if cancelled(ctx) {
		r.acknowledgeCancel()
		return nil, ErrCancelled
	}

	plan := r.buildPlan(workCtx, history)
	r.emit(progress.KindProcessing, "plan", planNarration(plan))

	if cancelled(ctx) {
		r.acknowledgeCancel()
		return nil, ErrCancelled
	}

	r.executeLoop(ctx, workCtx, plan)

	if cancelled(ctx) {
		r.graceWait()
		r.acknowledgeCancel()
		return nil, ErrCancelled
	}

	results, steps := r.state.snapshot()

	synthCtx, cancelSynth := context.WithTimeout(ctx, 2*r.engine.cfg.SynthesisDeadline)
	defer cancelSynth()
	answer := r.synthesizeGuarded(synthCtx, results, steps)

	if cancelled(ctx) {
		r.acknowledgeCancel()
		return nil, ErrCancelled
	}

	r.emit(progress.KindGenerating, "done", "Answer ready")
	return answer, nil
}

// buildPlan runs fluid reasoning plus plan extraction, with the keyword
// heuristic backstopping every failure mode including quota exhaustion.
func (r *run) buildPlan(ctx context.Context, history memory.HybridHistory) Plan {
	if ctx.Err() != nil {
		return r.heuristicPlan()
	}

	reasoning, err := r.fluidReasoning(ctx, history)
	if err != nil {
		if errors.Is(err, llms.ErrQuotaExhausted) {
			r.emit(progress.KindWarning, "analyze", "Model capacity is saturated, using a simpler planning path")
		} else {
			slog.Warn("Fluid reasoning failed, using heuristic plan", "error", err)
		}
		return r.heuristicPlan()
	}

	r.emit(progress.KindProcessing, "plan", "Organizing the approach…")
	return r.extractPlan(ctx, reasoning)
}

// executeLoop runs Execute/Observe/Replan until the evaluator is satisfied,
// the replan budget is spent, or the work budget expires. Total Execute
// phases are bounded by MaxReplans+1.
func (r *run) executeLoop(ctx, workCtx context.Context, plan Plan) {
	for {
		before := r.state.resultsCount()
		if err := r.executePlan(workCtx, plan); err != nil {
			return
		}
		for _, call := range plan.ToolsNeeded {
			r.triedFamilies = append(r.triedFamilies, call.Tool)
		}
		batch := r.state.resultsSince(before)

		if len(plan.ToolsNeeded) == 0 || cancelled(ctx) || workCtx.Err() != nil {
			return
		}

		r.emit(progress.KindObserving, "observe", "Reviewing what came back…")

		if allFailed(batch) {
			replacement, ok := r.failureReplan(batch)
			if !ok || r.replans >= r.engine.cfg.MaxReplans {
				return
			}
			r.replans++
			observability.GetGlobalMetrics().RecordReplan(ctx)
			r.emit(progress.KindReplanning, "replan", "That route failed, trying "+replacement.ToolsNeeded[0].Tool+" instead")
			plan = replacement
			continue
		}

		decision := r.observe(workCtx, batch)
		if !decision.NeedsMoreTools || r.replans >= r.engine.cfg.MaxReplans {
			return
		}

		var next Plan
		if decision.NewPlan != nil && len(decision.NewPlan.ToolsNeeded) > 0 {
			next = *decision.NewPlan
		} else if replacement, ok := r.failureReplan(batch); ok {
			next = replacement
		} else {
			return
		}

		r.replans++
		observability.GetGlobalMetrics().RecordReplan(ctx)
		r.emit(progress.KindReplanning, "replan", "Digging deeper: "+shorten(decision.Reasoning, 80))
		plan = next
	}
}

// synthesizeGuarded wraps synthesis so an internal bug still resolves the
// request with a low-confidence fallback instead of a crash.
func (r *run) synthesizeGuarded(ctx context.Context, results []tools.Result, steps []ExecutionStep) (answer *SynthesizedAnswer) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Synthesis panicked, producing fallback answer", "cause", rec)
			answer = r.fallbackAnswer(results, steps)
		}
	}()
	return r.synthesize(ctx, results, steps)
}

// fallbackAnswer is the unconditional low-confidence outcome for
// unrecoverable failures.
func (r *run) fallbackAnswer(results []tools.Result, steps []ExecutionStep) *SynthesizedAnswer {
	findings := keyFindings(results)
	return &SynthesizedAnswer{
		Text:               templateAnswer(results, findings),
		KeyFindings:        findings,
		SourceLinks:        sourceLinks(results),
		Confidence:         ConfidenceLow,
		RequiresHumanInput: true,
		ExecutionSummary:   executionSummary(steps),
	}
}

// graceWait gives in-flight tool calls a short window after cancellation.
func (r *run) graceWait() {
	timer := time.NewTimer(r.engine.cfg.CancelGrace)
	defer timer.Stop()
	<-timer.C
}

func (e *Engine) recordFallback(ctx context.Context) {
	observability.GetGlobalMetrics().RecordModelCall(ctx, string(llms.TierCheap), true)
}

func cancelled(ctx context.Context) bool {
	return ctx.Err() != nil
}

func planNarration(plan Plan) string {
	if len(plan.ToolsNeeded) == 0 {
		return "This one I can answer directly"
	}
	names := make([]string, 0, len(plan.ToolsNeeded))
	seen := make(map[string]bool)
	for _, call := range plan.ToolsNeeded {
		if !seen[call.Tool] {
			seen[call.Tool] = true
			names = append(names, call.Tool)
		}
	}
	return "Planned " + plan.Complexity + " approach using " + joinAnd(names)
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
