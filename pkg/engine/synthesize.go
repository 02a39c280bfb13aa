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
	"fmt"
	"log/slog"
	"strings"

	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/progress"
	"github.com/maestroworks/maestro/pkg/tools"
)

const synthesisSystemPrompt = `You are a helpful engineering team assistant writing the final answer.
Use only the gathered material below. Write natural prose, no JSON, no markdown headings.
Cite nothing inline; sources are attached separately. Be direct and concrete.
If the material is thin, say so plainly and answer as far as it allows.
After the answer, add a line reading exactly "Suggested follow-ups:" and then up to
three short questions the user might ask next, one per line, each starting with "- ".`

const apologyText = "I ran into trouble putting together a full answer this time."

// synthesize produces the single SynthesizedAnswer for the request from
// everything gathered so far.
func (r *run) synthesize(ctx context.Context, results []tools.Result, steps []ExecutionStep) *SynthesizedAnswer {
	r.emit(progress.KindSynthesizing, "synthesize", coverageNarration(results))

	findings := keyFindings(results)
	links := sourceLinks(results)

	text, modelFollowups := splitFollowups(r.generateAnswer(ctx, results))
	if text == "" {
		text = templateAnswer(results, findings)
	}
	text = sanitizeAnswer(text, findings)

	answer := &SynthesizedAnswer{
		Text:               text,
		KeyFindings:        findings,
		SourceLinks:        links,
		Confidence:         assessConfidence(results),
		SuggestedFollowups: r.followups(results, modelFollowups),
		ExecutionSummary:   executionSummary(steps),
	}
	if answer.Confidence == ConfidenceLow {
		answer.RequiresHumanInput = true
	}
	return answer
}

// generateAnswer runs the synthesis prompt on the preferred tier, falling
// back to the cheap tier on quota exhaustion. An empty return means both
// tiers failed.
func (r *run) generateAnswer(ctx context.Context, results []tools.Result) string {
	req := llms.Request{
		System: synthesisSystemPrompt,
		User:   r.synthesisInput(results),
	}

	callCtx, cancel := context.WithTimeout(ctx, r.engine.cfg.SynthesisDeadline)
	defer cancel()

	text, err := r.engine.deps.Models.Generate(callCtx, llms.TierPreferred, req)
	if err == nil {
		return strings.TrimSpace(text)
	}

	if errors.Is(err, llms.ErrQuotaExhausted) {
		r.emit(progress.KindWarning, "synthesize", "Primary model is saturated, switching to the backup model")
		r.engine.recordFallback(ctx)
		retryCtx, retryCancel := context.WithTimeout(ctx, r.engine.cfg.SynthesisDeadline)
		defer retryCancel()
		text, err = r.engine.deps.Models.Generate(retryCtx, llms.TierCheap, req)
		if err == nil {
			return strings.TrimSpace(text)
		}
	}

	slog.Warn("Synthesis failed on all tiers, using template answer", "error", err)
	return ""
}

func (r *run) synthesisInput(results []tools.Result) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(r.req.UserText)
	if r.req.UserProfile != "" {
		sb.WriteString("\nAsked by: ")
		sb.WriteString(r.req.UserProfile)
	}
	sb.WriteString("\n\nGathered material:\n")
	for _, result := range results {
		if !result.Success {
			continue
		}
		sb.WriteString("\nFrom ")
		sb.WriteString(result.ToolID)
		sb.WriteString(":\n")
		sb.WriteString(payloadText(result))
		sb.WriteString("\n")
	}
	return sb.String()
}

// payloadText flattens a successful payload into prose material for the
// synthesis prompt.
func payloadText(result tools.Result) string {
	switch payload := result.Payload.(type) {
	case tools.SemanticPayload:
		var lines []string
		for _, item := range payload.Items {
			lines = append(lines, "- "+shorten(item.Content, 300))
		}
		return strings.Join(lines, "\n")
	case tools.WebPayload:
		return shorten(payload.Content, 2000)
	case tools.DocsPayload:
		var lines []string
		for _, item := range payload.Items {
			line := "- " + item.Title
			if item.Summary != "" {
				line += ": " + shorten(item.Summary, 200)
			}
			lines = append(lines, line)
		}
		return strings.Join(lines, "\n")
	default:
		return summarizeResult(result)
	}
}

// templateAnswer is the last-resort answer when no model tier responded:
// the per-tool summaries plus an apology.
func templateAnswer(results []tools.Result, findings []string) string {
	var sb strings.Builder
	sb.WriteString(apologyText)
	if len(findings) > 0 {
		sb.WriteString(" Here is what I did find: ")
		sb.WriteString(strings.Join(findings, " "))
	} else if n := successCount(results); n == 0 && len(results) > 0 {
		sb.WriteString(" None of my lookups returned usable results; it may be worth asking a teammate directly.")
	}
	return sb.String()
}

// coverageNarration builds the "Combining insights from…" line.
func coverageNarration(results []tools.Result) string {
	counts := make(map[string]int)
	for _, result := range results {
		if !result.Success {
			continue
		}
		switch payload := result.Payload.(type) {
		case tools.SemanticPayload:
			counts["team discussions"] += len(payload.Items)
		case tools.WebPayload:
			counts["web sources"] += len(payload.Citations)
			if len(payload.Citations) == 0 {
				counts["web sources"]++
			}
		case tools.DocsPayload:
			counts["tickets and docs"] += len(payload.Items)
		default:
			counts["tool results"]++
		}
	}
	if len(counts) == 0 {
		return "Putting together an answer…"
	}
	var parts []string
	for _, label := range []string{"team discussions", "web sources", "tickets and docs", "tool results"} {
		if n := counts[label]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	return "Combining insights from " + strings.Join(parts, ", ") + "…"
}

// keyFindings scans successful results per family and extracts up to five
// short factual lines.
func keyFindings(results []tools.Result) []string {
	const maxFindings = 5
	var findings []string
	add := func(s string) {
		if s != "" && len(findings) < maxFindings {
			findings = append(findings, s)
		}
	}

	for _, result := range results {
		if !result.Success {
			continue
		}
		switch payload := result.Payload.(type) {
		case tools.SemanticPayload:
			for _, item := range payload.Items {
				if len(findings) >= maxFindings {
					break
				}
				add(shorten(item.Content, 140))
			}
		case tools.WebPayload:
			add(shorten(firstSentence(payload.Content), 140))
		case tools.DocsPayload:
			for _, item := range payload.Items {
				if len(findings) >= maxFindings {
					break
				}
				line := item.Title
				if item.Summary != "" {
					line += " — " + item.Summary
				}
				add(shorten(line, 140))
			}
		}
	}
	return findings
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range []string{". ", ".\n"} {
		if idx := strings.Index(s, sep); idx > 0 {
			return s[:idx+1]
		}
	}
	return s
}

// sourceLinks collects provenance from citations and structured items,
// deduplicated by URL and capped at five.
func sourceLinks(results []tools.Result) []SourceLink {
	const maxLinks = 5
	seen := make(map[string]bool)
	var links []SourceLink
	add := func(link SourceLink) {
		if link.URL == "" || seen[link.URL] || len(links) >= maxLinks {
			return
		}
		if link.Title == "" {
			link.Title = link.URL
		}
		seen[link.URL] = true
		links = append(links, link)
	}

	for _, result := range results {
		if !result.Success {
			continue
		}
		for _, c := range result.Citations {
			add(SourceLink{Title: c.Title, URL: c.URL, Type: "web"})
		}
		if payload, ok := result.Payload.(tools.DocsPayload); ok {
			for _, item := range payload.Items {
				add(SourceLink{Title: item.Title, URL: item.URL, Type: item.Type})
			}
		}
	}
	return links
}

// assessConfidence applies the fixed success-rate/substance table.
func assessConfidence(results []tools.Result) string {
	if len(results) == 0 {
		// No tools were needed; a conversational answer is fine.
		return ConfidenceMedium
	}

	rate := float64(successCount(results)) / float64(len(results))
	substantive := hasSubstantiveContent(results)

	switch {
	case rate >= 0.8 && substantive:
		return ConfidenceHigh
	case rate >= 0.5 || substantive:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func successCount(results []tools.Result) int {
	n := 0
	for _, result := range results {
		if result.Success {
			n++
		}
	}
	return n
}

func hasSubstantiveContent(results []tools.Result) bool {
	for _, result := range results {
		if !result.Success {
			continue
		}
		switch payload := result.Payload.(type) {
		case tools.SemanticPayload:
			if len(payload.Items) > 0 {
				return true
			}
		case tools.WebPayload:
			if len(payload.Content) > 40 {
				return true
			}
		case tools.DocsPayload:
			if len(payload.Items) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// followupsMarker is the line the synthesis prompt asks the model to emit
// before its own follow-up suggestions.
const followupsMarker = "Suggested follow-ups:"

// splitFollowups strips the trailing follow-ups section from a synthesized
// answer, returning the prose body and the model's questions. A missing or
// malformed section leaves the text untouched.
func splitFollowups(text string) (string, []string) {
	lines := strings.Split(text, "\n")
	marker := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.EqualFold(strings.TrimSpace(lines[i]), followupsMarker) {
			marker = i
			break
		}
	}
	if marker < 0 {
		return text, nil
	}

	var questions []string
	for _, line := range lines[marker+1:] {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "• ")
		if line != "" {
			questions = append(questions, line)
		}
	}
	return strings.TrimSpace(strings.Join(lines[:marker], "\n")), questions
}

// followups merges the model's own suggestions with the orchestrator's
// result-driven ones, deduplicated case-insensitively and capped at four.
// Model questions go first; they know the answer they follow.
func (r *run) followups(results []tools.Result, fromModel []string) []string {
	const maxFollowups = 4
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" || seen[key] || len(out) >= maxFollowups {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	for _, q := range fromModel {
		add(q)
	}
	for _, result := range results {
		if !result.Success {
			continue
		}
		switch payload := result.Payload.(type) {
		case tools.DocsPayload:
			for _, item := range payload.Items {
				if item.Type == "jira" {
					add("Want me to pull the full history of " + item.Title + "?")
					break
				}
			}
		case tools.WebPayload:
			add("Should I keep an eye on how this develops?")
		case tools.SemanticPayload:
			if len(payload.Items) > 0 {
				add("Want more detail on any of these past discussions?")
			}
		}
	}
	add("Anything else I can dig into?")
	return out
}

func executionSummary(steps []ExecutionStep) string {
	if len(steps) == 0 {
		return "answered directly without tools"
	}
	completed := 0
	for _, step := range steps {
		if step.Status == StepCompleted {
			completed++
		}
	}
	return fmt.Sprintf("%d of %d tool steps completed", completed, len(steps))
}

// leakPatterns are the raw-JSON signatures that must never reach the user.
var leakPatterns = []string{`"limit":`, `"arguments"`, `"mcp_tool"`}

// sanitizeAnswer guards against planner-JSON leaking into the answer text.
// On detection the text is replaced with an apology plus a best-effort
// summary from the key findings.
func sanitizeAnswer(text string, findings []string) string {
	leaked := false
	for _, pattern := range leakPatterns {
		if strings.Contains(text, pattern) {
			leaked = true
			break
		}
	}
	if !leaked {
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "{") {
				leaked = true
				break
			}
		}
	}
	if !leaked {
		return text
	}

	slog.Warn("Answer text contained raw JSON patterns, replacing with summary")
	replacement := apologyText
	if len(findings) > 0 {
		replacement += " Here is a summary of what I found: " + strings.Join(findings, " ")
	}
	return replacement
}
