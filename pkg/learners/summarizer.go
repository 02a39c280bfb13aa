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

package learners

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/maestroworks/maestro/pkg/conversation"
	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
)

const summarizerSystemPrompt = `You compress chat history for an engineering team assistant.
Rewrite the existing summary to also cover the new turns below.
Write one dense narrative paragraph in plain prose. No bullet points, no headings.
Keep concrete details: ticket ids, names, dates, decisions, and unresolved questions.
Return only the summary text.`

// summarize produces the replacement long-term summary for one eviction
// batch: an abstractive rewrite when the model cooperates, the stub
// concatenation fallback when it does not. The evicted turns are read-only
// input; live-window state is never touched from here.
func (p *Pool) summarize(ctx context.Context, j memory.SummarizeJob) conversation.LongTermSummary {
	covered := coveredAfter(j)

	text := ""
	if p.model != nil {
		generated, err := p.model.Generate(ctx, llms.TierCheap, llms.Request{
			System: summarizerSystemPrompt,
			User:   summarizerInput(j.Existing.Text, j.Evicted),
		})
		if err != nil {
			slog.Warn("Abstractive summary failed, falling back to stubs",
				"conversation", j.ConversationID.String(),
				"error", err)
		} else {
			text = strings.TrimSpace(generated)
		}
	}
	if text == "" {
		text = memory.InterimSummary(j.Existing.Text, j.Evicted, p.cfg.StubLength)
	}

	return conversation.LongTermSummary{
		Text:             text,
		CoveredTurnCount: covered,
		LastUpdated:      time.Now().UTC(),
	}
}

// coveredAfter is the coverage watermark once this batch is folded in: the
// last evicted turn's sequence number, or a plain count for turns that were
// recorded without one.
func coveredAfter(j memory.SummarizeJob) int {
	if n := len(j.Evicted); n > 0 && j.Evicted[n-1].Seq > 0 {
		return int(j.Evicted[n-1].Seq)
	}
	return j.Existing.CoveredTurnCount + len(j.Evicted)
}

func summarizerInput(existing string, evicted []conversation.Turn) string {
	var sb strings.Builder
	if existing != "" {
		sb.WriteString("Existing summary:\n")
		sb.WriteString(existing)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New turns:\n")
	for _, t := range evicted {
		label := "User"
		if t.Speaker == conversation.SpeakerAssistant {
			label = "Assistant"
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}
