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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maestroworks/maestro/pkg/entity"
	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
)

const extractorSystemPrompt = `You extract structured entities from a chat exchange for an engineering team assistant.
Return a JSON array only, no prose and no code fences. Each element:
{"type": "...", "value": "...", "context": "...", "relevance": 0.0, "aliases": ["..."]}
Valid types: jira_ticket, project, person, deadline, document, url, metric, technology, other.
relevance is 0 to 10. Extract only facts worth remembering across conversations.
Return [] when nothing qualifies.`

// maxParseRetries bounds the self-correction loop after invalid JSON.
const maxParseRetries = 2

type llmEntity struct {
	Type      string   `json:"type"`
	Value     string   `json:"value"`
	Context   string   `json:"context"`
	Relevance float64  `json:"relevance"`
	Aliases   []string `json:"aliases"`
}

var validTypes = map[entity.Type]bool{
	entity.TypeJiraTicket: true,
	entity.TypeProject:    true,
	entity.TypePerson:     true,
	entity.TypeDeadline:   true,
	entity.TypeDocument:   true,
	entity.TypeURL:        true,
	entity.TypeMetric:     true,
	entity.TypeTechnology: true,
	entity.TypeOther:      true,
}

// extract mines one exchange: pattern extraction always runs, the LLM pass
// augments when a model is wired. The two outputs are merged into a single
// batch so storage sees exactly one write per key.
func (p *Pool) extract(ctx context.Context, j memory.ExtractJob) []entity.Entity {
	text := j.Query + "\n" + j.Answer
	batch := entity.ExtractPatternEntities(text, j.ConversationID, j.Context)

	if p.model != nil {
		aiBatch, err := p.llmExtract(ctx, j)
		if err != nil {
			slog.Warn("LLM entity pass contributed nothing",
				"conversation", j.ConversationID.String(),
				"error", err)
		} else {
			batch = append(batch, aiBatch...)
		}
	}

	return entity.DedupeMerge(batch, 0)
}

// llmExtract runs the model pass with up to two self-correction re-prompts:
// each retry carries the invalid output and the parser error back to the
// model.
func (p *Pool) llmExtract(ctx context.Context, j memory.ExtractJob) ([]entity.Entity, error) {
	input := extractorInput(j)

	prompt := input
	var lastErr error
	for attempt := 0; attempt <= maxParseRetries; attempt++ {
		raw, err := p.model.Generate(ctx, llms.TierCheap, llms.Request{
			System: extractorSystemPrompt,
			User:   prompt,
		})
		if err != nil {
			return nil, err
		}

		parsed, err := parseEntityJSON(raw)
		if err == nil {
			return toEntities(parsed, j), nil
		}
		lastErr = err
		prompt = fmt.Sprintf("%s\n\nYour previous output was not valid JSON.\nOutput:\n%s\nError: %v\nReturn only the corrected JSON array.", input, raw, err)
	}
	return nil, lastErr
}

func extractorInput(j memory.ExtractJob) string {
	var sb strings.Builder
	if j.UserName != "" {
		sb.WriteString("User name: ")
		sb.WriteString(j.UserName)
		sb.WriteString("\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(j.Query)
	sb.WriteString("\nAnswer: ")
	sb.WriteString(j.Answer)
	return sb.String()
}

func parseEntityJSON(raw string) ([]llmEntity, error) {
	cleaned := stripCodeFence(raw)
	var parsed []llmEntity
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("invalid entity JSON: %w", err)
	}
	return parsed, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

func toEntities(parsed []llmEntity, j memory.ExtractJob) []entity.Entity {
	out := make([]entity.Entity, 0, len(parsed))
	for _, le := range parsed {
		value := strings.TrimSpace(le.Value)
		if value == "" {
			continue
		}
		t := entity.Type(strings.ToLower(strings.TrimSpace(le.Type)))
		if !validTypes[t] {
			t = entity.TypeOther
		}
		score := le.Relevance
		if score < 0 {
			score = 0
		}
		if score > 10 {
			score = 10
		}
		ectx := strings.TrimSpace(le.Context)
		if ectx == "" {
			ectx = j.Context
		}
		e := entity.New(t, value, ectx, j.ConversationID, score, "ai:llm")
		if len(le.Aliases) > 0 {
			e = e.WithAliases(le.Aliases...)
		}
		out = append(out, e)
	}
	return out
}
