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
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestroworks/maestro/pkg/conversation"
	"github.com/maestroworks/maestro/pkg/entity"
	"github.com/maestroworks/maestro/pkg/kv"
	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
	"github.com/maestroworks/maestro/pkg/tokens"
)

// scriptedModel replays canned responses in order; an "ERR" entry yields an
// error instead.
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (m *scriptedModel) Generate(_ context.Context, _ llms.Tier, req llms.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, req.User)
	if len(m.responses) == 0 {
		return "", fmt.Errorf("no scripted response left")
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if next == "ERR" {
		return "", fmt.Errorf("scripted model failure")
	}
	return next, nil
}

func testFixture(t *testing.T) (*memory.Manager, *entity.Store, conversation.ID) {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	entities := entity.NewStore(store, entity.Config{})
	mgr, err := memory.NewManager(store, entities, tokens.NewAccountant("cl100k_base", nil), memory.Config{})
	require.NoError(t, err)
	return mgr, entities, conversation.ID{ChannelID: "C7", ThreadTS: "1724500000.000200"}
}

func evictedTurns(cid conversation.ID, texts ...string) []conversation.Turn {
	out := make([]conversation.Turn, 0, len(texts))
	for i, text := range texts {
		speaker := conversation.SpeakerUser
		if i%2 == 1 {
			speaker = conversation.SpeakerAssistant
		}
		out = append(out, conversation.Turn{
			TurnID:         fmt.Sprintf("t%d", i+1),
			ConversationID: cid,
			Speaker:        speaker,
			Text:           text,
			CreatedAt:      time.Date(2026, 8, 25, 9, 0, i, 0, time.UTC),
		})
	}
	return out
}

func TestSummarizeAbstractive(t *testing.T) {
	mgr, entities, cid := testFixture(t)
	model := &scriptedModel{responses: []string{"The team discussed the rollout and agreed to ship Friday."}}
	pool := NewPool(model, mgr, entities, Config{Workers: 1})

	ok := pool.EnqueueSummarize(memory.SummarizeJob{
		ConversationID: cid,
		Evicted:        evictedTurns(cid, "when do we ship?", "Friday, pending review."),
		Existing:       conversation.LongTermSummary{Text: "Earlier planning talk.", CoveredTurnCount: 3},
	})
	require.True(t, ok)
	pool.Close()

	stored, err := mgr.LongTermSummary(context.Background(), cid)
	require.NoError(t, err)
	assert.Equal(t, "The team discussed the rollout and agreed to ship Friday.", stored.Text)
	assert.Equal(t, 5, stored.CoveredTurnCount)
}

func TestSummarizeAdvancesCoverageToLastSeq(t *testing.T) {
	mgr, entities, cid := testFixture(t)
	model := &scriptedModel{responses: []string{"Shipping moved to Monday after the review slipped."}}
	pool := NewPool(model, mgr, entities, Config{Workers: 1})

	evicted := evictedTurns(cid, "review slipped?", "yes, shipping Monday now.")
	evicted[0].Seq = 6
	evicted[1].Seq = 7

	require.True(t, pool.EnqueueSummarize(memory.SummarizeJob{
		ConversationID: cid,
		Evicted:        evicted,
		Existing:       conversation.LongTermSummary{Text: "Earlier planning talk.", CoveredTurnCount: 3},
	}))
	pool.Close()

	stored, err := mgr.LongTermSummary(context.Background(), cid)
	require.NoError(t, err)

	// Coverage is the last summarized turn's position, not a blind count.
	assert.Equal(t, 7, stored.CoveredTurnCount)
}

func TestSummarizeFallsBackToStubs(t *testing.T) {
	mgr, entities, cid := testFixture(t)
	model := &scriptedModel{responses: []string{"ERR"}}
	pool := NewPool(model, mgr, entities, Config{Workers: 1})

	ok := pool.EnqueueSummarize(memory.SummarizeJob{
		ConversationID: cid,
		Evicted:        evictedTurns(cid, "first question", "first answer"),
	})
	require.True(t, ok)
	pool.Close()

	stored, err := mgr.LongTermSummary(context.Background(), cid)
	require.NoError(t, err)
	assert.Contains(t, stored.Text, "User: first question")
	assert.Contains(t, stored.Text, "Assistant: first answer")
	assert.Equal(t, 2, stored.CoveredTurnCount)
}

func TestSummarizeWithoutModelUsesStubs(t *testing.T) {
	mgr, entities, cid := testFixture(t)
	pool := NewPool(nil, mgr, entities, Config{Workers: 1})

	require.True(t, pool.EnqueueSummarize(memory.SummarizeJob{
		ConversationID: cid,
		Evicted:        evictedTurns(cid, "only turn"),
	}))
	pool.Close()

	stored, err := mgr.LongTermSummary(context.Background(), cid)
	require.NoError(t, err)
	assert.Equal(t, "User: only turn", stored.Text)
}

func TestExtractMergesPatternAndLLM(t *testing.T) {
	mgr, entities, cid := testFixture(t)
	model := &scriptedModel{responses: []string{
		`[{"type": "jira_ticket", "value": "AUTOPILOT-123", "context": "rollout ticket", "relevance": 8.0, "aliases": ["the rollout ticket"]}]`,
	}}
	pool := NewPool(model, mgr, entities, Config{Workers: 1})

	require.True(t, pool.EnqueueExtract(memory.ExtractJob{
		ConversationID: cid,
		Query:          "status of AUTOPILOT-123?",
		Answer:         "AUTOPILOT-123 is in review.",
		Context:        "exchange on 2026-08-25",
	}))
	pool.Close()

	stored, err := entities.Get(context.Background(), cid, entity.KeyFor(entity.TypeJiraTicket, "AUTOPILOT-123"))
	require.NoError(t, err)

	// Pattern and LLM sightings merged into one record before the write.
	assert.Contains(t, stored.ExtractionMethods, "pattern:ticket")
	assert.Contains(t, stored.ExtractionMethods, "ai:llm")
	assert.Contains(t, stored.Aliases, "the rollout ticket")
	assert.Greater(t, stored.RelevanceScore, 8.0)
}

func TestExtractSelfCorrectsInvalidJSON(t *testing.T) {
	mgr, entities, cid := testFixture(t)
	model := &scriptedModel{responses: []string{
		"here are the entities: none really",
		`[{"type": "person", "value": "Dana", "relevance": 5}]`,
	}}
	pool := NewPool(model, mgr, entities, Config{Workers: 1})

	require.True(t, pool.EnqueueExtract(memory.ExtractJob{
		ConversationID: cid,
		Query:          "who owns the migration?",
		Answer:         "Dana owns it.",
	}))
	pool.Close()

	require.Len(t, model.prompts, 2)
	assert.Contains(t, model.prompts[1], "not valid JSON")
	assert.Contains(t, model.prompts[1], "here are the entities")

	stored, err := entities.Get(context.Background(), cid, entity.KeyFor(entity.TypePerson, "Dana"))
	require.NoError(t, err)
	assert.Equal(t, "Dana", stored.Value)
}

func TestExtractGivesUpAfterRetries(t *testing.T) {
	mgr, entities, cid := testFixture(t)
	model := &scriptedModel{responses: []string{"nope", "still nope", "never json"}}
	pool := NewPool(model, mgr, entities, Config{Workers: 1})

	require.True(t, pool.EnqueueExtract(memory.ExtractJob{
		ConversationID: cid,
		Query:          "check PROJ-42 please",
		Answer:         "PROJ-42 is blocked.",
	}))
	pool.Close()

	assert.Len(t, model.prompts, 3)

	// Pattern results still landed.
	stored, err := entities.Get(context.Background(), cid, entity.KeyFor(entity.TypeJiraTicket, "PROJ-42"))
	require.NoError(t, err)
	assert.Contains(t, stored.ExtractionMethods, "pattern:ticket")
}

func TestExtractStripsCodeFences(t *testing.T) {
	parsed, err := parseEntityJSON("```json\n[{\"type\": \"technology\", \"value\": \"redis\"}]\n```")
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, "redis", parsed[0].Value)
}

func TestToEntitiesValidation(t *testing.T) {
	job := memory.ExtractJob{ConversationID: conversation.ID{ChannelID: "C1", ThreadTS: "1"}, Context: "fallback context"}
	out := toEntities([]llmEntity{
		{Type: "spaceship", Value: "Enterprise", Relevance: 99},
		{Type: "person", Value: "   "},
		{Type: "metric", Value: "p99", Relevance: -3},
	}, job)

	require.Len(t, out, 2)
	assert.Equal(t, entity.TypeOther, out[0].Type)
	assert.Equal(t, 10.0, out[0].RelevanceScore)
	assert.Equal(t, "fallback context", out[0].Context)
	assert.Equal(t, 0.0, out[1].RelevanceScore)
}

func TestEnqueueAfterCloseRejected(t *testing.T) {
	mgr, entities, cid := testFixture(t)
	pool := NewPool(nil, mgr, entities, Config{Workers: 1})
	pool.Close()

	assert.False(t, pool.EnqueueSummarize(memory.SummarizeJob{ConversationID: cid}))
	assert.False(t, pool.EnqueueExtract(memory.ExtractJob{ConversationID: cid}))
}

func TestFullQueueRejects(t *testing.T) {
	mgr, entities, cid := testFixture(t)

	// No workers: nothing drains the queue.
	pool := &Pool{cfg: Config{QueueSize: 1}, manager: mgr, entities: entities, jobs: make(chan job, 1)}

	assert.True(t, pool.EnqueueExtract(memory.ExtractJob{ConversationID: cid, Query: "a"}))
	assert.False(t, pool.EnqueueExtract(memory.ExtractJob{ConversationID: cid, Query: "b"}))
}

func TestSummarizerInputShape(t *testing.T) {
	cid := conversation.ID{ChannelID: "C1", ThreadTS: "1"}
	input := summarizerInput("prior summary", evictedTurns(cid, "q", "a"))
	assert.True(t, strings.HasPrefix(input, "Existing summary:\nprior summary"))
	assert.Contains(t, input, "User: q")
	assert.Contains(t, input, "Assistant: a")
}
