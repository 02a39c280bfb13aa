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

package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestroworks/maestro/pkg/conversation"
	"github.com/maestroworks/maestro/pkg/entity"
	"github.com/maestroworks/maestro/pkg/kv"
	"github.com/maestroworks/maestro/pkg/tokens"
)

type recordingTasks struct {
	summarize []SummarizeJob
	extract   []ExtractJob
	reject    bool
}

func (r *recordingTasks) EnqueueSummarize(job SummarizeJob) bool {
	if r.reject {
		return false
	}
	r.summarize = append(r.summarize, job)
	return true
}

func (r *recordingTasks) EnqueueExtract(job ExtractJob) bool {
	if r.reject {
		return false
	}
	r.extract = append(r.extract, job)
	return true
}

func newTestManager(t *testing.T, cfg Config) (*Manager, kv.Store) {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	entities := entity.NewStore(store, entity.Config{})
	accountant := tokens.NewAccountant("cl100k_base", []string{"maestro"})

	mgr, err := NewManager(store, entities, accountant, cfg)
	require.NoError(t, err)
	return mgr, store
}

func testCID() conversation.ID {
	return conversation.ID{ChannelID: "C42", ThreadTS: "1724500000.000100"}
}

func makeTurn(cid conversation.ID, speaker conversation.Speaker, text string, seq int) conversation.Turn {
	return conversation.Turn{
		TurnID:         fmt.Sprintf("t%d", seq),
		ConversationID: cid,
		Speaker:        speaker,
		Text:           text,
		CreatedAt:      time.Date(2026, 8, 25, 10, 0, seq, 0, time.UTC),
	}
}

func TestEmptyConversationHistory(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	cid := testCID()

	history, err := mgr.HybridHistory(context.Background(), cid, "Hey buddy")
	require.NoError(t, err)

	assert.Empty(t, history.SummaryText)
	assert.Equal(t, 0, history.SummaryTurnCount)
	assert.Equal(t, "User: Hey buddy", history.LiveWindowText)
	assert.Equal(t, 1, history.LiveTurnCount)
	assert.Positive(t, history.LiveTokenCount)
}

func TestAppendAndHistoryRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	cid := testCID()
	ctx := context.Background()

	require.NoError(t, mgr.AppendTurn(ctx, cid, makeTurn(cid, conversation.SpeakerUser, "what shipped last week?", 1)))
	require.NoError(t, mgr.AppendTurn(ctx, cid, makeTurn(cid, conversation.SpeakerAssistant, "The search rollout shipped.", 2)))

	history, err := mgr.HybridHistory(ctx, cid, "and this week?")
	require.NoError(t, err)

	lines := strings.Split(history.LiveWindowText, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "User: what shipped last week?", lines[0])
	assert.Equal(t, "Assistant: The search rollout shipped.", lines[1])
	assert.Equal(t, "User: and this week?", lines[2])
	assert.Equal(t, 3, history.LiveTurnCount)
}

func TestHotStoreBoundedToCap(t *testing.T) {
	mgr, _ := newTestManager(t, Config{MaxLiveTurns: 4, HotStoreCap: 4, MaxLiveTokens: 100000})
	cid := testCID()
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		turn := makeTurn(cid, conversation.SpeakerUser, fmt.Sprintf("message %d", i), i)
		require.NoError(t, mgr.AppendTurn(ctx, cid, turn))
	}

	turns, err := mgr.RecentTurns(ctx, cid, 10)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, "message 4", turns[0].Text)
	assert.Equal(t, "message 7", turns[3].Text)
	assert.Equal(t, int64(7), turns[3].Seq)
}

func TestHotStoreRetainsTurnsBeyondLiveWindow(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	cid := testCID()
	ctx := context.Background()

	// Twelve committed turns exceed the ten-turn window, but the ring must
	// keep all of them until the summarizer has covered the overflow.
	for i := 1; i <= 12; i++ {
		turn := makeTurn(cid, conversation.SpeakerUser, fmt.Sprintf("note %d", i), i)
		require.NoError(t, mgr.AppendTurn(ctx, cid, turn))
	}

	turns, err := mgr.RecentTurns(ctx, cid, 30)
	require.NoError(t, err)
	require.Len(t, turns, 12)
	assert.Equal(t, "note 1", turns[0].Text)
	assert.Equal(t, int64(1), turns[0].Seq)
	assert.Equal(t, int64(12), turns[11].Seq)
}

func TestLiveWindowNeverExceedsMaxLiveTurns(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	cid := testCID()
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		turn := makeTurn(cid, conversation.SpeakerUser, fmt.Sprintf("short message %d", i), i)
		require.NoError(t, mgr.AppendTurn(ctx, cid, turn))
	}

	history, err := mgr.HybridHistory(ctx, cid, "what did I miss?")
	require.NoError(t, err)

	// The synthetic current turn counts against the cap too.
	assert.LessOrEqual(t, history.LiveTurnCount, 10)
	assert.Equal(t, 10, history.LiveTurnCount)
	lines := strings.Split(history.LiveWindowText, "\n")
	assert.Equal(t, "User: what did I miss?", lines[len(lines)-1])
}

func TestShortTurnsStillReachTheSummarizer(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	tasks := &recordingTasks{}
	mgr.SetBackgroundTasks(tasks)
	cid := testCID()
	ctx := context.Background()

	// Far below the token budget: eviction here is count-driven.
	for i := 1; i <= 12; i++ {
		turn := makeTurn(cid, conversation.SpeakerUser, fmt.Sprintf("short message %d", i), i)
		require.NoError(t, mgr.AppendTurn(ctx, cid, turn))
	}

	history, err := mgr.HybridHistory(ctx, cid, "what did I miss?")
	require.NoError(t, err)

	require.Len(t, tasks.summarize, 1)
	job := tasks.summarize[0]
	require.Len(t, job.Evicted, 3)
	assert.Equal(t, "short message 1", job.Evicted[0].Text)
	assert.Equal(t, int64(3), job.Evicted[2].Seq)
	assert.Equal(t, 3, history.SummaryTurnCount)
	assert.Contains(t, history.SummaryText, "short message 1")
}

func TestCoveredTurnsNotResummarized(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	tasks := &recordingTasks{}
	mgr.SetBackgroundTasks(tasks)
	cid := testCID()
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		turn := makeTurn(cid, conversation.SpeakerUser, fmt.Sprintf("short message %d", i), i)
		require.NoError(t, mgr.AppendTurn(ctx, cid, turn))
	}

	_, err := mgr.HybridHistory(ctx, cid, "first request")
	require.NoError(t, err)
	require.Len(t, tasks.summarize, 1)

	// The summarizer lands its rewrite; the evicted turns are still in the
	// ring but must not be offered for summarization again.
	job := tasks.summarize[0]
	covered := int(job.Evicted[len(job.Evicted)-1].Seq)
	require.NoError(t, mgr.ApplySummary(ctx, cid, conversation.LongTermSummary{
		Text:             "Early pleasantries and status notes.",
		CoveredTurnCount: covered,
	}))

	history, err := mgr.HybridHistory(ctx, cid, "second request")
	require.NoError(t, err)

	assert.Len(t, tasks.summarize, 1)
	assert.Equal(t, "Early pleasantries and status notes.", history.SummaryText)
	assert.Equal(t, covered, history.SummaryTurnCount)
}

func TestEvictionEnqueuesSummarizer(t *testing.T) {
	mgr, _ := newTestManager(t, Config{MaxLiveTokens: 60})
	tasks := &recordingTasks{}
	mgr.SetBackgroundTasks(tasks)
	cid := testCID()
	ctx := context.Background()

	long := strings.Repeat("deployment notes and follow-ups ", 10)
	for i := 1; i <= 6; i++ {
		require.NoError(t, mgr.AppendTurn(ctx, cid, makeTurn(cid, conversation.SpeakerUser, long, i)))
	}

	history, err := mgr.HybridHistory(ctx, cid, "summarize the thread")
	require.NoError(t, err)

	require.Len(t, tasks.summarize, 1)
	job := tasks.summarize[0]
	assert.Equal(t, cid, job.ConversationID)
	assert.GreaterOrEqual(t, len(job.Evicted), 2)

	// The interim summary stubs the evicted turns until the abstractive
	// rewrite lands.
	assert.Contains(t, history.SummaryText, "User: ")
	assert.Contains(t, history.SummaryText, "…")
	assert.Equal(t, len(job.Evicted), history.SummaryTurnCount)
}

func TestSummarizerNeverSeesCurrentUserText(t *testing.T) {
	mgr, _ := newTestManager(t, Config{MaxLiveTokens: 60})
	tasks := &recordingTasks{}
	mgr.SetBackgroundTasks(tasks)
	cid := testCID()
	ctx := context.Background()

	long := strings.Repeat("retro action items ", 15)
	for i := 1; i <= 6; i++ {
		require.NoError(t, mgr.AppendTurn(ctx, cid, makeTurn(cid, conversation.SpeakerUser, long, i)))
	}

	_, err := mgr.HybridHistory(ctx, cid, "the current question")
	require.NoError(t, err)

	require.NotEmpty(t, tasks.summarize)
	for _, turn := range tasks.summarize[0].Evicted {
		assert.NotEqual(t, "the current question", turn.Text)
	}
}

func TestSingleOversizedTurnIsPreserved(t *testing.T) {
	mgr, _ := newTestManager(t, Config{MaxLiveTokens: 50})
	cid := testCID()
	ctx := context.Background()

	huge := strings.Repeat("stack trace line with frames and addresses ", 40)
	require.NoError(t, mgr.AppendTurn(ctx, cid, makeTurn(cid, conversation.SpeakerUser, huge, 1)))

	history, err := mgr.HybridHistory(ctx, cid, "what does this error mean?")
	require.NoError(t, err)

	assert.True(t, history.OverBudget)
	assert.Contains(t, history.LiveWindowText, "stack trace line")
	assert.Greater(t, history.LiveTokenCount, 50)
}

func TestCommitExchangeEnqueuesExtraction(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	tasks := &recordingTasks{}
	mgr.SetBackgroundTasks(tasks)
	cid := testCID()
	ctx := context.Background()

	userTurn := makeTurn(cid, conversation.SpeakerUser, "status of AUTOPILOT-123?", 1)
	userTurn.Author = &conversation.AuthorMeta{Name: "dana"}
	assistantTurn := makeTurn(cid, conversation.SpeakerAssistant, "AUTOPILOT-123 is in review.", 2)

	require.NoError(t, mgr.CommitExchange(ctx, cid, userTurn, assistantTurn))

	require.Len(t, tasks.extract, 1)
	job := tasks.extract[0]
	assert.Equal(t, "status of AUTOPILOT-123?", job.Query)
	assert.Equal(t, "AUTOPILOT-123 is in review.", job.Answer)
	assert.Equal(t, "dana", job.UserName)

	turns, err := mgr.RecentTurns(ctx, cid, 10)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestCommitExchangeSurvivesFullQueue(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	mgr.SetBackgroundTasks(&recordingTasks{reject: true})
	cid := testCID()

	err := mgr.CommitExchange(context.Background(), cid,
		makeTurn(cid, conversation.SpeakerUser, "hello", 1),
		makeTurn(cid, conversation.SpeakerAssistant, "hi", 2))
	assert.NoError(t, err)
}

func TestApplySummaryMonotonicCoverage(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})
	cid := testCID()
	ctx := context.Background()

	first := conversation.LongTermSummary{Text: "Covered the rollout discussion.", CoveredTurnCount: 4}
	require.NoError(t, mgr.ApplySummary(ctx, cid, first))

	stale := conversation.LongTermSummary{Text: "Older view.", CoveredTurnCount: 2}
	require.NoError(t, mgr.ApplySummary(ctx, cid, stale))

	stored, err := mgr.LongTermSummary(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, "Covered the rollout discussion.", stored.Text)
	assert.Equal(t, 4, stored.CoveredTurnCount)

	newer := conversation.LongTermSummary{Text: "Rollout plus the incident follow-up.", CoveredTurnCount: 7}
	require.NoError(t, mgr.ApplySummary(ctx, cid, newer))

	stored, err = mgr.LongTermSummary(ctx, cid)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.CoveredTurnCount)
	assert.False(t, stored.LastUpdated.IsZero())
}

func TestHistoryIncludesRelevantEntities(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	cid := testCID()
	ctx := context.Background()

	entities := entity.NewStore(store, entity.Config{})
	e := entity.New(entity.TypeJiraTicket, "AUTOPILOT-123", "tracked in the rollout thread", cid, 5.0, "pattern")
	require.NoError(t, entities.Store(ctx, []entity.Entity{e}, cid))

	history, err := mgr.HybridHistory(ctx, cid, "any update on AUTOPILOT-123?")
	require.NoError(t, err)

	require.Len(t, history.RelevantEntities, 1)
	assert.Equal(t, "AUTOPILOT-123", history.RelevantEntities[0].Value)
}

func TestHistoryDegradesWithoutEntityStore(t *testing.T) {
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	accountant := tokens.NewAccountant("cl100k_base", nil)

	mgr, err := NewManager(store, nil, accountant, Config{})
	require.NoError(t, err)

	history, err := mgr.HybridHistory(context.Background(), testCID(), "anything about PROJ-9?")
	require.NoError(t, err)
	assert.Empty(t, history.RelevantEntities)
	assert.NotEmpty(t, history.LiveWindowText)
}

func TestInterimSummaryStubs(t *testing.T) {
	cid := testCID()
	long := strings.Repeat("x", 150)
	evicted := []conversation.Turn{
		makeTurn(cid, conversation.SpeakerUser, long, 1),
		makeTurn(cid, conversation.SpeakerAssistant, "short reply", 2),
	}

	text := InterimSummary("Existing narrative.", evicted, 100)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Existing narrative.", lines[0])
	assert.Equal(t, "User: "+long[:100]+"…", lines[1])
	assert.Equal(t, "Assistant: short reply", lines[2])
}

func TestInterimSummaryStubsKeepRunesIntact(t *testing.T) {
	cid := testCID()
	accented := strings.Repeat("é", 150)
	evicted := []conversation.Turn{
		makeTurn(cid, conversation.SpeakerUser, accented, 1),
	}

	text := InterimSummary("", evicted, 100)
	require.True(t, utf8.ValidString(text))
	assert.Equal(t, "User: "+strings.Repeat("é", 100)+"…", text)
}

func TestConfigRejectsHotStoreBelowLiveWindow(t *testing.T) {
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	_, err := NewManager(store, nil, tokens.NewAccountant("cl100k_base", nil), Config{
		MaxLiveTurns: 10,
		HotStoreCap:  5,
	})
	assert.Error(t, err)
}

func TestConfigRejectsPreserveAboveCap(t *testing.T) {
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	_, err := NewManager(store, nil, tokens.NewAccountant("cl100k_base", nil), Config{
		MaxLiveTurns:   3,
		PreserveRecent: 5,
	})
	assert.Error(t, err)
}
