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

// Package memory composes the token accountant, the entity store, and the
// KV scratch store into the hybrid history the orchestration engine plans
// against: a rolling narrative summary, a token-budgeted live window, and
// the entities relevant to the current request.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maestroworks/maestro/pkg/conversation"
	"github.com/maestroworks/maestro/pkg/entity"
	"github.com/maestroworks/maestro/pkg/kv"
	"github.com/maestroworks/maestro/pkg/tokens"
)

// Config tunes hybrid history construction. Zero values fall back to
// defaults.
type Config struct {
	MaxLiveTurns   int           `yaml:"max_live_turns" json:"max_live_turns"`
	MaxLiveTokens  int           `yaml:"max_live_tokens" json:"max_live_tokens"`
	PreserveRecent int           `yaml:"preserve_recent" json:"preserve_recent"`
	TurnsTTL       time.Duration `yaml:"turns_ttl" json:"turns_ttl"`
	SummaryTTL     time.Duration `yaml:"summary_ttl" json:"summary_ttl"`
	EntityLimit    int           `yaml:"entity_limit" json:"entity_limit"`
	KeywordCap     int           `yaml:"keyword_cap" json:"keyword_cap"`
	StubLength     int           `yaml:"stub_length" json:"stub_length"`

	// HotStoreCap bounds the turn ring in KV. It must be at least
	// MaxLiveTurns: turns that rotate out of the live window stay in the
	// ring until the summarizer has had a chance to cover them.
	HotStoreCap int `yaml:"hot_store_cap" json:"hot_store_cap"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxLiveTurns == 0 {
		c.MaxLiveTurns = 10
	}
	if c.HotStoreCap == 0 {
		c.HotStoreCap = 3 * c.MaxLiveTurns
	}
	if c.MaxLiveTokens == 0 {
		c.MaxLiveTokens = 2000
	}
	if c.PreserveRecent == 0 {
		c.PreserveRecent = 2
	}
	if c.TurnsTTL == 0 {
		c.TurnsTTL = 24 * time.Hour
	}
	if c.SummaryTTL == 0 {
		c.SummaryTTL = 7 * 24 * time.Hour
	}
	if c.EntityLimit == 0 {
		c.EntityLimit = 5
	}
	if c.KeywordCap == 0 {
		c.KeywordCap = 10
	}
	if c.StubLength == 0 {
		c.StubLength = 100
	}
}

// Validate rejects configurations the window builder cannot honor.
func (c *Config) Validate() error {
	if c.PreserveRecent > c.MaxLiveTurns {
		return fmt.Errorf("preserve_recent (%d) exceeds max_live_turns (%d)", c.PreserveRecent, c.MaxLiveTurns)
	}
	if c.HotStoreCap < c.MaxLiveTurns {
		return fmt.Errorf("hot_store_cap (%d) is below max_live_turns (%d)", c.HotStoreCap, c.MaxLiveTurns)
	}
	return nil
}

// HybridHistory is the full context handed to planning.
type HybridHistory struct {
	SummaryText      string          `json:"summary_text"`
	SummaryTurnCount int             `json:"summary_turn_count"`
	LiveWindowText   string          `json:"live_window_text"`
	LiveTurnCount    int             `json:"live_turn_count"`
	LiveTokenCount   int             `json:"live_token_count"`
	RelevantEntities []entity.Entity `json:"relevant_entities,omitempty"`

	// OverBudget is set when the preserved recent turns alone exceed the
	// token budget. The window is still returned; the engine surfaces the
	// warning.
	OverBudget bool `json:"over_budget,omitempty"`
}

// SummarizeJob asks the background summarizer to fold evicted turns into
// the long-term summary. The summarizer must never touch live-window turns.
type SummarizeJob struct {
	ConversationID conversation.ID
	Evicted        []conversation.Turn
	Existing       conversation.LongTermSummary
}

// ExtractJob asks the background entity extractor to mine one completed
// exchange.
type ExtractJob struct {
	ConversationID conversation.ID
	Query          string
	Answer         string
	UserName       string
	Context        string
}

// BackgroundTasks is the asynchronous work surface the manager hands jobs
// to. Enqueue methods report whether the job was accepted; a full or closed
// worker pool drops the job, and the manager carries on.
type BackgroundTasks interface {
	EnqueueSummarize(job SummarizeJob) bool
	EnqueueExtract(job ExtractJob) bool
}

// Manager owns conversation persistence and hybrid history construction.
// All degradable steps degrade independently: a failed entity search still
// yields a history, just without entities.
type Manager struct {
	kv         kv.Store
	entities   *entity.Store
	accountant *tokens.Accountant
	cfg        Config

	tasksMu sync.RWMutex
	tasks   BackgroundTasks

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager builds a memory manager over the given stores.
func NewManager(kvStore kv.Store, entities *entity.Store, accountant *tokens.Accountant, cfg Config) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		kv:         kvStore,
		entities:   entities,
		accountant: accountant,
		cfg:        cfg,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// SetBackgroundTasks wires the worker pool in after construction, breaking
// the manager/worker dependency cycle. Safe to leave unset; background work
// is then skipped.
func (m *Manager) SetBackgroundTasks(tasks BackgroundTasks) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	m.tasks = tasks
}

func (m *Manager) backgroundTasks() BackgroundTasks {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	return m.tasks
}

func (m *Manager) lockFor(cid string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[cid]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[cid] = lock
	}
	return lock
}

func turnsKey(cid string) string {
	return "conv:" + cid + ":turns"
}

func summaryKey(cid string) string {
	return "conv:" + cid + ":long_term_summary"
}

// AppendTurn records one committed turn in the bounded hot store, assigning
// it the next sequence number in the conversation.
func (m *Manager) AppendTurn(ctx context.Context, cid conversation.ID, turn conversation.Turn) error {
	lock := m.lockFor(cid.String())
	lock.Lock()
	defer lock.Unlock()
	return m.appendTurn(ctx, cid, turn)
}

// appendTurn is AppendTurn without locking; the caller holds the per-cid
// lock.
func (m *Manager) appendTurn(ctx context.Context, cid conversation.ID, turn conversation.Turn) error {
	seq, err := m.nextSeq(ctx, cid)
	if err != nil {
		return err
	}
	turn.Seq = seq

	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn %s: %w", turn.TurnID, err)
	}
	return m.kv.AppendBoundedList(ctx, turnsKey(cid.String()), raw, m.cfg.HotStoreCap, m.cfg.TurnsTTL)
}

// nextSeq derives the next turn sequence number from the newest stored turn.
func (m *Manager) nextSeq(ctx context.Context, cid conversation.ID) (int64, error) {
	entries, err := m.kv.ListHead(ctx, turnsKey(cid.String()), 1)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return 0, fmt.Errorf("failed to read turn ring for %s: %w", cid.String(), err)
	}
	if len(entries) == 0 {
		return 1, nil
	}
	var newest conversation.Turn
	if err := json.Unmarshal(entries[0], &newest); err != nil {
		slog.Warn("Corrupt newest turn record, restarting sequence", "conversation", cid.String(), "error", err)
		return 1, nil
	}
	return newest.Seq + 1, nil
}

// CommitExchange records a completed user/assistant pair and enqueues
// background entity extraction over it. The two appends are serialized per
// conversation so interleaved requests cannot split a pair.
func (m *Manager) CommitExchange(ctx context.Context, cid conversation.ID, userTurn, assistantTurn conversation.Turn) error {
	lock := m.lockFor(cid.String())
	lock.Lock()
	err := m.appendTurn(ctx, cid, userTurn)
	if err == nil {
		err = m.appendTurn(ctx, cid, assistantTurn)
	}
	lock.Unlock()
	if err != nil {
		return err
	}

	if tasks := m.backgroundTasks(); tasks != nil {
		userName := ""
		if userTurn.Author != nil {
			userName = userTurn.Author.Name
		}
		accepted := tasks.EnqueueExtract(ExtractJob{
			ConversationID: cid,
			Query:          userTurn.Text,
			Answer:         assistantTurn.Text,
			UserName:       userName,
			Context:        "exchange on " + assistantTurn.CreatedAt.UTC().Format("2006-01-02"),
		})
		if !accepted {
			slog.Debug("Entity extraction queue full, dropping job", "conversation", cid.String())
		}
	}
	return nil
}

// RecentTurns loads up to n committed turns, oldest first. A missing
// conversation yields an empty slice.
func (m *Manager) RecentTurns(ctx context.Context, cid conversation.ID, n int) ([]conversation.Turn, error) {
	entries, err := m.kv.ListHead(ctx, turnsKey(cid.String()), n)
	if err != nil {
		return nil, err
	}

	// ListHead is newest-first; the window builder wants chronological order.
	turns := make([]conversation.Turn, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var t conversation.Turn
		if err := json.Unmarshal(entries[i], &t); err != nil {
			slog.Warn("Skipping corrupt turn record", "conversation", cid.String(), "error", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// LongTermSummary loads the stored narrative summary. A missing record is
// an empty summary, not an error.
func (m *Manager) LongTermSummary(ctx context.Context, cid conversation.ID) (conversation.LongTermSummary, error) {
	raw, err := m.kv.Get(ctx, summaryKey(cid.String()))
	if errors.Is(err, kv.ErrNotFound) {
		return conversation.LongTermSummary{}, nil
	}
	if err != nil {
		return conversation.LongTermSummary{}, err
	}
	var summary conversation.LongTermSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return conversation.LongTermSummary{}, fmt.Errorf("corrupt summary record for %s: %w", cid.String(), err)
	}
	return summary, nil
}

// ApplySummary stores a replacement narrative summary. CoveredTurnCount
// only grows: a stale summary (raced by a newer one) is discarded.
func (m *Manager) ApplySummary(ctx context.Context, cid conversation.ID, summary conversation.LongTermSummary) error {
	lock := m.lockFor(cid.String() + ":summary")
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.LongTermSummary(ctx, cid)
	if err != nil {
		return err
	}
	if summary.CoveredTurnCount <= existing.CoveredTurnCount && existing.CoveredTurnCount > 0 {
		slog.Debug("Discarding stale summary",
			"conversation", cid.String(),
			"covered", summary.CoveredTurnCount,
			"existing", existing.CoveredTurnCount)
		return nil
	}

	if summary.LastUpdated.IsZero() {
		summary.LastUpdated = time.Now().UTC()
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary for %s: %w", cid.String(), err)
	}
	return m.kv.Put(ctx, summaryKey(cid.String()), raw, m.cfg.SummaryTTL)
}

// HybridHistory builds the planning context for one request. currentUserText
// is the not-yet-committed message that triggered the request; it always
// appears as the final "User: …" line of the live window.
func (m *Manager) HybridHistory(ctx context.Context, cid conversation.ID, currentUserText string) (HybridHistory, error) {
	turns, err := m.RecentTurns(ctx, cid, m.cfg.HotStoreCap)
	if err != nil {
		slog.Warn("Failed to load recent turns, continuing with empty window", "conversation", cid.String(), "error", err)
		turns = nil
	}

	summary, err := m.LongTermSummary(ctx, cid)
	if err != nil {
		slog.Warn("Failed to load long-term summary, continuing without it", "conversation", cid.String(), "error", err)
		summary = conversation.LongTermSummary{}
	}

	// The current user message rides along as a synthetic final turn. Being
	// the most recent it sits inside the preserved suffix and can never be
	// evicted, so the summarizer only ever sees committed turns.
	current := conversation.Turn{
		ConversationID: cid,
		Speaker:        conversation.SpeakerUser,
		Text:           currentUserText,
		CreatedAt:      time.Now().UTC(),
	}
	window := m.accountant.BuildWindow(append(turns, current), m.cfg.MaxLiveTokens, m.cfg.MaxLiveTurns, m.cfg.PreserveRecent)

	if window.Stats.OverBudget {
		slog.Warn("Preserved turns alone exceed the live token budget",
			"conversation", cid.String(),
			"tokens", window.Stats.KeptTokens,
			"budget", m.cfg.MaxLiveTokens)
	}

	// Evicted turns the summary already covers were summarized on a prior
	// request; the ring keeps them around until rotation, so they come out
	// of the window again and must not be re-summarized.
	evicted := make([]conversation.Turn, 0, len(window.Evicted))
	for _, tt := range window.Evicted {
		if tt.Turn.Seq == 0 || tt.Turn.Seq > int64(summary.CoveredTurnCount) {
			evicted = append(evicted, tt.Turn)
		}
	}
	if len(evicted) >= 2 {
		if tasks := m.backgroundTasks(); tasks != nil {
			if !tasks.EnqueueSummarize(SummarizeJob{ConversationID: cid, Evicted: evicted, Existing: summary}) {
				slog.Debug("Summarizer queue full, dropping job", "conversation", cid.String())
			}
		}
	}

	interimText := InterimSummary(summary.Text, evicted, m.cfg.StubLength)

	history := HybridHistory{
		SummaryText:      interimText,
		SummaryTurnCount: summary.CoveredTurnCount + len(evicted),
		LiveWindowText:   tokens.FormatWindow(window.Kept),
		LiveTurnCount:    window.Stats.KeptTurns,
		LiveTokenCount:   window.Stats.KeptTokens,
		OverBudget:       window.Stats.OverBudget,
	}

	keywords := entity.ExtractKeywords(currentUserText, m.cfg.KeywordCap)
	if len(keywords) > 0 && m.entities != nil {
		relevant, err := m.entities.Search(ctx, keywords, cid, m.cfg.EntityLimit)
		if err != nil {
			slog.Warn("Entity search failed, returning history without entities", "conversation", cid.String(), "error", err)
		} else {
			history.RelevantEntities = relevant
		}
	}

	return history, nil
}

// InterimSummary extends an existing summary with short stubs of evicted
// turns, keeping coverage until the abstractive rewrite lands.
func InterimSummary(existing string, evicted []conversation.Turn, stubLength int) string {
	if len(evicted) == 0 {
		return existing
	}
	text := existing
	for _, t := range evicted {
		stub := t.Text
		if runes := []rune(stub); len(runes) > stubLength {
			stub = string(runes[:stubLength]) + "…"
		}
		label := "User"
		if t.Speaker == conversation.SpeakerAssistant {
			label = "Assistant"
		}
		if text != "" {
			text += "\n"
		}
		text += label + ": " + stub
	}
	return text
}
