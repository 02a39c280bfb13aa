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

// Package tokens provides precise token accounting: counting, turn
// formatting, and budget-respecting window construction over chat turns.
package tokens

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/maestroworks/maestro/pkg/conversation"
)

// ============================================================================
// TOKEN COUNTING
// ============================================================================

// Accountant counts tokens under a fixed tokenizer and derives formatted,
// token-annotated views of chat turns. It is stateless after construction
// and safe to share between requests.
type Accountant struct {
	tokenizerID string
	encoding    *tiktoken.Tiktoken
	botNames    map[string]bool
}

var (
	// Cache encodings to avoid repeated initialization
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewAccountant builds an Accountant for the given tokenizer id (an encoding
// name like "cl100k_base" or a model name). botNames lists author names that
// should be labeled as the assistant. Construction never fails: when no
// encoding can be resolved the accountant degrades to character estimation
// and logs a warning.
func NewAccountant(tokenizerID string, botNames []string) *Accountant {
	names := make(map[string]bool, len(botNames))
	for _, n := range botNames {
		names[strings.ToLower(strings.TrimSpace(n))] = true
	}

	encoding, err := resolveEncoding(tokenizerID)
	if err != nil {
		slog.Warn("Token encoding unavailable, degrading to character estimation",
			"tokenizer", tokenizerID,
			"error", err)
	}

	return &Accountant{
		tokenizerID: tokenizerID,
		encoding:    encoding,
		botNames:    names,
	}
}

func resolveEncoding(tokenizerID string) (*tiktoken.Tiktoken, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[tokenizerID]
	cacheMu.RUnlock()
	if exists {
		return cached, nil
	}

	encoding, err := tiktoken.GetEncoding(tokenizerID)
	if err != nil {
		encoding, err = tiktoken.EncodingForModel(tokenizerID)
	}
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	encodingCache[tokenizerID] = encoding
	cacheMu.Unlock()

	return encoding, nil
}

// Count returns the token count for text. It never panics; any counting
// failure degrades to the character estimate.
func (a *Accountant) Count(text string) (n int) {
	if a == nil || a.encoding == nil {
		return EstimateTokens(text)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Token counting failed, using character estimate", "cause", r)
			n = EstimateTokens(text)
		}
	}()

	return len(a.encoding.Encode(text, nil, nil))
}

// CountWindow re-counts a built window turn by turn, so the total matches
// the sum of the per-turn counts even when a turn's text spans multiple
// lines.
func (a *Accountant) CountWindow(kept []TokenizedTurn) int {
	total := 0
	for _, tt := range kept {
		total += a.Count(tt.Formatted)
	}
	return total
}

// TokenizerID returns the tokenizer this accountant was configured with.
func (a *Accountant) TokenizerID() string {
	return a.tokenizerID
}

// EstimateTokens is the rough 4-characters-per-token estimate used when no
// encoding is available.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ============================================================================
// TURN FORMATTING
// ============================================================================

// TokenizedTurn is the formatted, token-annotated view of a Turn.
type TokenizedTurn struct {
	Turn      conversation.Turn
	Label     string // "User" or "Assistant"
	Formatted string // Label + ": " + text
	Tokens    int
}

// TokenizeTurn derives the speaker-labeled view of a turn. The label is
// "Assistant" when the turn is marked as assistant speech, the author is a
// bot, or the author name is in the configured bot-name set.
func (a *Accountant) TokenizeTurn(turn conversation.Turn) TokenizedTurn {
	label := "User"
	if turn.Speaker == conversation.SpeakerAssistant {
		label = "Assistant"
	} else if turn.Author != nil {
		if turn.Author.IsBot || a.botNames[strings.ToLower(strings.TrimSpace(turn.Author.Name))] {
			label = "Assistant"
		}
	}

	formatted := label + ": " + turn.Text
	return TokenizedTurn{
		Turn:      turn,
		Label:     label,
		Formatted: formatted,
		Tokens:    a.Count(formatted),
	}
}

// ============================================================================
// HELPERS
// ============================================================================

// EncodingNameFor maps a model name to its tiktoken encoding name, with
// prefix matching for versioned model ids.
func EncodingNameFor(model string) string {
	encodingMap := map[string]string{
		"gpt-4":              "cl100k_base",
		"gpt-4-turbo":        "cl100k_base",
		"gpt-4o":             "o200k_base",
		"gpt-4o-mini":        "o200k_base",
		"gpt-3.5-turbo":      "cl100k_base",
		"text-embedding-ada": "cl100k_base",
		"claude":             "cl100k_base",
		"gemini":             "cl100k_base",
	}

	if encoding, exists := encodingMap[model]; exists {
		return encoding
	}

	// Longest matching prefix wins so "gpt-4o-*" resolves via "gpt-4o",
	// not "gpt-4".
	best, bestLen := "", 0
	for modelPrefix, encoding := range encodingMap {
		if strings.HasPrefix(model, modelPrefix) && len(modelPrefix) > bestLen {
			best, bestLen = encoding, len(modelPrefix)
		}
	}
	if best != "" {
		return best
	}

	return "cl100k_base"
}
