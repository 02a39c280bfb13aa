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

package tokens

import (
	"strings"

	"github.com/maestroworks/maestro/pkg/conversation"
)

// Window is the result of budget-respecting window construction: the kept
// suffix, the evicted prefix, and accounting over both. Kept and Evicted
// are in chronological order and partition the input.
type Window struct {
	Kept    []TokenizedTurn
	Evicted []TokenizedTurn
	Stats   WindowStats
}

// WindowStats carries the numbers observability and the memory manager need.
type WindowStats struct {
	KeptTurns     int
	KeptTokens    int
	EvictedTurns  int
	EvictedTokens int
	// OverBudget is set when the preserved recent turns alone exceed the
	// budget. The window is still returned; the caller decides how loudly
	// to complain.
	OverBudget bool
}

// BuildWindow selects the longest suffix of turns whose token total stays
// within maxTokens and whose length stays within maxTurns (0 means no count
// cap). The most recent preserveRecent turns are always kept, budget or
// not. Walking backward from the newest non-preserved turn, a turn is kept
// iff it still fits both caps; the first turn that does not fit evicts
// itself and everything older.
func (a *Accountant) BuildWindow(turns []conversation.Turn, maxTokens, maxTurns, preserveRecent int) Window {
	tokenized := make([]TokenizedTurn, len(turns))
	for i, t := range turns {
		tokenized[i] = a.TokenizeTurn(t)
	}
	return a.buildWindow(tokenized, maxTokens, maxTurns, preserveRecent)
}

// BuildWindowTokenized is BuildWindow over already-tokenized turns.
func (a *Accountant) BuildWindowTokenized(tokenized []TokenizedTurn, maxTokens, maxTurns, preserveRecent int) Window {
	return a.buildWindow(tokenized, maxTokens, maxTurns, preserveRecent)
}

func (a *Accountant) buildWindow(tokenized []TokenizedTurn, maxTokens, maxTurns, preserveRecent int) Window {
	n := len(tokenized)
	if preserveRecent < 0 {
		preserveRecent = 0
	}
	preserved := preserveRecent
	if preserved > n {
		preserved = n
	}

	// floor is the oldest index the window may reach under the count cap.
	// When maxTurns is smaller than preserved, preservation wins: the walk
	// below simply never runs.
	floor := 0
	if maxTurns > 0 && n-maxTurns > 0 {
		floor = n - maxTurns
	}

	running := 0
	for _, tt := range tokenized[n-preserved:] {
		running += tt.Tokens
	}

	keepFrom := n - preserved
	for i := keepFrom - 1; i >= floor; i-- {
		if running+tokenized[i].Tokens > maxTokens {
			break
		}
		running += tokenized[i].Tokens
		keepFrom = i
	}

	kept := append([]TokenizedTurn{}, tokenized[keepFrom:]...)
	evicted := append([]TokenizedTurn{}, tokenized[:keepFrom]...)

	evictedTokens := 0
	for _, tt := range evicted {
		evictedTokens += tt.Tokens
	}

	return Window{
		Kept:    kept,
		Evicted: evicted,
		Stats: WindowStats{
			KeptTurns:     len(kept),
			KeptTokens:    running,
			EvictedTurns:  len(evicted),
			EvictedTokens: evictedTokens,
			OverBudget:    running > maxTokens,
		},
	}
}

// FormatWindow renders kept turns as a newline-joined transcript of
// "Label: text" lines, oldest first.
func FormatWindow(kept []TokenizedTurn) string {
	if len(kept) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, tt := range kept {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(tt.Formatted)
	}
	return sb.String()
}

// ============================================================================
// EFFICIENCY REPORTING
// ============================================================================

// Efficiency compares the cheap character estimate against the precise
// count, for observability of estimation drift.
type Efficiency struct {
	CharEstimate int
	PreciseCount int
	// DriftPct is how far the estimate deviates from the precise count,
	// in percent. Zero when the precise count is zero.
	DriftPct float64
}

// EfficiencyReport builds drift stats from an estimate and a precise count.
func EfficiencyReport(charEstimate, preciseCount int) Efficiency {
	report := Efficiency{
		CharEstimate: charEstimate,
		PreciseCount: preciseCount,
	}
	if preciseCount > 0 {
		report.DriftPct = float64(charEstimate-preciseCount) / float64(preciseCount) * 100
	}
	return report
}
