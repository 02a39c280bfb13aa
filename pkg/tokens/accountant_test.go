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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestroworks/maestro/pkg/conversation"
)

func testTurn(speaker conversation.Speaker, text string) conversation.Turn {
	return conversation.Turn{
		TurnID:         "t-1",
		ConversationID: conversation.ID{ChannelID: "C1", ThreadTS: "123.456"},
		Speaker:        speaker,
		Text:           text,
		CreatedAt:      time.Now(),
	}
}

func TestNewAccountant(t *testing.T) {
	tests := []struct {
		name        string
		tokenizerID string
	}{
		{name: "encoding name", tokenizerID: "cl100k_base"},
		{name: "model name", tokenizerID: "gpt-4o"},
		{name: "unknown id falls back", tokenizerID: "totally-made-up-model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccountant(tt.tokenizerID, nil)
			require.NotNil(t, acc)
			assert.Equal(t, tt.tokenizerID, acc.TokenizerID())
			// Whatever the resolution path, counting must work.
			assert.Greater(t, acc.Count("hello world, this is a token count check"), 0)
		})
	}
}

func TestAccountant_Count(t *testing.T) {
	acc := NewAccountant("cl100k_base", nil)

	tests := []struct {
		name string
		text string
		min  int
		max  int
	}{
		{name: "empty string", text: "", min: 0, max: 0},
		{name: "simple sentence", text: "Hello, world!", min: 3, max: 5},
		{
			name: "longer text",
			text: "This is a longer sentence with more words to count tokens accurately.",
			min:  12,
			max:  18,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count := acc.Count(tt.text)
			assert.GreaterOrEqual(t, count, tt.min)
			assert.LessOrEqual(t, count, tt.max)
		})
	}
}

func TestAccountant_Count_Deterministic(t *testing.T) {
	acc := NewAccountant("cl100k_base", nil)
	text := "Deterministic counting is part of the contract."

	first := acc.Count(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, acc.Count(text))
	}
}

func TestAccountant_Count_EstimateFallback(t *testing.T) {
	// Zero-value accountant has no encoding and must fall back to the
	// character estimate instead of panicking.
	var acc *Accountant
	assert.Equal(t, len("some text here!!")/4, acc.Count("some text here!!"))

	empty := &Accountant{}
	assert.Equal(t, len("abcdefgh")/4, empty.Count("abcdefgh"))
}

func TestAccountant_TokenizeTurn(t *testing.T) {
	acc := NewAccountant("cl100k_base", []string{"Maestro Bot"})

	tests := []struct {
		name      string
		turn      conversation.Turn
		wantLabel string
	}{
		{
			name:      "user speaker",
			turn:      testTurn(conversation.SpeakerUser, "hello"),
			wantLabel: "User",
		},
		{
			name:      "assistant speaker",
			turn:      testTurn(conversation.SpeakerAssistant, "hi there"),
			wantLabel: "Assistant",
		},
		{
			name: "bot author flag wins over user speaker",
			turn: func() conversation.Turn {
				turn := testTurn(conversation.SpeakerUser, "automated reply")
				turn.Author = &conversation.AuthorMeta{Name: "somebot", IsBot: true}
				return turn
			}(),
			wantLabel: "Assistant",
		},
		{
			name: "configured bot name matches case-insensitively",
			turn: func() conversation.Turn {
				turn := testTurn(conversation.SpeakerUser, "status update")
				turn.Author = &conversation.AuthorMeta{Name: "MAESTRO BOT"}
				return turn
			}(),
			wantLabel: "Assistant",
		},
		{
			name: "human author stays user",
			turn: func() conversation.Turn {
				turn := testTurn(conversation.SpeakerUser, "hey")
				turn.Author = &conversation.AuthorMeta{Name: "jordan"}
				return turn
			}(),
			wantLabel: "User",
		},
		{
			name:      "empty text still formats",
			turn:      testTurn(conversation.SpeakerUser, ""),
			wantLabel: "User",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := acc.TokenizeTurn(tt.turn)
			assert.Equal(t, tt.wantLabel, got.Label)
			assert.Equal(t, tt.wantLabel+": "+tt.turn.Text, got.Formatted)
			assert.Equal(t, acc.Count(got.Formatted), got.Tokens)
		})
	}
}

func TestAccountant_CountWindow(t *testing.T) {
	acc := NewAccountant("cl100k_base", nil)

	texts := []string{
		"what is the deployment status?",
		"all three services are green.\ndetails:\n- api ok\n- worker ok",
		"thanks!",
	}
	want := 0
	kept := make([]TokenizedTurn, len(texts))
	for i, text := range texts {
		kept[i] = acc.TokenizeTurn(conversation.Turn{Speaker: conversation.SpeakerUser, Text: text})
		want += kept[i].Tokens
	}

	assert.Equal(t, want, acc.CountWindow(kept))
	assert.Equal(t, 0, acc.CountWindow(nil))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestEncodingNameFor(t *testing.T) {
	tests := []struct {
		model    string
		expected string
	}{
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4", "cl100k_base"},
		{"claude-sonnet-latest", "cl100k_base"},
		{"gemini-pro", "cl100k_base"},
		{"never-heard-of-it", "cl100k_base"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.expected, EncodingNameFor(tt.model))
		})
	}
}
