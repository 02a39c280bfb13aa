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

// Package conversation holds the core chat domain types shared by the
// memory, token accounting, and orchestration packages.
package conversation

import (
	"fmt"
	"time"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ID identifies a conversation: one channel plus the thread (or root
// message) within it.
type ID struct {
	ChannelID string `json:"channel_id" yaml:"channel_id"`
	ThreadTS  string `json:"thread_ts" yaml:"thread_ts"`
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%s", id.ChannelID, id.ThreadTS)
}

func (id ID) IsZero() bool {
	return id.ChannelID == "" && id.ThreadTS == ""
}

// AuthorMeta carries optional author details from the upstream chat service.
type AuthorMeta struct {
	Name  string `json:"name,omitempty"`
	IsBot bool   `json:"is_bot,omitempty"`
}

// Turn is a single committed chat message. Immutable once committed.
type Turn struct {
	TurnID         string      `json:"turn_id"`
	ConversationID ID          `json:"conversation_id"`
	Speaker        Speaker     `json:"speaker"`
	Text           string      `json:"text"`
	CreatedAt      time.Time   `json:"created_at"`
	Author         *AuthorMeta `json:"author,omitempty"`

	// Seq is the 1-based position of the turn within its conversation,
	// assigned at commit time. Summaries cover the prefix 1..CoveredTurnCount,
	// so Seq decides whether a turn still needs summarizing.
	Seq int64 `json:"seq,omitempty"`
}

// LongTermSummary is the dense narrative covering turns that have left the
// live window. CoveredTurnCount is the highest summarized Seq and only ever
// grows.
type LongTermSummary struct {
	Text             string    `json:"summary"`
	CoveredTurnCount int       `json:"covered_turn_count"`
	LastUpdated      time.Time `json:"last_updated"`
}
