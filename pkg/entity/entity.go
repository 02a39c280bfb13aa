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

// Package entity stores, deduplicates, and retrieves typed facts extracted
// from conversation turns, keyed and indexed per conversation.
package entity

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/maestroworks/maestro/pkg/conversation"
)

// Type classifies an extracted fact.
type Type string

const (
	TypeJiraTicket Type = "jira_ticket"
	TypeProject    Type = "project"
	TypePerson     Type = "person"
	TypeDeadline   Type = "deadline"
	TypeDocument   Type = "document"
	TypeURL        Type = "url"
	TypeMetric     Type = "metric"
	TypeTechnology Type = "technology"
	TypeOther      Type = "other"
)

// Entity is one deduplicated fact within a conversation. Aliases are stored
// lowercased; ExtractionMethods is kept as a sorted set.
type Entity struct {
	Key               string            `json:"key"`
	Type              Type              `json:"type"`
	Value             string            `json:"value"`
	Context           string            `json:"context,omitempty"`
	ConversationID    string            `json:"conversation_id"`
	RelevanceScore    float64           `json:"relevance_score"`
	Aliases           []string          `json:"aliases,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ExtractionMethods []string          `json:"extraction_methods,omitempty"`
	FirstSeen         time.Time         `json:"first_seen"`
	LastSeen          time.Time         `json:"last_seen"`
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeValue canonicalizes an entity value for key derivation: trimmed,
// inner whitespace collapsed, lowercased. Ticket ids are uppercased instead
// so "abc-123" and "ABC-123" collide.
func NormalizeValue(t Type, value string) string {
	v := whitespaceRe.ReplaceAllString(strings.TrimSpace(value), " ")
	if t == TypeJiraTicket {
		return strings.ToUpper(v)
	}
	return strings.ToLower(v)
}

// KeyFor derives the deterministic dedup key for a (type, value) pair.
func KeyFor(t Type, value string) string {
	return string(t) + ":" + NormalizeValue(t, value)
}

// New builds an Entity with a derived key and normalized alias set.
func New(t Type, value, context string, cid conversation.ID, score float64, method string) Entity {
	if score < 0 {
		score = 0
	}
	now := time.Now().UTC()
	e := Entity{
		Key:            KeyFor(t, value),
		Type:           t,
		Value:          strings.TrimSpace(value),
		Context:        context,
		ConversationID: cid.String(),
		RelevanceScore: score,
		FirstSeen:      now,
		LastSeen:       now,
	}
	if method != "" {
		e.ExtractionMethods = []string{method}
	}
	return e
}

// WithAliases returns a copy of e with the aliases added (lowercased,
// deduplicated, sorted).
func (e Entity) WithAliases(aliases ...string) Entity {
	e.Aliases = normalizeAliases(append(append([]string{}, e.Aliases...), aliases...))
	return e
}

func normalizeAliases(aliases []string) []string {
	seen := make(map[string]bool, len(aliases))
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func sortedSetUnion(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Merge combines two entities that share a key. The higher-relevance entity
// is primary. The merged record takes the longer context, the union of
// aliases and extraction methods, the longer value, the widest seen span,
// and the secondary's metadata layered over the primary's. When any
// extraction method mentions "ai" the relevance score gets a 1.1x boost,
// capped at scoreCeiling. Metadata conflicts resolve to the secondary and
// are logged, which is the only order-dependent part of the rule.
func Merge(a, b Entity, scoreCeiling float64) Entity {
	primary, secondary := a, b
	if b.RelevanceScore > a.RelevanceScore {
		primary, secondary = b, a
	}

	merged := primary

	if len(secondary.Context) > len(merged.Context) {
		merged.Context = secondary.Context
	}

	merged.Aliases = normalizeAliases(append(append([]string{}, primary.Aliases...), secondary.Aliases...))
	merged.ExtractionMethods = sortedSetUnion(primary.ExtractionMethods, secondary.ExtractionMethods)

	merged.Metadata = make(map[string]string, len(primary.Metadata)+len(secondary.Metadata))
	for k, v := range primary.Metadata {
		merged.Metadata[k] = v
	}
	for k, v := range secondary.Metadata {
		if existing, ok := merged.Metadata[k]; ok && existing != v {
			slog.Debug("Entity metadata conflict, secondary wins",
				"key", merged.Key,
				"field", k)
		}
		merged.Metadata[k] = v
	}
	if len(merged.Metadata) == 0 {
		merged.Metadata = nil
	}

	for _, method := range merged.ExtractionMethods {
		if strings.Contains(strings.ToLower(method), "ai") {
			merged.RelevanceScore = primary.RelevanceScore * 1.1
			if scoreCeiling > 0 && merged.RelevanceScore > scoreCeiling {
				merged.RelevanceScore = scoreCeiling
			}
			break
		}
	}

	// Longer value wins; equal lengths break lexicographically so merge
	// order cannot change the outcome.
	switch {
	case len(secondary.Value) > len(merged.Value):
		merged.Value = secondary.Value
	case len(secondary.Value) == len(merged.Value) && secondary.Value < merged.Value:
		merged.Value = secondary.Value
	}

	if merged.FirstSeen.IsZero() || (!secondary.FirstSeen.IsZero() && secondary.FirstSeen.Before(merged.FirstSeen)) {
		merged.FirstSeen = secondary.FirstSeen
	}
	if secondary.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = secondary.LastSeen
	}

	return merged
}

// DedupeMerge collapses a batch by key using Merge, preserving first-seen
// order of keys.
func DedupeMerge(entities []Entity, scoreCeiling float64) []Entity {
	byKey := make(map[string]Entity, len(entities))
	order := make([]string, 0, len(entities))
	for _, e := range entities {
		if existing, ok := byKey[e.Key]; ok {
			byKey[e.Key] = Merge(existing, e, scoreCeiling)
			continue
		}
		byKey[e.Key] = e
		order = append(order, e.Key)
	}

	out := make([]Entity, 0, len(order))
	for _, key := range order {
		out = append(out, byKey[key])
	}
	return out
}
