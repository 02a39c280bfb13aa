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

package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maestroworks/maestro/pkg/conversation"
	"github.com/maestroworks/maestro/pkg/kv"
)

// Config tunes entity persistence. Zero values fall back to defaults.
type Config struct {
	EntityTTL    time.Duration `yaml:"entity_ttl" json:"entity_ttl"`
	IndexTTL     time.Duration `yaml:"index_ttl" json:"index_ttl"`
	ScoreCeiling float64       `yaml:"score_ceiling" json:"score_ceiling"`
	RecentKeys   int           `yaml:"recent_keys" json:"recent_keys"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.EntityTTL == 0 {
		c.EntityTTL = 30 * 24 * time.Hour
	}
	if c.IndexTTL == 0 {
		c.IndexTTL = 30 * 24 * time.Hour
	}
	if c.ScoreCeiling == 0 {
		c.ScoreCeiling = 10.0
	}
	if c.RecentKeys == 0 {
		c.RecentKeys = 10
	}
}

// Summary aggregates a conversation's entity set.
type Summary struct {
	Total      int          `json:"total"`
	ByType     map[Type]int `json:"by_type"`
	RecentKeys []string     `json:"recent_keys"`
}

// indexRecord is the per-conversation search index: token -> entity keys,
// plus the full key list for summaries.
type indexRecord struct {
	Tokens map[string][]string `json:"tokens"`
	Keys   []string            `json:"keys"`
}

// Store persists entities in the KV surface with per-(conversation, key)
// upsert locks, so concurrent extractors cannot clobber each other's merges.
type Store struct {
	kv  kv.Store
	cfg Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore builds an entity store over the given KV backend.
func NewStore(kvStore kv.Store, cfg Config) *Store {
	cfg.SetDefaults()
	return &Store{
		kv:    kvStore,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

func entityStorageKey(cid, key string) string {
	return "entities:" + cid + ":" + key
}

func indexStorageKey(cid string) string {
	return "entities_index:" + cid
}

// Store upserts a batch for one conversation. The batch is deduplicated
// first so a single call never writes the same key twice; an arriving
// entity merges with any stored record under the dedup rule.
func (s *Store) Store(ctx context.Context, entities []Entity, cid conversation.ID) error {
	if len(entities) == 0 {
		return nil
	}

	batch := DedupeMerge(entities, s.cfg.ScoreCeiling)
	cidStr := cid.String()

	var firstErr error
	stored := make([]Entity, 0, len(batch))
	for _, e := range batch {
		e.ConversationID = cidStr
		merged, err := s.upsert(ctx, cidStr, e)
		if err != nil {
			slog.Warn("Entity upsert failed", "key", e.Key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stored = append(stored, merged)
	}

	if len(stored) > 0 {
		if err := s.updateIndex(ctx, cidStr, stored); err != nil {
			slog.Warn("Entity index update failed", "conversation", cidStr, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (s *Store) upsert(ctx context.Context, cid string, e Entity) (Entity, error) {
	lock := s.lockFor(cid + ":" + e.Key)
	lock.Lock()
	defer lock.Unlock()

	storageKey := entityStorageKey(cid, e.Key)

	existing, err := s.getRaw(ctx, storageKey)
	switch {
	case err == nil:
		e = Merge(existing, e, s.cfg.ScoreCeiling)
	case errors.Is(err, kv.ErrNotFound):
		// first sighting
	default:
		return Entity{}, err
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return Entity{}, fmt.Errorf("failed to marshal entity %s: %w", e.Key, err)
	}
	if err := s.kv.Put(ctx, storageKey, raw, s.cfg.EntityTTL); err != nil {
		return Entity{}, err
	}
	return e, nil
}

func (s *Store) getRaw(ctx context.Context, storageKey string) (Entity, error) {
	raw, err := s.kv.Get(ctx, storageKey)
	if err != nil {
		return Entity{}, err
	}
	var e Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entity{}, fmt.Errorf("corrupt entity record at %s: %w", storageKey, err)
	}
	return e, nil
}

// Get loads one entity by its dedup key.
func (s *Store) Get(ctx context.Context, cid conversation.ID, key string) (Entity, error) {
	return s.getRaw(ctx, entityStorageKey(cid.String(), key))
}

func indexTokens(e Entity) []string {
	seen := make(map[string]bool)
	var tokens []string
	collect := func(text string) {
		for _, w := range patterns.word.FindAllString(text, -1) {
			lw := strings.ToLower(w)
			if !seen[lw] {
				seen[lw] = true
				tokens = append(tokens, lw)
			}
		}
	}
	collect(e.Value)
	for _, a := range e.Aliases {
		collect(a)
	}
	return tokens
}

func (s *Store) updateIndex(ctx context.Context, cid string, entities []Entity) error {
	lock := s.lockFor(cid + ":__index__")
	lock.Lock()
	defer lock.Unlock()

	record, err := s.loadIndex(ctx, cid)
	if err != nil {
		return err
	}

	for _, e := range entities {
		if !containsString(record.Keys, e.Key) {
			record.Keys = append(record.Keys, e.Key)
		}
		for _, token := range indexTokens(e) {
			if !containsString(record.Tokens[token], e.Key) {
				record.Tokens[token] = append(record.Tokens[token], e.Key)
			}
		}
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal entity index: %w", err)
	}
	return s.kv.Put(ctx, indexStorageKey(cid), raw, s.cfg.IndexTTL)
}

func (s *Store) loadIndex(ctx context.Context, cid string) (indexRecord, error) {
	record := indexRecord{Tokens: make(map[string][]string)}

	raw, err := s.kv.Get(ctx, indexStorageKey(cid))
	if errors.Is(err, kv.ErrNotFound) {
		return record, nil
	}
	if err != nil {
		return record, err
	}
	if err := json.Unmarshal(raw, &record); err != nil {
		return indexRecord{Tokens: make(map[string][]string)}, fmt.Errorf("corrupt entity index for %s: %w", cid, err)
	}
	if record.Tokens == nil {
		record.Tokens = make(map[string][]string)
	}
	return record, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Search returns entities matching any keyword, ordered by relevance score
// descending with last_seen as the tie breaker. Keywords match index tokens
// exactly, or by substring for keywords of four or more characters.
func (s *Store) Search(ctx context.Context, keywords []string, cid conversation.ID, limit int) ([]Entity, error) {
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}

	cidStr := cid.String()
	record, err := s.loadIndex(ctx, cidStr)
	if err != nil {
		return nil, err
	}
	if len(record.Keys) == 0 {
		return nil, nil
	}

	candidateKeys := make(map[string]bool)
	for _, kw := range keywords {
		lkw := strings.ToLower(strings.TrimSpace(kw))
		if lkw == "" {
			continue
		}
		for _, key := range record.Tokens[lkw] {
			candidateKeys[key] = true
		}
		if len(lkw) >= 4 {
			for token, keys := range record.Tokens {
				if strings.Contains(token, lkw) {
					for _, key := range keys {
						candidateKeys[key] = true
					}
				}
			}
		}
	}

	var results []Entity
	for key := range candidateKeys {
		e, err := s.getRaw(ctx, entityStorageKey(cidStr, key))
		if err != nil {
			if !errors.Is(err, kv.ErrNotFound) {
				slog.Debug("Skipping unreadable entity during search", "key", key, "error", err)
			}
			continue
		}
		results = append(results, e)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		if !results[i].LastSeen.Equal(results[j].LastSeen) {
			return results[i].LastSeen.After(results[j].LastSeen)
		}
		return results[i].Key < results[j].Key
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ConversationSummary reports totals, per-type counts, and the most
// recently seen keys for one conversation.
func (s *Store) ConversationSummary(ctx context.Context, cid conversation.ID) (Summary, error) {
	cidStr := cid.String()
	record, err := s.loadIndex(ctx, cidStr)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{ByType: make(map[Type]int)}
	var all []Entity
	for _, key := range record.Keys {
		e, err := s.getRaw(ctx, entityStorageKey(cidStr, key))
		if err != nil {
			continue // expired entities linger in the index until it ages out
		}
		all = append(all, e)
	}

	summary.Total = len(all)
	for _, e := range all {
		summary.ByType[e.Type]++
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastSeen.Equal(all[j].LastSeen) {
			return all[i].LastSeen.After(all[j].LastSeen)
		}
		return all[i].Key < all[j].Key
	})
	for i := 0; i < len(all) && i < s.cfg.RecentKeys; i++ {
		summary.RecentKeys = append(summary.RecentKeys, all[i].Key)
	}

	return summary, nil
}
