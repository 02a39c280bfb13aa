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

package kv

import (
	"context"
	"sync"
	"time"
)

// memoryEntry holds one value or list plus its expiry.
type memoryEntry struct {
	value     []byte
	list      [][]byte
	expiresAt time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store used by tests and the dev harness.
// Expired entries are dropped lazily on access and by a periodic sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry

	sweepStop chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore creates a MemoryStore sweeping expired keys every minute.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSweep(time.Minute)
}

// NewMemoryStoreWithSweep creates a MemoryStore with a custom sweep
// interval. A non-positive interval disables the sweeper.
func NewMemoryStoreWithSweep(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries:   make(map[string]*memoryEntry),
		sweepStop: make(chan struct{}),
	}
	if interval > 0 {
		go s.sweepLoop(interval)
	}
	return s
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.entries {
				if entry.expired(now) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

func expiryFrom(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	copied := make([]byte, len(value))
	copy(copied, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{value: copied, expiresAt: expiryFrom(ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) || entry.value == nil {
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (s *MemoryStore) AppendBoundedList(ctx context.Context, key string, value []byte, cap int, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	copied := make([]byte, len(value))
	copy(copied, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}

	entry.list = append([][]byte{copied}, entry.list...)
	if cap > 0 && len(entry.list) > cap {
		entry.list = entry.list[:cap]
	}
	entry.expiresAt = expiryFrom(ttl)
	return nil
}

func (s *MemoryStore) ListHead(ctx context.Context, key string, n int) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.expired(time.Now()) || entry.list == nil {
		return [][]byte{}, nil
	}

	if n <= 0 || n > len(entry.list) {
		n = len(entry.list)
	}

	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		out[i] = make([]byte, len(entry.list[i]))
		copy(out[i], entry.list[i])
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.sweepStop)
	})
	return nil
}

var _ Store = (*MemoryStore)(nil)
