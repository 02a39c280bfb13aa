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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStoreWithSweep(0) // no background sweeper in tests
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMemoryStore_PutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "conv:C1:long_term_summary", []byte(`{"summary":"hi"}`), time.Hour))

	got, err := store.Get(ctx, "conv:C1:long_term_summary")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"summary":"hi"}`), got)
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ephemeral", []byte("x"), 10*time.Millisecond))

	_, err := store.Get(ctx, "ephemeral")
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = store.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ZeroTTLNeverExpires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "stable", []byte("y"), 0))
	time.Sleep(15 * time.Millisecond)

	got, err := store.Get(ctx, "stable")
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestMemoryStore_BoundedList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "conv:C1:turns"

	for i := 0; i < 5; i++ {
		value := []byte(fmt.Sprintf("turn-%d", i))
		require.NoError(t, store.AppendBoundedList(ctx, key, value, 3, time.Hour))
	}

	head, err := store.ListHead(ctx, key, 10)
	require.NoError(t, err)
	require.Len(t, head, 3, "cap should bound the list")

	// Newest first; oldest entries fell off.
	assert.Equal(t, []byte("turn-4"), head[0])
	assert.Equal(t, []byte("turn-3"), head[1])
	assert.Equal(t, []byte("turn-2"), head[2])
}

func TestMemoryStore_ListHeadLimits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "conv:C2:turns"

	for i := 0; i < 4; i++ {
		require.NoError(t, store.AppendBoundedList(ctx, key, []byte(fmt.Sprintf("v%d", i)), 10, 0))
	}

	two, err := store.ListHead(ctx, key, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
	assert.Equal(t, []byte("v3"), two[0])

	all, err := store.ListHead(ctx, key, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	missing, err := store.ListHead(ctx, "conv:none:turns", 5)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMemoryStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "gone", []byte("z"), 0))
	require.NoError(t, store.Delete(ctx, "gone"))

	_, err := store.Get(ctx, "gone")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is fine.
	assert.NoError(t, store.Delete(ctx, "gone"))
}

func TestMemoryStore_ValueIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	original := []byte("original")
	require.NoError(t, store.Put(ctx, "iso", original, 0))
	original[0] = 'X'

	got, err := store.Get(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got, "store must not alias caller buffers")

	got[1] = 'Y'
	again, err := store.Get(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again, "readers must not mutate stored bytes")
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStoreWithSweep(10 * time.Millisecond)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sweep-me", []byte("x"), 5*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	store.mu.RLock()
	_, present := store.entries["sweep-me"]
	store.mu.RUnlock()
	assert.False(t, present, "sweeper should remove expired entries")
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k-%d", worker)
				_ = store.Put(ctx, key, []byte("v"), time.Minute)
				_, _ = store.Get(ctx, key)
				_ = store.AppendBoundedList(ctx, "shared-list", []byte("e"), 20, time.Minute)
				_, _ = store.ListHead(ctx, "shared-list", 5)
			}
		}(i)
	}
	wg.Wait()

	head, err := store.ListHead(ctx, "shared-list", 0)
	require.NoError(t, err)
	assert.Len(t, head, 20)
}

func TestMemoryStore_ContextCancelled(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Put(ctx, "k", []byte("v"), 0))
	_, err := store.Get(ctx, "k")
	assert.Error(t, err)
}
