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

// Package kv defines the small key-value persistence surface the memory
// manager and entity store are built on: TTL'd puts, bounded lists, and
// head reads. Values are opaque bytes.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the persistence contract. Implementations must be safe for
// concurrent use. TTLs are advisory; a zero TTL means no expiry.
type Store interface {
	// Put stores value under key with the given TTL.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// AppendBoundedList prepends value to the list at key, trimming the
	// list to cap entries (newest kept) and refreshing the TTL.
	AppendBoundedList(ctx context.Context, key string, value []byte, cap int, ttl time.Duration) error

	// ListHead returns up to n entries from the list at key, newest first.
	// A missing key yields an empty slice, not an error.
	ListHead(ctx context.Context, key string, n int) ([][]byte, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the store.
	Close() error
}
