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

package httpclient

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryableError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *RetryableError
		expected string
	}{
		{
			name: "with_retry_after",
			err: &RetryableError{
				StatusCode: 429,
				Message:    "rate limit exceeded",
				RetryAfter: 30 * time.Second,
			},
			expected: "HTTP 429: rate limit exceeded (retry after 30s)",
		},
		{
			name: "without_retry_after",
			err: &RetryableError{
				StatusCode: 500,
				Message:    "internal server error",
			},
			expected: "HTTP 500: internal server error",
		},
		{
			name: "sub_second_retry_after",
			err: &RetryableError{
				StatusCode: 429,
				Message:    "rate limit exceeded",
				RetryAfter: 1500 * time.Millisecond,
			},
			expected: "HTTP 429: rate limit exceeded (retry after 1.5s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRetryableError_Unwrap(t *testing.T) {
	root := errors.New("connection reset")
	retryErr := &RetryableError{
		StatusCode: 503,
		Message:    "service unavailable",
		Err:        root,
	}

	if !errors.Is(retryErr, root) {
		t.Error("errors.Is should reach the wrapped root error")
	}

	var as *RetryableError
	wrapped := fmt.Errorf("calling search api: %w", retryErr)
	if !errors.As(wrapped, &as) {
		t.Fatal("errors.As should find RetryableError through wrapping")
	}
	if as.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", as.StatusCode)
	}
}

func TestIsRetryable(t *testing.T) {
	retryErr := &RetryableError{StatusCode: 429, Message: "rate limit exceeded"}

	if !IsRetryable(retryErr) {
		t.Error("IsRetryable() = false for RetryableError")
	}
	if !IsRetryable(fmt.Errorf("outer: %w", retryErr)) {
		t.Error("IsRetryable() = false for wrapped RetryableError")
	}
	if IsRetryable(errors.New("plain error")) {
		t.Error("IsRetryable() = true for plain error")
	}
	if IsRetryable(nil) {
		t.Error("IsRetryable() = true for nil")
	}
}
