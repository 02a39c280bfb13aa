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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		options  []Option
		validate func(t *testing.T, client *Client)
	}{
		{
			name:    "default_configuration",
			options: []Option{},
			validate: func(t *testing.T, client *Client) {
				if client.maxRetries != 3 {
					t.Errorf("Expected maxRetries=3, got %d", client.maxRetries)
				}
				if client.baseDelay != 1*time.Second {
					t.Errorf("Expected baseDelay=1s, got %v", client.baseDelay)
				}
				if client.maxDelay != 10*time.Second {
					t.Errorf("Expected maxDelay=10s, got %v", client.maxDelay)
				}
				if client.strategyFunc == nil {
					t.Error("Expected strategyFunc to be set")
				}
			},
		},
		{
			name: "custom_retries_and_delays",
			options: []Option{
				WithMaxRetries(2),
				WithBaseDelay(5 * time.Second),
				WithMaxDelay(30 * time.Second),
			},
			validate: func(t *testing.T, client *Client) {
				if client.maxRetries != 2 {
					t.Errorf("Expected maxRetries=2, got %d", client.maxRetries)
				}
				if client.baseDelay != 5*time.Second {
					t.Errorf("Expected baseDelay=5s, got %v", client.baseDelay)
				}
				if client.maxDelay != 30*time.Second {
					t.Errorf("Expected maxDelay=30s, got %v", client.maxDelay)
				}
			},
		},
		{
			name: "custom_http_client",
			options: []Option{
				WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			},
			validate: func(t *testing.T, client *Client) {
				if client.client.Timeout != 30*time.Second {
					t.Errorf("Expected timeout=30s, got %v", client.client.Timeout)
				}
			},
		},
		{
			name: "custom_header_parser",
			options: []Option{
				WithHeaderParser(func(h http.Header) RateLimitInfo {
					return RateLimitInfo{RetryAfter: 10 * time.Second}
				}),
			},
			validate: func(t *testing.T, client *Client) {
				if client.headerParser == nil {
					t.Fatal("Expected headerParser to be set")
				}
				info := client.headerParser(http.Header{})
				if info.RetryAfter != 10*time.Second {
					t.Errorf("Expected RetryAfter=10s, got %v", info.RetryAfter)
				}
			},
		},
		{
			name: "custom_retry_strategy",
			options: []Option{
				WithRetryStrategy(func(statusCode int) RetryStrategy {
					return AdaptiveRetry
				}),
			},
			validate: func(t *testing.T, client *Client) {
				if got := client.strategyFunc(500); got != AdaptiveRetry {
					t.Errorf("Expected AdaptiveRetry, got %v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.options...)
			tt.validate(t, client)
		})
	}
}

func TestDefaultRetryStrategy(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   RetryStrategy
	}{
		{"rate_limit_429", http.StatusTooManyRequests, AdaptiveRetry},
		{"service_unavailable_503", http.StatusServiceUnavailable, AdaptiveRetry},
		{"request_timeout_408", http.StatusRequestTimeout, QuickRetry},
		{"internal_server_error_500", http.StatusInternalServerError, QuickRetry},
		{"bad_gateway_502", http.StatusBadGateway, QuickRetry},
		{"gateway_timeout_504", http.StatusGatewayTimeout, QuickRetry},
		{"success_200", http.StatusOK, NoRetry},
		{"not_found_404", http.StatusNotFound, NoRetry},
		{"bad_request_400", http.StatusBadRequest, NoRetry},
		{"unauthorized_401", http.StatusUnauthorized, NoRetry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultRetryStrategy(tt.statusCode); got != tt.expected {
				t.Errorf("DefaultRetryStrategy(%d) = %v, want %v", tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := New(WithHTTPClient(server.Client()))
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Do() status code = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestClient_Do_NetworkError(t *testing.T) {
	client := New(WithHTTPClient(&http.Client{Timeout: 1 * time.Millisecond}))
	req, _ := http.NewRequest("GET", "http://invalid-url-that-does-not-exist:9999", nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Error("Do() error = nil, want network error")
	}
	if resp != nil {
		t.Error("Do() response should be nil for network errors")
	}
}

func TestClient_Do_RecoversAfterRetries(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Do() status code = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts, got %d", attemptCount)
	}
}

func TestClient_Do_RetriesExhausted(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(2),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	resp, err := client.Do(req)
	if err == nil {
		t.Fatal("Do() error = nil, want RetryableError")
	}
	if resp == nil {
		t.Fatal("Do() response = nil, want non-nil")
	}

	retryErr, ok := err.(*RetryableError)
	if !ok {
		t.Fatalf("Do() error type = %T, want *RetryableError", err)
	}
	if retryErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("RetryableError.StatusCode = %d, want %d", retryErr.StatusCode, http.StatusTooManyRequests)
	}
	if !IsRetryable(err) {
		t.Error("IsRetryable() = false, want true")
	}

	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts (initial + 2 retries), got %d", attemptCount)
	}
}

func TestClient_Do_HonorsRetryAfterHeader(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		if attemptCount == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithHeaderParser(ParseOpenAIHeaders),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do() error = %v, want nil", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if attemptCount != 2 {
		t.Errorf("Expected 2 attempts, got %d", attemptCount)
	}
	if elapsed < 1*time.Second {
		t.Errorf("Expected to wait at least 1s for Retry-After, waited %v", elapsed)
	}
}

func TestClient_Do_QuickRetryCapsAttempts(t *testing.T) {
	attemptCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(5),
		WithBaseDelay(10*time.Millisecond),
	)
	req, _ := http.NewRequest("GET", server.URL, nil)

	_, err := client.Do(req)
	if err == nil {
		t.Error("Do() error = nil, want error")
	}

	// QuickRetry allows two retries regardless of maxRetries.
	if attemptCount != 3 {
		t.Errorf("Expected 3 attempts for quick retry, got %d", attemptCount)
	}
}

func TestClient_Do_ContextCancelDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithBaseDelay(5*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, "GET", server.URL, nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Do(req)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("Do() error = nil, want context.Canceled")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Do() did not abort backoff promptly, took %v", elapsed)
	}
}

func TestClient_retryDelay(t *testing.T) {
	client := New(WithBaseDelay(1 * time.Second))

	tests := []struct {
		name      string
		strategy  RetryStrategy
		attempt   int
		retryInfo RateLimitInfo
		expected  time.Duration
	}{
		{name: "no_retry", strategy: NoRetry, attempt: 0, expected: 0},
		{name: "adaptive_exponential_attempt_0", strategy: AdaptiveRetry, attempt: 0, expected: 1 * time.Second},
		{name: "adaptive_exponential_attempt_2", strategy: AdaptiveRetry, attempt: 2, expected: 4 * time.Second},
		{name: "adaptive_capped_at_max_delay", strategy: AdaptiveRetry, attempt: 6, expected: 10 * time.Second},
		{
			name:      "adaptive_with_retry_after",
			strategy:  AdaptiveRetry,
			attempt:   0,
			retryInfo: RateLimitInfo{RetryAfter: 5 * time.Second},
			expected:  5 * time.Second,
		},
		{name: "quick_attempt_0", strategy: QuickRetry, attempt: 0, expected: 1 * time.Second},
		{name: "quick_attempt_1", strategy: QuickRetry, attempt: 1, expected: 2 * time.Second},
		{name: "quick_attempt_2_stops", strategy: QuickRetry, attempt: 2, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := client.retryDelay(tt.strategy, tt.attempt, tt.retryInfo); got != tt.expected {
				t.Errorf("retryDelay() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestClient_retryDelay_ResetTime(t *testing.T) {
	client := New(WithBaseDelay(1 * time.Second))
	info := RateLimitInfo{ResetTime: time.Now().Add(3 * time.Second).Unix()}

	got := client.retryDelay(AdaptiveRetry, 0, info)
	if got < 2*time.Second || got > 4*time.Second {
		t.Errorf("retryDelay() = %v, want approximately 3s", got)
	}
}
