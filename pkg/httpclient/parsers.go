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
	"net/http"
	"strconv"
	"time"
)

func retryAfterSeconds(headers http.Header, key string) time.Duration {
	if v := headers.Get(key); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

func intHeader(headers http.Header, key string) int {
	if v := headers.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// ParseAnthropicHeaders extracts rate limit info from Anthropic API headers.
// Reset headers are RFC3339 timestamps.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter:            retryAfterSeconds(headers, "retry-after"),
		RequestsRemaining:     intHeader(headers, "anthropic-ratelimit-requests-remaining"),
		InputTokensRemaining:  intHeader(headers, "anthropic-ratelimit-input-tokens-remaining"),
		OutputTokensRemaining: intHeader(headers, "anthropic-ratelimit-output-tokens-remaining"),
	}

	for _, header := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		if resetStr := headers.Get(header); resetStr != "" {
			if resetTime, err := time.Parse(time.RFC3339, resetStr); err == nil {
				info.ResetTime = resetTime.Unix()
				break
			}
		}
	}

	return info
}

// ParseOpenAIHeaders extracts rate limit info from OpenAI API headers.
// Reset headers are unix timestamps.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{
		RetryAfter:        retryAfterSeconds(headers, "Retry-After"),
		RequestsRemaining: intHeader(headers, "x-ratelimit-remaining-requests"),
		TokensRemaining:   intHeader(headers, "x-ratelimit-remaining-tokens"),
	}

	for _, header := range []string{
		"x-ratelimit-reset-tokens",
		"x-ratelimit-reset-requests",
	} {
		if resetStr := headers.Get(header); resetStr != "" {
			if resetTime, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
				info.ResetTime = resetTime
				break
			}
		}
	}

	return info
}

// ParseGeminiHeaders extracts rate limit info from Google Gemini API headers.
func ParseGeminiHeaders(headers http.Header) RateLimitInfo {
	return RateLimitInfo{
		RetryAfter: retryAfterSeconds(headers, "Retry-After"),
	}
}
