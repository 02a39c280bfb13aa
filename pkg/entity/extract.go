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
	"regexp"
	"strings"

	"github.com/maestroworks/maestro/pkg/conversation"
)

// extractPatterns holds the compiled expressions used by in-process
// extraction. No I/O happens here.
type extractPatterns struct {
	ticket      *regexp.Regexp
	url         *regexp.Regexp
	quoted      *regexp.Regexp
	capitalized *regexp.Regexp
	isoDate     *regexp.Regexp
	monthDate   *regexp.Regexp
	word        *regexp.Regexp
}

var patterns = extractPatterns{
	ticket:      regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}-\d{1,6}\b`),
	url:         regexp.MustCompile(`https?://[^\s<>"')\]]+`),
	quoted:      regexp.MustCompile(`"([^"\n]{3,80})"`),
	capitalized: regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`),
	isoDate:     regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	monthDate:   regexp.MustCompile(`\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:tember)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\s+\d{1,2}(?:st|nd|rd|th)?\b`),
	word:        regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]{2,}`),
}

// technologyTerms maps lowercase tech vocabulary to extraction. Deliberately
// small; the LLM pass covers the long tail.
var technologyTerms = map[string]bool{
	"kubernetes": true, "docker": true, "redis": true, "postgres": true,
	"postgresql": true, "kafka": true, "terraform": true, "grafana": true,
	"prometheus": true, "airflow": true, "spark": true, "snowflake": true,
	"graphql": true, "grpc": true, "oauth": true, "react": true,
}

var metricTerms = map[string]bool{
	"latency": true, "throughput": true, "uptime": true, "p99": true,
	"p95": true, "error-rate": true, "apdex": true, "slo": true, "sla": true,
}

// leadingSkipWords filters capitalized spans that are just sentence starts.
var leadingSkipWords = map[string]bool{
	"the": true, "this": true, "that": true, "these": true, "those": true,
	"what": true, "when": true, "where": true, "why": true, "how": true,
	"who": true, "is": true, "are": true, "can": true, "could": true,
	"should": true, "would": true, "will": true, "does": true, "did": true,
	"please": true, "thanks": true, "thank": true, "hey": true, "hi": true,
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"her": true, "was": true, "one": true, "our": true, "out": true,
	"has": true, "have": true, "what": true, "when": true, "where": true,
	"which": true, "with": true, "this": true, "that": true, "these": true,
	"those": true, "from": true, "they": true, "them": true, "then": true,
	"than": true, "there": true, "their": true, "about": true, "would": true,
	"could": true, "should": true, "will": true, "just": true, "like": true,
	"into": true, "over": true, "some": true, "such": true, "only": true,
	"also": true, "very": true, "been": true, "being": true, "does": true,
	"please": true, "show": true, "tell": true, "give": true, "know": true,
	"status": true, "latest": true, "update": true, "need": true,
}

// ExtractPatternEntities runs the regex and keyword heuristics over text
// and returns deduplicated entities. context is attached verbatim to each
// entity as provenance.
func ExtractPatternEntities(text string, cid conversation.ID, context string) []Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Entity

	for _, m := range patterns.ticket.FindAllString(text, -1) {
		out = append(out, New(TypeJiraTicket, m, context, cid, 0.9, "pattern:ticket"))
	}

	for _, m := range patterns.url.FindAllString(text, -1) {
		out = append(out, New(TypeURL, strings.TrimRight(m, ".,;:"), context, cid, 0.8, "pattern:url"))
	}

	for _, m := range patterns.isoDate.FindAllString(text, -1) {
		out = append(out, New(TypeDeadline, m, context, cid, 0.7, "pattern:date"))
	}
	for _, m := range patterns.monthDate.FindAllString(text, -1) {
		out = append(out, New(TypeDeadline, m, context, cid, 0.7, "pattern:date"))
	}

	for _, m := range patterns.capitalized.FindAllString(text, -1) {
		first := strings.ToLower(strings.Fields(m)[0])
		if leadingSkipWords[first] {
			continue
		}
		out = append(out, New(TypeProject, m, context, cid, 0.6, "pattern:name"))
	}

	for _, groups := range patterns.quoted.FindAllStringSubmatch(text, -1) {
		out = append(out, New(TypeOther, groups[1], context, cid, 0.5, "pattern:quoted"))
	}

	for _, w := range patterns.word.FindAllString(text, -1) {
		lw := strings.ToLower(w)
		if technologyTerms[lw] {
			out = append(out, New(TypeTechnology, lw, context, cid, 0.6, "pattern:keyword"))
		} else if metricTerms[lw] {
			out = append(out, New(TypeMetric, lw, context, cid, 0.5, "pattern:keyword"))
		}
	}

	return DedupeMerge(out, 0)
}

// ExtractKeywords pulls search keywords from free text: ticket ids first,
// then quoted phrases, then capitalized words, then the stoplist-filtered
// vocabulary, deduplicated case-insensitively and capped at max.
func ExtractKeywords(text string, max int) []string {
	if max <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	add := func(kw string) {
		kw = strings.TrimSpace(kw)
		lower := strings.ToLower(kw)
		if kw == "" || seen[lower] || len(out) >= max {
			return
		}
		seen[lower] = true
		out = append(out, kw)
	}

	for _, m := range patterns.ticket.FindAllString(text, -1) {
		add(m)
	}
	for _, groups := range patterns.quoted.FindAllStringSubmatch(text, -1) {
		add(groups[1])
	}
	for _, w := range patterns.word.FindAllString(text, -1) {
		if w[0] >= 'A' && w[0] <= 'Z' && !stopWords[strings.ToLower(w)] {
			add(w)
		}
	}
	for _, w := range patterns.word.FindAllString(text, -1) {
		lw := strings.ToLower(w)
		if len(lw) >= 4 && !stopWords[lw] {
			add(lw)
		}
	}

	return out
}
