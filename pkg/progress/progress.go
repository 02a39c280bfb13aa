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

// Package progress carries the engine's state changes to the single
// observer of an in-flight request. Delivery is best-effort: a slow
// subscriber sees only the latest state, but never out of order, and every
// delivery carries the full rendered display so the subscriber keeps no
// state of its own.
package progress

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a progress event.
type Kind string

const (
	KindReasoning    Kind = "reasoning"
	KindSearching    Kind = "searching"
	KindDiscovery    Kind = "discovery"
	KindProcessing   Kind = "processing"
	KindSynthesizing Kind = "synthesizing"
	KindObserving    Kind = "observing"
	KindReplanning   Kind = "replanning"
	KindGenerating   Kind = "generating"
	KindWarning      Kind = "warning"
	KindError        Kind = "error"
	KindRetry        Kind = "retry"
)

// Event is one state-change notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Delivery pairs an event with the full rendered display at that moment.
type Delivery struct {
	Event   Event
	Display string
}

// ErrAlreadySubscribed is returned on a second Subscribe for the same
// request.
var ErrAlreadySubscribed = errors.New("progress: channel already has a subscriber")

// DefaultDisplayCap is the soft cap on display lines before the oldest
// non-terminal entries are compressed.
const DefaultDisplayCap = 12

type displayLine struct {
	text     string
	terminal bool
}

// Channel is the per-request event bus. Publish never blocks; when the
// subscriber lags, intermediate deliveries are coalesced into the latest.
type Channel struct {
	mu         sync.Mutex
	subscribed bool
	closed     bool
	lastStamp  time.Time
	lines      []displayLine
	compressed int
	displayCap int

	ch chan Delivery
}

// NewChannel builds a channel for one request.
func NewChannel() *Channel {
	return &Channel{
		displayCap: DefaultDisplayCap,
		// Capacity one: the buffer holds exactly the coalesced latest state.
		ch: make(chan Delivery, 1),
	}
}

// Subscribe claims the single subscriber slot.
func (c *Channel) Subscribe() (<-chan Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return nil, ErrAlreadySubscribed
	}
	c.subscribed = true
	return c.ch, nil
}

// Publish emits an event built from its parts.
func (c *Channel) Publish(kind Kind, action, details string) {
	c.PublishEvent(Event{Kind: kind, Action: action, Details: details})
}

// PublishEvent emits one event. Missing IDs and timestamps are filled in;
// timestamps are clamped to be monotonically non-decreasing per request.
func (c *Channel) PublishEvent(event Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Timestamp.Before(c.lastStamp) {
		event.Timestamp = c.lastStamp
	}
	c.lastStamp = event.Timestamp

	c.appendLine(event)
	delivery := Delivery{Event: event, Display: c.render()}
	c.mu.Unlock()

	// Non-blocking send with coalescing: drop the stale buffered delivery,
	// keep the newest. Ordering is preserved because there is never more
	// than one delivery in flight.
	select {
	case c.ch <- delivery:
	default:
		select {
		case <-c.ch:
		default:
		}
		select {
		case c.ch <- delivery:
		default:
		}
	}
}

// Close ends the stream. Further publishes are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Closed reports whether the channel has been closed.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Rendered returns the current display text.
func (c *Channel) Rendered() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.render()
}

func (c *Channel) appendLine(event Event) {
	text := event.Details
	if text == "" {
		text = event.Action
	}
	if text == "" {
		return
	}

	terminal := event.Kind == KindWarning || event.Kind == KindError
	c.lines = append(c.lines, displayLine{text: text, terminal: terminal})

	// Compress the oldest non-terminal lines once past the soft cap.
	for len(c.lines) > c.displayCap {
		idx := -1
		for i, line := range c.lines {
			if !line.terminal {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
		c.compressed++
	}
}

func (c *Channel) render() string {
	var sb strings.Builder
	if c.compressed > 0 {
		sb.WriteString("… earlier steps (")
		sb.WriteString(strconv.Itoa(c.compressed))
		sb.WriteString(")\n")
	}
	for i, line := range c.lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(line.text)
	}
	return sb.String()
}
