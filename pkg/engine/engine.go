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

// Package engine drives the five-step orchestration loop behind every
// request: analyze, plan, execute, observe/replan, synthesize. The engine
// owns all timeouts, recursion bounds, tier fallbacks, and progress
// emission; callers get back exactly one SynthesizedAnswer unless the
// request was canceled.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/maestroworks/maestro/pkg/conversation"
	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
	"github.com/maestroworks/maestro/pkg/tools"
)

// ErrCancelled is returned when the request was canceled before an answer
// could be produced.
var ErrCancelled = errors.New("engine: request cancelled")

// Config holds the per-step deadlines and recursion bounds.
type Config struct {
	ReasoningDeadline time.Duration `yaml:"reasoning_deadline" json:"reasoning_deadline"`
	PlanDeadline      time.Duration `yaml:"plan_deadline" json:"plan_deadline"`
	EvaluatorDeadline time.Duration `yaml:"evaluator_deadline" json:"evaluator_deadline"`
	SynthesisDeadline time.Duration `yaml:"synthesis_deadline" json:"synthesis_deadline"`
	ToolTimeout       time.Duration `yaml:"tool_timeout" json:"tool_timeout"`
	RequestBudget     time.Duration `yaml:"request_budget" json:"request_budget"`
	CancelGrace       time.Duration `yaml:"cancel_grace" json:"cancel_grace"`

	// MaxReplans caps replanning iterations; total Execute phases are at
	// most MaxReplans+1.
	MaxReplans int `yaml:"max_replans" json:"max_replans"`
}

func (c *Config) SetDefaults() {
	if c.ReasoningDeadline == 0 {
		c.ReasoningDeadline = 15 * time.Second
	}
	if c.PlanDeadline == 0 {
		c.PlanDeadline = 8 * time.Second
	}
	if c.EvaluatorDeadline == 0 {
		c.EvaluatorDeadline = 10 * time.Second
	}
	if c.SynthesisDeadline == 0 {
		c.SynthesisDeadline = 12 * time.Second
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.RequestBudget == 0 {
		c.RequestBudget = 90 * time.Second
	}
	if c.CancelGrace == 0 {
		c.CancelGrace = 2 * time.Second
	}
	if c.MaxReplans == 0 {
		c.MaxReplans = 3
	}
}

// ModelClient is the slice of the model layer the engine uses. Tier
// fallback on quota exhaustion is decided here, not in the client.
type ModelClient interface {
	Generate(ctx context.Context, tier llms.Tier, req llms.Request) (string, error)
	GenerateStreaming(ctx context.Context, tier llms.Tier, req llms.Request, onChunk llms.ChunkFunc) (string, error)
}

// Dependencies bundles everything the engine needs. Tests inject fakes.
type Dependencies struct {
	Models ModelClient
	Tools  *tools.Registry
	Memory *memory.Manager
}

// Request is one unit of work handed to Process.
type Request struct {
	ConversationID conversation.ID
	UserText       string
	UserProfile    string
	ChannelContext string
}

// SourceLink is one provenance reference in the answer.
type SourceLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"` // "web", "jira", "confluence"
}

// SynthesizedAnswer is the single outcome of a request.
type SynthesizedAnswer struct {
	Text               string       `json:"text"`
	KeyFindings        []string     `json:"key_findings,omitempty"`
	SourceLinks        []SourceLink `json:"source_links,omitempty"`
	Confidence         string       `json:"confidence"` // "high", "medium", "low"
	SuggestedFollowups []string     `json:"suggested_followups,omitempty"`
	RequiresHumanInput bool         `json:"requires_human_input"`
	ExecutionSummary   string       `json:"execution_summary,omitempty"`
}

const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// StepStatus tracks one ExecutionStep's lifecycle.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// ExecutionStep is one entry of the append-only per-request audit trail.
type ExecutionStep struct {
	StepIndex     int        `json:"step_index"`
	ActionID      string     `json:"action_id"`
	Description   string     `json:"description"`
	Status        StepStatus `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   time.Time  `json:"completed_at,omitempty"`
	ResultSummary string     `json:"result_summary,omitempty"`
}

// Engine is safe for concurrent use; each request gets its own run state.
type Engine struct {
	deps Dependencies
	cfg  Config
}

// New builds an engine over the given dependency bundle.
func New(deps Dependencies, cfg Config) *Engine {
	cfg.SetDefaults()
	return &Engine{deps: deps, cfg: cfg}
}
