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

// Package learners runs the asynchronous learning passes behind the memory
// manager: abstractive summarization of evicted turns and entity extraction
// from completed exchanges. Everything here is best-effort; failures are
// logged and absorbed, never surfaced to the request path.
package learners

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maestroworks/maestro/pkg/entity"
	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
)

// TextGenerator is the slice of the model client the learners need.
type TextGenerator interface {
	Generate(ctx context.Context, tier llms.Tier, req llms.Request) (string, error)
}

// Config tunes the worker pool. Zero values fall back to defaults.
type Config struct {
	Workers           int           `yaml:"workers" json:"workers"`
	QueueSize         int           `yaml:"queue_size" json:"queue_size"`
	SummarizeDeadline time.Duration `yaml:"summarize_deadline" json:"summarize_deadline"`
	ExtractDeadline   time.Duration `yaml:"extract_deadline" json:"extract_deadline"`
	StubLength        int           `yaml:"stub_length" json:"stub_length"`
}

func (c *Config) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.QueueSize == 0 {
		c.QueueSize = 64
	}
	if c.SummarizeDeadline == 0 {
		c.SummarizeDeadline = 20 * time.Second
	}
	if c.ExtractDeadline == 0 {
		c.ExtractDeadline = 15 * time.Second
	}
	if c.StubLength == 0 {
		c.StubLength = 100
	}
}

type job struct {
	summarize *memory.SummarizeJob
	extract   *memory.ExtractJob
}

// Pool is the background worker pool. It implements memory.BackgroundTasks.
// Enqueue never blocks: a full queue drops the job and reports false.
type Pool struct {
	cfg      Config
	model    TextGenerator
	manager  *memory.Manager
	entities *entity.Store

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

// NewPool builds and starts the pool. model may be nil; the summarizer then
// always emits its stub fallback and extraction runs patterns only.
func NewPool(model TextGenerator, manager *memory.Manager, entities *entity.Store, cfg Config) *Pool {
	cfg.SetDefaults()
	p := &Pool{
		cfg:      cfg,
		model:    model,
		manager:  manager,
		entities: entities,
		jobs:     make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) enqueue(j job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- j:
		return true
	default:
		return false
	}
}

// EnqueueSummarize hands evicted turns to the summarizer.
func (p *Pool) EnqueueSummarize(j memory.SummarizeJob) bool {
	return p.enqueue(job{summarize: &j})
}

// EnqueueExtract hands a completed exchange to the entity extractor.
func (p *Pool) EnqueueExtract(j memory.ExtractJob) bool {
	return p.enqueue(job{extract: &j})
}

// Close stops accepting jobs, drains the queue, and waits for in-flight
// work to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		switch {
		case j.summarize != nil:
			p.runSummarize(*j.summarize)
		case j.extract != nil:
			p.runExtract(*j.extract)
		}
	}
}

func (p *Pool) runSummarize(j memory.SummarizeJob) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Summarizer panicked", "conversation", j.ConversationID.String(), "cause", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SummarizeDeadline)
	defer cancel()

	summary := p.summarize(ctx, j)
	if err := p.manager.ApplySummary(ctx, j.ConversationID, summary); err != nil {
		slog.Warn("Failed to store summary", "conversation", j.ConversationID.String(), "error", err)
	}
}

func (p *Pool) runExtract(j memory.ExtractJob) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Entity extractor panicked", "conversation", j.ConversationID.String(), "cause", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ExtractDeadline)
	defer cancel()

	batch := p.extract(ctx, j)
	if len(batch) == 0 {
		return
	}
	if err := p.entities.Store(ctx, batch, j.ConversationID); err != nil {
		slog.Warn("Failed to store extracted entities", "conversation", j.ConversationID.String(), "error", err)
	}
}
