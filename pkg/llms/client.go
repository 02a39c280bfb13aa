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

package llms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maestroworks/maestro/pkg/registry"
)

// Config wires the two model tiers and the burst-smoothing gate.
type Config struct {
	Preferred ProviderConfig `yaml:"preferred" json:"preferred"`
	Cheap     ProviderConfig `yaml:"cheap" json:"cheap"`

	// RateLimitSpacing is the minimum interval between successive calls to
	// the same model.
	RateLimitSpacing time.Duration `yaml:"rate_limit_spacing" json:"rate_limit_spacing"`
}

func (c *Config) SetDefaults() {
	c.Preferred.SetDefaults()
	c.Cheap.SetDefaults()
	if c.RateLimitSpacing == 0 {
		c.RateLimitSpacing = 100 * time.Millisecond
	}
}

func (c *Config) Validate() error {
	if err := c.Preferred.Validate(); err != nil {
		return fmt.Errorf("preferred tier: %w", err)
	}
	if err := c.Cheap.Validate(); err != nil {
		return fmt.Errorf("cheap tier: %w", err)
	}
	return nil
}

// rateGate spaces successive calls to the same model by a minimum interval.
type rateGate struct {
	spacing time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

func newRateGate(spacing time.Duration) *rateGate {
	return &rateGate{
		spacing: spacing,
		last:    make(map[string]time.Time),
	}
}

// wait blocks until the spacing since the previous call to key has elapsed,
// or the context is done.
func (g *rateGate) wait(ctx context.Context, key string) error {
	if g.spacing <= 0 {
		return nil
	}

	g.mu.Lock()
	now := time.Now()
	next := g.last[key].Add(g.spacing)
	if next.Before(now) {
		next = now
	}
	g.last[key] = next
	g.mu.Unlock()

	delay := time.Until(next)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client routes generation calls by tier. Callers pick the tier; quota
// fallback between tiers is the engine's decision, not the client's.
type Client struct {
	tiers *registry.BaseRegistry[Provider]
	gate  *rateGate
}

// NewClient builds providers for both tiers from config.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	preferred, err := NewProvider(cfg.Preferred)
	if err != nil {
		return nil, fmt.Errorf("failed to create preferred provider: %w", err)
	}
	cheap, err := NewProvider(cfg.Cheap)
	if err != nil {
		return nil, fmt.Errorf("failed to create cheap provider: %w", err)
	}

	return NewClientWithProviders(preferred, cheap, cfg.RateLimitSpacing), nil
}

// NewClientWithProviders wires pre-built providers. Tests inject scripted
// fakes here.
func NewClientWithProviders(preferred, cheap Provider, spacing time.Duration) *Client {
	tiers := registry.NewBaseRegistry[Provider]()
	_ = tiers.Register(string(TierPreferred), preferred)
	_ = tiers.Register(string(TierCheap), cheap)
	return &Client{
		tiers: tiers,
		gate:  newRateGate(spacing),
	}
}

func (c *Client) provider(tier Tier) (Provider, error) {
	p, ok := c.tiers.Get(string(tier))
	if !ok {
		return nil, fmt.Errorf("no provider registered for tier %q", tier)
	}
	return p, nil
}

// Generate runs one completion on the given tier. The deadline travels on
// the context; ErrQuotaExhausted surfaces unwrapped for errors.Is.
func (c *Client) Generate(ctx context.Context, tier Tier, req Request) (string, error) {
	p, err := c.provider(tier)
	if err != nil {
		return "", err
	}
	if err := c.gate.wait(ctx, p.ModelName()); err != nil {
		return "", err
	}
	return p.Generate(ctx, req)
}

// GenerateStreaming is Generate with chunk forwarding.
func (c *Client) GenerateStreaming(ctx context.Context, tier Tier, req Request, onChunk ChunkFunc) (string, error) {
	p, err := c.provider(tier)
	if err != nil {
		return "", err
	}
	if err := c.gate.wait(ctx, p.ModelName()); err != nil {
		return "", err
	}
	return p.GenerateStreaming(ctx, req, onChunk)
}

func (c *Client) Close() error {
	var firstErr error
	for _, p := range c.tiers.List() {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
