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

// Package config loads, defaults, and validates the full maestro
// configuration from YAML with environment-variable expansion.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maestroworks/maestro/pkg/embedders"
	"github.com/maestroworks/maestro/pkg/engine"
	"github.com/maestroworks/maestro/pkg/entity"
	"github.com/maestroworks/maestro/pkg/kv"
	"github.com/maestroworks/maestro/pkg/learners"
	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
	"github.com/maestroworks/maestro/pkg/observability"
	"github.com/maestroworks/maestro/pkg/tools"
	"github.com/maestroworks/maestro/pkg/vector"
)

// StorageType selects the KV backend.
type StorageType string

const (
	StorageMemory StorageType = "memory"
	StorageRedis  StorageType = "redis"
)

// StorageConfig wires the persistence surface.
type StorageConfig struct {
	Type  StorageType    `yaml:"type" json:"type" jsonschema:"enum=memory,enum=redis"`
	Redis kv.RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = StorageMemory
	}
}

func (c *StorageConfig) Validate() error {
	switch c.Type {
	case StorageMemory:
		return nil
	case StorageRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis storage requires addr")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}
}

// TokenizerConfig tunes the token accountant.
type TokenizerConfig struct {
	ID       string   `yaml:"id" json:"id"`
	BotNames []string `yaml:"bot_names,omitempty" json:"bot_names,omitempty"`
}

func (c *TokenizerConfig) SetDefaults() {
	if c.ID == "" {
		c.ID = "cl100k_base"
	}
	if len(c.BotNames) == 0 {
		c.BotNames = []string{"maestro"}
	}
}

// LoggingConfig tunes the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format string `yaml:"format" json:"format" jsonschema:"enum=text,enum=json"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// ToolsConfig wires the four tool families.
type ToolsConfig struct {
	Semantic tools.SemanticConfig `yaml:"semantic,omitempty" json:"semantic,omitempty"`
	Web      tools.WebConfig      `yaml:"web,omitempty" json:"web,omitempty"`
	Docs     tools.DocsConfig     `yaml:"docs,omitempty" json:"docs,omitempty"`
	Calendar tools.CalendarConfig `yaml:"calendar,omitempty" json:"calendar,omitempty"`
}

// ObservabilityConfig wires tracing and metrics.
type ObservabilityConfig struct {
	Tracing observability.TracerConfig  `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	Metrics observability.MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Logging       LoggingConfig         `yaml:"logging,omitempty" json:"logging,omitempty"`
	Tokenizer     TokenizerConfig       `yaml:"tokenizer,omitempty" json:"tokenizer,omitempty"`
	Storage       StorageConfig         `yaml:"storage,omitempty" json:"storage,omitempty"`
	Models        llms.Config           `yaml:"models" json:"models"`
	Memory        memory.Config         `yaml:"memory,omitempty" json:"memory,omitempty"`
	Entities      entity.Config         `yaml:"entities,omitempty" json:"entities,omitempty"`
	Learners      learners.Config       `yaml:"learners,omitempty" json:"learners,omitempty"`
	Engine        engine.Config         `yaml:"engine,omitempty" json:"engine,omitempty"`
	Vector        vector.ProviderConfig `yaml:"vector,omitempty" json:"vector,omitempty"`
	Embedder      embedders.Config      `yaml:"embedder,omitempty" json:"embedder,omitempty"`
	Tools         ToolsConfig           `yaml:"tools,omitempty" json:"tools,omitempty"`
	Observability ObservabilityConfig   `yaml:"observability,omitempty" json:"observability,omitempty"`
}

// SetDefaults fills every unset knob.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Tokenizer.SetDefaults()
	c.Storage.SetDefaults()
	c.Models.SetDefaults()
	c.Memory.SetDefaults()
	c.Entities.SetDefaults()
	c.Learners.SetDefaults()
	c.Engine.SetDefaults()
	c.Vector.SetDefaults()
	c.Tools.Semantic.SetDefaults()
	c.Tools.Web.SetDefaults()
	c.Tools.Docs.SetDefaults()
	c.Tools.Calendar.SetDefaults()
	c.Observability.Tracing.SetDefaults()
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Models.Validate(); err != nil {
		return fmt.Errorf("models: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	return nil
}

// Process runs the full default/validate pipeline in place.
func Process(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Load reads a YAML config file, expands ${VAR} and ${VAR:-default}
// references, and runs the pipeline.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse is Load over in-memory bytes.
func Parse(raw []byte) (*Config, error) {
	var tree any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("invalid config YAML: %w", err)
	}
	tree = ExpandEnvInTree(tree)

	expanded, err := yaml.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode expanded config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config structure: %w", err)
	}
	if err := Process(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
