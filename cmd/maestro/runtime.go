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

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maestroworks/maestro/pkg/config"
	"github.com/maestroworks/maestro/pkg/embedders"
	"github.com/maestroworks/maestro/pkg/engine"
	"github.com/maestroworks/maestro/pkg/entity"
	"github.com/maestroworks/maestro/pkg/kv"
	"github.com/maestroworks/maestro/pkg/learners"
	"github.com/maestroworks/maestro/pkg/llms"
	"github.com/maestroworks/maestro/pkg/memory"
	"github.com/maestroworks/maestro/pkg/observability"
	"github.com/maestroworks/maestro/pkg/tokens"
	"github.com/maestroworks/maestro/pkg/tools"
	"github.com/maestroworks/maestro/pkg/vector"
)

// runtime holds every wired component for one process.
type runtime struct {
	engine *engine.Engine
	memory *memory.Manager

	store    kv.Store
	models   *llms.Client
	pool     *learners.Pool
	vectors  vector.Provider
	embedder embedders.Embedder
}

// buildRuntime assembles the full dependency graph from config. Tools are
// registered only when their upstream is configured; the engine plans with
// whatever catalog results.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if cfg.Observability.Tracing.Enabled {
		if _, err := observability.InitGlobalTracer(ctx, cfg.Observability.Tracing); err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	if cfg.Observability.Metrics.Enabled {
		metrics, err := observability.InitMetrics(ctx, cfg.Observability.Metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to init metrics: %w", err)
		}
		observability.SetGlobalMetrics(metrics)
	}

	var store kv.Store
	switch cfg.Storage.Type {
	case config.StorageRedis:
		redisStore, err := kv.NewRedisStore(ctx, cfg.Storage.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = redisStore
	default:
		store = kv.NewMemoryStore()
	}

	accountant := tokens.NewAccountant(cfg.Tokenizer.ID, cfg.Tokenizer.BotNames)
	entities := entity.NewStore(store, cfg.Entities)

	manager, err := memory.NewManager(store, entities, accountant, cfg.Memory)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	models, err := llms.NewClient(cfg.Models)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build model client: %w", err)
	}

	pool := learners.NewPool(models, manager, entities, cfg.Learners)
	manager.SetBackgroundTasks(pool)

	rt := &runtime{
		store:  store,
		models: models,
		pool:   pool,
		memory: manager,
	}

	registry := tools.NewRegistry()
	if err := rt.registerTools(registry, cfg); err != nil {
		rt.Close()
		return nil, err
	}

	rt.engine = engine.New(engine.Dependencies{
		Models: models,
		Tools:  registry,
		Memory: manager,
	}, cfg.Engine)

	return rt, nil
}

func (rt *runtime) registerTools(registry *tools.Registry, cfg *config.Config) error {
	if cfg.Embedder.APIKey != "" || cfg.Embedder.Host != "" {
		embedder, err := embedders.New(cfg.Embedder)
		if err != nil {
			return fmt.Errorf("failed to build embedder: %w", err)
		}
		provider, err := vector.NewProvider(&cfg.Vector)
		if err != nil {
			_ = embedder.Close()
			return fmt.Errorf("failed to build vector store: %w", err)
		}
		rt.embedder, rt.vectors = embedder, provider
		if err := registry.RegisterTool(tools.NewSemanticSearchTool(provider, embedder, cfg.Tools.Semantic)); err != nil {
			return err
		}
	} else {
		slog.Info("No embedder configured, semantic_search disabled")
	}

	if cfg.Tools.Web.APIKey != "" {
		if err := registry.RegisterTool(tools.NewWebSearchTool(cfg.Tools.Web)); err != nil {
			return err
		}
	} else {
		slog.Info("No web search key configured, web_search disabled")
	}

	if cfg.Tools.Docs.ServerURL != "" {
		docsTool, err := tools.NewTicketsDocsTool(cfg.Tools.Docs)
		if err != nil {
			return fmt.Errorf("failed to build tickets_and_docs tool: %w", err)
		}
		if err := registry.RegisterTool(docsTool); err != nil {
			return err
		}
	} else {
		slog.Info("No MCP server configured, tickets_and_docs disabled")
	}

	if cfg.Tools.Calendar.Host != "" {
		calendarTool, err := tools.NewCalendarTool(cfg.Tools.Calendar)
		if err != nil {
			return fmt.Errorf("failed to build calendar tool: %w", err)
		}
		if err := registry.RegisterTool(calendarTool); err != nil {
			return err
		}
	} else {
		slog.Info("No calendar host configured, calendar_op disabled")
	}

	return nil
}

// Close drains the learner pool and releases every client.
func (rt *runtime) Close() {
	if rt.pool != nil {
		rt.pool.Close()
	}
	if rt.models != nil {
		_ = rt.models.Close()
	}
	if rt.vectors != nil {
		_ = rt.vectors.Close()
	}
	if rt.embedder != nil {
		_ = rt.embedder.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
