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

package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Addr is the listen address for the /metrics scrape endpoint.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.Enabled && c.Addr == "" {
		c.Addr = ":9090"
	}
}

// Metrics holds the engine-level instruments. A zero Metrics is a safe noop.
type Metrics struct {
	requestDuration metric.Float64Histogram
	requests        metric.Int64Counter
	requestErrors   metric.Int64Counter
	replans         metric.Int64Counter
	toolDuration    metric.Float64Histogram
	toolCalls       metric.Int64Counter
	modelCalls      metric.Int64Counter
	modelFallbacks  metric.Int64Counter
}

var (
	globalMetrics *Metrics
	metricsMu     sync.RWMutex
)

// InitMetrics builds the prometheus-backed meter and the maestro
// instruments. When disabled, an inert Metrics is returned.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{}, nil
	}

	cfg.SetDefaults()

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("maestro")

	if cfg.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			slog.Info("Serving metrics", "addr", cfg.Addr)
			if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
				slog.Error("Metrics endpoint stopped", "error", err)
			}
		}()
	}

	m := &Metrics{}

	if m.requestDuration, err = meter.Float64Histogram(
		"maestro_request_duration_seconds",
		metric.WithDescription("End-to-end engine request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	if m.requests, err = meter.Int64Counter(
		"maestro_requests_total",
		metric.WithDescription("Total engine requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}

	if m.requestErrors, err = meter.Int64Counter(
		"maestro_request_errors_total",
		metric.WithDescription("Total engine requests resolved through a fallback answer"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request errors counter: %w", err)
	}

	if m.replans, err = meter.Int64Counter(
		"maestro_replans_total",
		metric.WithDescription("Total replanning iterations"),
	); err != nil {
		return nil, fmt.Errorf("failed to create replans counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"maestro_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.toolCalls, err = meter.Int64Counter(
		"maestro_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.modelCalls, err = meter.Int64Counter(
		"maestro_model_calls_total",
		metric.WithDescription("Total model calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create model calls counter: %w", err)
	}

	if m.modelFallbacks, err = meter.Int64Counter(
		"maestro_model_tier_fallbacks_total",
		metric.WithDescription("Total quota-driven model tier fallbacks"),
	); err != nil {
		return nil, fmt.Errorf("failed to create model fallbacks counter: %w", err)
	}

	return m, nil
}

// SetGlobalMetrics installs the process-wide metrics instance.
func SetGlobalMetrics(m *Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics instance, or nil.
func GetGlobalMetrics() *Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}

func (m *Metrics) RecordRequest(ctx context.Context, duration time.Duration, fallback bool) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Add(ctx, 1)
	m.requestDuration.Record(ctx, duration.Seconds())
	if fallback {
		m.requestErrors.Add(ctx, 1)
	}
}

func (m *Metrics) RecordReplan(ctx context.Context) {
	if m == nil || m.replans == nil {
		return
	}
	m.replans.Add(ctx, 1)
}

func (m *Metrics) RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, err error) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrToolName, toolName),
		attribute.Bool("error", err != nil),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *Metrics) RecordModelCall(ctx context.Context, tier string, fallback bool) {
	if m == nil || m.modelCalls == nil {
		return
	}
	m.modelCalls.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrModelTier, tier)))
	if fallback {
		m.modelFallbacks.Add(ctx, 1)
	}
}
