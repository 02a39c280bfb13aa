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

package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name    string
	result  Result
	delay   time.Duration
	gotArgs map[string]any
}

func (s *stubTool) Info() Info {
	return Info{Name: s.name, Description: "stub"}
}

func (s *stubTool) Execute(ctx context.Context, args map[string]any) Result {
	s.gotArgs = args
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return failure(s.name, args, ctx.Err())
		case <-time.After(s.delay):
		}
	}
	r := s.result
	r.ToolID = s.name
	return r
}

func TestRegistryRegisterAndList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(&stubTool{name: "web_search"}))
	require.NoError(t, r.RegisterTool(&stubTool{name: "calendar_op"}))

	infos := r.ListTools()
	require.Len(t, infos, 2)
	// sorted by name
	assert.Equal(t, "calendar_op", infos[0].Name)
	assert.Equal(t, "web_search", infos[1].Name)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(&stubTool{name: "web_search"}))
	err := r.RegisterTool(&stubTool{name: "web_search"})
	require.Error(t, err)

	var regErr *RegistryError
	assert.ErrorAs(t, err, &regErr)
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "nonexistent", nil, time.Second)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
}

func TestRegistryExecutePassesArgs(t *testing.T) {
	stub := &stubTool{name: "web_search", result: Result{Success: true}}
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(stub))

	args := map[string]any{"query": "latest news"}
	result := r.Execute(context.Background(), "web_search", args, time.Second)

	assert.True(t, result.Success)
	assert.Equal(t, "latest news", stub.gotArgs["query"])
	assert.Greater(t, result.Latency, time.Duration(0))
}

func TestRegistryExecuteTimeout(t *testing.T) {
	stub := &stubTool{name: "semantic_search", delay: 200 * time.Millisecond, result: Result{Success: true}}
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(stub))

	result := r.Execute(context.Background(), "semantic_search", nil, 20*time.Millisecond)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}
