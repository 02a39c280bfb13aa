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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDocsResponseList(t *testing.T) {
	payload := normalizeDocsResponse(`{
		"status": "success",
		"execution_method": "direct_api",
		"data": [
			{"title": "AUTOPILOT-123: Fix login", "url": "https://jira.example.com/browse/AUTOPILOT-123", "type": "jira", "summary": "In review"},
			{"title": "Deploy runbook", "url": "https://wiki.example.com/runbook", "type": "confluence"}
		]
	}`)

	assert.Equal(t, "success", payload.Status)
	assert.Equal(t, "direct_api", payload.ExecutionMethod)
	require.Len(t, payload.Items, 2)
	assert.Equal(t, "jira", payload.Items[0].Type)
	assert.Equal(t, "confluence", payload.Items[1].Type)
}

func TestNormalizeDocsResponseSingleItem(t *testing.T) {
	payload := normalizeDocsResponse(`{"status": "ok", "data": {"key": "PROJ-9", "url": "https://jira.example.com/browse/PROJ-9"}}`)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "PROJ-9", payload.Items[0].Title)
	assert.Equal(t, "jira", payload.Items[0].Type)
}

func TestNormalizeDocsResponseInfersTypeFromURL(t *testing.T) {
	payload := normalizeDocsResponse(`{"data": [{"title": "Ticket", "url": "https://jira.example.com/browse/ABC-1", "type": "issue"}]}`)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "jira", payload.Items[0].Type)
}

func TestNormalizeDocsResponseProse(t *testing.T) {
	payload := normalizeDocsResponse("The sprint board shows 4 open tickets.\nTwo are blocked.")
	assert.Equal(t, "ok", payload.Status)
	require.Len(t, payload.Items, 1)
	assert.Equal(t, "The sprint board shows 4 open tickets.", payload.Items[0].Title)
}

func TestNormalizeDocsResponseEmpty(t *testing.T) {
	payload := normalizeDocsResponse("   ")
	assert.Equal(t, "empty", payload.Status)
	assert.Empty(t, payload.Items)
}

func TestNormalizeDocsResponseErrorStatus(t *testing.T) {
	payload := normalizeDocsResponse(`{"status": "error", "data": "auth expired"}`)
	assert.Equal(t, "error", payload.Status)
}

func TestTicketsDocsToolRequiresServerURL(t *testing.T) {
	_, err := NewTicketsDocsTool(DocsConfig{})
	assert.Error(t, err)
}
