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

// Span names.
const (
	SpanEngineRequest = "maestro.engine.request"
	SpanEnginePhase   = "maestro.engine.phase"
	SpanToolExecution = "maestro.tool.execution"
	SpanModelCall     = "maestro.model.call"
)

// Common attribute keys.
const (
	AttrToolName     = "maestro.tool.name"
	AttrPhase        = "maestro.engine.phase"
	AttrModelTier    = "maestro.model.tier"
	AttrConversation = "maestro.conversation.id"
)
