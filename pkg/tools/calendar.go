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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maestroworks/maestro/pkg/httpclient"
)

// Calendar actions.
const (
	CalendarSchedule     = "schedule"
	CalendarAvailability = "check_availability"
	CalendarFindTimes    = "find_times"
	CalendarGet          = "get_calendar"
)

// CalendarConfig wires the calendar_op tool to an HTTP calendar API.
type CalendarConfig struct {
	Host    string `yaml:"host" json:"host"`
	APIKey  string `yaml:"api_key" json:"api_key"`
	Timeout int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

func (c *CalendarConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// CalendarTool performs calendar reads and event creation. Reads retry on
// transient failures; schedule is a write and never retries.
type CalendarTool struct {
	config      CalendarConfig
	readClient  *httpclient.Client
	writeClient *httpclient.Client
}

func NewCalendarTool(cfg CalendarConfig) (*CalendarTool, error) {
	cfg.SetDefaults()
	if cfg.Host == "" {
		return nil, fmt.Errorf("host is required for calendar_op")
	}

	base := &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	return &CalendarTool{
		config: cfg,
		readClient: httpclient.New(
			httpclient.WithHTTPClient(base),
		),
		writeClient: httpclient.New(
			httpclient.WithHTTPClient(base),
			httpclient.WithMaxRetries(0),
		),
	}, nil
}

func (t *CalendarTool) Info() Info {
	return Info{
		Name:        IDCalendarOp,
		Description: "Schedule meetings, check availability, find open times, or read a calendar.",
		Parameters: []Parameter{
			{Name: "action", Type: "string", Description: "Calendar operation to perform", Required: true,
				Enum: []string{CalendarSchedule, CalendarAvailability, CalendarFindTimes, CalendarGet}},
			{Name: "title", Type: "string", Description: "Event title (schedule)", Required: false},
			{Name: "start", Type: "string", Description: "Start time, RFC3339 (schedule, check_availability)", Required: false},
			{Name: "end", Type: "string", Description: "End time, RFC3339 (schedule, check_availability)", Required: false},
			{Name: "attendees", Type: "array", Description: "Attendee emails", Required: false},
			{Name: "duration_minutes", Type: "number", Description: "Desired slot length (find_times)", Required: false},
			{Name: "date", Type: "string", Description: "Day to read, YYYY-MM-DD (get_calendar)", Required: false},
		},
	}
}

func (t *CalendarTool) Execute(ctx context.Context, args map[string]any) Result {
	action := stringArg(args, "action")

	var (
		payload map[string]any
		err     error
	)
	switch action {
	case CalendarSchedule:
		payload, err = t.schedule(ctx, args)
	case CalendarAvailability:
		payload, err = t.get(ctx, "/availability", map[string]string{
			"start":     stringArg(args, "start"),
			"end":       stringArg(args, "end"),
			"attendees": joinComma(stringsArg(args, "attendees")),
		})
	case CalendarFindTimes:
		payload, err = t.get(ctx, "/find_times", map[string]string{
			"duration_minutes": fmt.Sprintf("%d", intArg(args, "duration_minutes", 30)),
			"attendees":        joinComma(stringsArg(args, "attendees")),
		})
	case CalendarGet:
		payload, err = t.get(ctx, "/calendar", map[string]string{
			"date": stringArg(args, "date"),
		})
	default:
		err = fmt.Errorf("unknown calendar action %q", action)
	}

	if err != nil {
		return failure(IDCalendarOp, args, err)
	}
	return Result{
		ToolID:  IDCalendarOp,
		Input:   args,
		Success: true,
		Payload: payload,
	}
}

func (t *CalendarTool) schedule(ctx context.Context, args map[string]any) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"title":     stringArg(args, "title"),
		"start":     stringArg(args, "start"),
		"end":       stringArg(args, "end"),
		"attendees": stringsArg(args, "attendees"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Host+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	return t.do(t.writeClient, req)
}

func (t *CalendarTool) get(ctx context.Context, path string, params map[string]string) (map[string]any, error) {
	query := url.Values{}
	for k, v := range params {
		if v != "" {
			query.Set(k, v)
		}
	}

	endpoint := t.config.Host + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.config.APIKey)

	return t.do(t.readClient, req)
}

func (t *CalendarTool) do(client *httpclient.Client, req *http.Request) (map[string]any, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("calendar auth rejected with status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("calendar request failed with status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode calendar response: %w", err)
	}
	return payload, nil
}

func joinComma(parts []string) string {
	return strings.Join(parts, ",")
}
