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
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/maestroworks/maestro/pkg/config"
	"github.com/maestroworks/maestro/pkg/conversation"
	"github.com/maestroworks/maestro/pkg/engine"
	"github.com/maestroworks/maestro/pkg/progress"
)

// ServeCmd runs the interactive local harness: stdin lines become requests,
// progress renders to stderr, answers print to stdout.
type ServeCmd struct {
	Channel string `help:"Channel id used for the local conversation." default:"local"`
	User    string `help:"User name attached to turns." default:"you"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("serve requires --config")
	}
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	cid := conversation.ID{
		ChannelID: c.Channel,
		ThreadTS:  fmt.Sprintf("%d", time.Now().Unix()),
	}

	fmt.Println("maestro ready. Type a message, ctrl-d to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		c.handleMessage(ctx, rt, cid, text)
	}
	return scanner.Err()
}

func (c *ServeCmd) handleMessage(ctx context.Context, rt *runtime, cid conversation.ID, text string) {
	prog := progress.NewChannel()
	sub, err := prog.Subscribe()
	if err != nil {
		slog.Error("Progress subscription failed", "error", err)
		return
	}

	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		for delivery := range sub {
			fmt.Fprintf(os.Stderr, "\r\033[2K… %s\n", lastLine(delivery.Display))
		}
	}()

	answer, err := rt.engine.Process(ctx, engine.Request{
		ConversationID: cid,
		UserText:       text,
		UserProfile:    c.User,
	}, prog)
	prog.Close()
	<-renderDone

	if err != nil {
		fmt.Fprintln(os.Stderr, "request ended without an answer:", err)
		return
	}

	fmt.Println()
	fmt.Println(answer.Text)
	if len(answer.SourceLinks) > 0 {
		fmt.Println("\nSources:")
		for _, link := range answer.SourceLinks {
			fmt.Printf("  - %s (%s)\n", link.Title, link.URL)
		}
	}
	if len(answer.SuggestedFollowups) > 0 {
		fmt.Println("\nYou could ask:")
		for _, q := range answer.SuggestedFollowups {
			fmt.Printf("  - %s\n", q)
		}
	}
	fmt.Printf("\n[confidence: %s, %s]\n", answer.Confidence, answer.ExecutionSummary)

	now := time.Now().UTC()
	userTurn := conversation.Turn{
		TurnID:         uuid.NewString(),
		ConversationID: cid,
		Speaker:        conversation.SpeakerUser,
		Text:           text,
		CreatedAt:      now,
		Author:         &conversation.AuthorMeta{Name: c.User},
	}
	assistantTurn := conversation.Turn{
		TurnID:         uuid.NewString(),
		ConversationID: cid,
		Speaker:        conversation.SpeakerAssistant,
		Text:           answer.Text,
		CreatedAt:      now,
	}
	if err := rt.memory.CommitExchange(ctx, cid, userTurn, assistantTurn); err != nil {
		slog.Warn("Failed to commit exchange", "error", err)
	}
}

func lastLine(display string) string {
	if idx := strings.LastIndex(display, "\n"); idx >= 0 {
		return display[idx+1:]
	}
	return display
}
