// ABOUTME: Interactive terminal chat against a stored session
// ABOUTME: Streams replies token by token; /exit or /quit leaves the loop

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/2389/jacox/internal/agent"
	"github.com/2389/jacox/internal/conversation"
	"github.com/2389/jacox/internal/providers"
	"github.com/2389/jacox/internal/store"
	"github.com/2389/jacox/internal/tools"
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "chat with a session from the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "session id", Required: true},
		},
		Action: runChat,
	}
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// Keep the terminal for the conversation; only warnings reach stderr.
	logCfg := cfg.Logging
	if parseLevel(logCfg.Level) < slog.LevelWarn {
		logCfg.Level = "warn"
	}
	logger := setupLogger(logCfg, cmd.Root().ErrWriter)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	provider, err := providers.New(cfg.LLM, &http.Client{})
	if err != nil {
		return err
	}
	registry, err := tools.NewBuiltinRegistry(cfg.Tools, logger)
	if err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}
	defer registry.Close()

	svc := conversation.New(conversation.Config{
		Store:    s,
		Provider: provider,
		Tools:    registry,
		Chat:     cfg.Chat,
		Logger:   logger,
	})
	return chatLoop(ctx, cmd, svc, s, cmd.String("session"))
}

// chatLoop reads lines from the command's reader and streams each reply.
func chatLoop(ctx context.Context, cmd *cli.Command, svc *conversation.Service, s store.Store, sessionID string) error {
	root := cmd.Root()
	out := root.Writer

	if _, err := s.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session %s not found", sessionID)
		}
		return fmt.Errorf("loading session: %w", err)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed)

	cyan.Fprintln(out, "--- Jacox Terminal Chat ---")
	fmt.Fprintf(out, "Connected to Session: %s\n", sessionID)
	fmt.Fprintln(out, "Type /exit to quit.")
	cyan.Fprintln(out, "---------------------------")

	scanner := bufio.NewScanner(root.Reader)
	for {
		green.Fprint(out, "\nUser> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/exit" || text == "/quit" {
			return nil
		}

		cyan.Fprint(out, "Jacox> ")
		_, err := svc.Stream(ctx, sessionID, text, func(tok string) error {
			_, werr := fmt.Fprint(out, tok)
			return werr
		})
		fmt.Fprintln(out)

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, agent.ErrSessionNotFound):
			return fmt.Errorf("session %s no longer exists", sessionID)
		case err != nil:
			red.Fprintf(out, "error: %v\n", err)
		}
	}
}
