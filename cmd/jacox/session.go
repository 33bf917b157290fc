// ABOUTME: Session management subcommands operating directly on the database
// ABOUTME: create, list, delete, export to a text file and import from one

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/2389/jacox/internal/store"
	"github.com/2389/jacox/internal/transcript"
)

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "manage chat sessions",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a new session",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "session name", Required: true},
				},
				Action: withStore(runSessionCreate),
			},
			{
				Name:   "list",
				Usage:  "list sessions, newest first",
				Action: withStore(runSessionList),
			},
			{
				Name:      "delete",
				Usage:     "delete a session and its messages",
				ArgsUsage: "<id>",
				Action:    withStore(runSessionDelete),
			},
			{
				Name:      "export",
				Usage:     "export a session to a text file",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "output file (default session_<id>.txt)"},
				},
				Action: withStore(runSessionExport),
			},
			{
				Name:  "import",
				Usage: "import a session from an exported text file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "file to import", Required: true},
				},
				Action: withStore(runSessionImport),
			},
		},
	}
}

type storeAction func(ctx context.Context, cmd *cli.Command, s store.Store) error

// withStore opens the configured database around a subcommand.
func withStore(fn storeAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer s.Close()
		return fn(ctx, cmd, s)
	}
}

func sessionArg(cmd *cli.Command) (string, error) {
	id := strings.TrimSpace(cmd.Args().First())
	if id == "" {
		return "", errors.New("session id is required")
	}
	return id, nil
}

func runSessionCreate(ctx context.Context, cmd *cli.Command, s store.Store) error {
	session, err := s.CreateSession(ctx, cmd.String("name"), nil)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "Created Session: %s (%s)\n", session.Name, session.ID)
	return nil
}

func runSessionList(ctx context.Context, cmd *cli.Command, s store.Store) error {
	out := cmd.Root().Writer
	sessions, err := s.ListSessions(ctx, store.DefaultLimit, 0)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	fmt.Fprintf(out, "%-38s | %-20s | %s\n", "ID", "Created At", "Name")
	fmt.Fprintf(out, "%s-+-%s-+-%s\n", strings.Repeat("-", 38), strings.Repeat("-", 20), strings.Repeat("-", 20))
	for _, sess := range sessions {
		fmt.Fprintf(out, "%-38s | %-20s | %s\n", sess.ID, sess.CreatedAt.UTC().Format("2006-01-02 15:04:05"), sess.Name)
	}
	return nil
}

func runSessionDelete(ctx context.Context, cmd *cli.Command, s store.Store) error {
	id, err := sessionArg(cmd)
	if err != nil {
		return err
	}
	if err := s.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session %s not found", id)
		}
		return fmt.Errorf("deleting session: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "Deleted session %s\n", id)
	return nil
}

func runSessionExport(ctx context.Context, cmd *cli.Command, s store.Store) error {
	id, err := sessionArg(cmd)
	if err != nil {
		return err
	}
	session, err := s.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("session %s not found", id)
		}
		return fmt.Errorf("loading session: %w", err)
	}
	messages, err := s.ListMessages(ctx, id, store.MaxLimit, 0)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	path := cmd.String("path")
	if path == "" {
		path = fmt.Sprintf("session_%s.txt", id)
	}
	if err := os.WriteFile(path, []byte(transcript.Export(session, messages)), 0o644); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "Session exported successfully to: %s\n", path)
	return nil
}

func runSessionImport(ctx context.Context, cmd *cli.Command, s store.Store) error {
	data, err := os.ReadFile(cmd.String("path"))
	if err != nil {
		return fmt.Errorf("reading import file: %w", err)
	}
	session, err := transcript.Restore(ctx, s, transcript.Import(string(data)))
	if err != nil {
		return fmt.Errorf("importing session: %w", err)
	}
	out := cmd.Root().Writer
	fmt.Fprintf(out, "Created new session: %s\n", session.ID)
	fmt.Fprintln(out, "Import completed successfully.")
	return nil
}
