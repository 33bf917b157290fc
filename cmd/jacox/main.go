// ABOUTME: Entry point for the jacox chat gateway
// ABOUTME: Wires the serve, chat and session commands behind a global --config flag

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/2389/jacox/internal/config"
	"github.com/2389/jacox/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
     _
    (_) __ _  ___ _____  __
    | |/ _' |/ __/ _ \ \/ /
    | | (_| | (_| (_) >  <
   _/ |\__,_|\___\___/_/\_\
  |__/
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "jacox",
		Usage:   "LLM chat gateway",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to the YAML or TOML configuration file",
				Sources: cli.EnvVars("JACOX_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the HTTP API and WebSocket server",
				Action: runServe,
			},
			chatCommand(),
			sessionCommand(),
		},
	}
}

// loadConfig reads the file named by the global --config flag.
func loadConfig(cmd *cli.Command) (*config.Config, string, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	out := cmd.Root().Writer

	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging, cmd.Root().ErrWriter)

	green := color.New(color.FgGreen)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.Addr())
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Provider:  %s\n", cfg.LLM.Provider)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Database:  %s\n", cfg.Database.Path)
	if cfg.Tools.Search.Disabled {
		yellow := color.New(color.FgYellow)
		yellow.Fprintln(out, "    ! internet_search disabled")
	}
	fmt.Fprintln(out)

	logger.Info("starting jacox",
		"config", configPath,
		"http_addr", cfg.Server.Addr(),
		"provider", cfg.LLM.Provider,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}
