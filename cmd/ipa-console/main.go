// ipa-console is the interactive terminal client for an IPA server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/ipa/internal/cli"
	"github.com/jeranaias/ipa/internal/client"
	"github.com/jeranaias/ipa/internal/config"
	"github.com/jeranaias/ipa/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

type flags struct {
	configPath   string
	serverURL    string
	attempts     int
	noColor      bool
	noTimestamps bool
	logLevel     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, cli.ErrServerUnreachable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "ipa-console [server-url]",
		Short: "Chat with an IPA server from the terminal",
		Long: `Chat with an IPA server from the terminal.

Plain lines are sent to the assistant; slash commands manage articles.
Type /help inside the console for the command list.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.serverURL = args[0]
			}
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Config file path (TOML or JSON)")
	fl.StringVarP(&f.serverURL, "server", "s", "", "Server URL (default from client.server_url)")
	fl.IntVar(&f.attempts, "reconnect-attempts", 0, "Reconnect attempts after a dropped connection")
	fl.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fl.BoolVar(&f.noTimestamps, "no-timestamps", false, "Hide message timestamps")
	fl.StringVar(&f.logLevel, "log-level", "warn", "Client log level, written to stderr")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	return cmd
}

func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		if cfg, err = config.LoadFromPath(f.configPath); err != nil {
			return nil, err
		}
	} else if cfg, err = config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if f.serverURL != "" {
		cfg.Client.ServerURL = f.serverURL
	}
	if cmd.Flags().Changed("reconnect-attempts") {
		cfg.Client.ReconnectAttempts = f.attempts
	}
	if f.noColor {
		cfg.Display.Colors = false
	}
	if f.noTimestamps {
		cfg.Display.Timestamps = false
	}
	cfg.Log.Level = f.logLevel
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	// No file sinks: the console only logs to stderr
	logger, closeLogs, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Service: "ipa-console",
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closeLogs()

	manager := client.NewManager(client.Options{
		Policy:           client.PolicyFromConfig(cfg),
		HandshakeTimeout: cfg.HandshakeTimeout(),
		Logger:           logger,
	})
	defer manager.Close()

	input := cli.NewLinerInput()
	defer input.Close()

	console := cli.New(cli.Options{
		Config:   cfg,
		Manager:  manager,
		API:      client.NewAPIClient(cfg.Client.ServerURL, cfg.RequestTimeout()),
		Input:    input,
		Markdown: cli.IsStdoutTTY(),
	})
	return console.Run(ctx)
}
