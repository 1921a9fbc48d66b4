// ipa-server serves the IPA assistant: the REST article API and the
// per-client event channel backed by a model gateway.
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
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/ipa/internal/config"
	"github.com/jeranaias/ipa/internal/gateway"
	"github.com/jeranaias/ipa/internal/logging"
	"github.com/jeranaias/ipa/internal/server"
	"github.com/jeranaias/ipa/internal/storage"
)

// Version information (set at build time)
var (
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// shutdownTimeout bounds graceful shutdown after a signal.
const shutdownTimeout = 10 * time.Second

type flags struct {
	configPath string
	host       string
	port       int
	storeDir   string
	provider   string
	model      string
	logLevel   string
	noWatch    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "ipa-server",
		Short: "Serve the IPA assistant",
		Long: `Serve the IPA assistant.

Exposes the article REST API under / and /api, and the event channel at
/ws. Each connected client gets its own model conversation.

Configuration is read from $IPA_CONFIG, ~/.ipa/config.toml or
~/.ipa/config.json, then environment variables (PORT, GEMINI_API_KEY,
IPA_*), then the flags below.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", server.Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
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
	fl.StringVar(&f.host, "host", "", "Listen host")
	fl.IntVarP(&f.port, "port", "p", 0, "Listen port")
	fl.StringVar(&f.storeDir, "store", "", "Article directory")
	fl.StringVar(&f.provider, "provider", "", "Model provider (gemini or ollama)")
	fl.StringVar(&f.model, "model", "", "Model name")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fl.BoolVar(&f.noWatch, "no-watch", false, "Do not watch the article directory for external changes")
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	return cmd
}

// loadConfig layers changed flags over the loaded configuration.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if f.configPath != "" {
		cfg, err = config.LoadFromPath(f.configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg, err = config.Load()
		if err != nil {
			// Defaults are still usable; report and continue
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	set := func(name, key string, value any) error {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		return cfg.Set(key, value)
	}
	for _, s := range []struct {
		name, key string
		value     any
	}{
		{"host", "server.host", f.host},
		{"port", "server.port", f.port},
		{"store", "store.dir", f.storeDir},
		{"provider", "model.provider", f.provider},
		{"model", "model.model", f.model},
		{"log-level", "log.level", f.logLevel},
	} {
		if err := set(s.name, s.key, s.value); err != nil {
			return nil, fmt.Errorf("--%s: %w", s.name, err)
		}
	}
	if f.noWatch {
		cfg.Store.Watch = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, closeLogs, err := logging.New(logging.Options{
		Dir:         cfg.Log.Dir,
		Level:       cfg.Log.Level,
		Environment: cfg.Log.Environment,
		Service:     "ipa-server",
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closeLogs()

	store, err := storage.NewDocumentStore(cfg.Store.Dir)
	if err != nil {
		logger.Error("STORE_OPEN_FAILED", zap.String("dir", cfg.Store.Dir), zap.Error(err))
		return err
	}

	gw, err := gateway.New(ctx, gateway.Options{
		Provider:  cfg.Model.Provider,
		APIKey:    cfg.Model.APIKey,
		Model:     cfg.Model.Model,
		OllamaURL: cfg.Model.OllamaURL,
		Timeout:   cfg.ModelTimeout(),
	})
	if err != nil {
		logger.Error("GATEWAY_INIT_FAILED", zap.String("provider", cfg.Model.Provider), zap.Error(err))
		return err
	}
	if p, ok := gw.(gateway.Prober); ok {
		if err := p.Probe(ctx); err != nil {
			logger.Warn("GATEWAY_PROBE_FAILED", zap.String("model", gw.Name()), zap.Error(err))
		}
	}

	srv := server.New(cfg, gw, store, logger)
	if cfg.Store.Watch {
		if err := srv.Watch(ctx); err != nil {
			logger.Warn("WATCH_DISABLED", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	})

	err = g.Wait()
	logger.Info("SERVER_STOPPED", zap.Error(err))
	return err
}
