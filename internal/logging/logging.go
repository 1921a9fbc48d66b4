// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the server's zap logger.
//
// Three sinks are teed together:
//   - <dir>/error.log: JSON, error level and above
//   - <dir>/combined.log: JSON, configured level and above
//   - console: human-readable, configured level, omitted in production
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// File names under Options.Dir.
const (
	ErrorLogFile    = "error.log"
	CombinedLogFile = "combined.log"
)

// Options configures New.
type Options struct {
	// Dir holds the log files. Empty disables file sinks.
	Dir string

	// Level is debug, info, warn or error (default: info).
	Level string

	// Environment "production" disables the console sink.
	Environment string

	// Console receives the console sink (default: os.Stderr).
	Console io.Writer

	// Service is attached to every entry.
	Service string
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	var level zapcore.Level
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// New builds the teed logger. The returned close function syncs and closes
// the log files.
func New(opts Options) (*zap.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var cores []zapcore.Core
	var files []*os.File
	closeFiles := func() error {
		var first error
		for _, f := range files {
			if err := f.Sync(); err != nil && first == nil {
				first = err
			}
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		jsonEncoder := zapcore.NewJSONEncoder(fileEncoderConfig())

		sinks := []struct {
			name  string
			level zapcore.LevelEnabler
		}{
			{ErrorLogFile, zapcore.ErrorLevel},
			{CombinedLogFile, level},
		}
		for _, sink := range sinks {
			f, err := os.OpenFile(filepath.Join(opts.Dir, sink.name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				closeFiles()
				return nil, nil, fmt.Errorf("failed to open %s: %w", sink.name, err)
			}
			files = append(files, f)
			cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(f), sink.level))
		}
	}

	if opts.Environment != "production" {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(console), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if opts.Service != "" {
		logger = logger.With(zap.String("service", opts.Service))
	}

	cleanup := func() error {
		_ = logger.Sync()
		return closeFiles()
	}
	return logger, cleanup, nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
