// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the IPA console client.
//
// The console is a thin REPL over internal/client: plain lines are chat
// turns sent on the event channel, slash commands manage articles.
// Document commands go over the event channel while it is connected and
// use the REST API otherwise, so /list, /read, /delete and /stats keep
// working after reconnection gives up.
//
// # Commands
//
//	/help             Show the command menu
//	/list             List all articles
//	/read [name]      Read an article (prompts when no name is given)
//	/delete <name>    Delete an article
//	/stats            Show article statistics
//	/image <path>     Send an image with an optional message
//	/config           Show current configuration
//	/clear            Clear screen
//	/quit, /exit      Exit
//
// # Output
//
// Display serializes all output so the REPL and the Manager's handler
// goroutine can print concurrently. Colors follow NO_COLOR, FORCE_COLOR
// and TTY detection; glamour markdown rendering is enabled only when
// stdout is a terminal.
//
// # Usage
//
//	console := cli.New(cli.Options{
//	    Config:   cfg,
//	    Manager:  manager,
//	    API:      client.NewAPIClient(cfg.Client.ServerURL, cfg.RequestTimeout()),
//	    Input:    cli.NewLinerInput(),
//	    Markdown: cli.IsStdoutTTY(),
//	})
//	err := console.Run(ctx)
package cli
