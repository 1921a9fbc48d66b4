// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/ipa/internal/client"
	"github.com/jeranaias/ipa/internal/config"
	"github.com/jeranaias/ipa/internal/protocol"
)

// ErrServerUnreachable is returned by Run when the startup health check
// fails.
var ErrServerUnreachable = errors.New("server unreachable")

// maxImageBytes bounds /image attachments.
const maxImageBytes = 8 << 20

type commandInfo struct {
	usage string
	desc  string
}

var commandHelp = []commandInfo{
	{"/help", "Show this menu"},
	{"/list", "List all articles"},
	{"/read [name]", "Read an article"},
	{"/delete <name>", "Delete an article"},
	{"/stats", "Show articles statistics"},
	{"/image <path> [msg]", "Send an image with a message"},
	{"/config", "Show current configuration"},
	{"/clear", "Clear screen"},
	{"/quit", "Exit client"},
}

// =============================================================================
// CONSOLE
// =============================================================================

// Options configures a Console.
type Options struct {
	Config  *config.Config
	Manager *client.Manager
	API     *client.APIClient
	Input   LineReader
	Out     io.Writer

	// Markdown renders replies and articles with glamour. Set it only
	// when stdout is a terminal.
	Markdown bool
}

// Console is the interactive client: chat turns go over the Manager's
// event channel, document commands use it when connected and fall back to
// the REST API otherwise.
type Console struct {
	cfg     *config.Config
	manager *client.Manager
	api     *client.APIClient
	input   LineReader
	display *Display
}

// New returns a Console and subscribes it to the Manager's events.
func New(opts Options) *Console {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if !cfg.Display.Colors {
		DisableColors()
	}

	c := &Console{
		cfg:     cfg,
		manager: opts.Manager,
		api:     opts.API,
		input:   opts.Input,
		display: NewDisplay(out, cfg.Display, opts.Markdown),
	}
	c.subscribe()
	return c
}

// Display returns the console's output.
func (c *Console) Display() *Display {
	return c.display
}

func (c *Console) subscribe() {
	d := c.display
	c.manager.OnConnectionChange(d.ConnectionStatus)
	c.manager.OnMessage(func(_ string, r protocol.AIResponse) {
		d.AIResponse(r)
	})
	c.manager.OnError(func(_ string, e protocol.Error) {
		d.Error("Server error: " + e.Message)
	})
	c.manager.OnDocumentsList(func(id string, names []string) {
		if id == "" {
			d.Info("Articles changed on the server:")
		} else {
			d.Info("Articles from server:")
		}
		d.ArticlesList(names)
	})
	c.manager.OnDocumentSaved(func(_ string, s protocol.ArticleSaved) {
		d.Success("Article saved: " + s.Filename)
	})
	c.manager.OnDocumentDeleted(func(_ string, r protocol.ArticleDeleted) {
		if r.Success {
			d.Success("Article deleted: " + r.Filename)
		} else {
			d.Error(r.Message)
		}
	})
	c.manager.OnDocumentContent(func(_ string, a protocol.ArticleContent) {
		d.ArticleContent(a.Filename, a.Content)
	})
}

// Run checks the server, opens the event channel and reads commands until
// /quit, end of input or ctx is done. A failed health check returns
// ErrServerUnreachable. A failed socket connect only leaves the console in
// REST mode.
func (c *Console) Run(ctx context.Context) error {
	c.display.Header()
	c.display.Info("Initializing IPA Console Client...")

	health, err := c.api.Health(ctx)
	if err != nil {
		c.display.Error("Server connection failed: " + err.Error())
		c.display.Warning("Make sure the server is running and accessible")
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	c.display.Success(fmt.Sprintf("Server is reachable (v%s, model %s)", health.Version, health.Model))

	if err := c.manager.Connect(ctx, c.cfg.Client.ServerURL); err != nil {
		c.display.Error("Connection error: " + err.Error())
		c.display.Warning("You can still use REST API commands")
	}

	c.display.Menu()

	for ctx.Err() == nil {
		line, err := c.input.Prompt("> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				break
			}
			return fmt.Errorf("read input: %w", err)
		}
		c.input.AppendHistory(strings.TrimSpace(line))
		if c.Execute(ctx, line) {
			break
		}
	}

	c.display.Info("Goodbye!")
	return nil
}

// Execute handles one input line and reports whether the console should
// exit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.sendMessage(line, nil)
		return false
	}

	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "/help":
		c.display.Menu()
	case "/list":
		c.listArticles(ctx)
	case "/read":
		c.readArticle(ctx, strings.Join(args, " "))
	case "/delete":
		c.deleteArticle(ctx, strings.Join(args, " "))
	case "/stats":
		c.showStats(ctx)
	case "/image":
		c.sendImage(args)
	case "/config":
		c.display.Config(c.cfg, c.manager.State())
	case "/clear":
		c.display.Clear()
		c.display.Header()
		c.display.Menu()
	case "/quit", "/exit":
		return true
	default:
		c.display.Error("Unknown command: " + cmd)
		c.display.Info("Type /help for available commands")
	}
	return false
}

// =============================================================================
// CHAT
// =============================================================================

func (c *Console) sendMessage(text string, att *client.Attachment) {
	if c.manager.State() != client.StateConnected {
		c.display.Error("Not connected to server. Chat needs a live connection; document commands use the REST API.")
		return
	}
	if c.manager.View().Pending() {
		c.display.Warning("Still waiting for the previous reply")
		return
	}

	c.display.UserMessage(text)
	_, err := c.manager.SendTurn(text, att)
	switch {
	case err == nil:
	case errors.Is(err, client.ErrTurnPending):
		c.display.Warning("Still waiting for the previous reply")
	case errors.Is(err, client.ErrSessionUnavailable):
		c.display.Error("AI service is unavailable. Document commands still work.")
	case errors.Is(err, client.ErrNotConnected):
		c.display.Error("Not connected to server")
	default:
		c.display.Error("Send failed: " + err.Error())
	}
}

func (c *Console) sendImage(args []string) {
	if len(args) == 0 {
		c.display.Error("Usage: /image <path> [message]")
		return
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		c.display.Error("Cannot read image: " + err.Error())
		return
	}
	if len(data) > maxImageBytes {
		c.display.Error(fmt.Sprintf("Image is larger than %d MB", maxImageBytes>>20))
		return
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		c.display.Error("Not an image: " + mime)
		return
	}
	text := strings.Join(args[1:], " ")
	if text == "" {
		text = "Describe this image."
	}
	c.sendMessage(text, &client.Attachment{Data: data, MimeType: mime})
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// viaSocket issues a request on the event channel and reports whether it
// was sent. The reply is printed by the subscribed handlers.
func (c *Console) viaSocket(send func() (string, error)) bool {
	if c.manager.State() != client.StateConnected {
		return false
	}
	if _, err := send(); err != nil {
		c.display.Warning("Socket request failed, using REST API: " + err.Error())
		return false
	}
	return true
}

func (c *Console) listArticles(ctx context.Context) {
	if c.viaSocket(c.manager.RequestDocuments) {
		return
	}
	names, err := c.api.ListArticles(ctx)
	if err != nil {
		c.display.Error("Failed to load articles: " + err.Error())
		return
	}
	c.display.ArticlesList(names)
}

func (c *Console) readArticle(ctx context.Context, name string) {
	if name == "" {
		picked, ok := c.pickArticle(ctx)
		if !ok {
			return
		}
		name = picked
	}
	if c.viaSocket(func() (string, error) { return c.manager.RequestDocument(name) }) {
		return
	}
	content, err := c.api.GetArticle(ctx, name)
	switch {
	case errors.Is(err, client.ErrArticleNotFound):
		c.display.Error("Article not found: " + name)
	case err != nil:
		c.display.Error("Failed to load article: " + err.Error())
	default:
		c.display.ArticleContent(name, content)
	}
}

// pickArticle lists the articles and asks for a name or list number.
func (c *Console) pickArticle(ctx context.Context) (string, bool) {
	names, err := c.api.ListArticles(ctx)
	if err != nil {
		c.display.Error("Failed to get articles list: " + err.Error())
		return "", false
	}
	if len(names) == 0 {
		c.display.Warning("No articles available")
		return "", false
	}
	c.display.ArticlesList(names)

	answer, err := c.input.Prompt("Select an article to read: ")
	answer = strings.TrimSpace(answer)
	if err != nil || answer == "" {
		return "", false
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(names) {
			c.display.Error(fmt.Sprintf("No article number %d", n))
			return "", false
		}
		return names[n-1], true
	}
	return answer, true
}

func (c *Console) deleteArticle(ctx context.Context, name string) {
	if name == "" {
		c.display.Error("Usage: /delete <name>")
		return
	}
	if c.viaSocket(func() (string, error) { return c.manager.DeleteDocument(name) }) {
		return
	}
	err := c.api.DeleteArticle(ctx, name)
	switch {
	case errors.Is(err, client.ErrArticleNotFound):
		c.display.Error("Article not found: " + name)
	case err != nil:
		c.display.Error("Failed to delete article: " + err.Error())
	default:
		c.display.Success("Article deleted: " + name)
	}
}

// showStats always uses REST; the event channel has no stats event.
func (c *Console) showStats(ctx context.Context) {
	stats, err := c.api.Stats(ctx)
	if err != nil {
		c.display.Error("Failed to load statistics: " + err.Error())
		return
	}
	c.display.Stats(stats)
}
