// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ipa/internal/client"
	"github.com/jeranaias/ipa/internal/config"
	"github.com/jeranaias/ipa/internal/protocol"
	"github.com/jeranaias/ipa/internal/storage"
	"github.com/jeranaias/ipa/internal/util"
)

// statsRows bounds the per-article table printed by /stats.
const statsRows = 10

// Display writes console output. It is safe for concurrent use: the REPL
// and the Manager's dispatch goroutine both print through it.
type Display struct {
	mu         sync.Mutex
	out        io.Writer
	timestamps bool
	maxLen     int
	width      int
	markdown   *glamour.TermRenderer
	now        func() time.Time
}

// NewDisplay returns a Display writing to out. When markdown is true,
// replies and articles are rendered through glamour.
func NewDisplay(out io.Writer, cfg config.DisplayConfig, markdown bool) *Display {
	d := &Display{
		out:        out,
		timestamps: cfg.Timestamps,
		maxLen:     cfg.MaxMessageLength,
		width:      DefaultTerminalWidth,
		now:        time.Now,
	}
	if markdown {
		d.width = GetTerminalWidth()
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(d.width-4),
		)
		if err == nil {
			d.markdown = r
		}
	}
	return d
}

func (d *Display) println(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, s)
}

func (d *Display) stamp() string {
	if !d.timestamps {
		return ""
	}
	return DimStyle.Render("["+d.now().Format("15:04:05")+"]") + " "
}

func (d *Display) line(style lipgloss.Style, icon, msg string) {
	d.println(d.stamp() + style.Render(icon+" "+msg))
}

// renderMarkdown falls back to the raw text when no renderer is set or
// rendering fails.
func (d *Display) renderMarkdown(s string) string {
	if d.markdown == nil {
		return s
	}
	out, err := d.markdown.Render(s)
	if err != nil {
		return s
	}
	return strings.TrimRight(out, "\n")
}

// =============================================================================
// STATUS LINES
// =============================================================================

func (d *Display) Info(msg string)    { d.line(InfoStyle, "ℹ", msg) }
func (d *Display) Success(msg string) { d.line(SuccessStyle, "✓", msg) }
func (d *Display) Warning(msg string) { d.line(WarningStyle, "⚠", msg) }
func (d *Display) Error(msg string)   { d.line(ErrorStyle, "✗", msg) }

// ConnectionStatus prints a connection state change.
func (d *Display) ConnectionStatus(s client.State) {
	switch s {
	case client.StateConnected:
		d.line(SuccessStyle, "🔗", "Connected to server")
	case client.StateDisconnected:
		d.line(ErrorStyle, "🔌", "Disconnected from server")
	case client.StateConnecting:
		d.line(WarningStyle, "🔄", "Connecting to server...")
	case client.StateReconnecting:
		d.line(WarningStyle, "🔄", "Reconnecting...")
	case client.StateFailed:
		d.Error("Failed to reconnect to server")
		d.Warning("You can still use REST API commands")
	}
}

// =============================================================================
// CHAT
// =============================================================================

// UserMessage echoes a sent turn.
func (d *Display) UserMessage(text string) {
	d.println(d.stamp() + UserStyle.Render("👤 You: "+text))
}

// AIResponse prints one reply with its action summary.
func (d *Display) AIResponse(r protocol.AIResponse) {
	var b strings.Builder
	b.WriteString(d.stamp() + BotStyle.Render("🤖 AI:") + "\n")

	text := r.Text
	if d.maxLen > 0 {
		text = util.TruncateRunes(text, d.maxLen)
	}
	if text != "" {
		b.WriteString(d.renderMarkdown(text))
	}

	if r.Action != "" && r.Action != "CHAT" {
		action := "Action: " + r.Action
		switch {
		case r.Filename != "":
			action += " (" + r.Filename + ")"
		case r.URL != "":
			action += " (" + r.URL + ")"
		case r.Location != "":
			action += " (" + r.Location + ")"
		}
		b.WriteString("\n" + DimStyle.Render(action))
	}
	d.println(b.String())
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// ArticlesList prints a numbered table of article names.
func (d *Display) ArticlesList(names []string) {
	if len(names) == 0 {
		d.println(DimStyle.Render("No articles found"))
		return
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render(util.PadRight("№", 5) + util.PadRight("Filename", 40)))
	for i, name := range names {
		b.WriteString("\n" + util.PadRight(fmt.Sprintf("%d", i+1), 5) + ValueStyle.Render(util.PadRight(name, 40)))
	}
	d.println(b.String())
}

// Stats prints the store totals and its most recently modified articles.
func (d *Display) Stats(s *storage.Stats) {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("📊 Articles Statistics") + "\n")
	b.WriteString(RenderField("Total articles:", fmt.Sprintf("%d", s.Count)) + "\n")
	b.WriteString(RenderField("Total size:", formatKB(s.TotalBytes, 2)))

	if len(s.Documents) > 0 {
		b.WriteString("\n" + TitleStyle.Render(
			util.PadRight("Filename", 30)+util.PadRight("Size", 12)+util.PadRight("Lines", 8)+"Modified"))
		docs := s.Documents
		if len(docs) > statsRows {
			docs = docs[:statsRows]
		}
		for _, doc := range docs {
			b.WriteString("\n" + ValueStyle.Render(util.PadRight(doc.Name, 30)) +
				DimStyle.Render(util.PadRight(formatKB(doc.Bytes, 1), 12)+
					util.PadRight(fmt.Sprintf("%d", doc.LineCount), 8)+
					doc.ModifiedAt.Local().Format("2006-01-02 15:04")))
		}
	}
	d.println(b.String())
}

// ArticleContent prints one article between separators.
func (d *Display) ArticleContent(name, content string) {
	d.println(TitleStyle.Render("📄 Article: "+name) + "\n" +
		RenderSeparator(50) + "\n" +
		d.renderMarkdown(content) + "\n" +
		RenderSeparator(50))
}

func formatKB(n int64, precision int) string {
	return fmt.Sprintf("%.*f KB", precision, float64(n)/1024)
}

// =============================================================================
// SCREENS
// =============================================================================

// Header prints the banner.
func (d *Display) Header() {
	d.println(TitleStyle.Render("IPA CLIENT") + "\n" +
		DimStyle.Render("Integrated Portable Assistant - Console Client") + "\n")
}

// Menu prints the command list.
func (d *Display) Menu() {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("📋 Available Commands:"))
	for _, c := range commandHelp {
		b.WriteString("\n  " + ValueStyle.Render(util.PadRight(c.usage, 18)) + DimStyle.Render("- "+c.desc))
	}
	b.WriteString("\n" + DimStyle.Render("  Type your message to chat with AI") + "\n")
	d.println(b.String())
}

// Config prints the settings the console runs with.
func (d *Display) Config(cfg *config.Config, state client.State) {
	enabled := func(b bool) string {
		if b {
			return "enabled"
		}
		return "disabled"
	}
	d.println(strings.Join([]string{
		TitleStyle.Render("⚙️  Current Configuration:"),
		RenderField("Server:", cfg.Client.ServerURL),
		RenderField("Connection:", state.String()),
		RenderField("Client:", "IPA Console Client v"+cfg.Version),
		RenderField("Reconnect attempts:", fmt.Sprintf("%d", cfg.Client.ReconnectAttempts)),
		RenderField("Reconnect delay:", cfg.ReconnectDelay().String()),
		RenderField("Colors:", enabled(cfg.Display.Colors)),
		RenderField("Timestamps:", enabled(cfg.Display.Timestamps)),
	}, "\n"))
}

// Separator prints a horizontal rule.
func (d *Display) Separator() {
	d.println(RenderSeparator(60))
}

// Clear clears the terminal.
func (d *Display) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(d.out, "\033[H\033[2J")
}
