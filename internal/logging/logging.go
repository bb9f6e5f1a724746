// Package logging builds the slog loggers used by the CLI.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// ActionKey is the attribute the console handler highlights, e.g.
// slog.String(logging.ActionKey, "render").
const ActionKey = "action"

// New returns a logger writing to w in the given format.
func New(format string, level slog.Level, w io.Writer) *slog.Logger {
	if format == FormatConsole {
		return slog.New(NewConsoleHandler(w, level))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

var (
	levelStyles = map[slog.Level]lipgloss.Style{
		slog.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		slog.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		slog.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		slog.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
	actionStyles = map[string]lipgloss.Style{
		"render":  lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		"copy":    lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		"clean":   lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		"delete":  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
	keyStyle = lipgloss.NewStyle().Faint(true)
)

// ConsoleHandler writes one human-readable, coloured line per record.
type ConsoleHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewConsoleHandler creates a ConsoleHandler.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{mu: &sync.Mutex{}, w: w, level: level}
}

// Enabled implements slog.Handler.
func (h *ConsoleHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var action string
	var fields []string

	add := func(a slog.Attr) {
		a.Value = a.Value.Resolve()
		if a.Equal(slog.Attr{}) {
			return
		}
		if a.Key == ActionKey && h.group == "" {
			action = a.Value.String()
			return
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fields = append(fields, keyStyle.Render(key+"=")+a.Value.String())
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	var b strings.Builder
	b.WriteString(levelStyle(r.Level).Render(fmt.Sprintf("%-5s", r.Level.String())))
	b.WriteByte(' ')
	if action != "" {
		style, ok := actionStyles[action]
		if !ok {
			style = lipgloss.NewStyle().Bold(true)
		}
		b.WriteString(style.Render(strings.ToUpper(action[:1]) + action[1:]))
		b.WriteByte(' ')
	}
	b.WriteString(r.Message)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs implements slog.Handler.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func levelStyle(l slog.Level) lipgloss.Style {
	switch {
	case l >= slog.LevelError:
		return levelStyles[slog.LevelError]
	case l >= slog.LevelWarn:
		return levelStyles[slog.LevelWarn]
	case l >= slog.LevelInfo:
		return levelStyles[slog.LevelInfo]
	}
	return levelStyles[slog.LevelDebug]
}
