package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the colored tags used on the operator console.
type Styles struct {
	Manager lipgloss.Style
	Input   lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Restart lipgloss.Style
	Help    lipgloss.Style
	Debug   lipgloss.Style

	Accent  lipgloss.Style
	Command lipgloss.Style
	Exit    lipgloss.Style
	Pid     lipgloss.Style
	Yes     lipgloss.Style
	No      lipgloss.Style
}

// NewStyles returns styles rendered for w. Writers which are not a color
// capable terminal get plain text.
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	tag := func(bg string) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color(bg))
	}
	fg := func(c string) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color(c))
	}
	return Styles{
		Manager: tag("134"),
		Input:   tag("195"),
		Warning: tag("214"),
		Error:   tag("1"),
		Restart: tag("4"),
		Help:    tag("4"),
		Debug:   tag("244"),

		Accent:  fg("111"),
		Command: fg("4"),
		Exit:    fg("1"),
		Pid:     fg("5"),
		Yes:     fg("2"),
		No:      fg("1"),
	}
}

// Tag renders the prefix printed in front of a record of the given level.
func (s Styles) Tag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return s.Error.Render("[ERROR]")
	case level >= slog.LevelWarn:
		return s.Manager.Render("[Server-Manager]") + s.Warning.Render(" ! ")
	case level >= slog.LevelInfo:
		return s.Manager.Render("[Server-Manager]")
	default:
		return s.Debug.Render("[debug]")
	}
}

// ConsoleHandler is a slog.Handler for humans: one colored tag, the message and
// key=value attributes per line.
type ConsoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	styles Styles
	attrs  []slog.Attr
	groups []string
}

func NewConsoleHandler(w io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &ConsoleHandler{
		mu:     &sync.Mutex{},
		w:      w,
		level:  level,
		styles: NewStyles(w),
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString(h.styles.Tag(r.Level))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		appendAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&sb, prefix, a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	prefix := strings.Join(h.groups, ".")
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		h2.attrs = append(slices.Clip(h2.attrs), a)
	}
	return &h2
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(slices.Clip(h.groups), name)
	return &h2
}

func appendAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(sb, key, ga)
		}
		return
	}

	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteByte('=')
	sb.WriteString(quote(a.Value))
}

func quote(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
