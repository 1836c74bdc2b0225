package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ANSI color codes.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// Block attributes are rendered as indented blocks below the log line
// instead of inline key=value pairs.
var blockKeys = map[string]bool{
	"text": true,
	"raw":  true,
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	Level slog.Leveler
	Color bool
}

// Handler is a compact, optionally colored slog handler. The "instance"
// attribute is lifted into a bracketed prefix so lines of one account
// line up.
type Handler struct {
	w        io.Writer
	mu       *sync.Mutex
	level    slog.Leveler
	color    bool
	instance string
	attrs    []slog.Attr
	group    string
}

func NewHandler(w io.Writer, opts *HandlerOptions) *Handler {
	if opts == nil {
		opts = &HandlerOptions{}
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{w: w, mu: &sync.Mutex{}, level: level, color: opts.Color}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var ts string
	if h.color {
		ts = r.Time.Format("15:04:05")
	} else {
		ts = r.Time.Format("2006-01-02 15:04:05.000")
	}

	instance := h.instance
	var inline strings.Builder
	var blocks []string
	add := func(a slog.Attr) {
		switch {
		case a.Key == "instance" && h.group == "":
			instance = a.Value.String()
		case blockKeys[a.Key] && strings.Contains(a.Value.String(), "\n"):
			blocks = append(blocks, a.Value.String())
		default:
			inline.WriteString(h.fmtAttr(a))
		}
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		add(a)
		return true
	})

	prefix := ""
	if instance != "" {
		prefix = "[" + instance + "] "
	}

	var sb strings.Builder
	if h.color {
		fmt.Fprintf(&sb, "%s%s%s %s %s%s%s\n",
			ansiGray, ts, ansiReset, colorLevel(r.Level), prefix, r.Message, inline.String())
	} else {
		fmt.Fprintf(&sb, "%s %s %s%s%s\n", ts, levelLabel(r.Level), prefix, r.Message, inline.String())
	}
	for _, text := range blocks {
		for _, line := range strings.Split(text, "\n") {
			if h.color {
				fmt.Fprintf(&sb, "  %s│%s %s\n", ansiGray, ansiReset, line)
			} else {
				fmt.Fprintf(&sb, "  | %s\n", line)
			}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if a.Key == "instance" && h.group == "" {
			clone.instance = a.Value.String()
			continue
		}
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	clone.group = name
	return &clone
}

func (h *Handler) fmtAttr(a slog.Attr) string {
	v := a.Value.Resolve().String()
	if strings.ContainsAny(v, " \t\n\"") {
		v = fmt.Sprintf("%q", v)
	}
	if h.color {
		return fmt.Sprintf(" %s%s%s=%s", ansiGray, a.Key, ansiReset, v)
	}
	return fmt.Sprintf(" %s=%s", a.Key, v)
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func colorLevel(level slog.Level) string {
	label := levelLabel(level)
	switch {
	case level >= slog.LevelError:
		return ansiRed + label + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + label + ansiReset
	case level >= slog.LevelInfo:
		return ansiCyan + label + ansiReset
	default:
		return ansiGray + label + ansiReset
	}
}
