// Package logging builds the slog loggers clickable writes its diagnostics
// with.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Attribute keys naming the unit being worked on. The console handler lifts
// them out of the attribute list into a line prefix.
const (
	UnitKey = "unit"
	ArchKey = "arch"
)

// New returns a logger writing to w. Terminals get the console format,
// anything else gets one JSON object per record so CI logs stay machine
// readable. A nil level means slog.LevelInfo.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		panic("logging: writer must not be nil")
	}
	if level == nil {
		level = slog.LevelInfo
	}
	if !isTerminal(w) {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newConsoleHandler(w, level))
}

// Ensure returns the provided logger or the process default if nil.
func Ensure(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// consoleHandler renders
//
//	WARN [app armhf] message key=value
//
// Records below info level, which only show up with --verbose, carry a
// timestamp in front.
type consoleHandler struct {
	w     io.Writer
	level slog.Leveler
	mu    *sync.Mutex

	unit   string
	arch   string
	prefix string // preformatted attributes from WithAttrs
	groups []string
}

func newConsoleHandler(w io.Writer, level slog.Leveler) *consoleHandler {
	return &consoleHandler{w: w, level: level, mu: &sync.Mutex{}}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	unit, arch := h.unit, h.arch
	var attrs strings.Builder
	attrs.WriteString(h.prefix)
	record.Attrs(func(attr slog.Attr) bool {
		if len(h.groups) == 0 && scoped(attr, &unit, &arch) {
			return true
		}
		writeAttr(&attrs, h.groups, attr)
		return true
	})

	var b strings.Builder
	if record.Level < slog.LevelInfo {
		ts := record.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		b.WriteString(ts.Format("15:04:05.000"))
		b.WriteByte(' ')
	}
	b.WriteString(levelLabel(record.Level))
	if scope := strings.TrimSpace(unit + " " + arch); scope != "" {
		b.WriteString(" [")
		b.WriteString(scope)
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(record.Message)
	b.WriteString(attrs.String())
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	var b strings.Builder
	b.WriteString(h.prefix)
	for _, attr := range attrs {
		if len(h.groups) == 0 && scoped(attr, &clone.unit, &clone.arch) {
			continue
		}
		writeAttr(&b, h.groups, attr)
	}
	clone.prefix = b.String()
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// scoped stores unit and arch attributes in their slots.
func scoped(attr slog.Attr, unit, arch *string) bool {
	switch attr.Key {
	case UnitKey:
		*unit = formatValue(attr.Value)
	case ArchKey:
		*arch = formatValue(attr.Value)
	default:
		return false
	}
	return true
}

func levelLabel(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

func writeAttr(b *strings.Builder, groups []string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		if attr.Key != "" {
			groups = append(groups[:len(groups):len(groups)], attr.Key)
		}
		for _, nested := range value.Group() {
			writeAttr(b, groups, nested)
		}
		return
	}
	if attr.Equal(slog.Attr{}) {
		return
	}

	b.WriteByte(' ')
	for _, group := range groups {
		b.WriteString(group)
		b.WriteByte('.')
	}
	b.WriteString(attr.Key)
	b.WriteByte('=')
	b.WriteString(formatValue(value))
}

func formatValue(value slog.Value) string {
	value = value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		s := value.String()
		if s == "" || strings.ContainsAny(s, " \t\n\"=") {
			return strconv.Quote(s)
		}
		return s
	case slog.KindTime:
		return value.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := value.Any().(error); ok && err != nil {
			return strconv.Quote(err.Error())
		}
		return fmt.Sprint(value.Any())
	default:
		return value.String()
	}
}
