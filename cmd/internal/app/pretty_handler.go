package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiRE.ReplaceAllString(s, "") }

// prettyHandler renders one key=value line per record for local development.
type prettyHandler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	color bool

	// prefix is the group path applied to attributes added from now on.
	prefix string
	// pre holds attributes already rendered by WithAttrs.
	pre string

	mu *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString("ts=" + h.paint(ansiDim, ts.Format("15:04:05.000")))
	b.WriteString(" lvl=" + h.levelTag(r.Level))
	b.WriteString(" msg=" + h.paint(ansiBright, r.Message))

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=" + h.paint(ansiDim, fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)))
		}
	}

	b.WriteString(h.pre)
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(&b, h.prefix, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	for _, a := range attrs {
		h.appendAttr(&b, h.prefix, a)
	}
	cp := *h
	cp.pre = h.pre + b.String()
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func (h *prettyHandler) appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			h.appendAttr(b, prefix, ga)
		}
		return
	}
	if key == "" {
		return
	}

	leaf, val := h.renderLeaf(key, a.Value)
	b.WriteString(" " + prefix + leaf + "=" + val)
}

// renderLeaf highlights well-known keys. Unknown keys are printed verbatim.
func (h *prettyHandler) renderLeaf(key string, v slog.Value) (string, string) {
	switch key {
	case "method":
		return key, h.paint(ansiBright, strings.ToUpper(strings.TrimSpace(v.String())))
	case "path":
		return key, h.paint(ansiCyan, v.String())
	case "status":
		if n, ok := valueToInt64(v); ok {
			return key, h.paint(statusColor(int(n)), strconv.FormatInt(n, 10))
		}
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			c := ansiGreen
			switch {
			case n >= 1000:
				c = ansiRed
			case n >= 250:
				c = ansiYellow
			}
			return "duration", h.paint(c, strconv.FormatInt(n, 10)+"ms")
		}
	case "result", "outcome":
		s := strings.ToLower(strings.TrimSpace(v.String()))
		c := ansiGreen
		if strings.Contains(s, "error") || strings.Contains(s, "fail") || s == "invalid_code" {
			c = ansiRed
		}
		return key, h.paint(c, s)
	case "err":
		return key, h.paint(ansiRed, quoteIfNeeded(valueToString(v)))
	case "session_id":
		return key, h.paint(ansiMagenta, v.String())
	}
	return key, quoteIfNeeded(valueToString(v))
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return h.paint(ansiRed, "[ERROR]")
	case level >= slog.LevelWarn:
		return h.paint(ansiYellow, "[WARN]")
	case level < slog.LevelInfo:
		return h.paint(ansiMagenta, "[DEBUG]")
	default:
		return h.paint(ansiBlue, "[INFO]")
	}
}

func (h *prettyHandler) paint(code, s string) string {
	if !h.color {
		return s
	}
	return code + s + ansiReset
}

func statusColor(status int) string {
	switch {
	case status >= 500:
		return ansiRed
	case status >= 400:
		return ansiYellow
	case status >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindDuration:
		return v.Duration().Milliseconds(), true
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
