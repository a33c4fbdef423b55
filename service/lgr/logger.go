package lgr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logger. All packages log through it.
var Logger *slog.Logger

func init() {
	Logger = newLogger()
}

func newLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	env := os.Getenv("RUN_TIME_ENV")
	if env == "dev" || env == "" {
		return slog.New(newConsoleHandler(level))
	}

	rotator := &lumberjack.Logger{
		Filename:   logFile(),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level}))
}

func logFile() string {
	if f := os.Getenv("LOG_FILE"); f != "" {
		return f
	}
	return "./logs/sv-go.log"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// consoleHandler writes human-readable colored lines for dev runs.
type consoleHandler struct {
	level slog.Level
	attrs []slog.Attr
	mu    *sync.Mutex
}

func newConsoleHandler(level slog.Level) *consoleHandler {
	return &consoleHandler{
		level: level,
		mu:    &sync.Mutex{},
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.TimeOnly))
	b.WriteString(" ")
	b.WriteString(levelColor(r.Level).Sprintf("%-5s", r.Level.String()))
	b.WriteString(" ")
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := os.Stdout.WriteString(b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *consoleHandler) WithGroup(_ string) slog.Handler {
	// Groups are flattened on the console; the JSON handler keeps them.
	return h
}

func levelColor(level slog.Level) *color.Color {
	switch {
	case level >= slog.LevelError:
		return color.New(color.FgRed)
	case level >= slog.LevelWarn:
		return color.New(color.FgYellow)
	case level <= slog.LevelDebug:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgGreen)
	}
}
