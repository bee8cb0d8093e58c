// Package logging builds the relay's slog logger from the [log]
// configuration section: an optional colored console sink and an
// optional append-only file sink, fanned out through one handler.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"perfmonitor/monitor"
)

const (
	ansiReset  = "\x1b[0m"
	ansiBlue   = "\x1b[34m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiGray   = "\x1b[90m"
)

// New builds a logger for the configured sinks.
// Params: log section with console and file sink settings.
// Returns: logger, cleanup closing open files, and setup error.
func New(cfg monitor.LogConfig) (*slog.Logger, func(), error) {
	var (
		handlers []slog.Handler
		closers  []io.Closer
	)

	if cfg.Console.Enabled {
		handler, err := consoleHandler(cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("build console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}
	if cfg.File.Enabled {
		handler, file, err := fileHandler(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("build file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}
	if len(handlers) == 0 {
		return nil, nil, errors.New("no log sinks enabled")
	}

	cleanup := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), cleanup, nil
	}
	return slog.New(fanoutHandler{handlers: handlers}), cleanup, nil
}

// consoleHandler builds the stdout sink. Line format gets per-level
// coloring; timestamps are dropped since the terminal adds no value.
// Params: console sink settings.
// Returns: handler or configuration error.
func consoleHandler(sink monitor.LogSink) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return attr
		},
	}
	switch strings.ToLower(sink.Format) {
	case "line":
		return slog.NewTextHandler(&levelColorWriter{dst: os.Stdout}, opts), nil
	case "json":
		return slog.NewJSONHandler(os.Stdout, opts), nil
	default:
		return nil, fmt.Errorf("unsupported console format %q", sink.Format)
	}
}

// fileHandler builds the append-only file sink.
// Params: file sink settings with a required path.
// Returns: handler, open file, or configuration error.
func fileHandler(sink monitor.LogSink) (slog.Handler, io.Closer, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(sink.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", sink.Path, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(sink.Format) {
	case "line":
		return slog.NewTextHandler(file, opts), file, nil
	case "json":
		return slog.NewJSONHandler(file, opts), file, nil
	default:
		_ = file.Close()
		return nil, nil, fmt.Errorf("unsupported file format %q", sink.Format)
	}
}

// parseLevel converts a configured level name into a slog level.
// Params: lower-case level name.
// Returns: slog level or error on unknown names.
func parseLevel(value string) (slog.Level, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", value)
	}
}

// fanoutHandler forwards each record to every configured sink.
type fanoutHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any sink accepts the level.
// Params: context and record level.
// Returns: true when at least one sink is enabled.
func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range f.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes the record to every enabled sink.
// Params: context and record.
// Returns: joined sink errors.
func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range f.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs forwards attrs to every sink.
// Params: attrs to attach.
// Returns: new fanout handler.
func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(f.handlers))
	for _, handler := range f.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return fanoutHandler{handlers: next}
}

// WithGroup forwards the group to every sink.
// Params: group name.
// Returns: new fanout handler.
func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(f.handlers))
	for _, handler := range f.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return fanoutHandler{handlers: next}
}

// levelColorWriter tones each console line by its level marker.
type levelColorWriter struct {
	dst io.Writer
}

// Write wraps one rendered line in the level's ANSI color.
// Params: rendered slog line.
// Returns: bytes written capped at the payload length.
func (w *levelColorWriter) Write(payload []byte) (int, error) {
	tone := levelTone(string(payload))
	if tone == "" {
		return w.dst.Write(payload)
	}
	n, err := w.dst.Write([]byte(tone + string(payload) + ansiReset))
	if n > len(payload) {
		n = len(payload)
	}
	return n, err
}

// levelTone maps the rendered level token to an ANSI color.
// Params: one rendered slog line.
// Returns: color sequence or empty string for unknown levels.
func levelTone(line string) string {
	switch {
	case strings.Contains(line, "level=DEBUG"):
		return ansiGray
	case strings.Contains(line, "level=INFO"):
		return ansiBlue
	case strings.Contains(line, "level=WARN"):
		return ansiYellow
	case strings.Contains(line, "level=ERROR"):
		return ansiRed
	default:
		return ""
	}
}
