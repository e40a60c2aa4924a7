// Copyright 2025 Kellogg Brengel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures slog for the chat service. Two formats exist:
// "simple" (level, message, attributes) for day-to-day operation and
// "verbose" which prefixes a timestamp. Terminal output gets ANSI level
// colors. Above debug level, records logged from outside this module are
// suppressed so chatty dependencies stay out of the stream.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

const modulePrefix = "github.com/kbrengel/talkingrock"

var defaultLogger *slog.Logger

// ParseLevel maps a config string to a slog level. Unknown values fall
// back to warn rather than failing startup.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// Init installs the service logger as the slog default. format is
// "simple" (the default) or "verbose".
func Init(level slog.Level, output *os.File, format string) {
	handler := &textHandler{
		w:       output,
		level:   level,
		color:   isTerminal(output),
		verbose: format == "verbose",
	}
	defaultLogger = slog.New(&moduleFilter{handler: handler, minLevel: level})
	slog.SetDefault(defaultLogger)
}

// GetLogger returns the configured logger, initializing a default one on
// first use.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}

// OpenLogFile opens path for appending, creating it if needed. The
// returned cleanup closes the file.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { file.Close() }, nil
}

// textHandler renders "LEVEL message key=value" lines. Verbose mode adds
// a timestamp prefix; color mode wraps the level in ANSI codes.
type textHandler struct {
	w       io.Writer
	level   slog.Level
	color   bool
	verbose bool
	attrs   []slog.Attr
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.verbose && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	level := record.Level.String()
	if level == "WARNING" {
		level = "WARN"
	}
	if h.color {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(level)
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(level)
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	writeAttr := func(a slog.Attr) {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	buf.WriteString("\n")

	_, err := io.WriteString(h.w, buf.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

// WithGroup flattens groups; this service logs flat key-value pairs.
func (h *textHandler) WithGroup(string) slog.Handler {
	return h
}

// moduleFilter drops records logged from outside this module unless the
// minimum level is debug. slog.SetDefault routes every slog-using
// dependency through the default logger, and most of them are noisy.
type moduleFilter struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (f *moduleFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= f.minLevel && f.handler.Enabled(ctx, level)
}

func (f *moduleFilter) Handle(ctx context.Context, record slog.Record) error {
	if f.minLevel > slog.LevelDebug && !fromThisModule(record.PC) {
		return nil
	}
	return f.handler.Handle(ctx, record)
}

func (f *moduleFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &moduleFilter{handler: f.handler.WithAttrs(attrs), minLevel: f.minLevel}
}

func (f *moduleFilter) WithGroup(name string) slog.Handler {
	return &moduleFilter{handler: f.handler.WithGroup(name), minLevel: f.minLevel}
}

func fromThisModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	return strings.Contains(fn.Name(), modulePrefix)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

func isTerminal(file *os.File) bool {
	info, err := file.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
