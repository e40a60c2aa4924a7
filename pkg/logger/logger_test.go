package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelWarn},
		{"", slog.LevelWarn},
	}
	for _, tt := range tests {
		level, err := ParseLevel(tt.input)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level, "input %q", tt.input)
	}
}

func TestTextHandlerSimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&textHandler{w: &buf, level: slog.LevelDebug})

	log.Info("request complete", "request_id", "req-1", "domain", "professional")

	assert.Equal(t, "INFO request complete request_id=req-1 domain=professional\n", buf.String())
}

func TestTextHandlerWarnSpelling(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&textHandler{w: &buf, level: slog.LevelDebug})

	log.Warn("rate limit exceeded")

	assert.Equal(t, "WARN rate limit exceeded\n", buf.String())
}

func TestTextHandlerLevelGating(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&textHandler{w: &buf, level: slog.LevelWarn})

	log.Debug("noise")
	log.Info("noise")
	assert.Empty(t, buf.String())

	log.Error("boom")
	assert.Contains(t, buf.String(), "ERROR boom")
}

func TestTextHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(&textHandler{w: &buf, level: slog.LevelDebug})

	tagged := base.With("component", "audit")
	tagged.Info("event recorded", "event", "rate_limit")

	assert.Equal(t, "INFO event recorded component=audit event=rate_limit\n", buf.String())

	// The parent handler keeps its own attribute set.
	buf.Reset()
	base.Info("plain")
	assert.Equal(t, "INFO plain\n", buf.String())
}

func TestTextHandlerVerboseTimestamp(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(&textHandler{w: &buf, level: slog.LevelDebug, verbose: true})

	log.Info("started")

	assert.Regexp(t, regexp.MustCompile(`^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} INFO started\n$`), buf.String())
}

func TestModuleFilterDropsForeignRecords(t *testing.T) {
	var buf bytes.Buffer
	filter := &moduleFilter{
		handler:  &textHandler{w: &buf, level: slog.LevelDebug},
		minLevel: slog.LevelInfo,
	}

	// A record with no caller PC looks like dependency noise.
	foreign := slog.NewRecord(time.Now(), slog.LevelInfo, "dependency chatter", 0)
	require.NoError(t, filter.Handle(context.Background(), foreign))
	assert.Empty(t, buf.String())

	// Logging through the slog frontend captures this package's PC.
	slog.New(filter).Info("our own record")
	assert.Contains(t, buf.String(), "our own record")
}

func TestModuleFilterPassesEverythingAtDebug(t *testing.T) {
	var buf bytes.Buffer
	filter := &moduleFilter{
		handler:  &textHandler{w: &buf, level: slog.LevelDebug},
		minLevel: slog.LevelDebug,
	}

	foreign := slog.NewRecord(time.Now(), slog.LevelInfo, "dependency chatter", 0)
	require.NoError(t, filter.Handle(context.Background(), foreign))
	assert.Contains(t, buf.String(), "dependency chatter")
}

func TestOpenLogFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	file, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	_, err = file.WriteString("first\n")
	require.NoError(t, err)
	cleanup()

	file, cleanup, err = OpenLogFile(path)
	require.NoError(t, err)
	_, err = file.WriteString("second\n")
	require.NoError(t, err)
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
