package audit

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashIP(t *testing.T) {
	hash := HashIP("203.0.113.7")
	assert.Len(t, hash, 16)
	assert.Equal(t, hash, HashIP("203.0.113.7"))
	assert.NotEqual(t, hash, HashIP("203.0.113.8"))
	assert.NotContains(t, hash, ".")
}

func TestNewRequestID(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestInjectionAttemptTruncatesPreview(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	long := strings.Repeat("x", 200)
	logger.InjectionAttempt(HashIP("1.2.3.4"), "input_sanitizer", "blocked_pattern", long)

	out := buf.String()
	require.Contains(t, out, "injection_attempt")
	assert.Contains(t, out, strings.Repeat("x", 50))
	assert.NotContains(t, out, strings.Repeat("x", 51))
	assert.NotContains(t, out, "1.2.3.4")
}

func TestRequestCompleteOmitsEmptyBlockedAt(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	logger.RequestComplete("req-1", HashIP("1.2.3.4"), "professional", 123.4, "")
	assert.NotContains(t, buf.String(), "blocked_at")

	buf.Reset()
	logger.RequestComplete("req-2", HashIP("1.2.3.4"), "", 5.0, "input_sanitizer")
	assert.Contains(t, buf.String(), "blocked_at")
}

func TestPreviewKeepsRunesIntact(t *testing.T) {
	// The odd-length prefix puts the cut point mid-rune
	long := "a" + strings.Repeat("é", 30)
	got := preview(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a"+strings.Repeat("é", 24), got)
}
