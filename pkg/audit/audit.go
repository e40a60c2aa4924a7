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

// Package audit emits structured security events. Raw IP addresses never
// reach the log stream; only truncated hashes do.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"unicode/utf8"

	"github.com/google/uuid"
)

const previewLength = 50

// HashIP returns a truncated SHA-256 hash of an IP address suitable for
// correlating events without storing the address itself.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:16]
}

// NewRequestID generates a unique ID for request tracing.
func NewRequestID() string {
	return uuid.NewString()
}

// Logger records security-relevant pipeline events.
type Logger struct {
	log *slog.Logger
}

// NewLogger creates an audit logger. A nil base logger falls back to the
// process default.
func NewLogger(base *slog.Logger) *Logger {
	if base == nil {
		base = slog.Default()
	}
	return &Logger{log: base.With("component", "audit")}
}

// InjectionAttempt records input blocked by a pipeline stage. Only the
// first 50 characters of the input are retained.
func (l *Logger) InjectionAttempt(ipHash, stage, reason, input string) {
	l.log.Warn("injection attempt blocked",
		"event", "injection_attempt",
		"ip_hash", ipHash,
		"stage", stage,
		"reason", reason,
		"input_preview", preview(input),
	)
}

// RateLimited records a request rejected by the rate limiter.
func (l *Logger) RateLimited(ipHash, limit string) {
	l.log.Warn("rate limit exceeded",
		"event", "rate_limit",
		"ip_hash", ipHash,
		"limit", limit,
	)
}

// RequestComplete records the outcome of a fully processed request.
// blockedAt is empty when the request was not blocked.
func (l *Logger) RequestComplete(requestID, ipHash, domain string, responseTimeMs float64, blockedAt string) {
	args := []any{
		"event", "request_complete",
		"request_id", requestID,
		"ip_hash", ipHash,
		"domain", domain,
		"response_time_ms", responseTimeMs,
	}
	if blockedAt != "" {
		args = append(args, "blocked_at", blockedAt)
	}
	l.log.Info("request complete", args...)
}

// SafetyFailure records output suppressed by a safety stage.
func (l *Logger) SafetyFailure(requestID, stage string, issues []string) {
	l.log.Warn("unsafe output suppressed",
		"event", "safety_failure",
		"request_id", requestID,
		"stage", stage,
		"issues", issues,
	)
}

func preview(s string) string {
	if len(s) <= previewLength {
		return s
	}
	// Never split a rune at the cut point
	n := previewLength
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
