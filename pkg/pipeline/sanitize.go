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

package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kbrengel/talkingrock/pkg/audit"
)

// SanitizeStatus is the outcome of the input sanitizer stage.
type SanitizeStatus string

const (
	SanitizeOK      SanitizeStatus = "sanitized"
	SanitizeEmpty   SanitizeStatus = "empty_input"
	SanitizeTooLong SanitizeStatus = "input_too_long"
	SanitizeBlocked SanitizeStatus = "blocked_pattern"
)

// SanitizeResult carries the cleaned input or the reason it was rejected.
type SanitizeResult struct {
	Status       SanitizeStatus
	Blocked      bool
	Sanitized    string
	BlockReason  string
	ErrorMessage string
}

const blockedInputMessage = "I can only answer questions about Kellogg's professional background and projects."

// Cyrillic characters visually identical to Latin ones. Attackers use these
// to slip keywords past pattern checks.
var homoglyphs = strings.NewReplacer(
	"а", "a",
	"е", "e",
	"о", "o",
	"р", "p",
	"с", "c",
	"у", "y",
	"х", "x",
	"і", "i",
	"ј", "j",
	"ѕ", "s",
)

var (
	invisibleRe  = regexp.MustCompile(`[\x{200B}-\x{200F}\x{2028}-\x{202F}\x{2060}-\x{206F}\x{FEFF}\x{00AD}]`)
	controlRe    = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`[ \t]+`)
	newlinesRe   = regexp.MustCompile(`\n{3,}`)
)

type blockedPattern struct {
	re     *regexp.Regexp
	reason string
}

var blockedPatterns = []blockedPattern{
	{regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions?`), "instruction_override"},
	{regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous\s+instructions?`), "instruction_override"},
	{regexp.MustCompile(`(?i)forget\s+(all\s+)?previous\s+instructions?`), "instruction_override"},
	{regexp.MustCompile(`(?i)system\s+prompt`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)reveal\s+your\s+(instructions?|prompt|rules)`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)show\s+me\s+your\s+(instructions?|prompt|rules)`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)what\s+(are|is)\s+your\s+(instructions?|prompt|rules|system)`), "prompt_extraction"},
	{regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|in)\s+`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+(are|were)|a|an)\s+`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)DAN\s+mode`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)developer\s+mode`), "roleplay_attack"},
	{regexp.MustCompile(`(?i)jailbreak`), "explicit_jailbreak"},
	{regexp.MustCompile(`(?i)bypass\s+(your\s+)?(safety|restrictions?|rules?|filters?)`), "explicit_jailbreak"},
	{regexp.MustCompile(`(?i)override\s+(your\s+)?(safety|restrictions?|rules?)`), "explicit_jailbreak"},
	{regexp.MustCompile(`(?i)disable\s+(your\s+)?(safety|restrictions?|rules?)`), "explicit_jailbreak"},
	{regexp.MustCompile(`(?i)base64[:\s]`), "encoding_trick"},
	{regexp.MustCompile(`(?i)decode\s+this[:\s]`), "encoding_trick"},
	{regexp.MustCompile(`(?i)rot13[:\s]`), "encoding_trick"},
}

// Sanitizer normalizes visitor input and rejects known injection patterns.
// It runs entirely without model calls.
type Sanitizer struct {
	maxInputLength int
	auditLog       *audit.Logger
}

// NewSanitizer creates the sanitizer stage.
func NewSanitizer(maxInputLength int, auditLog *audit.Logger) *Sanitizer {
	return &Sanitizer{maxInputLength: maxInputLength, auditLog: auditLog}
}

// Sanitize normalizes and validates a message. The returned Sanitized text
// is what downstream stages must use; the raw input is never forwarded.
func (s *Sanitizer) Sanitize(message, ipHash string) SanitizeResult {
	if strings.TrimSpace(message) == "" {
		return SanitizeResult{
			Status:       SanitizeEmpty,
			Blocked:      true,
			ErrorMessage: "Please enter a message.",
		}
	}

	if len(message) > s.maxInputLength {
		return SanitizeResult{
			Status:       SanitizeTooLong,
			Blocked:      true,
			ErrorMessage: fmt.Sprintf("Your message is too long. Maximum length is %d characters.", s.maxInputLength),
		}
	}

	// Normalization order matters: NFKC first so full-width and composed
	// forms collapse before the character-level passes run.
	cleaned := norm.NFKC.String(message)
	cleaned = homoglyphs.Replace(cleaned)
	cleaned = invisibleRe.ReplaceAllString(cleaned, "")
	cleaned = controlRe.ReplaceAllString(cleaned, "")
	cleaned = htmlTagRe.ReplaceAllString(cleaned, "")
	cleaned = whitespaceRe.ReplaceAllString(cleaned, " ")
	cleaned = newlinesRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return SanitizeResult{
			Status:       SanitizeEmpty,
			Blocked:      true,
			ErrorMessage: "Please enter a message.",
		}
	}

	for _, p := range blockedPatterns {
		if p.re.MatchString(cleaned) {
			if s.auditLog != nil {
				s.auditLog.InjectionAttempt(ipHash, "input_sanitizer", p.reason, cleaned)
			}
			return SanitizeResult{
				Status:       SanitizeBlocked,
				Blocked:      true,
				BlockReason:  p.reason,
				ErrorMessage: blockedInputMessage,
			}
		}
	}

	if len(cleaned) > s.maxInputLength {
		return SanitizeResult{
			Status:       SanitizeTooLong,
			Blocked:      true,
			ErrorMessage: fmt.Sprintf("Your message is too long. Maximum length is %d characters.", s.maxInputLength),
		}
	}

	return SanitizeResult{Status: SanitizeOK, Sanitized: cleaned}
}
