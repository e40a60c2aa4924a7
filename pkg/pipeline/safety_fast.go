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
	"log/slog"
	"regexp"
	"strings"
)

// FastSafetyResult is the outcome of the pattern-based output check.
type FastSafetyResult struct {
	Passed       bool
	Issues       []SafetyIssue
	IssueDetails string
}

var promptLeakagePatterns = compilePatterns(true,
	`system prompt`,
	`my instructions are`,
	`i was told to`,
	`i am programmed to`,
	`my programming says`,
	`my rules are`,
	`<<<.*>>>`,
	`CONTEXT ABOUT KEL`,
	`CURRENT QUESTION:`,
	`Layer \d+ `,
	`inference pipeline`,
	`jailbreak attempt`,
	`injection attempt`,
)

var inappropriatePatterns = compilePatterns(true,
	`\b(fuck|shit|damn|ass|bitch)\b`,
	`(kill|murder|attack|harm)\s+(yourself|himself|people)`,
	`(illegal|criminal)\s+activit`,
)

// Private info patterns are case sensitive. The phone and IP patterns use
// word boundaries where the original used lookarounds.
var privateInfoPatterns = compilePatterns(false,
	`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`,
	`\b(?:\d{1,3}\.){3}\d{1,3}\b`,
	`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`,
)

// safeEmails are public contact addresses allowed in responses.
var safeEmails = []string{"kbrengel@brengel.com"}

var negativeSelfPatterns = compilePatterns(true,
	`kellogg (is|was) (bad|terrible|awful|incompetent)`,
	`kellogg (doesn't|does not) know`,
	`kellogg (can't|cannot) (do|handle)`,
	`kellogg (failed|sucks)`,
	`wouldn't recommend.*kellogg`,
	`don't hire.*kellogg`,
)

func compilePatterns(caseInsensitive bool, patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		if caseInsensitive {
			p = "(?i)" + p
		}
		compiled[i] = regexp.MustCompile(p)
	}
	return compiled
}

// FastSafeFallbackResponse replaces a response that tripped the fast check.
const FastSafeFallbackResponse = "I'd be happy to help you learn about Kellogg's professional background. What would you like to know about his work, projects, or experience?"

// FastSafetyChecker is the regex output gate used by the fast pipeline.
// No model calls, so it adds microseconds instead of seconds.
type FastSafetyChecker struct{}

// NewFastSafetyChecker creates the pattern-based output stage.
func NewFastSafetyChecker() *FastSafetyChecker {
	return &FastSafetyChecker{}
}

// Check scans the response for leakage, profanity, private info, and
// negative self-talk. One issue is reported per category.
func (c *FastSafetyChecker) Check(response string) FastSafetyResult {
	var issues []SafetyIssue
	var details []string

	for _, pattern := range promptLeakagePatterns {
		if pattern.MatchString(response) {
			issues = append(issues, IssuePromptLeakage)
			details = append(details, "Prompt leakage pattern: "+pattern.String())
			break
		}
	}

	for _, pattern := range inappropriatePatterns {
		if pattern.MatchString(response) {
			issues = append(issues, IssueInappropriate)
			details = append(details, "Inappropriate pattern: "+pattern.String())
			break
		}
	}

privateScan:
	for _, pattern := range privateInfoPatterns {
		for _, match := range pattern.FindAllString(response, -1) {
			if !isSafeEmail(match) {
				issues = append(issues, IssuePrivateInfo)
				details = append(details, "Private info pattern: "+pattern.String())
				break privateScan
			}
		}
	}

	for _, pattern := range negativeSelfPatterns {
		if pattern.MatchString(response) {
			issues = append(issues, IssueNegativeSelf)
			details = append(details, "Negative pattern: "+pattern.String())
			break
		}
	}

	result := FastSafetyResult{
		Passed:       len(issues) == 0,
		Issues:       issues,
		IssueDetails: strings.Join(details, "; "),
	}
	if !result.Passed {
		slog.Warn("Fast safety check failed", "details", result.IssueDetails)
	}
	return result
}

func isSafeEmail(match string) bool {
	for _, email := range safeEmails {
		if match == email {
			return true
		}
	}
	return false
}
