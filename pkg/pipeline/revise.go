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
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ReviseStatus is the outcome of the quality revision stage.
type ReviseStatus string

const (
	ReviseRevised ReviseStatus = "revised"
	ReviseSkipped ReviseStatus = "skipped"
	RevisePassed  ReviseStatus = "passed"
	ReviseError   ReviseStatus = "error"
)

// ReviseResult carries the possibly-rewritten response. This stage never
// blocks; it either improves the draft or leaves it alone.
type ReviseResult struct {
	Status   ReviseStatus
	Response string
	Notes    string
}

// Drafts shorter than this skip revision; short answers rarely have the
// accuracy or length issues the reviser catches.
const revisionMinLength = 200

// A revised response shorter than this is treated as a failed rewrite and
// discarded in favor of the original.
const revisionMinValidLength = 50

const defaultRevisionPrompt = `You are a quality checker for a portfolio chat representing Kellogg Brengel.

Review the response below and check for these issues:

1. ACCURACY: Does the response only contain information from the provided context?
2. TONE: Is it professional but approachable, first person as Kellogg?
3. COMPLETENESS: Does it actually answer the question asked?
4. FORMATTING: Is it readable, without broken markdown or artifacts?
5. LENGTH: Is it concise, under 300 words?

If the response is good, respond with just: {"needs_revision": false}

If the response needs improvement, respond with:
{
  "needs_revision": true,
  "issues": ["list of specific issues"],
  "revised_response": "the improved response"
}`

// Reviser checks draft quality and rewrites when needed. Every failure
// mode passes the original draft through; revision is best-effort polish,
// not a gate.
type Reviser struct {
	llm    LLM
	model  string
	prompt *promptSource
}

// NewReviser creates the revision stage. It uses the generator model so
// rewrites keep the same voice.
func NewReviser(llm LLM, model, promptsDir string) *Reviser {
	return &Reviser{
		llm:    llm,
		model:  model,
		prompt: newPromptSource(promptsDir, "revision_prompt.md", defaultRevisionPrompt),
	}
}

// Revise reviews the draft against the question and context.
func (r *Reviser) Revise(ctx context.Context, question, draft, contextBlob string) ReviseResult {
	if len(draft) < revisionMinLength {
		return ReviseResult{
			Status:   ReviseSkipped,
			Response: draft,
			Notes:    "Response too short for revision",
		}
	}

	user := fmt.Sprintf(
		"ORIGINAL QUESTION:\n%s\n\nCONTEXT PROVIDED:\n```\n%s\n```\n\nRESPONSE TO REVIEW:\n```\n%s\n```\n\nReview the response and check for issues. Output JSON only.",
		question, truncate(contextBlob, 2000), draft,
	)

	response, err := r.llm.ChatJSON(ctx, r.model, r.prompt.get(), user)
	if err != nil {
		slog.Warn("Revision check failed, keeping original", "error", err)
		return ReviseResult{Status: ReviseError, Response: draft}
	}

	if !boolField(response, "needs_revision", false) {
		return ReviseResult{Status: RevisePassed, Response: draft}
	}

	revised := strings.TrimSpace(stringField(response, "revised_response", ""))
	if len(revised) <= revisionMinValidLength {
		return ReviseResult{
			Status:   RevisePassed,
			Response: draft,
			Notes:    "Revision produced invalid response",
		}
	}

	issues := stringListField(response, "issues")
	return ReviseResult{
		Status:   ReviseRevised,
		Response: revised,
		Notes:    strings.Join(issues, ", "),
	}
}
