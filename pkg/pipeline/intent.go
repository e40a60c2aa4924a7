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
)

// IntentStatus is the outcome of the intent parser stage.
type IntentStatus string

const (
	IntentParsed    IntentStatus = "parsed"
	IntentAmbiguous IntentStatus = "ambiguous"
	IntentError     IntentStatus = "error"
)

// IntentResult always carries a usable intent; parsing failures degrade to
// a default rather than blocking.
type IntentResult struct {
	Status IntentStatus
	Intent Intent
}

const intentSystemPrompt = `You are an intent parser for a portfolio chat system about Kellogg Brengel, a software engineer.

Parse the user's message and extract structured intent information.

VALID TOPICS (choose the most specific that applies):
- work_experience: Questions about jobs, roles, responsibilities
- skills: Technical skills, programming languages, tools
- projects: Specific projects, portfolio items, GitHub work
- education: Degrees, certifications, learning
- achievements: Awards, accomplishments, successes
- hobbies: Personal interests, volunteering, FIRST robotics
- philosophy: Problem-solving approach, values, working style
- contact: How to reach Kellogg, LinkedIn, networking
- chat_system: Questions about this chat interface itself
- general: General or unclear topics

QUESTION TYPES:
- factual: Asking for specific facts ("What languages do you know?")
- experience: Asking about experience ("Tell me about your work at...")
- opinion: Asking for opinions ("What do you think about...")
- comparison: Comparing things ("How does X compare to Y?")
- procedural: Asking about processes ("How do you approach...")
- clarification: Follow-up questions ("Can you explain more about...")
- greeting: Greetings ("Hello", "Hi")
- ambiguous: Can't determine intent

EMOTIONAL TONES:
- neutral, curious, professional, casual, skeptical, enthusiastic

OUTPUT FORMAT (JSON only):
{
  "topic": "one of the valid topics",
  "question_type": "one of the question types",
  "entities": ["list", "of", "mentioned", "entities"],
  "emotional_tone": "one of the tones",
  "confidence": 0.0 to 1.0
}`

var knownQuestionTypes = map[string]QuestionType{
	"factual":       QuestionFactual,
	"experience":    QuestionExperience,
	"opinion":       QuestionOpinion,
	"comparison":    QuestionComparison,
	"procedural":    QuestionProcedural,
	"clarification": QuestionClarification,
	"greeting":      QuestionGreeting,
	"action":        QuestionAction,
	"ambiguous":     QuestionAmbiguous,
}

var knownTones = map[string]EmotionalTone{
	"neutral":      ToneNeutral,
	"curious":      ToneCurious,
	"professional": ToneProfessional,
	"casual":       ToneCasual,
	"skeptical":    ToneSkeptical,
	"enthusiastic": ToneEnthusiastic,
	"frustrated":   ToneFrustrated,
}

func parseQuestionType(s string) QuestionType {
	if qt, ok := knownQuestionTypes[s]; ok {
		return qt
	}
	return QuestionAmbiguous
}

func parseTone(s string) EmotionalTone {
	if tone, ok := knownTones[s]; ok {
		return tone
	}
	return ToneNeutral
}

// IntentParser extracts structured intent using a small router model.
// Never blocks: errors degrade to a zero-confidence general intent.
type IntentParser struct {
	llm    LLM
	model  string
	prompt *promptSource
}

// NewIntentParser creates the parser stage.
func NewIntentParser(llm LLM, model, promptsDir string) *IntentParser {
	return &IntentParser{
		llm:    llm,
		model:  model,
		prompt: newPromptSource(promptsDir, "intent_parser.md", intentSystemPrompt),
	}
}

// Parse extracts intent from a sanitized message.
func (p *IntentParser) Parse(ctx context.Context, message string) IntentResult {
	user := fmt.Sprintf("Parse the intent of this message:\n\n%s", message)

	response, err := p.llm.ChatJSON(ctx, p.model, p.prompt.get(), user)
	if err != nil {
		slog.Error("Intent parsing failed", "error", err)
		return IntentResult{Status: IntentError, Intent: DefaultIntent(0.0)}
	}

	intent := Intent{
		Topic:        stringField(response, "topic", "general"),
		QuestionType: parseQuestionType(stringField(response, "question_type", "ambiguous")),
		Entities:     stringListField(response, "entities"),
		Tone:         parseTone(stringField(response, "emotional_tone", "neutral")),
		Confidence:   floatField(response, "confidence", 0.5),
	}

	if intent.QuestionType == QuestionAmbiguous || intent.Confidence < 0.3 {
		return IntentResult{Status: IntentAmbiguous, Intent: intent}
	}

	return IntentResult{Status: IntentParsed, Intent: intent}
}
