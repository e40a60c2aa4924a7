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

// Package pipeline implements the staged zero-trust inference pipeline.
// Each stage validates, transforms, or blocks a request before the next
// stage runs; the orchestrators wire the stages together.
package pipeline

import (
	"context"

	"github.com/kbrengel/talkingrock/pkg/ollama"
)

// LLM is the model surface the pipeline stages need. Satisfied by
// ollama.Client; tests substitute fakes.
type LLM interface {
	ChatText(ctx context.Context, model, system, user string, temperature float64) (string, error)
	ChatJSON(ctx context.Context, model, system, user string) (map[string]interface{}, error)
	ChatStream(ctx context.Context, model, system, user string, fn func(chunk string) error) error
	Embed(ctx context.Context, model, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
	HealthCheck(ctx context.Context) bool
}

var _ LLM = (*ollama.Client)(nil)

// Domain is a routed content domain.
type Domain string

const (
	DomainProfessional Domain = "professional"
	DomainProjects     Domain = "projects"
	DomainHobbies      Domain = "hobbies"
	DomainPhilosophy   Domain = "philosophy"
	DomainLinkedIn     Domain = "linkedin"
	DomainMeta         Domain = "meta"
	DomainOutOfScope   Domain = "out_of_scope"
)

// QuestionType classifies what kind of answer the visitor expects.
type QuestionType string

const (
	QuestionFactual       QuestionType = "factual"
	QuestionExperience    QuestionType = "experience"
	QuestionOpinion       QuestionType = "opinion"
	QuestionComparison    QuestionType = "comparison"
	QuestionProcedural    QuestionType = "procedural"
	QuestionClarification QuestionType = "clarification"
	QuestionGreeting      QuestionType = "greeting"
	QuestionAction        QuestionType = "action"
	QuestionAmbiguous     QuestionType = "ambiguous"
)

// EmotionalTone is the perceived tone of the visitor's message.
type EmotionalTone string

const (
	ToneNeutral      EmotionalTone = "neutral"
	ToneCurious      EmotionalTone = "curious"
	ToneProfessional EmotionalTone = "professional"
	ToneCasual       EmotionalTone = "casual"
	ToneSkeptical    EmotionalTone = "skeptical"
	ToneEnthusiastic EmotionalTone = "enthusiastic"
	ToneFrustrated   EmotionalTone = "frustrated"
)

// Intent is the parsed intent of a visitor message.
type Intent struct {
	Topic        string
	QuestionType QuestionType
	Entities     []string
	Tone         EmotionalTone
	Confidence   float64
}

// DefaultIntent is used when intent parsing fails; routing falls back to
// the general topic with no confidence.
func DefaultIntent(confidence float64) Intent {
	return Intent{
		Topic:        "general",
		QuestionType: QuestionAmbiguous,
		Tone:         ToneNeutral,
		Confidence:   confidence,
	}
}

// HistoryMessage is one prior conversation turn, as seen by LLM stages.
type HistoryMessage struct {
	Role    string
	Content string
}
