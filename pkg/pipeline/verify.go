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
	"log/slog"
	"strings"
)

// VerificationResult reports how well a response is grounded in context.
type VerificationResult struct {
	Verified               bool
	OverallSimilarity      float64
	LowSimilaritySentences []string
	Error                  string
}

const (
	// Sentences below this cosine similarity to every context chunk are
	// flagged as possibly ungrounded.
	verifySimilarityThreshold = 0.5

	// A response needs at least this many flagged sentences to fail.
	// One odd sentence could be a reasonable inference.
	verifyMinLowToFail = 2

	verifyChunkSize = 500
)

var metaSentenceMarkers = []string{
	"i'd be happy to",
	"let me",
	"here's",
	"based on",
	"according to",
	"from the context",
	"the information shows",
	"i can help",
	"is there anything",
	"feel free to",
	"happy to help",
	"would you like",
}

// SemanticVerifier checks that response sentences are semantically close
// to the context the generator was given. Embedding failures fail open;
// this is a hallucination heuristic, not a hard gate.
type SemanticVerifier struct {
	llm            LLM
	embeddingModel string
	threshold      float64
}

// NewSemanticVerifier creates a verifier. A zero threshold uses the
// default.
func NewSemanticVerifier(llm LLM, embeddingModel string, threshold float64) *SemanticVerifier {
	if threshold == 0 {
		threshold = verifySimilarityThreshold
	}
	return &SemanticVerifier{llm: llm, embeddingModel: embeddingModel, threshold: threshold}
}

// Verify compares each factual response sentence against every context
// chunk and flags sentences with no close match.
func (v *SemanticVerifier) Verify(ctx context.Context, response, contextBlob string) VerificationResult {
	sentences := splitSentences(response)
	if len(sentences) == 0 {
		return VerificationResult{Verified: true, OverallSimilarity: 1.0}
	}

	chunks := chunkForVerification(contextBlob)
	if len(chunks) == 0 {
		return VerificationResult{
			Verified: true,
			Error:    "No context provided for verification",
		}
	}

	chunkEmbeddings, err := v.llm.EmbedBatch(ctx, v.embeddingModel, chunks)
	if err != nil {
		slog.Warn("Embedding error during verification", "error", err)
		return VerificationResult{Verified: true, Error: err.Error()}
	}

	var lowSimilarity []string
	var similarities []float64

	for _, sentence := range sentences {
		if isMetaSentence(sentence) {
			continue
		}

		embedding, err := v.llm.Embed(ctx, v.embeddingModel, sentence)
		if err != nil {
			continue
		}

		maxSimilarity := 0.0
		for _, chunkEmbedding := range chunkEmbeddings {
			if sim := cosineSimilarity(embedding, chunkEmbedding); sim > maxSimilarity {
				maxSimilarity = sim
			}
		}
		similarities = append(similarities, maxSimilarity)

		if maxSimilarity < v.threshold {
			lowSimilarity = append(lowSimilarity, sentence)
			slog.Debug("Low similarity sentence", "similarity", maxSimilarity, "sentence", truncate(sentence, 100))
		}
	}

	overall := 1.0
	if len(similarities) > 0 {
		sum := 0.0
		for _, s := range similarities {
			sum += s
		}
		overall = sum / float64(len(similarities))
	}

	verified := len(lowSimilarity) < verifyMinLowToFail
	if !verified {
		slog.Warn("Semantic verification failed", "low_similarity_sentences", len(lowSimilarity))
	}

	return VerificationResult{
		Verified:               verified,
		OverallSimilarity:      overall,
		LowSimilaritySentences: lowSimilarity,
	}
}

// splitSentences breaks text on sentence punctuation, dodging the most
// common abbreviations and dropping fragments of ten characters or fewer.
func splitSentences(text string) []string {
	replacer := strings.NewReplacer(
		"Mr.", "Mr",
		"Mrs.", "Mrs",
		"Dr.", "Dr",
		"e.g.", "eg",
		"i.e.", "ie",
	)
	text = replacer.Replace(text)

	var sentences []string
	var current strings.Builder

	for _, char := range text {
		current.WriteRune(char)
		if char == '.' || char == '!' || char == '?' {
			if sentence := strings.TrimSpace(current.String()); len(sentence) > 10 {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}
	if remaining := strings.TrimSpace(current.String()); len(remaining) > 10 {
		sentences = append(sentences, remaining)
	}
	return sentences
}

// chunkForVerification splits context into overlapping ~500 char chunks,
// keeping the trailing quarter of each chunk's words as overlap.
func chunkForVerification(context string) []string {
	if strings.TrimSpace(context) == "" {
		return nil
	}
	if len(context) <= verifyChunkSize {
		return []string{context}
	}

	var chunks []string
	words := strings.Fields(context)
	var current []string
	currentLength := 0

	for _, word := range words {
		current = append(current, word)
		currentLength += len(word) + 1

		if currentLength >= verifyChunkSize {
			chunks = append(chunks, strings.Join(current, " "))
			current = current[len(current)*3/4:]
			currentLength = 0
			for _, w := range current {
				currentLength += len(w) + 1
			}
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func isMetaSentence(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, marker := range metaSentenceMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
