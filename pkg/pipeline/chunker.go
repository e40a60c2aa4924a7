package pipeline

import (
	"math"
	"strings"
)

// chunkText splits content into overlapping word-aligned chunks of roughly
// chunkSize characters. The overlap keeps trailing words from the previous
// chunk so sentences that straddle a boundary stay searchable.
func chunkText(content string, chunkSize, chunkOverlap int) []string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}
	if len(content) <= chunkSize {
		return []string{trimmed}
	}

	var chunks []string
	words := strings.Fields(content)
	var current []string
	currentLength := 0

	for _, word := range words {
		current = append(current, word)
		currentLength += len(word) + 1

		if currentLength >= chunkSize {
			chunks = append(chunks, strings.Join(current, " "))

			overlapChars := 0
			var overlap []string
			for i := len(current) - 1; i >= 0; i-- {
				overlapChars += len(current[i]) + 1
				overlap = append([]string{current[i]}, overlap...)
				if overlapChars >= chunkOverlap {
					break
				}
			}

			current = overlap
			currentLength = 0
			for _, w := range current {
				currentLength += len(w) + 1
			}
		}
	}

	if len(current) > 0 {
		if text := strings.Join(current, " "); strings.TrimSpace(text) != "" {
			chunks = append(chunks, text)
		}
	}

	return chunks
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either has no magnitude or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
