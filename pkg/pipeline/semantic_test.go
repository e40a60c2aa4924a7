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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// semanticLLM embeds texts onto axes by keyword so tests control similarity
// scores exactly. The counter tracks EmbedBatch invocations.
func semanticLLM() (*fakeLLM, *int) {
	embed := directionalEmbedder(map[string]int{"robotics": 0, "pipelines": 1})
	batchCalls := 0
	llm := &fakeLLM{
		embedFn: embed,
		embedBatchFn: func(model string, texts []string) ([][]float32, error) {
			batchCalls++
			out := make([][]float32, len(texts))
			for i, text := range texts {
				out[i], _ = embed(model, text)
			}
			return out, nil
		},
	}
	return llm, &batchCalls
}

func seedProjectFiles(t *testing.T, dir string) {
	t.Helper()
	writeContextFile(t, dir, "projects/overview.md", substantialContent("FIRST robotics automation"))
	writeContextFile(t, dir, "projects/details.md", substantialContent("data pipelines"))
}

func newSemanticAt(t *testing.T, dir string, llm *fakeLLM) *SemanticRetriever {
	t.Helper()
	registry := NewSourceRegistry([]ContextSource{
		{Name: "overview", DisplayName: "Overview", FilePattern: "projects/overview.md", Domain: DomainProjects, Required: true, Priority: 10},
		{Name: "details", DisplayName: "Details", FilePattern: "projects/details.md", Domain: DomainProjects, Priority: 5},
	})
	s, err := NewSemanticRetriever(NewRetriever(registry, dir, 32000), llm, SemanticOptions{
		ChunkSize:      2000,
		ChunkOverlap:   100,
		TopK:           3,
		MinSimilarity:  0.5,
		EmbeddingModel: "embedder",
		CacheDir:       filepath.Join(dir, "embedcache"),
	})
	require.NoError(t, err)
	return s
}

func TestSemanticRetrieveRanksMatchingChunks(t *testing.T) {
	llm, _ := semanticLLM()
	dir := t.TempDir()
	seedProjectFiles(t, dir)
	s := newSemanticAt(t, dir, llm)

	result := s.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")
	assert.Equal(t, RetrieveSuccess, result.Status)
	// Required source leads, the matching chunk follows with its score
	assert.Contains(t, result.Context, "### From: Overview (overview)")
	assert.Contains(t, result.Context, "### From: Details (relevance: 1.00)")
	assert.Equal(t, []string{"overview", "details"}, result.SourcesLoaded)
	assert.Empty(t, result.SourcesMissing)
	assert.Equal(t, 1.0, result.Quality)
}

func TestSemanticRetrieveKeepsRequiredWhenNothingMatches(t *testing.T) {
	llm, _ := semanticLLM()
	dir := t.TempDir()
	seedProjectFiles(t, dir)
	s := newSemanticAt(t, dir, llm)

	// Embeds onto the default axis, orthogonal to every chunk
	result := s.RetrieveSemantic(context.Background(), DomainProjects, "something entirely unrelated")
	assert.Equal(t, RetrieveSuccess, result.Status)
	assert.Contains(t, result.Context, "### From: Overview (overview)")
	assert.NotContains(t, result.Context, "relevance:")
	assert.Equal(t, []string{"overview"}, result.SourcesLoaded)
	assert.Equal(t, []string{"details"}, result.SourcesMissing)
	assert.Equal(t, 0.8, result.Quality)
}

func TestSemanticRetrieveOutOfScope(t *testing.T) {
	llm, calls := semanticLLM()
	s := newSemanticAt(t, t.TempDir(), llm)

	result := s.RetrieveSemantic(context.Background(), DomainOutOfScope, "what is the weather")
	assert.Equal(t, RetrieveNoContext, result.Status)
	assert.Equal(t, 1.0, result.Quality)
	assert.Zero(t, *calls)
}

func TestSemanticQueryEmbedErrorFallsBack(t *testing.T) {
	llm, _ := semanticLLM()
	llm.embedFn = func(string, string) ([]float32, error) {
		return nil, fmt.Errorf("embedder offline")
	}
	dir := t.TempDir()
	seedProjectFiles(t, dir)
	s := newSemanticAt(t, dir, llm)

	result := s.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")
	// Basic retrieval format, not the chunked one
	assert.Contains(t, result.Context, "## Overview")
	assert.NotContains(t, result.Context, "### From:")
	assert.Equal(t, RetrieveSuccess, result.Status)
}

func TestSemanticChunkEmbedErrorFallsBack(t *testing.T) {
	llm, _ := semanticLLM()
	llm.embedBatchFn = func(string, []string) ([][]float32, error) {
		return nil, fmt.Errorf("embedder offline")
	}
	dir := t.TempDir()
	seedProjectFiles(t, dir)
	s := newSemanticAt(t, dir, llm)

	result := s.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")
	assert.Contains(t, result.Context, "## Overview")
	assert.NotContains(t, result.Context, "### From:")
}

func TestSemanticDiskCacheReused(t *testing.T) {
	llm, calls := semanticLLM()
	dir := t.TempDir()
	seedProjectFiles(t, dir)

	s1 := newSemanticAt(t, dir, llm)
	s1.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")
	assert.Equal(t, 1, *calls)

	cachePath := filepath.Join(dir, "embedcache", "embeddings_projects_v1.json")
	data, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	var cache embeddingCacheFile
	require.NoError(t, json.Unmarshal(data, &cache))
	assert.NotEmpty(t, cache.SourcesHash)
	assert.Equal(t, 2000, cache.ChunkSize)
	assert.Len(t, cache.Chunks, 2)

	// Fresh retriever over the same content: the disk cache serves the
	// chunks, so a broken batch embedder never matters.
	llm2, _ := semanticLLM()
	llm2.embedBatchFn = func(string, []string) ([][]float32, error) {
		return nil, fmt.Errorf("should not be called")
	}
	s2 := newSemanticAt(t, dir, llm2)
	result := s2.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")
	assert.Contains(t, result.Context, "### From: Details (relevance: 1.00)")
}

func TestSemanticDiskCacheLeavesNoTempFile(t *testing.T) {
	llm, _ := semanticLLM()
	dir := t.TempDir()
	seedProjectFiles(t, dir)
	s := newSemanticAt(t, dir, llm)

	s.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")

	// The cache lands via rename, so readers only ever see a complete file
	cachePath := filepath.Join(dir, "embedcache", "embeddings_projects_v1.json")
	_, err := os.Stat(cachePath)
	require.NoError(t, err)
	_, err = os.Stat(cachePath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestSemanticDiskCacheInvalidatedByEdit(t *testing.T) {
	llm, calls := semanticLLM()
	dir := t.TempDir()
	seedProjectFiles(t, dir)

	s1 := newSemanticAt(t, dir, llm)
	s1.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")
	require.Equal(t, 1, *calls)

	// Change the file size so the sources hash no longer matches
	writeContextFile(t, dir, "projects/overview.md",
		substantialContent("FIRST robotics automation")+" Updated with a new paragraph about mentoring.")

	llm2, calls2 := semanticLLM()
	s2 := newSemanticAt(t, dir, llm2)
	result := s2.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")
	assert.Equal(t, 1, *calls2)
	assert.Contains(t, result.Context, "### From:")
}

func TestSemanticPrewarm(t *testing.T) {
	llm, calls := semanticLLM()
	var embedded []string
	inner := llm.embedFn
	llm.embedFn = func(model, text string) ([]float32, error) {
		embedded = append(embedded, text)
		return inner(model, text)
	}
	dir := t.TempDir()
	seedProjectFiles(t, dir)
	s := newSemanticAt(t, dir, llm)

	require.NoError(t, s.Prewarm(context.Background()))
	assert.Equal(t, 1, *calls)
	assert.Contains(t, embedded, "warmup query")

	// Chunks are already in memory, so retrieval does not re-embed
	s.RetrieveSemantic(context.Background(), DomainProjects, "Tell me about your data pipelines")
	assert.Equal(t, 1, *calls)
}

func TestSemanticClearCache(t *testing.T) {
	llm, _ := semanticLLM()
	dir := t.TempDir()
	seedProjectFiles(t, dir)
	s := newSemanticAt(t, dir, llm)

	s.RetrieveSemantic(context.Background(), DomainProjects, "robotics")
	s.ClearCache()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.chunks)
}
