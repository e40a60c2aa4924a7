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
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// cacheVersion is part of the cache filename. Bump to invalidate every
// on-disk embedding cache at once.
const cacheVersion = "v1"

const requiredChunksPerSource = 2

// embeddedChunk is one context chunk with its embedding and provenance.
type embeddedChunk struct {
	Text              string    `json:"text"`
	SourceName        string    `json:"source_name"`
	SourceDisplayName string    `json:"source_display_name"`
	Embedding         []float32 `json:"embedding"`
}

type embeddingCacheFile struct {
	SourcesHash  string          `json:"sources_hash"`
	ChunkSize    int             `json:"chunk_size"`
	ChunkOverlap int             `json:"chunk_overlap"`
	Chunks       []embeddedChunk `json:"chunks"`
}

// SemanticOptions tunes the semantic retriever.
type SemanticOptions struct {
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	MinSimilarity  float64
	EmbeddingModel string
	CacheDir       string
}

// SemanticRetriever extends the basic retriever with embedding-ranked
// chunk selection. Embeddings are cached in memory and on disk; the disk
// cache is keyed by a hash of the source files so edits invalidate it.
type SemanticRetriever struct {
	*Retriever

	llm  LLM
	opts SemanticOptions

	mu      sync.Mutex
	chunks  map[Domain][]embeddedChunk
	inproc  singleflight.Group
	watcher *fsnotify.Watcher
}

// NewSemanticRetriever creates the semantic stage on top of a basic
// retriever. The cache directory is created if needed.
func NewSemanticRetriever(base *Retriever, llm LLM, opts SemanticOptions) (*SemanticRetriever, error) {
	if err := os.MkdirAll(opts.CacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create embedding cache directory: %w", err)
	}
	return &SemanticRetriever{
		Retriever: base,
		llm:       llm,
		opts:      opts,
		chunks:    make(map[Domain][]embeddedChunk),
	}, nil
}

// RetrieveSemantic assembles context ranked by similarity to the message.
// Required sources are always included first for grounding; any embedding
// failure falls back to the basic retriever.
func (s *SemanticRetriever) RetrieveSemantic(ctx context.Context, domain Domain, message string) RetrieveResult {
	if domain == DomainOutOfScope {
		return RetrieveResult{Status: RetrieveNoContext, Quality: 1.0}
	}

	chunks := s.ensureChunks(ctx, domain)
	if len(chunks) == 0 {
		slog.Warn("No embedded chunks available, falling back to basic retrieval", "domain", domain)
		return s.Retrieve(domain)
	}

	queryEmbedding, err := s.llm.Embed(ctx, s.opts.EmbeddingModel, message)
	if err != nil {
		slog.Error("Failed to embed query", "error", err)
		return s.Retrieve(domain)
	}

	sources := s.registry.ForDomain(domain)
	requiredNames := make(map[string]bool)
	for _, src := range sources {
		if src.Required {
			requiredNames[src.Name] = true
		}
	}

	type scoredChunk struct {
		chunk embeddedChunk
		score float64
	}
	var scored []scoredChunk
	for _, chunk := range chunks {
		if sim := cosineSimilarity(queryEmbedding, chunk.Embedding); sim >= s.opts.MinSimilarity {
			scored = append(scored, scoredChunk{chunk, sim})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var parts []string
	var loaded []string
	loadedSet := make(map[string]bool)
	included := make(map[string]bool)
	totalLength := 0

	appendPart := func(content, sourceName, text string) {
		if remaining := s.maxContextLength - totalLength; len(content) > remaining {
			content = content[:remaining] + "\n[Truncated]"
		}
		parts = append(parts, content)
		if !loadedSet[sourceName] {
			loadedSet[sourceName] = true
			loaded = append(loaded, sourceName)
		}
		included[text] = true
		totalLength += len(content)
	}

	// Phase 1: the leading chunks of every required source, so answers stay
	// grounded in the overview even when the query matches a detail chunk.
	for _, src := range sources {
		if !src.Required {
			continue
		}
		taken := 0
		for _, chunk := range chunks {
			if chunk.SourceName != src.Name || taken >= requiredChunksPerSource {
				continue
			}
			if totalLength >= s.maxContextLength {
				break
			}
			appendPart(fmt.Sprintf("### From: %s (overview)\n%s", chunk.SourceDisplayName, chunk.Text), chunk.SourceName, chunk.Text)
			taken++
		}
	}

	// Phase 2: the top-k semantic matches, skipping anything phase 1 took.
	semanticAdded := 0
	for _, sc := range scored {
		if semanticAdded >= s.opts.TopK || totalLength >= s.maxContextLength {
			break
		}
		if included[sc.chunk.Text] {
			continue
		}
		header := fmt.Sprintf("### From: %s (relevance: %.2f)", sc.chunk.SourceDisplayName, sc.score)
		appendPart(header+"\n"+sc.chunk.Text, sc.chunk.SourceName, sc.chunk.Text)
		semanticAdded++
	}

	if len(parts) == 0 {
		return s.Retrieve(domain)
	}

	contextBlob := "## Context\n\n" + strings.Join(parts, "\n\n")

	var missing []string
	for _, src := range sources {
		if !loadedSet[src.Name] {
			missing = append(missing, src.Name)
		}
	}

	quality := 0.8
	if len(scored) > 0 {
		n := len(scored)
		if n > s.opts.TopK {
			n = s.opts.TopK
		}
		sum := 0.0
		for _, sc := range scored[:n] {
			sum += sc.score
		}
		quality = round2(0.6*scored[0].score + 0.4*(sum/float64(n)))
	}

	hasPlaceholder := isPlaceholderContent(contextBlob)
	if hasPlaceholder && quality > 0.2 {
		quality = 0.2
	}

	var status RetrieveStatus
	switch {
	case hasPlaceholder || quality < 0.4:
		status = RetrieveInsufficient
	case len(loaded) < len(sources)/2:
		status = RetrievePartial
	default:
		status = RetrieveSuccess
	}

	return RetrieveResult{
		Status:         status,
		Context:        contextBlob,
		SourcesLoaded:  loaded,
		SourcesMissing: missing,
		TotalLength:    len(contextBlob),
		IsPlaceholder:  hasPlaceholder,
		Quality:        quality,
	}
}

// Prewarm embeds every domain's chunks concurrently and issues one warmup
// embedding so the model stays resident for the first real query.
func (s *SemanticRetriever) Prewarm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, domain := range s.registry.Domains() {
		if domain == DomainOutOfScope {
			continue
		}
		domain := domain
		g.Go(func() error {
			s.ensureChunks(ctx, domain)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := s.llm.Embed(ctx, s.opts.EmbeddingModel, "warmup query"); err != nil {
		slog.Warn("Failed to warm up embedding model", "error", err)
	}
	return nil
}

// Watch invalidates the in-memory chunk cache when any content file
// changes. The disk cache self-invalidates via the sources hash. Blocks
// until ctx is done.
func (s *SemanticRetriever) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create content watcher: %w", err)
	}
	defer watcher.Close()
	s.watcher = watcher

	dirs := map[string]bool{s.contextDir: true}
	for _, domain := range s.registry.Domains() {
		for _, src := range s.registry.ForDomain(domain) {
			dirs[filepath.Join(s.contextDir, filepath.Dir(src.FilePattern))] = true
		}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Debug("Cannot watch content directory", "dir", dir, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				slog.Info("Content changed, clearing embedding cache", "file", event.Name)
				s.ClearCache()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Content watcher error", "error", err)
		}
	}
}

// ClearCache drops the in-memory chunk cache for every domain.
func (s *SemanticRetriever) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[Domain][]embeddedChunk)
}

// ensureChunks returns embedded chunks for a domain, checking memory,
// then disk, then computing fresh embeddings. Concurrent callers for the
// same domain share one computation.
func (s *SemanticRetriever) ensureChunks(ctx context.Context, domain Domain) []embeddedChunk {
	s.mu.Lock()
	if chunks, ok := s.chunks[domain]; ok {
		s.mu.Unlock()
		return chunks
	}
	s.mu.Unlock()

	result, _, _ := s.inproc.Do(string(domain), func() (interface{}, error) {
		if cached := s.loadDiskCache(domain); cached != nil {
			s.storeChunks(domain, cached)
			return cached, nil
		}

		chunks := s.computeChunks(ctx, domain)
		s.storeChunks(domain, chunks)
		if len(chunks) > 0 {
			s.saveDiskCache(domain, chunks)
		}
		return chunks, nil
	})

	chunks, _ := result.([]embeddedChunk)
	return chunks
}

func (s *SemanticRetriever) storeChunks(domain Domain, chunks []embeddedChunk) {
	s.mu.Lock()
	s.chunks[domain] = chunks
	s.mu.Unlock()
}

func (s *SemanticRetriever) computeChunks(ctx context.Context, domain Domain) []embeddedChunk {
	var all []embeddedChunk
	var texts []string

	for _, source := range s.registry.ForDomain(domain) {
		content, ok := s.loadFile(source)
		if !ok {
			continue
		}
		for _, text := range chunkText(content, s.opts.ChunkSize, s.opts.ChunkOverlap) {
			all = append(all, embeddedChunk{
				Text:              text,
				SourceName:        source.Name,
				SourceDisplayName: source.DisplayName,
			})
			texts = append(texts, text)
		}
	}

	if len(all) == 0 {
		return nil
	}

	slog.Info("Computing embeddings", "domain", domain, "chunks", len(all))
	embeddings, err := s.llm.EmbedBatch(ctx, s.opts.EmbeddingModel, texts)
	if err != nil || len(embeddings) != len(all) {
		slog.Error("Failed to embed chunks", "domain", domain, "error", err)
		return nil
	}

	for i := range all {
		all[i].Embedding = embeddings[i]
	}
	return all
}

func (s *SemanticRetriever) cachePath(domain Domain) string {
	return filepath.Join(s.opts.CacheDir, fmt.Sprintf("embeddings_%s_%s.json", domain, cacheVersion))
}

// sourcesHash fingerprints a domain's source files by path, size, and
// mtime. Any edit changes the hash and invalidates the disk cache.
func (s *SemanticRetriever) sourcesHash(domain Domain) string {
	sources := s.registry.ForDomain(domain)
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })

	hasher := md5.New()
	for _, source := range sources {
		info, err := os.Stat(filepath.Join(s.contextDir, source.FilePattern))
		if err != nil {
			continue
		}
		fmt.Fprintf(hasher, "%s:%d:%d", source.FilePattern, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func (s *SemanticRetriever) loadDiskCache(domain Domain) []embeddedChunk {
	data, err := os.ReadFile(s.cachePath(domain))
	if err != nil {
		return nil
	}

	var cache embeddingCacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		slog.Warn("Failed to parse embedding cache", "domain", domain, "error", err)
		return nil
	}
	if cache.SourcesHash != s.sourcesHash(domain) {
		slog.Info("Embedding cache stale, source files changed", "domain", domain)
		return nil
	}

	slog.Info("Loaded cached embeddings", "domain", domain, "chunks", len(cache.Chunks))
	return cache.Chunks
}

func (s *SemanticRetriever) saveDiskCache(domain Domain, chunks []embeddedChunk) {
	cache := embeddingCacheFile{
		SourcesHash:  s.sourcesHash(domain),
		ChunkSize:    s.opts.ChunkSize,
		ChunkOverlap: s.opts.ChunkOverlap,
		Chunks:       chunks,
	}
	data, err := json.Marshal(cache)
	if err != nil {
		slog.Warn("Failed to encode embedding cache", "domain", domain, "error", err)
		return
	}
	// Write-then-rename so a concurrent reader or a crash mid-write never
	// observes a torn cache file.
	path := s.cachePath(domain)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		slog.Warn("Failed to write embedding cache", "domain", domain, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		slog.Warn("Failed to move embedding cache into place", "domain", domain, "error", err)
	}
}
