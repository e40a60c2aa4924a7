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
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// RetrieveStatus is the outcome of the context retrieval stage.
type RetrieveStatus string

const (
	RetrieveSuccess      RetrieveStatus = "success"
	RetrievePartial      RetrieveStatus = "partial"
	RetrieveNoContext    RetrieveStatus = "no_context"
	RetrieveInsufficient RetrieveStatus = "insufficient"
)

// RetrieveResult carries the assembled trusted context blob.
type RetrieveResult struct {
	Status         RetrieveStatus
	Context        string
	SourcesLoaded  []string
	SourcesMissing []string
	TotalLength    int
	IsPlaceholder  bool
	Quality        float64
}

// Content shorter than this is assumed to be a stub.
const minUsefulContextLength = 200

var placeholderMarkers = []string{
	"placeholder",
	"todo:",
	"coming soon",
	"to be added",
	"[insert",
	"lorem ipsum",
	"example content",
}

// Retriever loads curated context files by domain. No retrieval model is
// involved; the registry decides what the generator may see.
type Retriever struct {
	registry         *SourceRegistry
	contextDir       string
	maxContextLength int
}

// NewRetriever creates the basic retriever stage.
func NewRetriever(registry *SourceRegistry, contextDir string, maxContextLength int) *Retriever {
	return &Retriever{
		registry:         registry,
		contextDir:       contextDir,
		maxContextLength: maxContextLength,
	}
}

// Retrieve assembles context for a domain. Out-of-scope requests get an
// empty blob; the generator answers those without grounding.
func (r *Retriever) Retrieve(domain Domain) RetrieveResult {
	if domain == DomainOutOfScope {
		return RetrieveResult{Status: RetrieveNoContext, Quality: 1.0}
	}

	var parts []string
	var loaded, missing []string
	totalLength := 0

	for _, source := range r.registry.ForDomain(domain) {
		if totalLength >= r.maxContextLength {
			break
		}

		content, ok := r.loadFile(source)
		if !ok {
			missing = append(missing, source.Name)
			continue
		}

		if remaining := r.maxContextLength - totalLength; len(content) > remaining {
			cut := remaining
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut] + "\n[Content truncated]"
		}

		parts = append(parts, fmt.Sprintf("## %s\n\n%s", source.DisplayName, content))
		loaded = append(loaded, source.Name)
		totalLength += len(content)
	}

	context := strings.Join(parts, "\n\n---\n\n")
	hasPlaceholder := isPlaceholderContent(context)
	quality := contextQuality(context, len(loaded), len(missing), hasPlaceholder)

	var status RetrieveStatus
	switch {
	case len(loaded) == 0:
		status = RetrieveNoContext
	case hasPlaceholder || len(context) < minUsefulContextLength:
		status = RetrieveInsufficient
	case len(missing) > 0:
		status = RetrievePartial
	default:
		status = RetrieveSuccess
	}

	return RetrieveResult{
		Status:         status,
		Context:        context,
		SourcesLoaded:  loaded,
		SourcesMissing: missing,
		TotalLength:    len(context),
		IsPlaceholder:  hasPlaceholder,
		Quality:        quality,
	}
}

func (r *Retriever) loadFile(source ContextSource) (string, bool) {
	path := filepath.Join(r.contextDir, source.FilePattern)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read context file", "path", path, "error", err)
		}
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func isPlaceholderContent(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// contextQuality scores context usefulness between 0 and 1. Length counts
// logarithmically (~1.0 at 10k chars), source completeness linearly.
func contextQuality(context string, loaded, missing int, hasPlaceholder bool) float64 {
	if len(context) < minUsefulContextLength {
		return 0.0
	}
	if hasPlaceholder {
		return 0.2
	}

	lengthScore := math.Log10(float64(len(context)+1)) / 4
	if lengthScore > 1 {
		lengthScore = 1
	}

	completeness := 0.0
	if total := loaded + missing; total > 0 {
		completeness = float64(loaded) / float64(total)
	}

	return round2(lengthScore*0.6 + completeness*0.4)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
