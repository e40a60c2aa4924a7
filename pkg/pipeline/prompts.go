package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// promptSource resolves a stage's system prompt, preferring an override
// file under the prompts directory and falling back to the built-in text.
// The file is read once and cached for the process lifetime.
type promptSource struct {
	dir      string
	filename string
	fallback string

	once   sync.Once
	prompt string
}

func newPromptSource(dir, filename, fallback string) *promptSource {
	return &promptSource{dir: dir, filename: filename, fallback: fallback}
}

func (p *promptSource) get() string {
	p.once.Do(func() {
		p.prompt = p.fallback
		if p.dir == "" {
			return
		}
		data, err := os.ReadFile(filepath.Join(p.dir, p.filename))
		if err != nil {
			return
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			p.prompt = text
		}
	})
	return p.prompt
}
