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
	"time"
)

// timeoutLLM bounds each call with its own deadline. The shared HTTP
// client carries the generator-tier timeout; the small classifier-tier
// models get a tighter one through this wrapper.
type timeoutLLM struct {
	LLM
	timeout time.Duration
}

// WithCallTimeout wraps an LLM so every chat and embed call is bounded
// by d. A non-positive d returns llm unchanged.
func WithCallTimeout(llm LLM, d time.Duration) LLM {
	if d <= 0 {
		return llm
	}
	return timeoutLLM{LLM: llm, timeout: d}
}

func (l timeoutLLM) ChatText(ctx context.Context, model, system, user string, temperature float64) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.LLM.ChatText(ctx, model, system, user, temperature)
}

func (l timeoutLLM) ChatJSON(ctx context.Context, model, system, user string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.LLM.ChatJSON(ctx, model, system, user)
}

func (l timeoutLLM) Embed(ctx context.Context, model, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.LLM.Embed(ctx, model, text)
}

func (l timeoutLLM) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.LLM.EmbedBatch(ctx, model, texts)
}
