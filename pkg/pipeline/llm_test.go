package pipeline

import (
	"context"
	"fmt"
)

// fakeLLM implements LLM with per-method hooks. Nil hooks fail the call so
// tests notice unexpected model usage.
type fakeLLM struct {
	chatTextFn   func(model, system, user string) (string, error)
	chatJSONFn   func(model, system, user string) (map[string]interface{}, error)
	chatStreamFn func(model, system, user string, fn func(string) error) error
	embedFn      func(model, text string) ([]float32, error)
	embedBatchFn func(model string, texts []string) ([][]float32, error)
	healthy      bool

	chatTextCalls int
	chatJSONCalls int
	lastSystem    string
	lastUser      string
}

func (f *fakeLLM) ChatText(_ context.Context, model, system, user string, _ float64) (string, error) {
	f.chatTextCalls++
	f.lastSystem, f.lastUser = system, user
	if f.chatTextFn == nil {
		return "", fmt.Errorf("unexpected ChatText call")
	}
	return f.chatTextFn(model, system, user)
}

func (f *fakeLLM) ChatJSON(_ context.Context, model, system, user string) (map[string]interface{}, error) {
	f.chatJSONCalls++
	f.lastSystem, f.lastUser = system, user
	if f.chatJSONFn == nil {
		return nil, fmt.Errorf("unexpected ChatJSON call")
	}
	return f.chatJSONFn(model, system, user)
}

func (f *fakeLLM) ChatStream(_ context.Context, model, system, user string, fn func(chunk string) error) error {
	f.lastSystem, f.lastUser = system, user
	if f.chatStreamFn == nil {
		return fmt.Errorf("unexpected ChatStream call")
	}
	return f.chatStreamFn(model, system, user, fn)
}

func (f *fakeLLM) Embed(_ context.Context, model, text string) ([]float32, error) {
	if f.embedFn == nil {
		return nil, fmt.Errorf("unexpected Embed call")
	}
	return f.embedFn(model, text)
}

func (f *fakeLLM) EmbedBatch(_ context.Context, model string, texts []string) ([][]float32, error) {
	if f.embedBatchFn == nil {
		return nil, fmt.Errorf("unexpected EmbedBatch call")
	}
	return f.embedBatchFn(model, texts)
}

func (f *fakeLLM) HealthCheck(_ context.Context) bool {
	return f.healthy
}
