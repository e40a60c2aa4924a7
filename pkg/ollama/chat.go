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

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// ChatText sends a chat request and returns the text reply.
func (c *Client) ChatText(ctx context.Context, model, system, user string, temperature float64) (string, error) {
	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	return c.chat(ctx, ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  &Options{Temperature: temperature},
	})
}

// ChatWithHistory sends a chat request with prior conversation messages.
func (c *Client) ChatWithHistory(ctx context.Context, model, system string, history []Message, temperature float64) (string, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, history...)

	return c.chat(ctx, ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  &Options{Temperature: temperature},
	})
}

// ChatJSON sends a chat request with JSON-constrained output and parses the
// reply into a generic map. Temperature is pinned to zero for deterministic
// classification.
func (c *Client) ChatJSON(ctx context.Context, model, system, user string) (map[string]interface{}, error) {
	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	content, err := c.chat(ctx, ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Format:   "json",
		Options:  &Options{Temperature: 0},
	})
	if err != nil {
		return nil, err
	}

	content = StripMarkdownFences(content)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		slog.Warn("Model output is not valid JSON", "model", model, "preview", preview(content, 200))
		return nil, newError(ErrKindResponse, "model output is not valid JSON", err)
	}

	return parsed, nil
}

// ChatStream sends a streaming chat request and invokes fn for each content
// chunk. fn returning an error aborts the stream.
func (c *Client) ChatStream(ctx context.Context, model, system, user string, fn func(chunk string) error) error {
	payload := ChatRequest{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: true,
	}

	resp, err := c.MakeStreamingRequest(ctx, "/api/chat", payload)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, model); err != nil {
		return err
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var chunk StreamChunk
			if jsonErr := json.Unmarshal(line, &chunk); jsonErr == nil {
				if chunk.Error != "" {
					return newError(ErrKindModel, chunk.Error, nil)
				}
				if chunk.Message.Content != "" {
					if cbErr := fn(chunk.Message.Content); cbErr != nil {
						return cbErr
					}
				}
				if chunk.Done {
					return nil
				}
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return classifyTransportError(err)
		}
	}
}

// HealthCheck reports whether Ollama is reachable.
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, err := c.MakeGetRequest(ctx, "/api/tags")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of installed models.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.MakeGetRequest(ctx, "/api/tags")
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(ErrKindResponse, fmt.Sprintf("list models returned status %d", resp.StatusCode), nil)
	}

	var tags TagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, newError(ErrKindResponse, "failed to decode model list", err)
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

func (c *Client) chat(ctx context.Context, payload ChatRequest) (string, error) {
	resp, err := c.MakeRequest(ctx, "/api/chat", payload)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, payload.Model); err != nil {
		return "", err
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", newError(ErrKindResponse, "invalid JSON response", err)
	}

	if chatResp.Error != "" {
		return "", newError(ErrKindModel, chatResp.Error, nil)
	}

	content := strings.TrimSpace(chatResp.Message.Content)
	if content == "" {
		return "", newError(ErrKindResponse, "empty response", nil)
	}

	return content, nil
}

func checkStatus(resp *http.Response, model string) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return newError(ErrKindModel, fmt.Sprintf("model not found: %s", model), nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return newError(ErrKindModel, fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), nil)
	}
	return nil
}

func classifyTransportError(err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(ErrKindTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return newError(ErrKindTimeout, "request canceled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrKindTimeout, "request timed out", err)
	}

	return newError(ErrKindConnection, "request failed", err)
}

// StripMarkdownFences removes a surrounding ```json / ``` fence from model
// output. Small models sometimes wrap JSON despite format constraints.
func StripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
