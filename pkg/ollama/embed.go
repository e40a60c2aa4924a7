package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Global mutex to serialize Ollama embedding requests
// Ollama's llama runner crashes when receiving concurrent embedding requests
var embedMu sync.Mutex

const embedMaxRetries = 3

// Embed computes an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	// Serialize all Ollama embedding requests to prevent crashes
	embedMu.Lock()
	defer embedMu.Unlock()

	return c.embedLocked(ctx, model, text)
}

// EmbedBatch computes embeddings for multiple texts, serialized through the
// same mutex as Embed.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	embedMu.Lock()
	defer embedMu.Unlock()

	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := c.embedLocked(ctx, model, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d of %d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (c *Client) embedLocked(ctx context.Context, model, text string) ([]float32, error) {
	request := EmbedRequest{
		Model:  model,
		Prompt: text,
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		resp, err = c.MakeRequest(ctx, "/api/embeddings", request)
		if err == nil {
			break
		}

		slog.Debug("Ollama embedding retry", "attempt", attempt+1, "error", err, "text_length", len(text))
		if attempt < embedMaxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, classifyTransportError(ctx.Err())
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}

	if err != nil {
		slog.Error("Ollama embedding failed", "error", err, "model", model, "text_length", len(text))
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return nil, newError(ErrKindModel, fmt.Sprintf("embeddings returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response EmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, newError(ErrKindResponse, "failed to decode embedding response", err)
	}

	if len(response.Embedding) == 0 {
		return nil, newError(ErrKindResponse, "received empty embedding", nil)
	}

	return response.Embedding, nil
}
