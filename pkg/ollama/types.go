package ollama

// ChatRequest is the payload for /api/chat.
type ChatRequest struct {
	Model    string      `json:"model"`
	Messages []Message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Format   interface{} `json:"format,omitempty"` // "json" string or schema object
	Options  *Options    `json:"options,omitempty"`
}

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes sampling.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ChatResponse is the non-streaming /api/chat reply.
type ChatResponse struct {
	Model           string  `json:"model"`
	CreatedAt       string  `json:"created_at"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

// StreamChunk is one NDJSON line of a streaming /api/chat reply.
type StreamChunk struct {
	Model     string  `json:"model"`
	CreatedAt string  `json:"created_at"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
	EvalCount int     `json:"eval_count"`
	Error     string  `json:"error,omitempty"`
}

// EmbedRequest is the payload for /api/embeddings.
type EmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// EmbedResponse is the /api/embeddings reply.
type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// TagsResponse is the /api/tags reply.
type TagsResponse struct {
	Models []TagModel `json:"models"`
}

// TagModel is one installed model entry.
type TagModel struct {
	Name string `json:"name"`
}
