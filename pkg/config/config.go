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

// Package config holds all runtime configuration, loaded from environment
// variables with per-field minimum floors. Invalid or out-of-range values
// fall back to defaults rather than failing startup.
package config

import (
	"path/filepath"
	"time"
)

// SecurityLimits bounds request and input sizes.
type SecurityLimits struct {
	MaxInputLength   int
	MaxRequestSize   int64
	RequestTimeout   time.Duration
	MaxContextLength int
}

// RateLimits configures the sliding-window rate limiter.
type RateLimits struct {
	PerIPPerMinute  int
	PerIPPerHour    int
	GlobalPerMinute int
}

// Models selects Ollama models and per-tier timeouts.
type Models struct {
	ClassifierModel   string
	RouterModel       string
	GeneratorModel    string
	VerifierModel     string
	EmbeddingModel    string
	OllamaURL         string
	ClassifierTimeout time.Duration
	GeneratorTimeout  time.Duration
}

// Conversation bounds multi-turn state.
type Conversation struct {
	MaxTurns         int
	TTL              time.Duration
	MaxHistoryTokens int
}

// Pipeline toggles between the full and optimized pipeline behaviors.
type Pipeline struct {
	UseCombinedClassifier bool
	SkipRevision          bool
	UseFastSafetyCheck    bool
	EnableStreaming       bool
	MaxToolIterations     int
	MinContextQuality     float64
	ProjectNames          []string
}

// Retrieval tunes semantic context retrieval.
type Retrieval struct {
	SemanticEnabled bool
	ChunkSize       int
	ChunkOverlap    int
	TopK            int
	MinSimilarity   float64
}

// Server configures the HTTP ingress.
type Server struct {
	Host           string
	Port           int
	CORSOrigins    []string
	TrustedProxies map[string]bool
	MetricsEnabled bool
	LogLevel       string
	LogFormat      string
}

// Analytics toggles conversation logging and the admin surface.
type Analytics struct {
	Enabled      bool
	AdminEnabled bool
}

// Paths locates on-disk data and content directories.
type Paths struct {
	DataDir    string
	ContextDir string
	PromptsDir string
}

// ContactsDir is where visitor messages are written.
func (p Paths) ContactsDir() string { return filepath.Join(p.DataDir, "contacts") }

// ConversationsDir is where analytics conversation logs are written.
func (p Paths) ConversationsDir() string { return filepath.Join(p.DataDir, "conversations") }

// CacheDir holds embedding caches.
func (p Paths) CacheDir() string { return filepath.Join(p.DataDir, "cache") }

// Config is the aggregate runtime configuration.
type Config struct {
	Security     SecurityLimits
	RateLimits   RateLimits
	Models       Models
	Conversation Conversation
	Pipeline     Pipeline
	Retrieval    Retrieval
	Server       Server
	Analytics    Analytics
	Paths        Paths
}

// Load reads configuration from the environment. Call LoadEnvFiles first if
// .env files should participate.
func Load() *Config {
	classifier := envString("CLASSIFIER_MODEL", "qwen2.5:0.5b")

	cfg := &Config{
		Security: SecurityLimits{
			MaxInputLength:   envInt("MAX_INPUT_LENGTH", 2000, 100),
			MaxRequestSize:   int64(envInt("MAX_REQUEST_SIZE", 8192, 1024)),
			RequestTimeout:   envSeconds("REQUEST_TIMEOUT", 30, 5),
			MaxContextLength: envInt("MAX_CONTEXT_LENGTH", 32000, 1000),
		},
		RateLimits: RateLimits{
			PerIPPerMinute:  envInt("RATE_LIMIT_PER_IP_PER_MINUTE", 10, 1),
			PerIPPerHour:    envInt("RATE_LIMIT_PER_IP_PER_HOUR", 100, 10),
			GlobalPerMinute: envInt("RATE_LIMIT_GLOBAL_PER_MINUTE", 1000, 100),
		},
		Models: Models{
			ClassifierModel:   classifier,
			RouterModel:       envString("ROUTER_MODEL", "llama3.2:1b"),
			GeneratorModel:    envString("GENERATOR_MODEL", "mistral:7b"),
			VerifierModel:     envString("VERIFIER_MODEL", classifier),
			EmbeddingModel:    envString("EMBEDDING_MODEL", "nomic-embed-text"),
			OllamaURL:         envString("OLLAMA_URL", "http://localhost:11434"),
			ClassifierTimeout: envSeconds("CLASSIFIER_TIMEOUT", 10, 5),
			GeneratorTimeout:  envSeconds("GENERATOR_TIMEOUT", 60, 10),
		},
		Conversation: Conversation{
			MaxTurns:         envInt("CONVERSATION_MAX_TURNS", 10, 2),
			TTL:              envSeconds("CONVERSATION_TTL_SECONDS", 1800, 60),
			MaxHistoryTokens: envInt("MAX_HISTORY_TOKENS", 4000, 500),
		},
		Pipeline: Pipeline{
			UseCombinedClassifier: envBool("USE_COMBINED_CLASSIFIER", true),
			SkipRevision:          envBool("SKIP_REVISION", true),
			UseFastSafetyCheck:    envBool("USE_FAST_SAFETY_CHECK", true),
			EnableStreaming:       envBool("ENABLE_STREAMING", true),
			MaxToolIterations:     envInt("MAX_TOOL_ITERATIONS", 3, 1),
			MinContextQuality:     envFloat("MIN_CONTEXT_QUALITY", 0.4, 0),
			ProjectNames:          envList("PROJECT_NAME_KEYWORDS", nil),
		},
		Retrieval: Retrieval{
			SemanticEnabled: envBool("SEMANTIC_RETRIEVAL_ENABLED", true),
			ChunkSize:       envInt("SEMANTIC_CHUNK_SIZE", 500, 100),
			ChunkOverlap:    envInt("SEMANTIC_CHUNK_OVERLAP", 125, 0),
			TopK:            envInt("SEMANTIC_TOP_K", 5, 1),
			MinSimilarity:   envFloat("SEMANTIC_MIN_SIMILARITY", 0.5, 0),
		},
		Server: Server{
			Host:           envString("HOST", "127.0.0.1"),
			Port:           envInt("PORT", 8000, 1),
			CORSOrigins:    envList("CORS_ORIGINS", []string{"https://kellogg.brengel.com", "https://www.kellogg.brengel.com"}),
			TrustedProxies: envSet("TRUSTED_PROXIES"),
			MetricsEnabled: envBool("METRICS_ENABLED", false),
			LogLevel:       envString("LOG_LEVEL", "info"),
			LogFormat:      envString("LOG_FORMAT", "simple"),
		},
		Analytics: Analytics{
			Enabled:      envBool("ANALYTICS_ENABLED", true),
			AdminEnabled: envBool("ADMIN_ENABLED", true),
		},
		Paths: Paths{
			DataDir:    envString("DATA_DIR", "data"),
			ContextDir: envString("CONTEXT_DIR", "content"),
			PromptsDir: envString("PROMPTS_DIR", "prompts"),
		},
	}

	return cfg
}
