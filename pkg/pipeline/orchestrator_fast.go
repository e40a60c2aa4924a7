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
	"log/slog"
	"time"

	"github.com/kbrengel/talkingrock/pkg/analytics"
	"github.com/kbrengel/talkingrock/pkg/audit"
	"github.com/kbrengel/talkingrock/pkg/conversation"
	"github.com/kbrengel/talkingrock/pkg/observability"
	"github.com/kbrengel/talkingrock/pkg/tools"
)

const noInfoResponse = "I don't have detailed information about that topic. Is there something else about Kellogg's work I can help with?"

// FastOrchestrator is the latency-optimized pipeline: the security and
// intent stages fuse into one model call, revision is skipped, and output
// safety uses pattern matching. Cuts roughly three model calls per request
// against the full pipeline.
type FastOrchestrator struct {
	gateway       *Gateway
	sanitizer     *Sanitizer
	combined      *CombinedClassifier
	router        *Router
	retriever     *SemanticRetriever
	generator     *Generator
	fastSafety    *FastSafetyChecker
	deliverer     *Deliverer
	conversations *conversation.Manager
	transcripts   *analytics.Storage
	contacts      tools.ContactSaver
	metrics       observability.Metrics
	llm           LLM

	maxToolIterations int
	minContextQuality float64
}

// FastOrchestratorDeps wires the fused pipeline's components.
type FastOrchestratorDeps struct {
	Gateway       *Gateway
	Sanitizer     *Sanitizer
	Combined      *CombinedClassifier
	Router        *Router
	Retriever     *SemanticRetriever
	Generator     *Generator
	FastSafety    *FastSafetyChecker
	Deliverer     *Deliverer
	Conversations *conversation.Manager
	Transcripts   *analytics.Storage
	Contacts      tools.ContactSaver
	Metrics       observability.Metrics
	LLM           LLM

	MaxToolIterations int
	MinContextQuality float64
}

// NewFastOrchestrator assembles the optimized pipeline.
func NewFastOrchestrator(deps FastOrchestratorDeps) *FastOrchestrator {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	maxIter := deps.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 3
	}
	minQuality := deps.MinContextQuality
	if minQuality == 0 {
		minQuality = 0.4
	}
	return &FastOrchestrator{
		gateway:           deps.Gateway,
		sanitizer:         deps.Sanitizer,
		combined:          deps.Combined,
		router:            deps.Router,
		retriever:         deps.Retriever,
		generator:         deps.Generator,
		fastSafety:        deps.FastSafety,
		deliverer:         deps.Deliverer,
		conversations:     deps.Conversations,
		transcripts:       deps.Transcripts,
		contacts:          deps.Contacts,
		metrics:           metrics,
		llm:               deps.LLM,
		maxToolIterations: maxIter,
		minContextQuality: minQuality,
	}
}

// Process runs one message through the fused pipeline. A panic in any
// stage becomes an internal_error response.
func (o *FastOrchestrator) Process(ctx context.Context, input ChatInput) (resp ChatResponse) {
	start := time.Now()
	requestID := audit.NewRequestID()
	ipHash := audit.HashIP(input.ClientIP)
	timings := make(map[string]time.Duration)

	conv := o.conversations.GetOrCreate(input.ConversationID)
	convID := conv.ID
	turn := o.conversations.TurnCount(convID)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Fast pipeline stage panicked", "request_id", requestID, "panic", r)
			o.metrics.RecordRequest(ctx, "error", "", time.Since(start))
			resp = o.deliverer.DeliverError(ErrInternalError, requestID, convID, start, ipHash, "", "")
		}
	}()

	slog.Info("Processing request on fast path", "request_id", requestID, "conversation_id", convID)

	// L0: network gateway
	stageStart := time.Now()
	l0 := o.gateway.Validate(ctx, GatewayRequest{
		ClientIP:      input.ClientIP,
		ContentType:   input.ContentType,
		ContentLength: input.ContentLength,
		HasMessage:    input.Message != "",
	})
	timings["L0"] = time.Since(stageStart)

	if l0.Blocked {
		o.metrics.RecordStageBlocked(ctx, "L0")
		o.metrics.RecordRequest(ctx, "blocked", "", time.Since(start))
		if l0.Status == GatewayRateLimited {
			return o.deliverer.DeliverRateLimited(requestID, convID, start, ipHash, l0.RetryAfter)
		}
		errorType := ErrInternalError
		if l0.Status == GatewayRequestTooLarge {
			errorType = ErrInputTooLong
		}
		return o.deliverer.DeliverError(errorType, requestID, convID, start, ipHash, "L0", l0.ErrorMessage)
	}

	// L1: input sanitization
	stageStart = time.Now()
	l1 := o.sanitizer.Sanitize(input.Message, ipHash)
	timings["L1"] = time.Since(stageStart)

	if l1.Blocked {
		o.metrics.RecordStageBlocked(ctx, "L1")
		o.metrics.RecordRequest(ctx, "blocked", "", time.Since(start))
		return o.deliverer.DeliverError(ErrBlockedInput, requestID, convID, start, ipHash, "L1", l1.ErrorMessage)
	}

	message := l1.Sanitized
	o.logTranscript(convID, ipHash, analytics.LoggedMessage{Role: "user", Content: message})

	history := historyMessages(o.conversations.History(convID, 0))

	// L2+L3: fused security classification and intent parsing
	stageStart = time.Now()
	l23 := o.combined.Classify(ctx, message, history, ipHash)
	timings["L2+L3"] = time.Since(stageStart)

	if !l23.Passed {
		o.metrics.RecordStageBlocked(ctx, "L2")
		o.logTranscript(convID, ipHash, analytics.LoggedMessage{
			Role:           "assistant",
			Content:        "[BLOCKED]",
			ResponseTimeMs: float64(time.Since(start)) / float64(time.Millisecond),
		})
		o.markFastBlocked(convID, "L2")
		o.metrics.RecordRequest(ctx, "blocked", "", time.Since(start))
		return o.deliverer.DeliverError(ErrBlockedInput, requestID, convID, start, ipHash, "L2", l23.ErrorMessage)
	}
	intent := l23.Intent

	// L4: domain routing
	stageStart = time.Now()
	l4 := o.router.Route(intent, message)
	timings["L4"] = time.Since(stageStart)

	// L5: semantic context retrieval
	stageStart = time.Now()
	l5 := o.retriever.RetrieveSemantic(ctx, l4.Domain, message)
	timings["L5"] = time.Since(stageStart)

	// Thin context means the generator would have to invent details, so
	// answer honestly instead. This is a success response, not an error.
	insufficient := l5.Status == RetrieveInsufficient || l5.IsPlaceholder || l5.Quality < o.minContextQuality
	if insufficient {
		o.metrics.RecordRequest(ctx, "success", string(l4.Domain), time.Since(start))
		return o.deliverer.DeliverSuccess(noInfoResponse, l4.Domain, requestID, convID, start, ipHash, timings)
	}

	// L6: generation with tool support
	stageStart = time.Now()
	executor := tools.NewExecutor(o.contacts, convID, ipHash)

	opts := GenerateOptions{
		Message: message,
		Domain:  l4.Domain,
		Context: l5.Context,
		History: history,
	}
	l6 := o.generator.Generate(ctx, opts)

	for iteration := 0; l6.Status == GenerateToolCall && len(l6.ToolCalls) > 0 && iteration < o.maxToolIterations; iteration++ {
		results := executor.ExecuteAll(ctx, l6.ToolCalls)
		opts.ToolResults = results
		l6 = o.generator.Generate(ctx, opts)
	}
	timings["L6"] = time.Since(stageStart)

	response := l6.Response
	if l6.Status == GenerateFailed || response == "" {
		response = FallbackResponse(l4.Domain)
	}

	// L7 revision is skipped on the fast path.
	timings["L7"] = 0

	// L8: fast pattern-based safety
	stageStart = time.Now()
	l8 := o.fastSafety.Check(response)
	timings["L8"] = time.Since(stageStart)

	blockedAt := ""
	if !l8.Passed {
		o.metrics.RecordStageBlocked(ctx, "L8")
		blockedAt = "L8"
		response = FastSafeFallbackResponse
	}

	o.logTranscript(convID, ipHash, analytics.LoggedMessage{
		Role:           "assistant",
		Content:        response,
		Domain:         string(l4.Domain),
		ResponseTimeMs: float64(time.Since(start)) / float64(time.Millisecond),
	})
	if blockedAt != "" {
		o.markFastBlocked(convID, blockedAt)
	}

	o.conversations.AddTurn(convID, message, response)

	for stage, d := range timings {
		o.metrics.RecordStageDuration(ctx, stage, d)
	}
	o.metrics.RecordIntentConfidence(ctx, intent.Confidence)
	o.metrics.RecordDomainRequest(ctx, string(l4.Domain))
	o.metrics.RecordConversationTurns(ctx, turn+1)
	o.metrics.RecordResponseLength(ctx, len(response))
	o.metrics.RecordRequest(ctx, "success", string(l4.Domain), time.Since(start))

	slog.Info("Fast request completed",
		"request_id", requestID, "total_ms", time.Since(start).Milliseconds())

	return o.deliverer.DeliverSuccess(response, l4.Domain, requestID, convID, start, ipHash, timings)
}

// ProcessStream runs the validation stages, then streams the generated
// response through fn chunk by chunk. Blocked requests and errors emit a
// single explanatory chunk. Safety runs after the fact; streamed text
// cannot be retracted, so failures are only logged.
func (o *FastOrchestrator) ProcessStream(ctx context.Context, input ChatInput, fn func(chunk string) error) (err error) {
	ipHash := audit.HashIP(input.ClientIP)

	conv := o.conversations.GetOrCreate(input.ConversationID)
	convID := conv.ID

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Fast pipeline stage panicked during stream", "panic", r)
			err = fn("I'm having technical difficulties. Please try again.")
		}
	}()

	l0 := o.gateway.Validate(ctx, GatewayRequest{
		ClientIP:   input.ClientIP,
		HasMessage: input.Message != "",
	})
	if l0.Blocked {
		return fn(orText(l0.ErrorMessage, "Rate limited. Please try again."))
	}

	l1 := o.sanitizer.Sanitize(input.Message, ipHash)
	if l1.Blocked {
		return fn(orText(l1.ErrorMessage, "Invalid input."))
	}
	message := l1.Sanitized

	history := historyMessages(o.conversations.History(convID, 0))
	l23 := o.combined.Classify(ctx, message, history, ipHash)
	if !l23.Passed {
		return fn(orText(l23.ErrorMessage, "I can only answer questions about Kellogg's work."))
	}

	l4 := o.router.Route(l23.Intent, message)
	l5 := o.retriever.RetrieveSemantic(ctx, l4.Domain, message)
	if l5.Quality < o.minContextQuality {
		return fn("I don't have detailed information about that topic.")
	}

	var full string
	err = o.generator.GenerateStream(ctx, GenerateOptions{
		Message: message,
		Domain:  l4.Domain,
		Context: l5.Context,
		History: history,
	}, func(chunk string) error {
		full += chunk
		return fn(chunk)
	})
	if err != nil {
		slog.Error("Streaming generation failed", "error", err)
		return fn("I'm having technical difficulties. Please try again.")
	}

	if l8 := o.fastSafety.Check(full); !l8.Passed {
		slog.Warn("Streamed response failed safety check", "details", l8.IssueDetails)
	}

	o.conversations.AddTurn(convID, message, full)
	return nil
}

// HealthCheck reports component health for the fast pipeline.
func (o *FastOrchestrator) HealthCheck(ctx context.Context) map[string]bool {
	health := map[string]bool{
		"ollama":               o.llm.HealthCheck(ctx),
		"rate_limiter":         true,
		"conversation_manager": true,
	}
	health["healthy"] = health["ollama"] && health["rate_limiter"] && health["conversation_manager"]
	return health
}

func (o *FastOrchestrator) logTranscript(convID, ipHash string, msg analytics.LoggedMessage) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.LogMessage(convID, ipHash, msg); err != nil {
		slog.Warn("Failed to log transcript message", "error", err)
	}
}

func (o *FastOrchestrator) markFastBlocked(convID, stage string) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.MarkBlocked(convID, stage); err != nil {
		slog.Debug("Failed to mark conversation blocked", "error", err)
	}
}

func orText(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
