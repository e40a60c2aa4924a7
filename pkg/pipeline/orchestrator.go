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
)

// ChatInput is one inbound chat request as seen by the pipeline.
type ChatInput struct {
	Message        string
	ConversationID string
	ClientIP       string
	ContentType    string
	ContentLength  int64
}

// Orchestrator runs the full zero-trust pipeline: network gateway, input
// sanitization, jailbreak detection, intent parsing, domain routing,
// context retrieval, generation, revision, output safety, and delivery.
// Untrusted input never reaches the generator unchecked, and generator
// output never reaches the client unchecked.
type Orchestrator struct {
	gateway       *Gateway
	sanitizer     *Sanitizer
	detector      *JailbreakDetector
	intents       *IntentParser
	router        *Router
	retriever     *Retriever
	generator     *Generator
	reviser       *Reviser
	safety        *SafetyChecker
	verifier      *SemanticVerifier
	deliverer     *Deliverer
	conversations *conversation.Manager
	transcripts   *analytics.Storage
	metrics       observability.Metrics
	llm           LLM
	skipRevision  bool
}

// OrchestratorDeps wires the stage components into an orchestrator.
type OrchestratorDeps struct {
	Gateway       *Gateway
	Sanitizer     *Sanitizer
	Detector      *JailbreakDetector
	Intents       *IntentParser
	Router        *Router
	Retriever     *Retriever
	Generator     *Generator
	Reviser       *Reviser
	Safety        *SafetyChecker
	Verifier      *SemanticVerifier
	Deliverer     *Deliverer
	Conversations *conversation.Manager
	Transcripts   *analytics.Storage
	Metrics       observability.Metrics
	LLM           LLM
	SkipRevision  bool
}

// NewOrchestrator assembles the full pipeline. Transcripts may be nil when
// analytics is disabled; Metrics may be the no-op implementation.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Orchestrator{
		gateway:       deps.Gateway,
		sanitizer:     deps.Sanitizer,
		detector:      deps.Detector,
		intents:       deps.Intents,
		router:        deps.Router,
		retriever:     deps.Retriever,
		generator:     deps.Generator,
		reviser:       deps.Reviser,
		safety:        deps.Safety,
		verifier:      deps.Verifier,
		deliverer:     deps.Deliverer,
		conversations: deps.Conversations,
		transcripts:   deps.Transcripts,
		metrics:       metrics,
		llm:           deps.LLM,
		skipRevision:  deps.SkipRevision,
	}
}

// Process runs one message through every stage with early exits for
// blocked requests. A panic in any stage becomes an internal_error
// response rather than a dropped connection.
func (o *Orchestrator) Process(ctx context.Context, input ChatInput) (resp ChatResponse) {
	start := time.Now()
	requestID := audit.NewRequestID()
	ipHash := audit.HashIP(input.ClientIP)
	timings := make(map[string]time.Duration)

	conv := o.conversations.GetOrCreate(input.ConversationID)
	convID := conv.ID
	turn := o.conversations.TurnCount(convID)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline stage panicked", "request_id", requestID, "panic", r)
			o.metrics.RecordRequest(ctx, "error", "", time.Since(start))
			resp = o.deliverer.DeliverError(ErrInternalError, requestID, convID, start, ipHash, "", "")
		}
	}()

	slog.Info("Processing request",
		"request_id", requestID, "conversation_id", convID, "turn", turn)

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
		if l0.Status == GatewayRateLimited {
			o.metrics.RecordRequest(ctx, "blocked", "", time.Since(start))
			return o.deliverer.DeliverRateLimited(requestID, convID, start, ipHash, l0.RetryAfter)
		}
		errorType := ErrInternalError
		if l0.Status == GatewayRequestTooLarge {
			errorType = ErrInputTooLong
		}
		return o.blocked(ctx, errorType, requestID, convID, start, ipHash, "L0", l0.ErrorMessage)
	}

	// L1: input sanitization
	stageStart = time.Now()
	l1 := o.sanitizer.Sanitize(input.Message, ipHash)
	timings["L1"] = time.Since(stageStart)

	if l1.Blocked {
		o.metrics.RecordStageBlocked(ctx, "L1")
		errorType := ErrInternalError
		switch l1.Status {
		case SanitizeTooLong:
			errorType = ErrInputTooLong
		case SanitizeBlocked:
			errorType = ErrBlockedInput
		}
		return o.blocked(ctx, errorType, requestID, convID, start, ipHash, "L1", l1.ErrorMessage)
	}

	message := l1.Sanitized
	o.logUserMessage(convID, ipHash, message)

	history := historyMessages(o.conversations.History(convID, 0))

	// L2: jailbreak detection
	stageStart = time.Now()
	l2 := o.detector.Detect(ctx, message, history, ipHash)
	timings["L2"] = time.Since(stageStart)

	if !l2.Passed {
		o.metrics.RecordStageBlocked(ctx, "L2")
		o.markBlocked(convID, "L2")
		return o.blocked(ctx, ErrBlockedInput, requestID, convID, start, ipHash, "L2", l2.ErrorMessage)
	}

	// L3: intent parsing
	stageStart = time.Now()
	l3 := o.intents.Parse(ctx, message)
	timings["L3"] = time.Since(stageStart)
	intent := l3.Intent

	// L4: domain routing
	stageStart = time.Now()
	l4 := o.router.Route(intent, message)
	timings["L4"] = time.Since(stageStart)

	slog.Info("Routed request",
		"request_id", requestID, "domain", l4.Domain, "confidence", l4.Confidence)

	// L5: context retrieval
	stageStart = time.Now()
	l5 := o.retriever.Retrieve(l4.Domain)
	timings["L5"] = time.Since(stageStart)

	// L6: response generation
	stageStart = time.Now()
	l6 := o.generator.Generate(ctx, GenerateOptions{
		Message: message,
		Domain:  l4.Domain,
		Context: l5.Context,
		History: history,
	})
	timings["L6"] = time.Since(stageStart)

	response := l6.Response
	if response == "" {
		response = FallbackResponse(l4.Domain)
	}

	// L7: response revision
	timings["L7"] = 0
	if !o.skipRevision {
		stageStart = time.Now()
		l7 := o.reviser.Revise(ctx, message, response, l5.Context)
		timings["L7"] = time.Since(stageStart)
		response = l7.Response
	}

	// L8: output safety
	stageStart = time.Now()
	l8 := o.safety.Check(ctx, response, l5.Context, ipHash)
	timings["L8"] = time.Since(stageStart)

	blockedAt := ""
	if !l8.Passed {
		o.metrics.RecordStageBlocked(ctx, "L8")
		blockedAt = "L8"
		response = SafeFallbackResponse
	} else if o.verifier != nil {
		// Grounding is a heuristic, so low similarity is surfaced in the
		// logs rather than blocking the response.
		if v := o.verifier.Verify(ctx, response, l5.Context); !v.Verified {
			slog.Warn("Response poorly grounded in context",
				"request_id", requestID,
				"overall_similarity", v.OverallSimilarity,
				"flagged_sentences", len(v.LowSimilaritySentences))
		}
	}

	o.logBotResponse(convID, ipHash, response, string(l4.Domain), start, blockedAt)

	// History updates happen only after safety so blocked exchanges never
	// influence future turns. The pair lands under one lock so concurrent
	// requests cannot interleave turns.
	o.conversations.AddTurn(convID, message, response)

	for stage, d := range timings {
		o.metrics.RecordStageDuration(ctx, stage, d)
	}
	o.metrics.RecordIntentConfidence(ctx, intent.Confidence)
	o.metrics.RecordDomainRequest(ctx, string(l4.Domain))
	o.metrics.RecordConversationTurns(ctx, turn+1)
	o.metrics.RecordResponseLength(ctx, len(response))
	o.metrics.RecordRequest(ctx, "success", string(l4.Domain), time.Since(start))

	return o.deliverer.DeliverSuccess(response, l4.Domain, requestID, convID, start, ipHash, timings)
}

// HealthCheck reports component health. The in-memory components are
// always up; Ollama is probed.
func (o *Orchestrator) HealthCheck(ctx context.Context) map[string]bool {
	health := map[string]bool{
		"ollama":               o.llm.HealthCheck(ctx),
		"rate_limiter":         true,
		"conversation_manager": true,
	}
	health["healthy"] = health["ollama"] && health["rate_limiter"] && health["conversation_manager"]
	return health
}

func (o *Orchestrator) blocked(ctx context.Context, errorType ErrorType, requestID, convID string, start time.Time, ipHash, blockedAt, message string) ChatResponse {
	o.metrics.RecordRequest(ctx, "blocked", "", time.Since(start))
	return o.deliverer.DeliverError(errorType, requestID, convID, start, ipHash, blockedAt, message)
}

func (o *Orchestrator) logUserMessage(convID, ipHash, message string) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.LogMessage(convID, ipHash, analytics.LoggedMessage{
		Role:    "user",
		Content: message,
	}); err != nil {
		slog.Warn("Failed to log user message", "error", err)
	}
}

func (o *Orchestrator) logBotResponse(convID, ipHash, response, domain string, start time.Time, blockedAt string) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.LogMessage(convID, ipHash, analytics.LoggedMessage{
		Role:           "assistant",
		Content:        response,
		Domain:         domain,
		ResponseTimeMs: float64(time.Since(start)) / float64(time.Millisecond),
	}); err != nil {
		slog.Warn("Failed to log bot response", "error", err)
	}
	if blockedAt != "" {
		o.markBlocked(convID, blockedAt)
	}
}

func (o *Orchestrator) markBlocked(convID, stage string) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.MarkBlocked(convID, stage); err != nil {
		slog.Debug("Failed to mark conversation blocked", "error", err)
	}
}

func historyMessages(msgs []conversation.Message) []HistoryMessage {
	out := make([]HistoryMessage, len(msgs))
	for i, msg := range msgs {
		out[i] = HistoryMessage{Role: msg.Role, Content: msg.Content}
	}
	return out
}
