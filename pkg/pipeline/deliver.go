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
	"math"
	"time"

	"github.com/kbrengel/talkingrock/pkg/audit"
)

// ErrorType keys the internal error taxonomy. Deliverer maps these to the
// public error codes.
type ErrorType string

const (
	ErrRateLimited   ErrorType = "rate_limited"
	ErrInputTooLong  ErrorType = "input_too_long"
	ErrBlockedInput  ErrorType = "blocked_input"
	ErrOutOfScope    ErrorType = "out_of_scope"
	ErrSafetyFailed  ErrorType = "safety_failed"
	ErrInternalError ErrorType = "internal_error"
)

var errorCodes = map[ErrorType]string{
	ErrRateLimited:   "RATE_LIMITED",
	ErrInputTooLong:  "INPUT_TOO_LONG",
	ErrBlockedInput:  "BLOCKED_INPUT",
	ErrOutOfScope:    "OUT_OF_SCOPE",
	ErrSafetyFailed:  "SAFETY_FAILED",
	ErrInternalError: "INTERNAL_ERROR",
}

var errorMessages = map[string]string{
	"RATE_LIMITED":   "Please wait a moment before sending another message.",
	"INPUT_TOO_LONG": "Your message is a bit long. Could you shorten it?",
	"BLOCKED_INPUT":  "I can only answer questions about Kellogg's professional background and projects.",
	"OUT_OF_SCOPE":   "I'm designed to answer questions about Kel's work and projects. For other topics, I'd recommend a general AI assistant.",
	"SAFETY_FAILED":  "Let me rephrase that...",
	"INTERNAL_ERROR": "I'm having some technical difficulties. Please try again.",
}

var cannedResponses = map[string]string{
	"RATE_LIMITED":   "Please wait a moment before sending another message.",
	"INPUT_TOO_LONG": "Your message is quite long. Could you try asking a shorter question?",
	"BLOCKED_INPUT":  "I can only answer questions about Kellogg's professional background, projects, and related topics. Is there something in that area I can help with?",
	"OUT_OF_SCOPE":   "I'm designed to discuss Kel's professional work and projects. For other topics, a general AI assistant might be more helpful. What would you like to know about Kel's experience?",
	"SAFETY_FAILED":  "Let me try again. I'd be happy to discuss my professional background and projects. What would you like to know?",
	"INTERNAL_ERROR": "I'm experiencing some technical difficulties right now. Please try your question again in a moment.",
}

// ResponseContent is the payload of a successful chat response.
type ResponseContent struct {
	Content string `json:"content"`
	Domain  string `json:"domain"`
}

// ResponseError is the payload of a failed chat response. RetryAfter is
// set only for rate-limit failures, in whole seconds.
type ResponseError struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	RetryAfter *float64 `json:"retry_after,omitempty"`
}

// ResponseMetadata accompanies every response.
type ResponseMetadata struct {
	RequestID      string             `json:"request_id"`
	ResponseTimeMs float64            `json:"response_time_ms"`
	ConversationID string             `json:"conversation_id"`
	LayerTimingsMs map[string]float64 `json:"layer_timings_ms"`
}

// ChatResponse is the envelope returned to clients. Exactly one of
// Response or Error is set.
type ChatResponse struct {
	Success  bool              `json:"success"`
	Response *ResponseContent  `json:"response,omitempty"`
	Error    *ResponseError    `json:"error,omitempty"`
	Metadata *ResponseMetadata `json:"metadata,omitempty"`
}

// Deliverer assembles the final response envelope and logs request
// completion.
type Deliverer struct {
	auditLog *audit.Logger
}

// NewDeliverer creates the delivery stage.
func NewDeliverer(auditLog *audit.Logger) *Deliverer {
	return &Deliverer{auditLog: auditLog}
}

// DeliverSuccess formats a successful response with timing metadata.
func (d *Deliverer) DeliverSuccess(response string, domain Domain, requestID, conversationID string, start time.Time, ipHash string, layerTimings map[string]time.Duration) ChatResponse {
	responseTimeMs := float64(time.Since(start)) / float64(time.Millisecond)

	if d.auditLog != nil {
		d.auditLog.RequestComplete(requestID, ipHash, string(domain), responseTimeMs, "")
	}

	return ChatResponse{
		Success:  true,
		Response: &ResponseContent{Content: response, Domain: string(domain)},
		Metadata: &ResponseMetadata{
			RequestID:      requestID,
			ResponseTimeMs: round2(responseTimeMs),
			ConversationID: conversationID,
			LayerTimingsMs: timingsToMs(layerTimings),
		},
	}
}

// DeliverError formats a failed response. A custom message overrides the
// default for the error code.
func (d *Deliverer) DeliverError(errorType ErrorType, requestID, conversationID string, start time.Time, ipHash, blockedAt, customMessage string) ChatResponse {
	responseTimeMs := float64(time.Since(start)) / float64(time.Millisecond)

	code, ok := errorCodes[errorType]
	if !ok {
		code = "INTERNAL_ERROR"
	}
	message := customMessage
	if message == "" {
		if m, ok := errorMessages[code]; ok {
			message = m
		} else {
			message = "An error occurred."
		}
	}

	if d.auditLog != nil {
		d.auditLog.RequestComplete(requestID, ipHash, "", responseTimeMs, blockedAt)
	}

	return ChatResponse{
		Success: false,
		Error:   &ResponseError{Code: code, Message: message},
		Metadata: &ResponseMetadata{
			RequestID:      requestID,
			ResponseTimeMs: round2(responseTimeMs),
			ConversationID: conversationID,
			LayerTimingsMs: map[string]float64{},
		},
	}
}

// DeliverRateLimited formats a rate-limit rejection carrying the
// suggested wait before the next attempt. Sub-second waits round up so
// the value stays positive.
func (d *Deliverer) DeliverRateLimited(requestID, conversationID string, start time.Time, ipHash string, retryAfter *time.Duration) ChatResponse {
	resp := d.DeliverError(ErrRateLimited, requestID, conversationID, start, ipHash, "L0", "")
	if retryAfter != nil {
		secs := math.Ceil(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		resp.Error.RetryAfter = &secs
	}
	return resp
}

// CannedResponse returns a conversational stand-in for an error code,
// used where the client expects prose rather than an error envelope.
func CannedResponse(errorCode string) string {
	if msg, ok := cannedResponses[errorCode]; ok {
		return msg
	}
	return "An error occurred. Please try again."
}

func timingsToMs(timings map[string]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(timings))
	for layer, d := range timings {
		ms := float64(d) / float64(time.Millisecond)
		out[layer] = math.Round(ms*100) / 100
	}
	return out
}
