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
	"fmt"
	"strings"
	"time"

	"github.com/kbrengel/talkingrock/pkg/audit"
	"github.com/kbrengel/talkingrock/pkg/ratelimit"
)

// GatewayStatus is the outcome of the network gateway stage.
type GatewayStatus string

const (
	GatewayOK                 GatewayStatus = "ok"
	GatewayInvalidContentType GatewayStatus = "invalid_content_type"
	GatewayRequestTooLarge    GatewayStatus = "request_too_large"
	GatewayRateLimited        GatewayStatus = "rate_limited"
	GatewayMissingMessage     GatewayStatus = "missing_message"
)

// GatewayResult reports whether a request may enter the pipeline.
type GatewayResult struct {
	Status       GatewayStatus
	Blocked      bool
	ErrorMessage string
	RetryAfter   *time.Duration
}

// GatewayRequest carries the transport-level facts the gateway validates.
type GatewayRequest struct {
	ClientIP      string
	ContentType   string
	ContentLength int64
	HasMessage    bool
}

// Gateway is the first pipeline stage. It enforces transport invariants
// and rate limits before any content inspection happens.
type Gateway struct {
	limiter        *ratelimit.Limiter
	auditLog       *audit.Logger
	maxRequestSize int64
}

// NewGateway creates the gateway stage.
func NewGateway(limiter *ratelimit.Limiter, auditLog *audit.Logger, maxRequestSize int64) *Gateway {
	return &Gateway{
		limiter:        limiter,
		auditLog:       auditLog,
		maxRequestSize: maxRequestSize,
	}
}

// Validate checks a request against transport rules and the rate limiter.
// Requests that clear the deterministic checks and the limiter are
// recorded against the caller's windows at the moment of the check.
func (g *Gateway) Validate(ctx context.Context, req GatewayRequest) GatewayResult {
	if req.ContentType != "" {
		mediaType := strings.ToLower(strings.TrimSpace(strings.Split(req.ContentType, ";")[0]))
		if mediaType != "application/json" {
			return GatewayResult{
				Status:       GatewayInvalidContentType,
				Blocked:      true,
				ErrorMessage: "Invalid content type. Use application/json.",
			}
		}
	}

	if req.ContentLength > g.maxRequestSize {
		return GatewayResult{
			Status:       GatewayRequestTooLarge,
			Blocked:      true,
			ErrorMessage: fmt.Sprintf("Request too large. Maximum size is %d bytes.", g.maxRequestSize),
		}
	}

	// Check and record in one limiter lock acquisition; separate calls
	// would let concurrent requests slip past the limit between them.
	check, err := g.limiter.CheckAndRecord(ctx, req.ClientIP)
	if err == nil && !check.Allowed {
		g.auditLog.RateLimited(audit.HashIP(req.ClientIP), string(check.Kind))
		return GatewayResult{
			Status:       GatewayRateLimited,
			Blocked:      true,
			ErrorMessage: "Please wait a moment before sending another message.",
			RetryAfter:   check.RetryAfter,
		}
	}

	if !req.HasMessage {
		return GatewayResult{
			Status:       GatewayMissingMessage,
			Blocked:      true,
			ErrorMessage: "Message is required.",
		}
	}

	return GatewayResult{Status: GatewayOK}
}
