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

// Package observability exposes pipeline metrics through an OpenTelemetry
// meter backed by a Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records pipeline events. All methods are safe on a nil-backed
// no-op implementation so callers never guard them.
type Metrics interface {
	RecordRequest(ctx context.Context, status, domain string, duration time.Duration)
	RecordStageDuration(ctx context.Context, stage string, duration time.Duration)
	RecordStageBlocked(ctx context.Context, stage string)
	RecordOllamaCall(ctx context.Context, model, stage, purpose string, duration time.Duration, err error)
	RecordIntentConfidence(ctx context.Context, confidence float64)
	RecordDomainRequest(ctx context.Context, domain string)
	RecordConversationTurns(ctx context.Context, turns int)
	RecordResponseLength(ctx context.Context, chars int)
	Handler() http.Handler
}

// InitMetrics builds the Prometheus-backed metrics, or a no-op set when
// disabled.
func InitMetrics(enabled bool) (Metrics, error) {
	if !enabled {
		return NoopMetrics{}, nil
	}

	registry := promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("talkingrock")

	requestsTotal, err := meter.Int64Counter(
		"talkingrock_chat_requests_total",
		metric.WithDescription("Total chat requests by outcome and domain"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests counter: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		"talkingrock_chat_request_duration_seconds",
		metric.WithDescription("End to end chat request duration in seconds"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 20, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		"talkingrock_stage_duration_seconds",
		metric.WithDescription("Per stage processing duration in seconds"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}

	stageBlocked, err := meter.Int64Counter(
		"talkingrock_stage_blocked_total",
		metric.WithDescription("Requests blocked per pipeline stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blocked counter: %w", err)
	}

	ollamaDuration, err := meter.Float64Histogram(
		"talkingrock_ollama_call_duration_seconds",
		metric.WithDescription("Ollama call duration by model, stage and purpose"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 20, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama duration histogram: %w", err)
	}

	ollamaErrors, err := meter.Int64Counter(
		"talkingrock_ollama_errors_total",
		metric.WithDescription("Failed Ollama calls by model and stage"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama errors counter: %w", err)
	}

	intentConfidence, err := meter.Float64Histogram(
		"talkingrock_intent_confidence",
		metric.WithDescription("Intent classification confidence"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create confidence histogram: %w", err)
	}

	domainRequests, err := meter.Int64Counter(
		"talkingrock_domain_requests_total",
		metric.WithDescription("Requests routed per knowledge domain"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create domain counter: %w", err)
	}

	conversationTurns, err := meter.Int64Histogram(
		"talkingrock_conversation_turns",
		metric.WithDescription("Turn count at the time of each request"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turns histogram: %w", err)
	}

	responseLength, err := meter.Int64Histogram(
		"talkingrock_response_length_chars",
		metric.WithDescription("Delivered response length in characters"),
		metric.WithExplicitBucketBoundaries(100, 250, 500, 1000, 2000, 4000),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create response length histogram: %w", err)
	}

	return &PrometheusMetrics{
		registry:          registry,
		requestsTotal:     requestsTotal,
		requestDuration:   requestDuration,
		stageDuration:     stageDuration,
		stageBlocked:      stageBlocked,
		ollamaDuration:    ollamaDuration,
		ollamaErrors:      ollamaErrors,
		intentConfidence:  intentConfidence,
		domainRequests:    domainRequests,
		conversationTurns: conversationTurns,
		responseLength:    responseLength,
	}, nil
}

// PrometheusMetrics implements Metrics over OTel instruments.
type PrometheusMetrics struct {
	registry *promclient.Registry

	requestsTotal     metric.Int64Counter
	requestDuration   metric.Float64Histogram
	stageDuration     metric.Float64Histogram
	stageBlocked      metric.Int64Counter
	ollamaDuration    metric.Float64Histogram
	ollamaErrors      metric.Int64Counter
	intentConfidence  metric.Float64Histogram
	domainRequests    metric.Int64Counter
	conversationTurns metric.Int64Histogram
	responseLength    metric.Int64Histogram
}

var _ Metrics = (*PrometheusMetrics)(nil)

func (m *PrometheusMetrics) RecordRequest(ctx context.Context, status, domain string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("domain", domain),
	)
	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds())
}

func (m *PrometheusMetrics) RecordStageDuration(ctx context.Context, stage string, duration time.Duration) {
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *PrometheusMetrics) RecordStageBlocked(ctx context.Context, stage string) {
	m.stageBlocked.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *PrometheusMetrics) RecordOllamaCall(ctx context.Context, model, stage, purpose string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("stage", stage),
		attribute.String("purpose", purpose),
	)
	m.ollamaDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.ollamaErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("stage", stage),
		))
	}
}

func (m *PrometheusMetrics) RecordIntentConfidence(ctx context.Context, confidence float64) {
	m.intentConfidence.Record(ctx, confidence)
}

func (m *PrometheusMetrics) RecordDomainRequest(ctx context.Context, domain string) {
	m.domainRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", domain)))
}

func (m *PrometheusMetrics) RecordConversationTurns(ctx context.Context, turns int) {
	m.conversationTurns.Record(ctx, int64(turns))
}

func (m *PrometheusMetrics) RecordResponseLength(ctx context.Context, chars int) {
	m.responseLength.Record(ctx, int64(chars))
}

// Handler serves the Prometheus scrape endpoint.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
