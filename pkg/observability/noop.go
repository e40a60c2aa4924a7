package observability

import (
	"context"
	"net/http"
	"time"
)

// NoopMetrics is used when metrics are disabled.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordRequest(_ context.Context, _, _ string, _ time.Duration)          {}
func (NoopMetrics) RecordStageDuration(_ context.Context, _ string, _ time.Duration)       {}
func (NoopMetrics) RecordStageBlocked(_ context.Context, _ string)                         {}
func (NoopMetrics) RecordOllamaCall(_ context.Context, _, _, _ string, _ time.Duration, _ error) {
}
func (NoopMetrics) RecordIntentConfidence(_ context.Context, _ float64) {}
func (NoopMetrics) RecordDomainRequest(_ context.Context, _ string)     {}
func (NoopMetrics) RecordConversationTurns(_ context.Context, _ int)    {}
func (NoopMetrics) RecordResponseLength(_ context.Context, _ int)       {}

// Handler answers 503 when metrics are disabled.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}
