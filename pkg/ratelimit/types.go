package ratelimit

import (
	"time"
)

// LimitKind identifies which sliding-window limit tripped.
type LimitKind string

const (
	LimitPerIPMinute  LimitKind = "per_ip_minute"
	LimitPerIPHour    LimitKind = "per_ip_hour"
	LimitGlobalMinute LimitKind = "global_minute"
)

// Window returns the sliding-window duration for the limit kind.
func (k LimitKind) Window() time.Duration {
	switch k {
	case LimitPerIPMinute, LimitGlobalMinute:
		return time.Minute
	case LimitPerIPHour:
		return time.Hour
	default:
		return time.Minute
	}
}

// Usage reports current consumption against one limit.
type Usage struct {
	Kind    LimitKind `json:"kind"`
	Current int       `json:"current"`
	Limit   int       `json:"limit"`
}

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Allowed    bool           `json:"allowed"`
	Kind       LimitKind      `json:"kind,omitempty"` // Which limit tripped, when not allowed
	RetryAfter *time.Duration `json:"retry_after,omitempty"`
	Usages     []Usage        `json:"usages"`
}

// Stats summarizes limiter state.
type Stats struct {
	TrackedIPs     int `json:"tracked_ips"`
	GlobalLastHour int `json:"global_last_hour"`
}

// Limits configures the three sliding windows.
type Limits struct {
	PerIPPerMinute  int
	PerIPPerHour    int
	GlobalPerMinute int
}
