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

// Package ratelimit implements sliding-window request limiting with three
// windows: per-IP per minute, per-IP per hour, and global per minute.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const cleanupInterval = 60 * time.Second

// Limiter checks and records requests against sliding windows.
type Limiter struct {
	limits      Limits
	store       Store
	mu          sync.Mutex
	lastCleanup time.Time
	now         func() time.Time
}

// NewLimiter creates a limiter over the given store.
func NewLimiter(limits Limits, store Store) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if limits.PerIPPerMinute <= 0 || limits.PerIPPerHour <= 0 || limits.GlobalPerMinute <= 0 {
		return nil, fmt.Errorf("all limits must be positive")
	}

	return &Limiter{
		limits:      limits,
		store:       store,
		lastCleanup: time.Now(),
		now:         time.Now,
	}, nil
}

// Check verifies whether a request from ip would be allowed, without
// recording it. Checks run in order: per-IP minute, per-IP hour, global
// minute; the first exceeded limit wins.
func (l *Limiter) Check(ctx context.Context, ip string) (*CheckResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.checkLocked(ctx, ip)
}

// RecordRequest records an allowed request. Call after Check passes.
func (l *Limiter) RecordRequest(ctx context.Context, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.store.Append(ctx, ip, l.now())
}

// CheckAndRecord atomically checks limits and records the request if
// allowed.
func (l *Limiter) CheckAndRecord(ctx context.Context, ip string) (*CheckResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.checkLocked(ctx, ip)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, nil
	}

	if err := l.store.Append(ctx, ip, l.now()); err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}
	return result, nil
}

// Stats returns current limiter statistics.
func (l *Limiter) Stats(ctx context.Context) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ips, err := l.store.TrackedIPs(ctx)
	if err != nil {
		return Stats{}, err
	}

	global, err := l.store.GlobalWindow(ctx, l.now().Add(-time.Hour))
	if err != nil {
		return Stats{}, err
	}

	return Stats{TrackedIPs: ips, GlobalLastHour: len(global)}, nil
}

func (l *Limiter) checkLocked(ctx context.Context, ip string) (*CheckResult, error) {
	now := l.now()

	// Opportunistic cleanup of stale windows
	if now.Sub(l.lastCleanup) > cleanupInterval {
		if _, err := l.store.Prune(ctx, now.Add(-time.Hour)); err != nil {
			return nil, fmt.Errorf("failed to prune store: %w", err)
		}
		l.lastCleanup = now
	}

	minuteStamps, err := l.store.Window(ctx, ip, now.Add(-time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to read per-ip minute window: %w", err)
	}
	hourStamps, err := l.store.Window(ctx, ip, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to read per-ip hour window: %w", err)
	}
	globalStamps, err := l.store.GlobalWindow(ctx, now.Add(-time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to read global window: %w", err)
	}

	result := &CheckResult{
		Allowed: true,
		Usages: []Usage{
			{Kind: LimitPerIPMinute, Current: len(minuteStamps), Limit: l.limits.PerIPPerMinute},
			{Kind: LimitPerIPHour, Current: len(hourStamps), Limit: l.limits.PerIPPerHour},
			{Kind: LimitGlobalMinute, Current: len(globalStamps), Limit: l.limits.GlobalPerMinute},
		},
	}

	switch {
	case len(minuteStamps) >= l.limits.PerIPPerMinute:
		l.deny(result, LimitPerIPMinute, minuteStamps, now)
	case len(hourStamps) >= l.limits.PerIPPerHour:
		l.deny(result, LimitPerIPHour, hourStamps, now)
	case len(globalStamps) >= l.limits.GlobalPerMinute:
		l.deny(result, LimitGlobalMinute, globalStamps, now)
	}

	return result, nil
}

// deny marks the result blocked and computes how long until the oldest
// timestamp leaves the window.
func (l *Limiter) deny(result *CheckResult, kind LimitKind, stamps []time.Time, now time.Time) {
	result.Allowed = false
	result.Kind = kind

	if len(stamps) > 0 {
		retry := kind.Window() - now.Sub(stamps[0])
		if retry < 0 {
			retry = 0
		}
		result.RetryAfter = &retry
	}
}
