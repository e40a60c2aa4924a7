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

package ratelimit

import (
	"context"
	"time"
)

// Store persists request timestamps for sliding-window checks. Callers are
// expected to serialize access; MemoryStore does no internal locking beyond
// what the limiter provides.
type Store interface {
	// Append records one request timestamp for an IP (and globally).
	Append(ctx context.Context, ip string, ts time.Time) error
	// Window returns the timestamps for an IP at or after since.
	Window(ctx context.Context, ip string, since time.Time) ([]time.Time, error)
	// GlobalWindow returns global timestamps at or after since.
	GlobalWindow(ctx context.Context, since time.Time) ([]time.Time, error)
	// Prune discards timestamps before the cutoff and drops empty IP entries.
	Prune(ctx context.Context, before time.Time) (int, error)
	// TrackedIPs returns the number of IPs with recorded requests.
	TrackedIPs(ctx context.Context) (int, error)
}

// MemoryStore is the in-memory Store used for single-instance deployments.
type MemoryStore struct {
	perIP  map[string][]time.Time
	global []time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		perIP: make(map[string][]time.Time),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Append(_ context.Context, ip string, ts time.Time) error {
	s.perIP[ip] = append(s.perIP[ip], ts)
	s.global = append(s.global, ts)
	return nil
}

func (s *MemoryStore) Window(_ context.Context, ip string, since time.Time) ([]time.Time, error) {
	return inWindow(s.perIP[ip], since), nil
}

func (s *MemoryStore) GlobalWindow(_ context.Context, since time.Time) ([]time.Time, error) {
	return inWindow(s.global, since), nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	removed := 0

	for ip, stamps := range s.perIP {
		kept := inWindow(stamps, before)
		removed += len(stamps) - len(kept)
		if len(kept) == 0 {
			delete(s.perIP, ip)
		} else {
			s.perIP[ip] = kept
		}
	}

	keptGlobal := inWindow(s.global, before)
	removed += len(s.global) - len(keptGlobal)
	s.global = keptGlobal

	return removed, nil
}

func (s *MemoryStore) TrackedIPs(_ context.Context) (int, error) {
	return len(s.perIP), nil
}

// inWindow returns the suffix of timestamps at or after since. Timestamps
// are appended in order, so a linear scan from the front suffices.
func inWindow(stamps []time.Time, since time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && stamps[idx].Before(since) {
		idx++
	}
	out := make([]time.Time, len(stamps)-idx)
	copy(out, stamps[idx:])
	return out
}
