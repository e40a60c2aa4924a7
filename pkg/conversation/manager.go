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

// Package conversation holds short-lived chat history in memory. Sessions
// expire after a TTL and are capped at a maximum number of user turns.
package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const cleanupInterval = 60 * time.Second

// Message is a single turn in a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a session with its history.
type Conversation struct {
	ID           string
	Messages     []Message
	CreatedAt    time.Time
	LastActivity time.Time
}

// Stats summarizes manager state.
type Stats struct {
	ActiveConversations int `json:"active_conversations"`
	TotalMessages       int `json:"total_messages"`
}

// Manager stores conversations keyed by ID.
type Manager struct {
	maxTurns         int
	ttl              time.Duration
	maxHistoryTokens int

	mu          sync.Mutex
	sessions    map[string]*Conversation
	lastCleanup time.Time
	now         func() time.Time
}

// NewManager creates a manager. maxTurns counts user messages only.
// maxHistoryTokens caps the token size of histories returned by History;
// zero means unlimited.
func NewManager(maxTurns int, ttl time.Duration, maxHistoryTokens int) *Manager {
	return &Manager{
		maxTurns:         maxTurns,
		ttl:              ttl,
		maxHistoryTokens: maxHistoryTokens,
		sessions:         make(map[string]*Conversation),
		lastCleanup:      time.Now(),
		now:              time.Now,
	}
}

// GetOrCreate resolves a conversation ID to a live session. An empty,
// unknown, or expired ID yields a fresh session with a new ID, so clients
// can always trust the ID they get back.
func (m *Manager) GetOrCreate(id string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeCleanup()

	if id != "" {
		if conv, ok := m.sessions[id]; ok {
			if m.expired(conv) {
				delete(m.sessions, id)
				slog.Debug("conversation expired", "conversation_id", id)
			} else {
				conv.LastActivity = m.now()
				return conv
			}
		}
	}

	conv := &Conversation{
		ID:           uuid.NewString(),
		CreatedAt:    m.now(),
		LastActivity: m.now(),
	}
	m.sessions[conv.ID] = conv
	return conv
}

// AddMessage appends a message to a conversation. It returns false when the
// conversation is missing, expired, or already at the turn cap.
func (m *Manager) AddMessage(id, role, content string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.sessions[id]
	if !ok || m.expired(conv) {
		return false
	}

	if role == "user" && countUserTurns(conv) >= m.maxTurns {
		return false
	}

	conv.Messages = append(conv.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: m.now(),
	})
	conv.LastActivity = m.now()
	return true
}

// AddTurn appends a user message and its assistant reply as one
// contiguous pair under a single lock acquisition, so concurrent requests
// on the same conversation can never interleave turns. Returns false when
// the conversation is missing, expired, or at the turn cap; in that case
// neither message is stored.
func (m *Manager) AddTurn(id, userContent, assistantContent string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.sessions[id]
	if !ok || m.expired(conv) {
		return false
	}
	if countUserTurns(conv) >= m.maxTurns {
		return false
	}

	now := m.now()
	conv.Messages = append(conv.Messages,
		Message{Role: "user", Content: userContent, Timestamp: now},
		Message{Role: "assistant", Content: assistantContent, Timestamp: now},
	)
	conv.LastActivity = now
	return true
}

// History returns a copy of the last n messages, oldest first. n <= 0
// returns the full history. When a token budget is configured, the oldest
// messages are dropped until the remainder fits.
func (m *Manager) History(id string, n int) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.sessions[id]
	if !ok || m.expired(conv) {
		return nil
	}

	msgs := conv.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	msgs = m.trimToBudget(msgs)
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// trimToBudget keeps the newest suffix of msgs whose combined token count
// fits within maxHistoryTokens. Always keeps at least the newest message.
func (m *Manager) trimToBudget(msgs []Message) []Message {
	if m.maxHistoryTokens <= 0 || len(msgs) == 0 {
		return msgs
	}

	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		total += countTokens(msgs[i].Content)
		if total > m.maxHistoryTokens && start < len(msgs) {
			break
		}
		start = i
	}
	return msgs[start:]
}

// TurnCount returns the number of user messages in a conversation.
func (m *Manager) TurnCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.sessions[id]
	if !ok || m.expired(conv) {
		return 0
	}
	return countUserTurns(conv)
}

// Delete removes a conversation. It returns whether it existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.sessions[id]
	delete(m.sessions, id)
	return ok
}

// GetStats reports active sessions and total stored messages.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{ActiveConversations: len(m.sessions)}
	for _, conv := range m.sessions {
		stats.TotalMessages += len(conv.Messages)
	}
	return stats
}

func (m *Manager) expired(conv *Conversation) bool {
	return m.now().Sub(conv.LastActivity) > m.ttl
}

// maybeCleanup drops expired sessions at most once per cleanupInterval.
// Caller holds the lock.
func (m *Manager) maybeCleanup() {
	now := m.now()
	if now.Sub(m.lastCleanup) < cleanupInterval {
		return
	}
	m.lastCleanup = now

	removed := 0
	for id, conv := range m.sessions {
		if m.expired(conv) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("cleaned up expired conversations", "removed", removed, "active", len(m.sessions))
	}
}

func countUserTurns(conv *Conversation) int {
	count := 0
	for _, msg := range conv.Messages {
		if msg.Role == "user" {
			count++
		}
	}
	return count
}
