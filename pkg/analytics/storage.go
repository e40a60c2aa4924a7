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

// Package analytics records full conversation transcripts to disk for
// offline review and aggregates usage statistics over them.
package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LoggedMessage is one message inside a conversation log.
type LoggedMessage struct {
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Domain         string    `json:"domain,omitempty"`
	ResponseTimeMs float64   `json:"response_time_ms,omitempty"`
}

// ConversationLog is the full record of one conversation.
type ConversationLog struct {
	ID                  string          `json:"id"`
	StartedAt           time.Time       `json:"started_at"`
	LastActivity        time.Time       `json:"last_activity"`
	IPHash              string          `json:"ip_hash"`
	TotalTurns          int             `json:"total_turns"`
	DomainsUsed         []string        `json:"domains_used"`
	TotalResponseTimeMs float64         `json:"total_response_time_ms"`
	BlockedAtStage      string          `json:"blocked_at_stage,omitempty"`
	Messages            []LoggedMessage `json:"messages"`
}

// Storage writes one JSON file per conversation under a dated directory,
// conversations/YYYY-MM-DD/conv_<id>.json. Active conversations stay cached
// in memory so repeated writes don't reread the file.
type Storage struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	active map[string]*ConversationLog
}

// NewStorage creates the base directory if needed.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create conversations directory: %w", err)
	}
	return &Storage{
		dir:    dir,
		now:    time.Now,
		active: make(map[string]*ConversationLog),
	}, nil
}

// LogMessage appends a message to a conversation's log and flushes it to
// disk. Assistant messages advance the turn count and carry the domain and
// response time for that turn.
func (s *Storage) LogMessage(convID, ipHash string, msg LoggedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.active[convID]
	if !ok {
		loaded, err := s.load(convID)
		if err == nil {
			log = loaded
		} else {
			log = &ConversationLog{
				ID:        convID,
				StartedAt: s.now(),
				IPHash:    ipHash,
			}
		}
		s.active[convID] = log
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	log.Messages = append(log.Messages, msg)
	log.LastActivity = msg.Timestamp

	if msg.Role == "assistant" {
		log.TotalTurns++
		log.TotalResponseTimeMs += msg.ResponseTimeMs
		if msg.Domain != "" && !contains(log.DomainsUsed, msg.Domain) {
			log.DomainsUsed = append(log.DomainsUsed, msg.Domain)
		}
	}

	return s.flush(log)
}

// MarkBlocked records which stage blocked the conversation's last request.
func (s *Storage) MarkBlocked(convID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.active[convID]
	if !ok {
		return fmt.Errorf("conversation %s not active", convID)
	}
	log.BlockedAtStage = stage
	return s.flush(log)
}

// Get loads a conversation log by ID, checking the cache first.
func (s *Storage) Get(convID string) (*ConversationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log, ok := s.active[convID]; ok {
		return log, nil
	}
	return s.load(convID)
}

// ListRecent returns logs with activity inside [from, to], newest first,
// honoring offset and limit. Zero bounds mean unbounded.
func (s *Storage) ListRecent(from, to time.Time, offset, limit int) ([]*ConversationLog, error) {
	days, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversations directory: %w", err)
	}

	var logs []*ConversationLog
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		date, err := time.Parse("2006-01-02", day.Name())
		if err != nil {
			continue
		}
		if !from.IsZero() && date.Before(from.Truncate(24*time.Hour)) {
			continue
		}
		if !to.IsZero() && date.After(to) {
			continue
		}

		files, err := os.ReadDir(filepath.Join(s.dir, day.Name()))
		if err != nil {
			continue
		}
		for _, file := range files {
			if !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			log, err := s.read(filepath.Join(s.dir, day.Name(), file.Name()))
			if err != nil {
				continue
			}
			logs = append(logs, log)
		}
	}

	sort.Slice(logs, func(i, j int) bool {
		return logs[i].LastActivity.After(logs[j].LastActivity)
	})

	if offset >= len(logs) {
		return nil, nil
	}
	logs = logs[offset:]
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

// Count returns the total number of stored conversation logs.
func (s *Storage) Count() (int, error) {
	days, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read conversations directory: %w", err)
	}

	total := 0
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dir, day.Name()))
		if err != nil {
			continue
		}
		for _, file := range files {
			if strings.HasSuffix(file.Name(), ".json") {
				total++
			}
		}
	}
	return total, nil
}

// ClearCache drops in-memory state; logs remain on disk.
func (s *Storage) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]*ConversationLog)
}

// path places a log in the directory of the day it started.
func (s *Storage) path(log *ConversationLog) string {
	day := log.StartedAt.Format("2006-01-02")
	return filepath.Join(s.dir, day, "conv_"+log.ID+".json")
}

func (s *Storage) flush(log *ConversationLog) error {
	path := s.path(log)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create day directory: %w", err)
	}

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode conversation log: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write conversation log: %w", err)
	}
	return nil
}

func (s *Storage) load(convID string) (*ConversationLog, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*", "conv_"+convID+".json"))
	if err != nil || len(matches) == 0 {
		return nil, fmt.Errorf("conversation %s not found", convID)
	}
	return s.read(matches[0])
}

func (s *Storage) read(path string) (*ConversationLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation log: %w", err)
	}

	var log ConversationLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to decode conversation log %s: %w", filepath.Base(path), err)
	}
	return &log, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
