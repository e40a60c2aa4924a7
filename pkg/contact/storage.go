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

// Package contact persists visitor messages as individual JSON files, one
// file per message, readable only by the service user.
package contact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is a visitor message left for the site owner.
type Message struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
	SenderName   string    `json:"sender_name,omitempty"`
	SenderEmail  string    `json:"sender_email,omitempty"`
	Context      string    `json:"context,omitempty"`
	Conversation string    `json:"conversation_id,omitempty"`
	IPHash       string    `json:"ip_hash,omitempty"`
}

// Storage writes messages under a directory. Filenames are
// YYYY-MM-DD_<id>.json so lexical order matches chronological order.
type Storage struct {
	dir string
	now func() time.Time
}

// NewStorage creates the directory if needed.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create contacts directory: %w", err)
	}
	return &Storage{dir: dir, now: time.Now}, nil
}

// Save persists a message and returns its generated ID.
func (s *Storage) Save(msg Message) (string, error) {
	now := s.now()
	msg.ID = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	msg.Timestamp = now.UTC()

	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	name := fmt.Sprintf("%s_%s.json", now.Format("2006-01-02"), msg.ID)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write message file: %w", err)
	}

	return msg.ID, nil
}

// SaveVisitorMessage is a convenience wrapper used by the tool executor.
func (s *Storage) SaveVisitorMessage(message, name, email, conversationID, ipHash string) (string, error) {
	return s.Save(Message{
		Message:      message,
		SenderName:   name,
		SenderEmail:  email,
		Conversation: conversationID,
		IPHash:       ipHash,
	})
}

// Get loads a message by ID.
func (s *Storage) Get(id string) (*Message, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*_"+id+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to search for message: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return s.read(matches[0])
}

// ListRecent returns up to limit messages, newest first.
func (s *Storage) ListRecent(limit int) ([]*Message, error) {
	names, err := s.fileNames()
	if err != nil {
		return nil, err
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	messages := make([]*Message, 0, len(names))
	for _, name := range names {
		msg, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Count returns the number of stored messages.
func (s *Storage) Count() (int, error) {
	names, err := s.fileNames()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (s *Storage) fileNames() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (s *Storage) read(path string) (*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message file: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message file %s: %w", filepath.Base(path), err)
	}
	return &msg, nil
}
