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

package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kbrengel/talkingrock/pkg/audit"
	"github.com/kbrengel/talkingrock/pkg/contact"
	"github.com/kbrengel/talkingrock/pkg/pipeline"
)

// ChatRequest is the /chat request body.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ContactRequest is the /contact request body.
type ContactRequest struct {
	Message        string `json:"message"`
	SenderName     string `json:"sender_name,omitempty"`
	SenderEmail    string `json:"sender_email,omitempty"`
	Context        string `json:"context,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ContactResponse is the /contact response body.
type ContactResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

const maxConversationIDLength = 100

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}
	if len(body.ConversationID) > maxConversationIDLength {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "conversation_id too long"})
		return
	}

	contentLength, _ := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64)

	result := s.pipe.Process(r.Context(), pipeline.ChatInput{
		Message:        body.Message,
		ConversationID: body.ConversationID,
		ClientIP:       s.clientIP(r),
		ContentType:    r.Header.Get("Content-Type"),
		ContentLength:  contentLength,
	})

	if result.Error != nil && result.Error.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(int(*result.Error.RetryAfter)))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var body ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	err := s.streamer.ProcessStream(r.Context(), pipeline.ChatInput{
		Message:        body.Message,
		ConversationID: body.ConversationID,
		ClientIP:       s.clientIP(r),
	}, func(chunk string) error {
		if _, err := w.Write([]byte(chunk)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		slog.Warn("Stream aborted", "error", err)
	}
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var body ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}
	if body.Message == "" || len(body.Message) > s.cfg.Security.MaxInputLength {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "message length out of range"})
		return
	}

	if body.SenderEmail != "" && !containsAt(body.SenderEmail) {
		writeJSON(w, http.StatusOK, ContactResponse{Success: false, Error: "Invalid email format"})
		return
	}

	id, err := s.contacts.Save(contact.Message{
		Message:      body.Message,
		SenderName:   body.SenderName,
		SenderEmail:  body.SenderEmail,
		Context:      body.Context,
		Conversation: body.ConversationID,
		IPHash:       audit.HashIP(s.clientIP(r)),
	})
	if err != nil {
		slog.Error("Failed to store contact message", "error", err)
		writeJSON(w, http.StatusOK, ContactResponse{Success: false, Error: "Failed to store message. Please try again."})
		return
	}

	slog.Info("Contact message stored", "message_id", id)
	writeJSON(w, http.StatusOK, ContactResponse{Success: true, MessageID: id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.pipe.HealthCheck(r.Context())

	status := "unhealthy"
	if health["healthy"] {
		status = "healthy"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": health,
	})
}

// handleMetrics serves Prometheus metrics, hidden entirely unless enabled
// and restricted to loopback and trusted proxies.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.MetricsEnabled || s.metrics == nil {
		http.NotFound(w, r)
		return
	}

	ip := directIP(r)
	if !isLoopback(ip) && !s.cfg.Server.TrustedProxies[ip] {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Portfolio Chat API",
		"version": apiVersion,
		"docs":    "/docs",
		"health":  "/health",
	})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		http.NotFound(w, r)
		return
	}

	from, to, err := dateRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}

	stats, err := s.analytics.GetStats(from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to compute stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminConversations(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		http.NotFound(w, r)
		return
	}

	from, to, err := dateRange(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return
	}
	limit := queryInt(r, "limit", 50, 1, 200)
	offset := queryInt(r, "offset", 0, 0, 1<<30)

	logs, err := s.logs.ListRecent(from, to, offset, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list conversations"})
		return
	}
	total, _ := s.logs.Count()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": logs,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

func (s *Server) handleAdminConversation(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		http.NotFound(w, r)
		return
	}

	log, err := s.logs.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, log)
}

func (s *Server) handleAdminInbox(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 200)

	messages, err := s.contacts.ListRecent(limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Failed to list messages"})
		return
	}
	total, _ := s.contacts.Count()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"total":    total,
	})
}

func (s *Server) handleAdminInboxMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.contacts.Get(chi.URLParam(r, "messageID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Message not found"})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

func containsAt(email string) bool {
	for _, c := range email {
		if c == '@' {
			return true
		}
	}
	return false
}

// dateRange parses optional start_date and end_date query params, either
// as 2006-01-02 or full RFC 3339.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseDate(r.URL.Query().Get("start_date"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(r.URL.Query().Get("end_date"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func queryInt(r *http.Request, key string, fallback, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return fallback
	}
	return n
}
