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
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kbrengel/talkingrock/pkg/audit"
)

// requestMeta stamps every response with a request ID and timing header.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := audit.NewRequestID()

		w.Header().Set("X-Request-ID", requestID)

		// X-Response-Time must be written before the handler commits the
		// status line, so a wrapper defers the write until first use.
		tw := &timingWriter{ResponseWriter: w, start: start}
		next.ServeHTTP(tw, r)
	})
}

type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *timingWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		elapsed := time.Since(w.start).Seconds()
		w.Header().Set("X-Response-Time", fmt.Sprintf("%.3fs", elapsed))
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *timingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *timingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// directIP is the immediate peer address without the port.
func directIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIP resolves the real client address. Forwarding headers are only
// honored when the immediate peer is a configured trusted proxy, which
// prevents rate limit evasion via forged headers.
func (s *Server) clientIP(r *http.Request) string {
	direct := directIP(r)

	if len(s.cfg.Server.TrustedProxies) == 0 {
		return direct
	}
	if !s.cfg.Server.TrustedProxies[direct] {
		return direct
	}

	if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
		return strings.TrimSpace(cf)
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return direct
}

// adminOnly hides the admin surface unless enabled, and then restricts it
// to loopback peers.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Analytics.AdminEnabled {
			http.NotFound(w, r)
			return
		}
		if !isLoopback(directIP(r)) {
			slog.Warn("Admin access denied", "ip_hash", audit.HashIP(directIP(r)))
			http.Error(w, "Admin access restricted to localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost"
}
