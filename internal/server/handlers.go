// Package server exposes the WebSocket upgrade path for channel connections.
package server

import (
	"net/http"
	"regexp"

	"go.uber.org/zap"
)

// chatPath matches the only accepted upgrade path, /chat/<token>, with one or
// more ASCII letters, digits, or hyphens.
var chatPath = regexp.MustCompile(`^/chat/([A-Za-z0-9-]+)$`)

// handleChat accepts a WebSocket upgrade for a channel connection. The path
// token is canonicalized before use as a registry key; malformed addresses
// destroy the connection with no protocol-level response, mirroring a raw
// socket teardown.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	match := chatPath.FindStringSubmatch(r.URL.Path)
	if match == nil {
		s.destroyConnection(w, r, "malformed channel address")
		return
	}

	channelID := NormalizeChannelID(match[1])
	if channelID == "" {
		s.destroyConnection(w, r, "channel address empty after normalization")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		s.log.Warn("websocket upgrade failed",
			zap.String("addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	client := newClient(conn, channelID, r.RemoteAddr, s)
	s.log.Info("connection accepted",
		zap.String("conn_id", client.id),
		zap.String("addr", r.RemoteAddr),
		zap.String("channel", channelID))

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
}

// destroyConnection drops an invalid connection attempt without a
// protocol-level response by hijacking the underlying connection and closing
// it. Where the connection cannot be hijacked, a bare 400 is sent instead.
func (s *Server) destroyConnection(w http.ResponseWriter, r *http.Request, reason string) {
	s.log.Warn("rejecting connection attempt",
		zap.String("addr", r.RemoteAddr),
		zap.String("path", r.URL.Path),
		zap.String("reason", reason))

	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = conn.Close()
}

// handleHealth provides a plain-text liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Ephemr relay is running!"))
}
