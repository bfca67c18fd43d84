// Package testhelpers provides shared utilities for exercising the relay
// over real WebSocket connections in integration tests.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ephemr/relay/internal/server"
)

// testOrigin matches the default allowed-origin configuration.
const testOrigin = "http://localhost:8080"

// StartRelay spins up a relay server on an ephemeral port and returns it
// together with the backing test listener. Both are torn down with the test.
func StartRelay(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()

	srv := server.NewServer(server.NewConfig(), zap.NewNop())
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

// WSURL converts the test server's base URL into the WebSocket address for a
// channel token.
func WSURL(ts *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/chat/" + token
}

// Dial opens a WebSocket connection with the allowed test origin and fails
// the test when the handshake does not succeed.
func Dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, err := TryDial(url)
	require.NoError(t, err, "websocket handshake to %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// TryDial opens a WebSocket connection and returns the handshake error, for
// tests that expect rejection.
func TryDial(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendJoin sends a join frame with the given display name.
func SendJoin(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":     "join",
		"username": username,
	}))
}

// SendRaw sends a raw text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, payload []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

// ReadRaw reads the next frame's raw bytes within the timeout.
func ReadRaw(t *testing.T, conn *websocket.Conn, timeout time.Duration) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "expected a frame within %s", timeout)
	return data
}

// ReadFrame reads and decodes the next JSON frame within the timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()

	var frame map[string]any
	require.NoError(t, json.Unmarshal(ReadRaw(t, conn, timeout), &frame))
	return frame
}

// ExpectJoinSuccess asserts the next frame is the join acknowledgement.
func ExpectJoinSuccess(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	frame := ReadFrame(t, conn, 2*time.Second)
	require.Equal(t, "join", frame["type"])
	require.Equal(t, true, frame["success"])
}

// ExpectStatus asserts the next frame is a status update with the given
// member count.
func ExpectStatus(t *testing.T, conn *websocket.Conn, userCount int) {
	t.Helper()

	frame := ReadFrame(t, conn, 2*time.Second)
	require.Equal(t, "status", frame["type"])
	require.Equal(t, float64(userCount), frame["userCount"])
}

// ExpectNoFrame asserts that no frame arrives within the window.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(window)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected silence but received: %s", data)
}

// JoinChannel dials, joins, and consumes the ack and first status frame.
func JoinChannel(t *testing.T, ts *httptest.Server, token, username string, expectCount int) *websocket.Conn {
	t.Helper()

	conn := Dial(t, WSURL(ts, token))
	SendJoin(t, conn, username)
	ExpectJoinSuccess(t, conn)
	ExpectStatus(t, conn, expectCount)
	return conn
}
