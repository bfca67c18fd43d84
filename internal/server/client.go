// Package server manages individual relay connections: the per-connection
// join state machine, the blocking read loop that classifies inbound frames,
// and the write pump that serializes outbound delivery.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single outbound write so a stalled peer cannot hold
	// the write pump indefinitely.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before it is
	// considered dead; pingPeriod must be shorter so pings keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// sendBufferSize is the per-connection outbound queue. A member whose
	// buffer is full has deliveries dropped rather than stalling the channel.
	sendBufferSize = 256
)

// Client represents one relay connection. It is bound to a single channel
// identifier for its whole lifetime; joined latches true at admission and the
// session only ever proceeds to closed from there.
type Client struct {
	id        string
	conn      *websocket.Conn
	addr      string
	channelID string

	// channel is set once, on successful admission, and only touched by the
	// read pump goroutine afterwards. Same for joined and name.
	channel *Channel
	joined  bool
	name    string

	send    chan []byte
	mu      sync.Mutex
	closed  bool
	limiter *rateLimiter

	srv *Server
	log *zap.Logger
}

func newClient(conn *websocket.Conn, channelID, addr string, srv *Server) *Client {
	id := uuid.NewString()
	cfg := srv.cfg

	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:        id,
		conn:      conn,
		addr:      addr,
		channelID: channelID,
		send:      make(chan []byte, sendBufferSize),
		limiter:   newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		srv:       srv,
		log: srv.log.Named("client").With(
			zap.String("conn_id", id),
			zap.String("addr", addr),
			zap.String("channel", channelID),
		),
	}
}

// enqueue queues an outbound frame without blocking. It reports false when
// the connection is shutting down or the buffer is full; the frame is dropped
// in either case.
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue exactly once. The write pump drains any
// frames already queued, writes a close frame, and closes the transport.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
}

// closing reports whether the session has been shut down. Once set, the
// session is terminal: no further frame may be processed.
func (c *Client) closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeTransport closes the underlying connection, which unblocks the read
// pump and drives the normal cleanup path.
func (c *Client) closeTransport() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", zap.Error(err))
	}
}

// readPump is the per-connection control loop. It blocks on the next inbound
// frame, classifies it (join versus opaque payload), and drives admission,
// relay, and cleanup. It exits when the transport closes or errors, at which
// point membership and registry consistency are restored.
func (c *Client) readPump() {
	defer func() {
		c.leave()
		c.shutdown()
		c.closeTransport()
	}()

	c.setupReadDeadlines()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logDisconnect(err)
			return
		}

		if !c.limiter.allow() {
			c.log.Warn("rate limit exceeded; discarding frame",
				zap.Int("burst", c.srv.cfg.RateLimit.Burst),
				zap.Duration("refill_interval", c.srv.cfg.RateLimit.RefillInterval))
			continue
		}

		c.handleFrame(raw)
	}
}

func (c *Client) setupReadDeadlines() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleFrame applies one state-machine transition for an inbound frame.
// Malformed frames are logged and discarded without dropping the connection.
func (c *Client) handleFrame(raw []byte) {
	// Closed is terminal; a session being torn down processes nothing.
	if c.closing() {
		return
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("discarding malformed frame", zap.Error(err))
		return
	}

	if env.Type == frameTypeJoin {
		// At most one join per connection; repeats while joined are ignored.
		if c.joined {
			return
		}
		c.handleJoin(raw)
		return
	}

	// Not yet joined: a connection cannot relay traffic before admission.
	if !c.joined {
		return
	}

	// The frame is an opaque payload; relay it byte-for-byte.
	c.channel.Broadcast(raw)
}

// handleJoin runs admission for the first valid join frame. Admit queues the
// join acknowledgement inside its critical section, ahead of the status
// broadcast and any concurrent traffic, so the joining connection always
// observes the ack first on its serialized send queue; no timing delay is
// involved.
func (c *Client) handleJoin(raw []byte) {
	var req joinRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.log.Warn("discarding malformed join frame", zap.Error(err))
		return
	}

	for {
		ch := c.srv.registry.GetOrCreate(c.channelID)
		err := ch.Admit(c, req.Username)

		if errors.Is(err, errChannelClosed) {
			// Lost a race with the last member leaving; the registry has
			// already unmapped this instance. Retry on the next generation.
			continue
		}
		if errors.Is(err, ErrNameTaken) {
			c.log.Info("join rejected, name taken", zap.String("username", req.Username))
			c.enqueue(encodeJoinFailure(msgUsernameTaken))
			c.shutdown()
			return
		}

		c.joined = true
		c.name = req.Username
		c.channel = ch

		ch.BroadcastStatus()
		c.log.Info("member joined",
			zap.String("username", req.Username),
			zap.Int("members", ch.MemberCount()))
		return
	}
}

// leave removes the client from its channel, then either notifies survivors
// of the new member count or releases the now-empty channel. The two outcomes
// are mutually exclusive.
func (c *Client) leave() {
	ch := c.channel
	if ch == nil {
		return
	}

	name, remaining, removed := ch.Remove(c)
	if !removed {
		return
	}

	c.log.Info("member disconnected",
		zap.String("username", name),
		zap.Int("members", remaining))

	if remaining > 0 {
		ch.BroadcastStatus()
	} else {
		c.srv.registry.ReleaseIfEmpty(c.channelID)
	}
}

// logDisconnect classifies a read error so routine disconnects stay quiet
// while genuinely unexpected transport failures are surfaced.
func (c *Client) logDisconnect(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size",
			zap.Int64("max_message_size", c.srv.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Info("connection closed", zap.Error(err))
	default:
		c.log.Warn("read error", zap.Error(err))
	}
}

// writePump serializes all outbound traffic for the connection and keeps it
// alive with periodic pings. It exits when the send queue is closed or a
// write fails, closing the transport either way. One queued frame becomes
// exactly one WebSocket message; recipients parse each message as a single
// JSON document, so frames are never coalesced.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeTransport()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeFrame(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeFrame writes one queued frame, or the close frame when the queue has
// been drained and closed. It reports false when the pump should stop.
func (c *Client) writeFrame(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error writing close frame", zap.Error(err))
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing frame", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing ping", zap.Error(err))
		}
		return false
	}
	return true
}

// isExpectedCloseError reports whether an error is routine fallout of a
// connection being torn down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
