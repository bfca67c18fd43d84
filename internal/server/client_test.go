package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainFrame pops the next queued outbound frame or fails the test.
func drainFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected an outbound frame")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected outbound frame: %s", msg)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestJoinAdmitsAndAcksBeforeStatus(t *testing.T) {
	srv := newTestServer()
	c := newTestClient(srv, "abc")

	c.handleFrame([]byte(`{"type":"join","username":"alice"}`))

	assert.True(t, c.joined)
	assert.Equal(t, "alice", c.name)
	require.True(t, srv.Registry().Contains("abc"))

	// The ack is queued before the status broadcast, so the joining
	// connection always observes them in that order.
	assert.JSONEq(t, `{"type":"join","success":true}`, string(drainFrame(t, c)))
	assert.JSONEq(t, `{"type":"status","userCount":1}`, string(drainFrame(t, c)))
}

func TestJoinWithTakenNameFailsAndCloses(t *testing.T) {
	srv := newTestServer()

	a := newTestClient(srv, "abc")
	a.handleFrame([]byte(`{"type":"join","username":"alice"}`))
	drainFrame(t, a) // ack
	drainFrame(t, a) // status 1

	b := newTestClient(srv, "abc")
	b.handleFrame([]byte(`{"type":"join","username":"alice"}`))

	assert.False(t, b.joined)
	assert.JSONEq(t,
		`{"type":"join","success":false,"message":"Username already taken"}`,
		string(drainFrame(t, b)))
	assert.True(t, b.closed, "rejected connection must be shut down")

	// No membership side effects: A saw no status change.
	ch, ok := srv.Registry().Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, 1, ch.MemberCount())
	assertNoFrame(t, a)
}

func TestFramesAfterRejectionAreIgnored(t *testing.T) {
	srv := newTestServer()

	a := newTestClient(srv, "abc")
	a.handleFrame([]byte(`{"type":"join","username":"alice"}`))
	drainFrame(t, a) // ack
	drainFrame(t, a) // status 1

	b := newTestClient(srv, "abc")
	b.handleFrame([]byte(`{"type":"join","username":"alice"}`))
	drainFrame(t, b) // failure frame
	require.True(t, b.closed)

	// Closed is terminal: even a join with a free name must not be admitted
	// on a connection that is being torn down.
	b.handleFrame([]byte(`{"type":"join","username":"bob"}`))
	assert.False(t, b.joined)

	ch, ok := srv.Registry().Lookup("abc")
	require.True(t, ok)
	assert.Equal(t, 1, ch.MemberCount())

	// The name was never claimed, so another connection can take it.
	c := newTestClient(srv, "abc")
	c.handleFrame([]byte(`{"type":"join","username":"bob"}`))
	assert.True(t, c.joined)
	assert.Equal(t, 2, ch.MemberCount())
	drainFrame(t, c) // ack
	drainFrame(t, c) // status 2
	drainFrame(t, a) // status 2

	// Payload frames on the rejected connection are dropped, not relayed.
	b.handleFrame([]byte(`{"iv":"AAAA","data":"ciphertext"}`))
	assertNoFrame(t, a)
	assertNoFrame(t, c)
}

func TestFramesBeforeJoinAreIgnored(t *testing.T) {
	srv := newTestServer()
	c := newTestClient(srv, "abc")

	c.handleFrame([]byte(`{"iv":"AAAA","data":"ciphertext"}`))
	c.handleFrame([]byte(`{"type":"status","userCount":99}`))

	assert.False(t, c.joined)
	assert.False(t, srv.Registry().Contains("abc"), "no channel may be created before a join")
	assertNoFrame(t, c)
}

func TestRepeatedJoinFramesAreIgnored(t *testing.T) {
	srv := newTestServer()
	c := newTestClient(srv, "abc")

	c.handleFrame([]byte(`{"type":"join","username":"alice"}`))
	drainFrame(t, c)
	drainFrame(t, c)

	c.handleFrame([]byte(`{"type":"join","username":"other"}`))

	assert.Equal(t, "alice", c.name, "display name is immutable after admission")
	assert.Equal(t, 1, c.channel.MemberCount())
	assertNoFrame(t, c)
}

func TestJoinedPayloadIsRelayedVerbatim(t *testing.T) {
	srv := newTestServer()

	a := newTestClient(srv, "abc")
	a.handleFrame([]byte(`{"type":"join","username":"alice"}`))
	drainFrame(t, a)
	drainFrame(t, a)

	b := newTestClient(srv, "abc")
	b.handleFrame([]byte(`{"type":"join","username":"bob"}`))
	drainFrame(t, a) // status 2
	drainFrame(t, b) // ack
	drainFrame(t, b) // status 2

	payload := []byte(`{"iv":"AAAA","data":"ciphertext","extra":[1,2,3]}`)
	a.handleFrame(payload)

	// Both members receive the exact frame, sender included.
	assert.Equal(t, payload, drainFrame(t, a))
	assert.Equal(t, payload, drainFrame(t, b))
}

func TestMalformedFrameIsDiscardedWithoutClosing(t *testing.T) {
	srv := newTestServer()
	c := newTestClient(srv, "abc")

	c.handleFrame([]byte(`not json at all`))
	assert.False(t, c.closed)

	// The connection remains usable: a valid join still works.
	c.handleFrame([]byte(`{"type":"join","username":"alice"}`))
	assert.True(t, c.joined)
}

func TestLeaveNotifiesSurvivorsOrReleasesChannel(t *testing.T) {
	srv := newTestServer()

	a := newTestClient(srv, "abc")
	a.handleFrame([]byte(`{"type":"join","username":"alice"}`))
	drainFrame(t, a)
	drainFrame(t, a)

	b := newTestClient(srv, "abc")
	b.handleFrame([]byte(`{"type":"join","username":"bob"}`))
	drainFrame(t, a)
	drainFrame(t, b)
	drainFrame(t, b)

	// First departure leaves a survivor: status goes out, channel stays.
	a.leave()
	assert.JSONEq(t, `{"type":"status","userCount":1}`, string(drainFrame(t, b)))
	assert.True(t, srv.Registry().Contains("abc"))

	// Last departure releases the channel instead of broadcasting.
	b.leave()
	assert.False(t, srv.Registry().Contains("abc"))

	// leave is idempotent.
	b.leave()
	assert.False(t, srv.Registry().Contains("abc"))
}

func TestEnqueueAfterShutdownReportsFailure(t *testing.T) {
	srv := newTestServer()
	c := newTestClient(srv, "abc")

	require.True(t, c.enqueue([]byte(`{"type":"status","userCount":1}`)))
	c.shutdown()
	assert.False(t, c.enqueue([]byte(`{"type":"status","userCount":1}`)))

	// shutdown is idempotent.
	c.shutdown()
}
