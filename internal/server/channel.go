// Package server implements the Channel type: one ephemeral group of admitted
// connections relaying opaque payloads to each other under a unique
// display-name constraint.
package server

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrNameTaken is returned by Admit when the requested display name is already
// claimed in the channel. Comparison is exact, case-sensitive string equality.
var ErrNameTaken = errors.New("display name already taken")

// errChannelClosed is returned by Admit when the registry has already released
// this channel instance. The caller must retry GetOrCreate to land on the next
// generation.
var errChannelClosed = errors.New("channel closed")

// Channel is the set of joined connections for one identifier. A Channel
// exists only while it has members; the Registry releases it synchronously
// when the last member leaves.
type Channel struct {
	id string

	mu      sync.Mutex
	members map[*Client]string
	names   map[string]struct{}
	closed  bool

	log     *zap.Logger
	metrics *Metrics
}

func newChannel(id string, log *zap.Logger, metrics *Metrics) *Channel {
	return &Channel{
		id:      id,
		members: make(map[*Client]string),
		names:   make(map[string]struct{}),
		log:     log.With(zap.String("channel", id)),
		metrics: metrics,
	}
}

// ID returns the canonical channel identifier.
func (ch *Channel) ID() string {
	return ch.id
}

// Admit inserts the client into the member set under the given display name.
// The check-then-insert is atomic: of two connections racing to claim the same
// name, exactly one succeeds and the other gets ErrNameTaken. The join
// acknowledgement is queued before the lock is released, so a concurrent
// broadcast that sees the new member can never reach its queue ahead of the
// ack.
func (ch *Channel) Admit(c *Client, name string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return errChannelClosed
	}
	if _, taken := ch.names[name]; taken {
		ch.metrics.joinRejections.Inc()
		return ErrNameTaken
	}

	ch.members[c] = name
	ch.names[name] = struct{}{}
	ch.metrics.membersLive.Inc()
	c.enqueue(encodeJoinSuccess())
	return nil
}

// Remove deletes the client from the member set. It is idempotent and keyed
// by client identity; removing a never-admitted client is a no-op. It returns
// the display name that was released and the remaining member count so the
// caller can notify survivors or release the channel.
func (ch *Channel) Remove(c *Client) (name string, remaining int, removed bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	name, ok := ch.members[c]
	if !ok {
		return "", len(ch.members), false
	}

	delete(ch.members, c)
	delete(ch.names, name)
	ch.metrics.membersLive.Dec()
	return name, len(ch.members), true
}

// MemberCount returns the current number of admitted members.
func (ch *Channel) MemberCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.members)
}

// Broadcast relays a payload byte-for-byte to every member present at
// broadcast start, including the sender. Delivery is best-effort per
// recipient: a full send buffer drops that one delivery and never aborts the
// rest or surfaces to the sender.
func (ch *Channel) Broadcast(payload []byte) {
	ch.deliver(ch.snapshot(), payload)
	ch.metrics.framesRelayed.Inc()
}

// BroadcastStatus sends the member-count status frame to every current
// member. The count and the recipient set come from the same snapshot so the
// reported number matches the membership it was computed from.
func (ch *Channel) BroadcastStatus() {
	members := ch.snapshot()
	ch.deliver(members, encodeStatus(len(members)))
}

// snapshot copies the member set under the lock so iteration never races
// concurrent admits and removals.
func (ch *Channel) snapshot() []*Client {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	members := make([]*Client, 0, len(ch.members))
	for c := range ch.members {
		members = append(members, c)
	}
	return members
}

func (ch *Channel) deliver(members []*Client, payload []byte) {
	for _, c := range members {
		if !c.enqueue(payload) {
			ch.metrics.droppedDeliveries.Inc()
			ch.log.Warn("dropping frame for slow member", zap.String("conn_id", c.id))
		}
	}
}

// closeIfEmpty marks the channel closed iff it has no members. Once closed, a
// channel never admits again; the Registry unmaps it and later joins get a
// fresh instance.
func (ch *Channel) closeIfEmpty() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if len(ch.members) > 0 {
		return false
	}
	ch.closed = true
	return true
}
