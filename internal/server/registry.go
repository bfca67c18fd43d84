// Package server maintains the process-wide registry mapping channel
// identifiers to live channels. Channels are created on first reference and
// released synchronously when their last member leaves; an empty channel is
// never reachable through the registry.
package server

import (
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Registry is the process-scoped identifier-to-channel map. State lives for
// the process lifetime only; a restart starts from an empty registry.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel

	log     *zap.Logger
	metrics *Metrics
}

// NewRegistry creates an empty channel registry.
func NewRegistry(log *zap.Logger, metrics *Metrics) *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		log:      log,
		metrics:  metrics,
	}
}

// GetOrCreate returns the live channel for the identifier, constructing and
// registering an empty one if none exists. At most one channel instance is
// ever live for a given identifier.
func (r *Registry) GetOrCreate(id string) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.channels[id]; ok {
		return ch
	}

	ch := newChannel(id, r.log, r.metrics)
	r.channels[id] = ch
	r.metrics.channelsLive.Inc()
	r.log.Info("channel created", zap.String("channel", id))
	return ch
}

// ReleaseIfEmpty unmaps the channel iff its member count is zero. The channel
// is marked closed under both locks before it is unmapped, so a join racing
// the release either lands on the still-registered channel or observes it
// closed and retries GetOrCreate; a member is never admitted to an unmapped
// instance.
func (r *Registry) ReleaseIfEmpty(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[id]
	if !ok {
		return
	}
	if !ch.closeIfEmpty() {
		return
	}

	delete(r.channels, id)
	r.metrics.channelsLive.Dec()
	r.log.Info("channel destroyed", zap.String("channel", id))
}

// Lookup returns the live channel for the identifier without creating one.
func (r *Registry) Lookup(id string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Contains reports whether a channel is currently registered for the
// identifier.
func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[id]
	return ok
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// ChannelIDs returns a snapshot of the currently registered identifiers.
func (r *Registry) ChannelIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Keys(r.channels)
}

// CloseAll closes the transport of every member in every channel. Used during
// graceful shutdown; the per-connection cleanup paths then drain membership
// and release the channels as usual.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	channels := lo.Values(r.channels)
	r.mu.Unlock()

	closed := 0
	for _, ch := range channels {
		for _, c := range ch.snapshot() {
			c.closeTransport()
			closed++
		}
	}
	r.log.Info("closed member connections", zap.Int("connections", closed))
}
