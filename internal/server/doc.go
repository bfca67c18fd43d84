// Package server implements the Ephemr relay: a blind WebSocket router that
// forwards end-to-end-encrypted payloads between members of ephemeral,
// name-addressed channels without ever inspecting their content.
//
// The implementation is organized into specialized files for the channel
// registry, channel membership, per-connection pumps, frame protocol,
// configuration, and HTTP surface to keep each concern small and testable.
package server
