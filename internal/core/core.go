// Package core contains the shared types and interfaces that the
// orchestration layer, transports and media collaborators agree on.
// No logic lives here.
package core

import "time"

// Frame is a raw binary payload (a JSON control frame or an audio chunk).
type Frame []byte

// SessionID identifies one connected client for its whole lifetime.
type SessionID string

// SignalConnection abstracts the client's persistent message channel.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues a frame without blocking; it fails when the
	// connection is closed or the send queue is full.
	TrySend(Frame) error
	// Ping sends a transport-level liveness probe.
	Ping() error
	Close()
}

// Transcript is an ephemeral recognition result on its way to fan-out.
type Transcript struct {
	SessionID SessionID
	Username  string
	Text      string
	IsFinal   bool
	Timestamp time.Time
}
