package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaSession is the negotiated handle against the media-routing engine.
// At most one live handle exists per client session; the owning session
// must Close() it, and no callback may act on a closed handle.
type MediaSession interface {
	// CreateOffer builds a fresh local offer, waits for candidate
	// gathering and returns the final description.
	CreateOffer() (*webrtc.SessionDescription, error)
	// ApplyAnswer applies the client's answer to the session.
	ApplyAnswer(webrtc.SessionDescription) error
	// OnRenegotiationNeeded sets a callback fired when the engine wants
	// a new offer sent (e.g. after another participant's track is added).
	OnRenegotiationNeeded(func())
	// Close releases the engine-side resources. Idempotent.
	Close()
}

// MediaEngine opens media sessions against the routing engine.
type MediaEngine interface {
	// OpenSession validates the client's capability description and
	// creates a media session for it.
	OpenSession(ctx context.Context, sid SessionID, capabilitySDP string, planB bool) (MediaSession, error)
}
