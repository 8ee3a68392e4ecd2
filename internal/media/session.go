package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
)

// Session implements core.MediaSession on a pion PeerConnection using the
// server-side offer model: the server offers, the client answers.
type Session struct {
	pc     *webrtc.PeerConnection
	sid    core.SessionID
	planB  bool
	engine *Engine
	logger zerolog.Logger

	mu            sync.Mutex
	closed        bool
	onRenegotiate func()
}

// CreateOffer builds an offer, waits for candidate gathering to complete
// and returns the final local description. Non-trickle on purpose: the
// browser client applies one complete description.
func (s *Session) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return s.pc.LocalDescription(), nil
}

// ApplyAnswer applies the client's answer. On success the session is
// subscribed to every other participant's live audio relay, which in turn
// triggers renegotiation offers as tracks are added.
func (s *Session) ApplyAnswer(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	s.engine.subscribeExisting(s)
	return nil
}

// OnRenegotiationNeeded registers the engine-initiated renegotiation
// callback. A closed session never fires it.
func (s *Session) OnRenegotiationNeeded(fn func()) {
	s.mu.Lock()
	s.onRenegotiate = fn
	s.mu.Unlock()

	s.pc.OnNegotiationNeeded(func() {
		s.mu.Lock()
		closed := s.closed
		cb := s.onRenegotiate
		s.mu.Unlock()
		if closed || cb == nil {
			return
		}
		s.logger.Info().Msg("negotiation needed")
		cb()
	})
}

// Close releases the peer connection and detaches the session from the
// relay mesh. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.engine.detach(s.sid)
	if err := s.pc.Close(); err != nil {
		s.logger.Error().Err(err).Msg("peer connection close error")
	} else {
		s.logger.Info().Msg("media session closed")
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
