package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/pipeline"
)

// State is a client session's position in the negotiation sequence.
type State int

const (
	StateNew State = iota
	StateCapabilitiesSubmitted
	StateOfferSent
	StateAnswered
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateCapabilitiesSubmitted:
		return "CAPABILITIES_SUBMITTED"
	case StateOfferSent:
		return "OFFER_SENT"
	case StateAnswered:
		return "ANSWERED"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ClientSession is the per-channel session record. The registry owns the
// map of sessions; each session exclusively owns its media handle and
// audio pipeline.
type ClientSession struct {
	ID   core.SessionID
	conn core.SignalConnection

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	displayName string
	planB       bool
	media       core.MediaSession
	pipeline    *pipeline.Pipeline
	alive       bool
	lastPongAt  time.Time
}

func newClientSession(ctx context.Context, id core.SessionID, conn core.SignalConnection) *ClientSession {
	ctx, cancel := context.WithCancel(ctx)
	return &ClientSession{
		ID:     id,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		state:  StateNew,
		alive:  true,
	}
}

func (s *ClientSession) Conn() core.SignalConnection { return s.conn }

func (s *ClientSession) Context() context.Context { return s.ctx }

func (s *ClientSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ClientSession) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

// MarkAlive records a heartbeat acknowledgment.
func (s *ClientSession) MarkAlive() {
	s.mu.Lock()
	s.alive = true
	s.lastPongAt = time.Now()
	s.mu.Unlock()
}

// ClearAlive clears the liveness flag and reports its previous value.
func (s *ClientSession) ClearAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.alive
	s.alive = false
	return prev
}

func (s *ClientSession) LastPongAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPongAt
}

// Close tears the session down: media handle, pipeline and channel. It is
// idempotent and synchronous, so once it returns no collaborator callback
// can act on the session (they all check for CLOSED first).
func (s *ClientSession) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	ms := s.media
	pl := s.pipeline
	s.media = nil
	s.pipeline = nil
	s.mu.Unlock()

	s.cancel()
	if pl != nil {
		pl.Stop()
	}
	if ms != nil {
		ms.Close()
	}
	s.conn.Close()
	log.Info().Str("module", "app.session").Str("sid", string(s.ID)).Msg("session closed")
}
