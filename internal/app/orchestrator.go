package app

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/pipeline"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/protocol"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/recognize"
)

// Orchestrator drives the per-connection session lifecycle: negotiation
// against the media engine, pipeline activation and teardown.
type Orchestrator struct {
	Registry    *Registry
	Engine      core.MediaEngine
	Streams     recognize.Opener
	Transcoder  pipeline.OpenTranscoder
	Broadcaster *Broadcaster
	PipelineCfg pipeline.Config
}

// Connect registers a freshly opened channel.
func (o *Orchestrator) Connect(ctx context.Context, conn core.SignalConnection) *ClientSession {
	return o.Registry.Register(ctx, conn)
}

// Disconnect tears down everything tied to a channel. Safe to call more
// than once; exactly one teardown happens.
func (o *Orchestrator) Disconnect(conn core.SignalConnection) {
	o.Registry.Deregister(conn)
}

// HandleStart processes a Start message: record capabilities, open a
// media session and send the first offer. A negotiation failure reports
// to the client and closes the session.
func (o *Orchestrator) HandleStart(ctx context.Context, conn core.SignalConnection, p protocol.StartPayload) {
	sess, ok := o.Registry.Lookup(conn)
	if !ok {
		o.sendError(conn, "Unknown session")
		return
	}

	sess.mu.Lock()
	if sess.state != StateNew {
		st := sess.state
		sess.mu.Unlock()
		log.Warn().Str("module", "app.orch").Str("sid", string(sess.ID)).Str("state", st.String()).Msg("Start in wrong state")
		o.sendError(conn, "Session already started")
		return
	}
	sess.displayName = p.Username
	sess.planB = p.UsePlanB
	sess.state = StateCapabilitiesSubmitted
	sess.mu.Unlock()

	ms, err := o.Engine.OpenSession(ctx, sess.ID, p.SDP, p.UsePlanB)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("open media session failed")
		o.failNegotiation(sess, "Unable to open media session")
		return
	}

	sess.mu.Lock()
	if sess.state == StateClosed {
		sess.mu.Unlock()
		ms.Close()
		return
	}
	sess.media = ms
	sess.mu.Unlock()

	ms.OnRenegotiationNeeded(func() {
		o.onRenegotiationNeeded(sess)
	})

	o.sendOffer(sess)
}

// sendOffer creates an offer on the session's media handle, transmits it
// and moves the session to OFFER_SENT. Offer failure is a negotiation
// error: the client is told and the session closes.
func (o *Orchestrator) sendOffer(sess *ClientSession) {
	sess.mu.Lock()
	ms := sess.media
	if sess.state == StateClosed || ms == nil {
		sess.mu.Unlock()
		return
	}
	sess.mu.Unlock()

	desc, err := ms.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("create offer failed")
		o.failNegotiation(sess, "Unable to create offer")
		return
	}

	frame, err := protocol.Offer(protocol.SessionDescription{Type: "offer", SDP: desc.SDP})
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("marshal offer")
		return
	}

	sess.mu.Lock()
	if sess.state == StateClosed {
		sess.mu.Unlock()
		return
	}
	sess.state = StateOfferSent
	sess.mu.Unlock()

	if err := sess.conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("offer send failed")
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("offer sent")
}

// onRenegotiationNeeded handles the engine asking for a fresh offer.
// Before the first answer the pending offer already reflects engine
// state, so pre-ACTIVE requests are coalesced into it.
func (o *Orchestrator) onRenegotiationNeeded(sess *ClientSession) {
	sess.mu.Lock()
	st := sess.state
	sess.mu.Unlock()

	switch st {
	case StateActive:
		log.Info().Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("renegotiation requested")
		o.sendOffer(sess)
	case StateClosed:
		// Stale callback after teardown; reject, don't corrupt.
	default:
		log.Debug().Str("module", "app.orch").Str("sid", string(sess.ID)).Str("state", st.String()).Msg("renegotiation coalesced into pending offer")
	}
}

// HandleAnswer applies the client's answer. An answer for a session that
// never started, or under a different username, is a protocol error with
// no state change.
func (o *Orchestrator) HandleAnswer(conn core.SignalConnection, p protocol.AnswerPayload) {
	sess, ok := o.Registry.Lookup(conn)
	if !ok {
		o.sendError(conn, "Invalid peer")
		return
	}

	sess.mu.Lock()
	if sess.state != StateOfferSent || sess.displayName != p.Username {
		st := sess.state
		sess.mu.Unlock()
		log.Warn().Str("module", "app.orch").Str("sid", string(sess.ID)).Str("state", st.String()).Str("username", p.Username).Msg("answer rejected")
		o.sendError(conn, "Invalid peer")
		return
	}
	ms := sess.media
	sess.mu.Unlock()

	err := ms.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.Answer.SDP,
	})
	if err != nil {
		// No automatic retry: the session stays in OFFER_SENT until the
		// client resends or the connection is reaped.
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("apply answer failed")
		return
	}

	sess.mu.Lock()
	if sess.state == StateClosed {
		sess.mu.Unlock()
		return
	}
	sess.state = StateAnswered
	// Activation is implicit on a successful answer.
	sess.state = StateActive
	needPipeline := sess.pipeline == nil
	sess.mu.Unlock()
	log.Info().Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("session active")

	if needPipeline {
		o.startPipeline(sess)
	}
}

// startPipeline builds and starts the session's audio pipeline. Failure
// degrades transcription only; the call itself continues.
func (o *Orchestrator) startPipeline(sess *ClientSession) {
	pl := pipeline.New(sess.ID, sess.DisplayName(), o.PipelineCfg, o.Transcoder, o.Streams, o.Broadcaster.Publish, log.Logger)
	if err := pl.Start(sess.Context()); err != nil {
		log.Error().Err(err).Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("pipeline start failed, transcription disabled")
		return
	}

	sess.mu.Lock()
	if sess.state == StateClosed {
		sess.mu.Unlock()
		pl.Stop()
		return
	}
	sess.pipeline = pl
	sess.mu.Unlock()
}

// HandleAudioFrame feeds an inbound binary frame into the session's
// pipeline. Frames before activation are dropped with a warning; that is
// an expected race during negotiation, not an error.
func (o *Orchestrator) HandleAudioFrame(conn core.SignalConnection, data []byte) {
	sess, ok := o.Registry.Lookup(conn)
	if !ok {
		return
	}

	sess.mu.Lock()
	active := sess.state == StateActive
	pl := sess.pipeline
	sess.mu.Unlock()

	if !active || pl == nil {
		log.Warn().Str("module", "app.orch").Str("sid", string(sess.ID)).Int("bytes", len(data)).Msg("audio frame before active session, dropped")
		return
	}
	if err := pl.Feed(data); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sess.ID)).Msg("pipeline feed failed")
	}
}

// failNegotiation reports a negotiation error to the client and closes
// the session, releasing the media handle.
func (o *Orchestrator) failNegotiation(sess *ClientSession, msg string) {
	o.sendError(sess.conn, msg)
	o.Registry.Deregister(sess.conn)
}

func (o *Orchestrator) sendError(conn core.SignalConnection, msg string) {
	if err := conn.TrySend(protocol.Error(msg)); err != nil {
		log.Debug().Err(err).Str("module", "app.orch").Msg("error send failed")
	}
}
