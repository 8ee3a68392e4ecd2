package media

import (
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
)

// relay forwards one speaker's remote audio track to a set of local
// tracks, one per listening session.
type relay struct {
	src     core.SessionID
	track   *webrtc.TrackRemote
	codec   webrtc.RTPCodecCapability
	trackID string

	mu   sync.RWMutex
	outs map[core.SessionID]*outTrack
}

type outTrack struct {
	track  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender
	pc     *webrtc.PeerConnection
}

// startRelay begins fanning a freshly received track out to every other
// live session. Adding a track to a listener's peer connection fires its
// negotiation-needed callback, which the orchestration layer turns into a
// fresh offer.
func (e *Engine) startRelay(src core.SessionID, track *webrtc.TrackRemote) {
	r := &relay{
		src:     src,
		track:   track,
		codec:   track.Codec().RTPCodecCapability,
		trackID: track.ID(),
		outs:    make(map[core.SessionID]*outTrack),
	}

	e.mu.Lock()
	e.relays[src] = r
	listeners := make([]*Session, 0, len(e.sessions))
	for sid, s := range e.sessions {
		if sid != src {
			listeners = append(listeners, s)
		}
	}
	e.mu.Unlock()

	for _, l := range listeners {
		r.addOut(l, e)
	}

	go r.loop(e)
}

// subscribeExisting attaches a session that just completed negotiation to
// every speaker already relaying.
func (e *Engine) subscribeExisting(s *Session) {
	e.mu.RLock()
	relays := make([]*relay, 0, len(e.relays))
	for src, r := range e.relays {
		if src != s.sid {
			relays = append(relays, r)
		}
	}
	e.mu.RUnlock()

	for _, r := range relays {
		r.addOut(s, e)
	}
}

func (r *relay) addOut(dst *Session, e *Engine) {
	if dst.isClosed() {
		return
	}
	r.mu.Lock()
	if _, ok := r.outs[dst.sid]; ok {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	local, err := webrtc.NewTrackLocalStaticRTP(r.codec, r.trackID, "relay-"+string(r.src))
	if err != nil {
		e.logger.Error().Err(err).Str("src", string(r.src)).Msg("relay local track")
		return
	}
	sender, err := dst.pc.AddTrack(local)
	if err != nil {
		e.logger.Error().Err(err).Str("src", string(r.src)).Str("dst", string(dst.sid)).Msg("relay add track")
		return
	}

	// Re-check: a concurrent subscribe may have attached this destination
	// while the track was being added. The loser backs its track out so
	// no orphan sender stays on the peer connection.
	r.mu.Lock()
	if _, ok := r.outs[dst.sid]; ok {
		r.mu.Unlock()
		_ = dst.pc.RemoveTrack(sender)
		return
	}
	r.outs[dst.sid] = &outTrack{track: local, sender: sender, pc: dst.pc}
	r.mu.Unlock()
}

// loop reads RTP from the source track and forwards to all out tracks.
// It ends when the source track dies (peer connection closed).
func (r *relay) loop(e *Engine) {
	for {
		pkt, _, err := r.track.ReadRTP()
		if err != nil {
			e.logger.Info().Err(err).Str("src", string(r.src)).Msg("relay source ended")
			r.removeAll()
			return
		}
		r.forward(pkt, e)
	}
}

func (r *relay) forward(pkt *rtp.Packet, e *Engine) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outs)
	r.mu.RUnlock()

	for dst, ot := range snapshot {
		if err := ot.track.WriteRTP(pkt); err != nil {
			e.logger.Warn().Err(err).Str("dst", string(dst)).Msg("relay write failed, dropping out track")
			r.removeOut(dst)
		}
	}
}

func (r *relay) removeOut(dst core.SessionID) {
	r.mu.Lock()
	ot, ok := r.outs[dst]
	delete(r.outs, dst)
	r.mu.Unlock()
	if ok && ot.sender != nil {
		_ = ot.pc.RemoveTrack(ot.sender)
	}
}

func (r *relay) removeAll() {
	r.mu.Lock()
	outs := r.outs
	r.outs = make(map[core.SessionID]*outTrack)
	r.mu.Unlock()
	for _, ot := range outs {
		if ot.sender != nil {
			_ = ot.pc.RemoveTrack(ot.sender)
		}
	}
}
