// Package media implements the media-routing engine on pion/webrtc. The
// orchestration layer only sees the core.MediaEngine/MediaSession
// contract; internally the engine also relays each participant's audio
// track to every other live session so everyone hears everyone.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
)

// ErrNoAudioCapability is returned when a client's capability description
// carries no audio section.
var ErrNoAudioCapability = errors.New("media: capability description has no audio section")

type Engine struct {
	api    *webrtc.API
	rtcCfg webrtc.Configuration
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[core.SessionID]*Session
	relays   map[core.SessionID]*relay
}

// NewEngine builds the webrtc API with the audio codec set. A failure
// here is fatal to the process; there is no degraded mode.
func NewEngine(stunURLs []string, logger zerolog.Logger) (*Engine, error) {
	m := &webrtc.MediaEngine{}
	codecs := []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  webrtc.MimeTypePCMU,
				ClockRate: 8000,
			},
			PayloadType: 0,
		},
	}
	for _, c := range codecs {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("media: register codec %s: %w", c.MimeType, err)
		}
	}

	return &Engine{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		rtcCfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
		},
		logger:   logger.With().Str("module", "media").Logger(),
		sessions: make(map[core.SessionID]*Session),
		relays:   make(map[core.SessionID]*relay),
	}, nil
}

// OpenSession validates the capability description and creates a peer
// connection prepared to receive the client's audio.
func (e *Engine) OpenSession(ctx context.Context, sid core.SessionID, capabilitySDP string, planB bool) (core.MediaSession, error) {
	if err := validateCapabilities(capabilitySDP); err != nil {
		return nil, err
	}

	pc, err := e.api.NewPeerConnection(e.rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("media: new peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("media: add audio transceiver: %w", err)
	}

	s := &Session{
		pc:     pc,
		sid:    sid,
		planB:  planB,
		engine: e,
		logger: e.logger.With().Str("sid", string(sid)).Logger(),
	}

	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		s.logger.Info().Str("ice_state", st.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.logger.Info().Str("peer_connection_state", st.String()).Msg("peer state")
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		s.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track received")
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			e.startRelay(sid, track)
		}
	})

	e.mu.Lock()
	e.sessions[sid] = s
	e.mu.Unlock()

	s.logger.Info().Bool("plan_b", planB).Msg("media session opened")
	return s, nil
}

// detach removes a closing session from the engine and from every relay
// that was feeding it.
func (e *Engine) detach(sid core.SessionID) {
	e.mu.Lock()
	delete(e.sessions, sid)
	r := e.relays[sid]
	delete(e.relays, sid)
	others := make([]*relay, 0, len(e.relays))
	for _, rl := range e.relays {
		others = append(others, rl)
	}
	e.mu.Unlock()

	if r != nil {
		r.removeAll()
	}
	for _, rl := range others {
		rl.removeOut(sid)
	}
}

func validateCapabilities(capabilitySDP string) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(capabilitySDP)); err != nil {
		return fmt.Errorf("media: parse capability sdp: %w", err)
	}
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			return nil
		}
	}
	return ErrNoAudioCapability
}
