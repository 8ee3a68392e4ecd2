package app

import (
	"github.com/rs/zerolog/log"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/metrics"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/protocol"
)

// Broadcaster fans transcripts out to every registered session,
// including the speaker's own.
type Broadcaster struct {
	Registry *Registry
}

func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{Registry: reg}
}

// Publish serializes a transcript once and attempts delivery to every
// live session. A failed or slow channel affects only that recipient.
func (b *Broadcaster) Publish(t core.Transcript) {
	frame, err := protocol.Transcript(t)
	if err != nil {
		log.Error().Err(err).Str("module", "app.broadcast").Msg("marshal transcript")
		return
	}

	for _, s := range b.Registry.Snapshot() {
		if s.State() == StateClosed {
			continue
		}
		if err := s.Conn().TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.broadcast").Str("sid", string(s.ID)).Msg("transcript delivery failed")
		}
	}
	metrics.TranscriptsBroadcast.Inc()
}
