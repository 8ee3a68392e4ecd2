package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/metrics"
)

// Monitor periodically pings every registered channel and reaps the ones
// that missed a whole probe interval. A connection therefore has between
// one and two intervals to acknowledge before it is torn down.
type Monitor struct {
	Registry *Registry
	Interval time.Duration
}

func NewMonitor(reg *Registry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{Registry: reg, Interval: interval}
}

// Run probes until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.sweep()
		}
	}
}

// sweep reaps sessions whose liveness flag was never refreshed since the
// previous probe, then re-arms the probe on the survivors.
func (m *Monitor) sweep() {
	for _, s := range m.Registry.Snapshot() {
		if !s.ClearAlive() {
			log.Warn().Str("module", "app.liveness").Str("sid", string(s.ID)).Time("last_pong", s.LastPongAt()).Msg("unresponsive connection, reaping")
			metrics.ReapedConnections.Inc()
			m.Registry.Deregister(s.Conn())
			continue
		}
		if err := s.Conn().Ping(); err != nil {
			log.Debug().Err(err).Str("module", "app.liveness").Str("sid", string(s.ID)).Msg("ping failed")
		}
	}
}
