package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/metrics"
)

// Registry owns the map from channel identity to client session. It is
// the only structure touched by multiple sessions' logic concurrently.
type Registry struct {
	mu     sync.RWMutex
	seq    uint64
	byConn map[core.SignalConnection]*ClientSession
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[core.SignalConnection]*ClientSession),
	}
}

// Register creates a session for a channel, assigning the next identifier
// in sequence. Re-registering a known channel is idempotent and returns
// the existing session.
func (r *Registry) Register(ctx context.Context, conn core.SignalConnection) *ClientSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byConn[conn]; ok {
		return s
	}
	r.seq++
	id := core.SessionID(fmt.Sprintf("member_%d", r.seq))
	s := newClientSession(ctx, id, conn)
	r.byConn[conn] = s
	metrics.ActiveSessions.Set(float64(len(r.byConn)))
	log.Info().Str("module", "app.registry").Str("sid", string(id)).Msg("registered session")
	return s
}

func (r *Registry) Lookup(conn core.SignalConnection) (*ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[conn]
	return s, ok
}

// Deregister removes the channel's session and releases its media handle
// and pipeline before returning. Unknown channels and repeated calls are
// no-ops; the single teardown is guaranteed by ClientSession.Close.
func (r *Registry) Deregister(conn core.SignalConnection) {
	r.mu.Lock()
	s, ok := r.byConn[conn]
	delete(r.byConn, conn)
	metrics.ActiveSessions.Set(float64(len(r.byConn)))
	r.mu.Unlock()
	if !ok {
		return
	}
	s.Close()
	log.Info().Str("module", "app.registry").Str("sid", string(s.ID)).Msg("deregistered session")
}

// Snapshot returns the currently registered sessions.
func (r *Registry) Snapshot() []*ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ClientSession, 0, len(r.byConn))
	for _, s := range r.byConn {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
