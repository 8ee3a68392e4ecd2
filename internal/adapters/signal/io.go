package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/app"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/protocol"
)

// writePump owns the socket's write side and its final close. Frames
// queued before teardown are flushed before the socket goes away.
func (ctl *Controller) writePump(ctx context.Context, c *WsConn) {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.drain()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// drain writes out frames still queued at teardown, stopping at the
// first failure.
func (c *WsConn) drain() {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(controlWriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sess *app.ClientSession, c *WsConn) {
	sid := sess.ID
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.limiter.Forget(sid)
		ctl.Orch.Disconnect(c)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			msgType, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				ctl.Orch.HandleAudioFrame(c, data)
			case websocket.TextMessage:
				ctl.handleControl(ctx, sid, c, data)
			}
		}
	}
}

func (ctl *Controller) handleControl(ctx context.Context, sid core.SessionID, c *WsConn, data []byte) {
	if !ctl.limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("control message rate exceeded")
		return
	}

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		_ = c.TrySend(protocol.Error("Malformed message"))
		return
	}

	switch env.Type {
	case protocol.TypeStart:
		p, err := protocol.DecodeStart(env.Payload)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad Start payload")
			_ = c.TrySend(protocol.Error("Malformed message"))
			return
		}
		ctl.Orch.HandleStart(ctx, c, p)
	case protocol.TypeAnswer:
		p, err := protocol.DecodeAnswer(env.Payload)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad Answer payload")
			_ = c.TrySend(protocol.Error("Malformed message"))
			return
		}
		if p.Answer.Type != "" && p.Answer.Type != webrtc.SDPTypeAnswer.String() {
			log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", p.Answer.Type).Msg("unexpected description type")
		}
		ctl.Orch.HandleAnswer(c, p)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("unknown signal")
		_ = c.TrySend(protocol.Error("Unknown message type"))
	}
}
