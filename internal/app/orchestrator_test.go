package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/protocol"
)

func decodeFrame(t *testing.T, f core.Frame) protocol.Envelope {
	t.Helper()
	env, err := protocol.ParseEnvelope(f)
	if err != nil {
		t.Fatalf("Frame is not a valid envelope: %v", err)
	}
	return env
}

func errorPayload(t *testing.T, env protocol.Envelope) string {
	t.Helper()
	var msg string
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		t.Fatalf("Error payload decode: %v", err)
	}
	return msg
}

func startSession(t *testing.T, orch *Orchestrator, conn *fakeConn, username string) *ClientSession {
	t.Helper()
	sess := orch.Connect(context.Background(), conn)
	orch.HandleStart(context.Background(), conn, protocol.StartPayload{Username: username, SDP: "v=0\r\n"})
	return sess
}

func TestStartSendsExactlyOneOffer(t *testing.T) {
	orch, _, _ := newTestOrchestrator()
	conn := &fakeConn{}
	sess := startSession(t, orch, conn, "alice")

	frames := conn.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame after Start, got %d", len(frames))
	}
	env := decodeFrame(t, frames[0])
	if env.Type != protocol.TypeOffer {
		t.Errorf("Expected Offer frame, got %q", env.Type)
	}
	if st := sess.State(); st != StateOfferSent {
		t.Errorf("Expected OFFER_SENT, got %v", st)
	}
}

func TestStartTwiceRejected(t *testing.T) {
	orch, _, _ := newTestOrchestrator()
	conn := &fakeConn{}
	sess := startSession(t, orch, conn, "alice")

	orch.HandleStart(context.Background(), conn, protocol.StartPayload{Username: "alice", SDP: "v=0\r\n"})

	frames := conn.sentFrames()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	env := decodeFrame(t, frames[1])
	if env.Type != protocol.TypeError {
		t.Errorf("Expected Error frame, got %q", env.Type)
	}
	if st := sess.State(); st != StateOfferSent {
		t.Errorf("Duplicate Start must not change state, got %v", st)
	}
}

func TestAnswerBeforeStartIsInvalidPeer(t *testing.T) {
	orch, _, _ := newTestOrchestrator()
	conn := &fakeConn{}
	sess := orch.Connect(context.Background(), conn)

	orch.HandleAnswer(conn, protocol.AnswerPayload{
		Username: "alice",
		Answer:   protocol.SessionDescription{Type: "answer", SDP: "v=0\r\n"},
	})

	frames := conn.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	env := decodeFrame(t, frames[0])
	if env.Type != protocol.TypeError {
		t.Fatalf("Expected Error frame, got %q", env.Type)
	}
	if msg := errorPayload(t, env); msg != "Invalid peer" {
		t.Errorf("Expected %q, got %q", "Invalid peer", msg)
	}
	if st := sess.State(); st != StateNew {
		t.Errorf("Rejected answer must not change state, got %v", st)
	}
}

func TestAnswerWrongUsernameIsInvalidPeer(t *testing.T) {
	orch, _, _ := newTestOrchestrator()
	conn := &fakeConn{}
	sess := startSession(t, orch, conn, "alice")

	orch.HandleAnswer(conn, protocol.AnswerPayload{
		Username: "mallory",
		Answer:   protocol.SessionDescription{Type: "answer", SDP: "v=0\r\n"},
	})

	frames := conn.sentFrames()
	env := decodeFrame(t, frames[len(frames)-1])
	if env.Type != protocol.TypeError {
		t.Fatalf("Expected Error frame, got %q", env.Type)
	}
	if msg := errorPayload(t, env); msg != "Invalid peer" {
		t.Errorf("Expected %q, got %q", "Invalid peer", msg)
	}
	if st := sess.State(); st != StateOfferSent {
		t.Errorf("Expected OFFER_SENT preserved, got %v", st)
	}
}

func TestAnswerActivatesSessionAndPipeline(t *testing.T) {
	orch, _, streams := newTestOrchestrator()
	conn := &fakeConn{}
	sess := startSession(t, orch, conn, "alice")

	orch.HandleAnswer(conn, protocol.AnswerPayload{
		Username: "alice",
		Answer:   protocol.SessionDescription{Type: "answer", SDP: "v=0\r\n"},
	})

	if st := sess.State(); st != StateActive {
		t.Fatalf("Expected ACTIVE, got %v", st)
	}
	if n := streams.count(); n != 1 {
		t.Errorf("Expected 1 recognition stream, got %d", n)
	}

	orch.Disconnect(conn)
	if st := sess.State(); st != StateClosed {
		t.Errorf("Expected CLOSED after disconnect, got %v", st)
	}
}

func TestNegotiationFailureReportsAndCloses(t *testing.T) {
	orch, eng, _ := newTestOrchestrator()
	eng.openErr = errFake
	conn := &fakeConn{}
	sess := startSession(t, orch, conn, "alice")

	frames := conn.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	env := decodeFrame(t, frames[0])
	if env.Type != protocol.TypeError {
		t.Errorf("Expected Error frame, got %q", env.Type)
	}
	if st := sess.State(); st != StateClosed {
		t.Errorf("Expected CLOSED after negotiation failure, got %v", st)
	}
	if _, ok := orch.Registry.Lookup(conn); ok {
		t.Error("Expected session deregistered after negotiation failure")
	}
}

func TestOfferFailureReportsAndCloses(t *testing.T) {
	orch, _, _ := newTestOrchestrator()
	orch.Engine = &failingOfferEngine{}
	conn := &fakeConn{}
	sess := orch.Connect(context.Background(), conn)

	orch.HandleStart(context.Background(), conn, protocol.StartPayload{Username: "alice", SDP: "v=0\r\n"})

	frames := conn.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	env := decodeFrame(t, frames[0])
	if env.Type != protocol.TypeError {
		t.Errorf("Expected Error frame, got %q", env.Type)
	}
	if st := sess.State(); st != StateClosed {
		t.Errorf("Expected CLOSED after offer failure, got %v", st)
	}
}

type failingOfferEngine struct{}

func (e *failingOfferEngine) OpenSession(ctx context.Context, sid core.SessionID, capabilitySDP string, planB bool) (core.MediaSession, error) {
	return &fakeMedia{offerErr: errFake}, nil
}

func TestAudioFrameBeforeActiveIsDropped(t *testing.T) {
	orch, _, streams := newTestOrchestrator()
	conn := &fakeConn{}
	startSession(t, orch, conn, "alice")

	orch.HandleAudioFrame(conn, []byte{1, 2, 3})

	if n := streams.count(); n != 0 {
		t.Errorf("Expected no recognition stream before activation, got %d", n)
	}
}

func TestRenegotiationReentersOfferSent(t *testing.T) {
	orch, eng, _ := newTestOrchestrator()
	conn := &fakeConn{}
	sess := startSession(t, orch, conn, "alice")
	orch.HandleAnswer(conn, protocol.AnswerPayload{
		Username: "alice",
		Answer:   protocol.SessionDescription{Type: "answer", SDP: "v=0\r\n"},
	})
	if st := sess.State(); st != StateActive {
		t.Fatalf("Expected ACTIVE, got %v", st)
	}
	before := len(conn.sentFrames())

	eng.last().fireRenegotiation()

	frames := conn.sentFrames()
	if len(frames) != before+1 {
		t.Fatalf("Expected 1 new frame, got %d", len(frames)-before)
	}
	env := decodeFrame(t, frames[len(frames)-1])
	if env.Type != protocol.TypeOffer {
		t.Errorf("Expected Offer frame, got %q", env.Type)
	}
	if st := sess.State(); st != StateOfferSent {
		t.Errorf("Expected OFFER_SENT after renegotiation, got %v", st)
	}
}

func TestRenegotiationBeforeActiveIsCoalesced(t *testing.T) {
	orch, eng, _ := newTestOrchestrator()
	conn := &fakeConn{}
	sess := startSession(t, orch, conn, "alice")
	before := len(conn.sentFrames())

	eng.last().fireRenegotiation()

	if got := len(conn.sentFrames()); got != before {
		t.Errorf("Expected no new frame before activation, got %d extra", got-before)
	}
	if st := sess.State(); st != StateOfferSent {
		t.Errorf("Expected OFFER_SENT, got %v", st)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	orch, eng, _ := newTestOrchestrator()
	conn := &fakeConn{}
	startSession(t, orch, conn, "alice")
	media := eng.last()

	orch.Disconnect(conn)
	orch.Disconnect(conn)

	if n := media.closeCount(); n != 1 {
		t.Errorf("Expected exactly 1 media teardown, got %d", n)
	}
	if n := conn.closeCount(); n != 1 {
		t.Errorf("Expected exactly 1 connection close, got %d", n)
	}
}

func TestStaleRenegotiationAfterCloseIgnored(t *testing.T) {
	orch, eng, _ := newTestOrchestrator()
	conn := &fakeConn{}
	startSession(t, orch, conn, "alice")
	media := eng.last()
	orch.Disconnect(conn)
	before := len(conn.sentFrames())

	media.fireRenegotiation()

	if got := len(conn.sentFrames()); got != before {
		t.Errorf("Expected no frame after close, got %d extra", got-before)
	}
}
