package app

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/pipeline"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/recognize"
)

type fakeConn struct {
	mu      sync.Mutex
	frames  []core.Frame
	pings   int
	closes  int
	sendErr error
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
}

func (c *fakeConn) sentFrames() []core.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

type fakeMedia struct {
	mu          sync.Mutex
	offerErr    error
	answerErr   error
	offers      int
	answers     int
	closes      int
	renegotiate func()
}

func (m *fakeMedia) CreateOffer() (*webrtc.SessionDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offerErr != nil {
		return nil, m.offerErr
	}
	m.offers++
	return &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}, nil
}

func (m *fakeMedia) ApplyAnswer(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answerErr != nil {
		return m.answerErr
	}
	m.answers++
	return nil
}

func (m *fakeMedia) OnRenegotiationNeeded(fn func()) {
	m.mu.Lock()
	m.renegotiate = fn
	m.mu.Unlock()
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
}

func (m *fakeMedia) fireRenegotiation() {
	m.mu.Lock()
	fn := m.renegotiate
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (m *fakeMedia) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type fakeEngine struct {
	mu      sync.Mutex
	openErr error
	media   []*fakeMedia
}

func (e *fakeEngine) OpenSession(ctx context.Context, sid core.SessionID, capabilitySDP string, planB bool) (core.MediaSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openErr != nil {
		return nil, e.openErr
	}
	m := &fakeMedia{}
	e.media = append(e.media, m)
	return m, nil
}

func (e *fakeEngine) last() *fakeMedia {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.media) == 0 {
		return nil
	}
	return e.media[len(e.media)-1]
}

type fakeStream struct {
	mu      sync.Mutex
	data    []byte
	closed  bool
	results chan recognize.Result
}

func newFakeStream() *fakeStream {
	return &fakeStream{results: make(chan recognize.Result, 16)}
}

func (s *fakeStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.data = append(s.data, pcm...)
	return nil
}

func (s *fakeStream) Results() <-chan recognize.Result { return s.results }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.results)
	return nil
}

type fakeStreamOpener struct {
	mu      sync.Mutex
	openErr error
	streams []*fakeStream
}

func (o *fakeStreamOpener) OpenStream(ctx context.Context) (recognize.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.openErr != nil {
		return nil, o.openErr
	}
	s := newFakeStream()
	o.streams = append(o.streams, s)
	return s, nil
}

func (o *fakeStreamOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.streams)
}

type fakeTranscoder struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

func newFakeTranscoder() *fakeTranscoder {
	pr, pw := io.Pipe()
	return &fakeTranscoder{pr: pr, pw: pw}
}

func (t *fakeTranscoder) Write(b []byte) (int, error) { return t.pw.Write(b) }
func (t *fakeTranscoder) Read(b []byte) (int, error)  { return t.pr.Read(b) }
func (t *fakeTranscoder) CloseInput() error           { return t.pw.Close() }
func (t *fakeTranscoder) Close()                      { _ = t.pr.Close() }

var errFake = errors.New("induced failure")

func newTestOrchestrator() (*Orchestrator, *fakeEngine, *fakeStreamOpener) {
	reg := NewRegistry()
	eng := &fakeEngine{}
	streams := &fakeStreamOpener{}
	orch := &Orchestrator{
		Registry: reg,
		Engine:   eng,
		Streams:  streams,
		Transcoder: func(ctx context.Context) (pipeline.Transcoder, error) {
			return newFakeTranscoder(), nil
		},
		Broadcaster: NewBroadcaster(reg),
	}
	return orch, eng, streams
}
