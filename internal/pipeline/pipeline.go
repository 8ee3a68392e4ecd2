// Package pipeline owns the per-session audio path: an append-only input
// sink feeding a transcoding process whose PCM output is pumped into a
// rotating recognition stream. The transcoder lives for the whole session;
// only the recognition leg is replaced on rotation, so provider stream
// duration limits never interrupt the audio flow.
package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaustavdm/audio-transcript-webrtc/internal/core"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/metrics"
	"github.com/kaustavdm/audio-transcript-webrtc/internal/recognize"
)

// Transcoder is the transcoding collaborator: Write appends encoded audio
// to the input sink, Read drains normalized PCM.
type Transcoder interface {
	io.Writer
	io.Reader
	// CloseInput signals end-of-input. Idempotent.
	CloseInput() error
	// Close tears the collaborator down.
	Close()
}

// OpenTranscoder spawns the transcoding collaborator for one pipeline.
type OpenTranscoder func(ctx context.Context) (Transcoder, error)

// Config tunes one pipeline.
type Config struct {
	// RotationInterval is how often the recognition stream is replaced.
	// It must sit well inside the provider's maximum stream duration.
	RotationInterval time.Duration
	// ReadChunk is the PCM pump buffer size.
	ReadChunk int
}

// Pipeline is the audio pipeline controller for a single session.
type Pipeline struct {
	sid      core.SessionID
	username string
	cfg      Config
	logger   zerolog.Logger

	openTranscoder OpenTranscoder
	streams        recognize.Opener
	publish        func(core.Transcript)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	transcoder Transcoder
	current    recognize.Stream
	streamID   string
	openedAt   time.Time
	stopped    bool
}

func New(sid core.SessionID, username string, cfg Config, ot OpenTranscoder, streams recognize.Opener, publish func(core.Transcript), logger zerolog.Logger) *Pipeline {
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = 50 * time.Second
	}
	if cfg.ReadChunk <= 0 {
		cfg.ReadChunk = 4096
	}
	return &Pipeline{
		sid:            sid,
		username:       username,
		cfg:            cfg,
		logger:         logger.With().Str("module", "pipeline").Str("sid", string(sid)).Logger(),
		openTranscoder: ot,
		streams:        streams,
		publish:        publish,
	}
}

// Start opens the transcoder and the initial recognition stream and wires
// the transcoder's output into it. If either collaborator fails the
// pipeline is not created and the error is returned.
func (p *Pipeline) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	tc, err := p.openTranscoder(ctx)
	if err != nil {
		cancel()
		return err
	}

	stream, err := p.streams.OpenStream(ctx)
	if err != nil {
		tc.Close()
		cancel()
		return err
	}

	p.mu.Lock()
	p.ctx, p.cancel = ctx, cancel
	p.transcoder = tc
	p.current = stream
	p.streamID = uuid.NewString()
	p.openedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info().Str("stream_id", p.streamID).Msg("pipeline started")

	p.consume(stream, p.streamID)

	p.wg.Add(2)
	go p.pumpLoop(tc)
	go p.rotateLoop()
	return nil
}

// Feed appends raw audio bytes to the pipeline's input sink.
func (p *Pipeline) Feed(b []byte) error {
	p.mu.Lock()
	tc := p.transcoder
	stopped := p.stopped
	p.mu.Unlock()
	if stopped || tc == nil {
		return io.ErrClosedPipe
	}
	_, err := tc.Write(b)
	if err == nil {
		metrics.AudioBytesIn.Add(float64(len(b)))
	}
	return err
}

// Stop signals end-of-input to the transcoder, ends the current
// recognition stream and cancels the rotation timer. Idempotent; always
// wins over an in-flight rotation.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	tc := p.transcoder
	cur := p.current
	p.current = nil
	p.mu.Unlock()

	if tc != nil {
		_ = tc.CloseInput()
	}
	if cur != nil {
		_ = cur.Close()
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if tc != nil {
		tc.Close()
	}
	p.logger.Info().Msg("pipeline stopped")
}

// rotate replaces the recognition stream. The new stream is installed
// under the pipeline lock before the old one is retired, so every PCM
// byte the pump delivers lands in exactly one stream.
func (p *Pipeline) rotate() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	old := p.current
	oldID := p.streamID
	age := time.Since(p.openedAt)

	next, err := p.streams.OpenStream(p.ctx)
	if err != nil {
		// Degrade silently: the old stream still gets closed below so it
		// cannot outlive the provider limit; the next tick retries.
		p.current = nil
		p.mu.Unlock()
		metrics.RotationFailures.Inc()
		p.logger.Error().Err(err).Str("stream_id", oldID).Msg("rotation failed to open new stream")
	} else {
		p.current = next
		p.streamID = uuid.NewString()
		p.openedAt = time.Now()
		newID := p.streamID
		p.mu.Unlock()
		metrics.StreamRotations.Inc()
		p.consume(next, newID)
		p.logger.Info().
			Str("old_stream_id", oldID).
			Str("stream_id", newID).
			Dur("stream_age", age).
			Msg("rotated recognition stream")
	}

	if old != nil {
		_ = old.Close()
	}
}

// pumpLoop moves PCM from the transcoder output to whichever recognition
// stream is current. Holding the lock across Send means rotation can
// never race a delivery: a chunk goes wholly to the old stream or wholly
// to the new one.
func (p *Pipeline) pumpLoop(tc Transcoder) {
	defer p.wg.Done()
	buf := make([]byte, p.cfg.ReadChunk)
	for {
		n, err := tc.Read(buf)
		if n > 0 {
			p.deliver(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Warn().Err(err).Msg("transcoder output closed")
			}
			return
		}
	}
}

func (p *Pipeline) deliver(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.current == nil {
		// Degraded: no live recognition stream. Audio keeps flowing for
		// the call itself; transcription of this chunk is lost.
		return
	}
	if err := p.current.Send(b); err != nil {
		p.logger.Warn().Err(err).Str("stream_id", p.streamID).Msg("recognition send failed")
	}
}

func (p *Pipeline) rotateLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.RotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.rotate()
		}
	}
}

// consume forwards one stream's results until that stream ends. Results
// are forwarded in arrival order, isFinal untouched.
func (p *Pipeline) consume(s recognize.Stream, streamID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for r := range s.Results() {
			p.publish(core.Transcript{
				SessionID: p.sid,
				Username:  p.username,
				Text:      r.Transcript,
				IsFinal:   r.IsFinal,
				Timestamp: time.Now(),
			})
		}
		p.logger.Debug().Str("stream_id", streamID).Msg("recognition stream ended")
	}()
}
