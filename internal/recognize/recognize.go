// Package recognize wraps the streaming speech recognition collaborator.
// Streams have a provider-imposed maximum duration; callers are expected
// to replace a stream before that limit via the pipeline's rotation.
package recognize

import "context"

// Result is one recognition event emitted by an active stream.
type Result struct {
	Transcript string
	IsFinal    bool
}

// Stream is a single bounded-duration recognition session. It accepts
// raw PCM input and emits results asynchronously until closed.
type Stream interface {
	// Send writes a chunk of raw PCM audio into the stream.
	Send(pcm []byte) error
	// Results returns the channel of recognition events. The channel is
	// closed when the stream ends, gracefully or not.
	Results() <-chan Result
	// Close ends the stream gracefully. Idempotent.
	Close() error
}

// Opener creates recognition streams.
type Opener interface {
	OpenStream(ctx context.Context) (Stream, error)
}
