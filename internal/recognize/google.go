package recognize

import (
	"context"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config holds the recognition parameters sent with each stream.
type Config struct {
	SampleRate     int
	Language       string
	InterimResults bool
}

// Google implements Opener on Google Cloud Speech streaming recognition.
type Google struct {
	client *speech.Client
	cfg    Config
}

func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return &Google{client: client, cfg: cfg}, nil
}

func (g *Google) Close() error {
	return g.client.Close()
}

// OpenStream starts a streaming recognition session. The configuration
// request is sent before any audio, per the provider contract.
func (g *Google) OpenStream(ctx context.Context) (Stream, error) {
	sc, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}

	err = sc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(g.cfg.SampleRate),
					LanguageCode:    g.cfg.Language,
				},
				InterimResults: g.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		_ = sc.CloseSend()
		return nil, err
	}

	s := &googleStream{sc: sc, results: make(chan Result, 16)}
	go s.recvLoop()
	return s, nil
}

type googleStream struct {
	sc      speechpb.Speech_StreamingRecognizeClient
	results chan Result

	mu     sync.Mutex
	closed bool
}

func (s *googleStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	return s.sc.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: pcm,
		},
	})
}

func (s *googleStream) Results() <-chan Result {
	return s.results
}

func (s *googleStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sc.CloseSend()
}

func (s *googleStream) recvLoop() {
	defer close(s.results)
	for {
		resp, err := s.sc.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			switch status.Code(err) {
			case codes.OutOfRange:
				// Provider's maximum stream duration elapsed. The
				// rotation path replaces the stream; nothing to do here.
				log.Debug().Msg("recognition stream hit provider duration limit")
			case codes.Canceled:
			default:
				log.Error().Err(err).Msg("recognition stream receive error")
			}
			return
		}
		for _, res := range resp.GetResults() {
			alts := res.GetAlternatives()
			if len(alts) == 0 {
				continue
			}
			s.results <- Result{Transcript: alts[0].GetTranscript(), IsFinal: res.GetIsFinal()}
		}
	}
}
