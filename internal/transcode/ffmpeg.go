// Package transcode runs the external transcoding process that turns
// arbitrary encoded audio (webm/ogg opus from browser recorders) into
// raw single-channel PCM suitable for recognition.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Config describes the transcoding process to spawn.
type Config struct {
	// Path is the transcoder binary, "ffmpeg" by default.
	Path string
	// SampleRate of the PCM output, 48000 by default.
	SampleRate int
	// Args overrides the default ffmpeg argument set. Only useful for
	// tuning or for substituting the binary in tests.
	Args []string
}

// Opener spawns transcoding processes.
type Opener struct {
	cfg Config
}

func NewOpener(cfg Config) *Opener {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	return &Opener{cfg: cfg}
}

func (o *Opener) defaultArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(o.cfg.SampleRate),
		"pipe:1",
	}
}

// Open starts a transcoding process. Its stdin is the append-only input
// sink, its stdout emits PCM. The process lifetime is bound to ctx.
func (o *Opener) Open(ctx context.Context) (*Process, error) {
	args := o.cfg.Args
	if args == nil {
		args = o.defaultArgs()
	}

	cmd := exec.CommandContext(ctx, o.cfg.Path, args...)
	// Own the whole process tree so cancellation cannot leak children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("transcode: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transcode: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transcode: start %s: %w", o.cfg.Path, err)
	}
	log.Info().Str("module", "transcode").Str("bin", o.cfg.Path).Int("pid", cmd.Process.Pid).Msg("transcoder started")

	p := &Process{cmd: cmd, stdin: stdin, stdout: stdout}
	go p.wait()
	return p, nil
}

// Process is one live transcoding child. Write feeds the input sink,
// Read drains the PCM output.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	mu       sync.Mutex
	inClosed bool
}

func (p *Process) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inClosed {
		return 0, io.ErrClosedPipe
	}
	return p.stdin.Write(b)
}

func (p *Process) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// CloseInput signals end-of-input; the process drains and exits on its
// own. Idempotent.
func (p *Process) CloseInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inClosed {
		return nil
	}
	p.inClosed = true
	return p.stdin.Close()
}

// Close tears the process down without waiting for it to drain.
func (p *Process) Close() {
	_ = p.CloseInput()
	if p.cmd.Process != nil {
		_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
	}
}

// wait reaps the child and logs its lifecycle. Transcoder exits never
// tear down the audio session by themselves.
func (p *Process) wait() {
	err := p.cmd.Wait()
	switch {
	case err == nil:
		log.Info().Str("module", "transcode").Msg("transcoder finished")
	case errors.Is(err, context.Canceled):
		log.Info().Str("module", "transcode").Msg("transcoder canceled")
	default:
		log.Warn().Str("module", "transcode").Err(err).Msg("transcoder exited with error")
	}
}
