package sausyn

import (
	"errors"
	"io"
	"sync"

	intaudio "github.com/cbegin/sausyn-go/internal/audio"
	intgen "github.com/cbegin/sausyn-go/internal/generator"
	intprog "github.com/cbegin/sausyn-go/internal/program"
)

// PlayerOption configures a Player.
type PlayerOption func(*playerConfig)

type playerConfig struct {
	diag      io.Writer
	sampleTap func([]float32)
}

// WithDiagnostics routes script and runtime warnings to w.
func WithDiagnostics(w io.Writer) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.diag = w
	}
}

// WithSampleTap installs a callback invoked with each generated stereo
// buffer. It runs on the audio thread; keep work brief.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

// Player renders a script through the system audio device.
type Player struct {
	mu         sync.Mutex
	sampleRate int
	diag       io.Writer
	sampleTap  func([]float32)
	audio      *intaudio.Player
	done       chan struct{}
}

// NewPlayer prepares a realtime player at sampleRate.
func NewPlayer(sampleRate int, opts ...PlayerOption) (*Player, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sampleRate must be positive")
	}
	cfg := playerConfig{diag: io.Discard}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Player{
		sampleRate: sampleRate,
		diag:       cfg.diag,
		sampleTap:  cfg.sampleTap,
	}, nil
}

// PlayScript compiles text and starts playback.
func (p *Player) PlayScript(name, text string) error {
	prog, err := CompileString(name, text, p.diag)
	if err != nil {
		return err
	}
	return p.PlayProgram(prog)
}

// PlayProgram starts playback of an already-built program.
func (p *Player) PlayProgram(prog *intprog.Program) error {
	gen, err := intgen.New(prog, uint32(p.sampleRate), p.diag)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio != nil {
		p.audio.Stop()
	}
	done := make(chan struct{})
	reader := intaudio.NewStreamReader(gen, p.sampleTap, func() { close(done) })
	ap, err := intaudio.NewPlayer(p.sampleRate, reader)
	if err != nil {
		return err
	}
	p.audio = ap
	p.done = done
	ap.Play()
	return nil
}

// Wait blocks until the current playback has produced its last frame.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Stop halts playback.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audio == nil {
		return nil
	}
	err := p.audio.Stop()
	p.audio = nil
	return err
}
