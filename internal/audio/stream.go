// Package audio bridges the synthesizer's int16 pull interface to the
// ebitengine audio player, which consumes 32-bit float little-endian
// frames.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// FrameSource is the generator's pull contract: fill buf with up to
// frames interleaved stereo int16 frames, reporting how many were
// produced and whether more signal remains.
type FrameSource interface {
	Run(buf []int16, frames int) (int, bool)
}

// StreamReader pulls PCM from a FrameSource and serves it as the
// float32 byte stream the audio context reads. Once the source reports
// no more signal, the reader delivers the final frames with io.EOF and
// fires the completion callback.
type StreamReader struct {
	mu     sync.Mutex
	src    FrameSource
	pcm    []int16
	fbuf   []float32
	tap    func([]float32)
	onDone func()
	done   bool
}

// NewStreamReader wraps src. tap, when non-nil, observes each
// converted stereo buffer on the audio thread; onDone, when non-nil,
// fires once after the source's last frame.
func NewStreamReader(src FrameSource, tap func([]float32), onDone func()) *StreamReader {
	return &StreamReader{src: src, tap: tap, onDone: onDone}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	if r.done {
		return 0, io.EOF
	}
	need := frames * 2
	if cap(r.pcm) < need {
		r.pcm = make([]int16, need)
		r.fbuf = make([]float32, need)
	}
	pcm := r.pcm[:need]
	fbuf := r.fbuf[:need]
	n, more := r.src.Run(pcm, frames)
	for i := 0; i < n*2; i++ {
		fbuf[i] = float32(pcm[i]) / 32768
	}
	for i := n * 2; i < need; i++ {
		fbuf[i] = 0
	}
	if r.tap != nil {
		r.tap(fbuf)
	}
	for i, v := range fbuf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	if !more {
		r.done = true
		if r.onDone != nil {
			r.onDone()
			r.onDone = nil
		}
		return frames * 8, io.EOF
	}
	return frames * 8, nil
}

// Finished reports whether the source has delivered its last frame.
func (r *StreamReader) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *StreamReader) Close() error { return nil }

// Player plays a StreamReader through the shared audio context.
type Player struct {
	player *ebitaudio.Player
	reader *StreamReader
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

// NewPlayer prepares reader for playback at sampleRate.
func NewPlayer(sampleRate int, reader *StreamReader) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Player{player: pl, reader: reader}, nil
}

func (p *Player) Play()           { p.player.Play() }
func (p *Player) Pause()          { p.player.Pause() }
func (p *Player) IsPlaying() bool { return p.player.IsPlaying() }

// Position returns the playback position the listener actually hears.
func (p *Player) Position() time.Duration { return p.player.Position() }

func (p *Player) Stop() error {
	p.player.Pause()
	p.player.Close()
	return p.reader.Close()
}
