// Package mixer accumulates per-voice mono blocks into a stereo image
// with ramped panning and writes saturated 16-bit frames.
package mixer

import (
	"github.com/cbegin/sausyn-go/internal/ramp"
)

// Mixer holds one DSP block of stereo accumulation state.
type Mixer struct {
	l, r  []float64
	pan   []float64
	scale float64
	srate uint32
}

func New(blockLen int, srate uint32) *Mixer {
	return &Mixer{
		l:     make([]float64, blockLen),
		r:     make([]float64, blockLen),
		pan:   make([]float64, blockLen),
		scale: 1,
		srate: srate,
	}
}

// SetScale sets the output gain; 1/voice-count when the program asks
// for amplitude division by voices.
func (m *Mixer) SetScale(s float64) { m.scale = s }

// Clear zeroes the accumulation buffers for the next block.
func (m *Mixer) Clear() {
	for i := range m.l {
		m.l[i] = 0
		m.r[i] = 0
	}
}

// Add mixes n mono samples with the voice's pan ramp: 0 is full left,
// 1 full right, 0.5 center.
func (m *Mixer) Add(mono []float64, n int, pan *ramp.Ramp, panPos *uint32) {
	pb := m.pan[:n]
	pan.Run(m.srate, pb, panPos, nil)
	for i := 0; i < n; i++ {
		s := mono[i]
		p := pb[i]
		m.l[i] += s * (1 - p)
		m.r[i] += s * p
	}
}

// Write converts n accumulated frames to interleaved int16 with
// saturation and clears nothing; call Clear before the next block.
func (m *Mixer) Write(out []int16, n int) {
	for i := 0; i < n; i++ {
		out[i*2] = clip16(m.l[i] * m.scale)
		out[i*2+1] = clip16(m.r[i] * m.scale)
	}
}

func clip16(v float64) int16 {
	v *= 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
