// Package osc provides the phase-accumulator oscillator: a 32-bit
// phase that wraps over a full cycle, driven by per-sample increment
// and offset buffers, sampling either a plain wave table or the
// pre-integrated table for band-limited output.
package osc

import "math"

const phaseScale = float64(1 << 32)

// Phasor converts per-sample frequency and phase-modulation buffers
// into phase increments and offsets.
type Phasor struct {
	Coeff float64 // 2^32 / srate
}

func NewPhasor(srate uint32) Phasor {
	return Phasor{Coeff: phaseScale / float64(srate)}
}

// Fill computes pinc[i] from freq and, when pofs and pm are non-nil,
// pofs[i] from pm in normalized turns. Negative frequencies wrap into
// backward phase steps.
func (p Phasor) Fill(pinc, pofs []uint32, freq, pm []float64) {
	for i := range pinc {
		pinc[i] = uint32(int64(math.Round(p.Coeff * freq[i])))
	}
	if pofs == nil {
		return
	}
	if pm == nil {
		for i := range pofs {
			pofs[i] = 0
		}
		return
	}
	for i := range pofs {
		pofs[i] = uint32(int64(math.Round(pm[i] * phaseScale)))
	}
}

const noiseSeed = 0x9E3779B9

// Osc is one operator's oscillator state.
type Osc struct {
	tab   *WaveTab
	wave  Wave
	phase uint32

	// pre-integrated path state
	prevPhase uint32
	prevI     float64
	prevOut   float64
	reset     bool

	naive bool
	noise uint32
}

func New(wave Wave) Osc {
	o := Osc{}
	o.SetWave(wave)
	return o
}

// SetWave selects the wave table and schedules a state reseed.
func (o *Osc) SetWave(w Wave) {
	o.wave = w
	if w != WaveNoise {
		o.tab = Tab(w)
	}
	o.reset = true
}

func (o *Osc) Wave() Wave { return o.wave }

// SetPhase positions the accumulator, phase in normalized turns.
func (o *Osc) SetPhase(p float64) {
	o.phase = uint32(int64(math.Round(p * phaseScale)))
	o.reset = true
}

// SetNaive switches to plain interpolated lookup, skipping the
// pre-integrated path.
func (o *Osc) SetNaive(naive bool) { o.naive = naive }

// Run advances the phase by pinc[i] (+pofs[i] as a transient offset)
// and writes carrier samples scaled by amp. layer > 0 adds into out so
// sibling carriers sum; layer 0 assigns.
func (o *Osc) Run(out []float64, layer int, pinc, pofs []uint32, amp []float64) {
	for i := range out {
		o.phase += pinc[i]
		pos := o.phase
		if pofs != nil {
			pos += pofs[i]
		}
		s := o.sample(pos, pinc[i]) * amp[i]
		if layer > 0 {
			out[i] += s
		} else {
			out[i] = s
		}
	}
}

// RunEnv is Run in envelope mode: samples are shifted into [0, amp],
// the form modulator mixes expect.
func (o *Osc) RunEnv(out []float64, layer int, pinc, pofs []uint32, amp []float64) {
	for i := range out {
		o.phase += pinc[i]
		pos := o.phase
		if pofs != nil {
			pos += pofs[i]
		}
		s := (1 + o.sample(pos, pinc[i])) * 0.5 * amp[i]
		if layer > 0 {
			out[i] += s
		} else {
			out[i] = s
		}
	}
}

func (o *Osc) sample(pos, inc uint32) float64 {
	if o.wave == WaveNoise {
		// Extension point: deterministic xorshift32 stream, no table.
		if o.reset {
			o.noise = noiseSeed
			o.reset = false
		}
		x := o.noise
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		o.noise = x
		return float64(int32(x)) / float64(1<<31)
	}
	if o.naive {
		return o.tab.lutAt(pos)
	}
	if o.reset {
		// Seed the differential state one step back so the first
		// sample is well-defined even at zero frequency.
		o.prevPhase = pos - inc
		o.prevI = o.tab.pilutAt(o.prevPhase)
		o.prevOut = o.tab.lutAt(o.prevPhase)
		o.reset = false
	}
	diff := pos - o.prevPhase
	if diff == 0 {
		return o.prevOut
	}
	curI := o.tab.pilutAt(pos)
	dx := float64(diff) * (SLEN / phaseScale)
	outv := (curI-o.prevI)/dx + o.tab.DiffOffset
	o.prevPhase = pos
	o.prevI = curI
	o.prevOut = outv
	return outv
}
