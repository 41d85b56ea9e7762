package osc

import "math"

// Tables for the oscillator: one plain lookup table per wave, plus a
// pre-integrated table (PILUT) whose differentiation yields
// band-limited samples.

// SLEN is the table length; a power of two so phase upper bits index
// directly.
const (
	SLEN     = 1024
	slenMask = SLEN - 1
)

// Wave indexes the built-in wave set.
type Wave uint8

const (
	WaveSin Wave = iota
	WaveTri
	WaveSqr
	WaveSaw
	WaveAhs
	WaveHrs
	WaveSrs
	WaveSzh
	WaveShh
	WaveSsr
	WaveNoise
	waveCount
)

var waveNames = [waveCount]string{
	"sin", "tri", "sqr", "saw", "ahs", "hrs", "srs", "szh", "shh", "ssr", "noise",
}

// WaveByName resolves a script wave name.
func WaveByName(name string) (Wave, bool) {
	for i, n := range waveNames {
		if n == name {
			return Wave(i), true
		}
	}
	return 0, false
}

func (w Wave) String() string {
	if int(w) < len(waveNames) {
		return waveNames[w]
	}
	return "?"
}

// WaveTab holds one wave's lookup tables. The pre-integrated table
// stores the running integral of the mean-removed wave in table-index
// units; differentiating between two positions and adding DiffOffset
// (the removed mean) recovers an average-band-limited sample.
type WaveTab struct {
	LUT        [SLEN]float64
	PILUT      [SLEN + 1]float64
	DiffOffset float64
}

var tabs [waveCount]WaveTab

func init() {
	for w := WaveSin; w < WaveNoise; w++ {
		buildTab(&tabs[w], waveFunc(w))
	}
}

// Tab returns the shared table for a wave. The noise wave has no
// table; callers must special-case it.
func Tab(w Wave) *WaveTab {
	return &tabs[w]
}

func buildTab(t *WaveTab, f func(x float64) float64) {
	var mean float64
	for i := 0; i < SLEN; i++ {
		v := f(float64(i) / SLEN)
		t.LUT[i] = v
		mean += v
	}
	mean /= SLEN
	t.DiffOffset = mean
	// Trapezoidal running integral of the mean-removed wave, so the
	// table closes on itself and phase wrap needs no special case.
	acc := 0.0
	t.PILUT[0] = 0
	for i := 0; i < SLEN; i++ {
		next := t.LUT[(i+1)&slenMask] - mean
		cur := t.LUT[i] - mean
		acc += (cur + next) / 2
		t.PILUT[i+1] = acc
	}
	// Spread any residual drift so PILUT[SLEN] is exactly zero.
	drift := acc / SLEN
	for i := 1; i <= SLEN; i++ {
		t.PILUT[i] -= drift * float64(i)
	}
}

// waveFunc returns the ideal shape on [0,1). Shapes beyond the four
// classics are stated here as formulas; all are bounded to [-1,1].
func waveFunc(w Wave) func(x float64) float64 {
	switch w {
	case WaveTri:
		return func(x float64) float64 { return 1 - 4*math.Abs(x-0.5) }
	case WaveSqr:
		return func(x float64) float64 {
			if x < 0.5 {
				return 1
			}
			return -1
		}
	case WaveSaw:
		return func(x float64) float64 { return 1 - 2*x }
	case WaveAhs:
		// absolute sine at half frequency, recentred
		return func(x float64) float64 { return 2*math.Sin(math.Pi*x) - 1 }
	case WaveHrs:
		// half-rectified sine, recentred
		return func(x float64) float64 {
			return 2*math.Max(math.Sin(2*math.Pi*x), 0) - 1
		}
	case WaveSrs:
		// square root of sine, sign preserved
		return func(x float64) float64 {
			s := math.Sin(2 * math.Pi * x)
			return math.Copysign(math.Sqrt(math.Abs(s)), s)
		}
	case WaveSzh:
		// squeezed sine: sin scaled by its own magnitude
		return func(x float64) float64 {
			s := math.Sin(2 * math.Pi * x)
			return s * math.Abs(s)
		}
	case WaveShh:
		// squeezed half-rectified sine, recentred
		return func(x float64) float64 {
			s := math.Max(math.Sin(2*math.Pi*x), 0)
			return 2*s*s - 1
		}
	case WaveSsr:
		// square root of half-rectified sine, recentred
		return func(x float64) float64 {
			return 2*math.Sqrt(math.Max(math.Sin(2*math.Pi*x), 0)) - 1
		}
	default:
		return func(x float64) float64 { return math.Sin(2 * math.Pi * x) }
	}
}

// lutAt linearly interpolates the plain table at a 32-bit phase.
func (t *WaveTab) lutAt(phase uint32) float64 {
	idx := phase >> (32 - 10) // top bits select the table slot
	frac := float64(phase&((1<<22)-1)) / (1 << 22)
	a := t.LUT[idx&slenMask]
	b := t.LUT[(idx+1)&slenMask]
	return a + (b-a)*frac
}

// pilutAt interpolates the integral table, in table-index units.
func (t *WaveTab) pilutAt(phase uint32) float64 {
	idx := phase >> (32 - 10)
	frac := float64(phase&((1<<22)-1)) / (1 << 22)
	a := t.PILUT[idx&slenMask]
	b := t.PILUT[(idx&slenMask)+1]
	return a + (b-a)*frac
}
