package osc

import (
	"math"
	"testing"
)

const srate = 96000

func runSine(t *testing.T, freq float64, n int, naive bool) []float64 {
	t.Helper()
	ph := NewPhasor(srate)
	o := New(WaveSin)
	o.SetNaive(naive)
	freqs := make([]float64, n)
	amps := make([]float64, n)
	for i := range freqs {
		freqs[i] = freq
		amps[i] = 1
	}
	pinc := make([]uint32, n)
	ph.Fill(pinc, nil, freqs, nil)
	out := make([]float64, n)
	o.Run(out, 0, pinc, nil, amps)
	return out
}

func TestSineMatchesIdeal(t *testing.T) {
	const freq = 440.0
	for _, naive := range []bool{true, false} {
		out := runSine(t, freq, 2048, naive)
		for i, got := range out {
			want := math.Sin(2 * math.Pi * freq * float64(i+1) / srate)
			if math.Abs(got-want) > 0.02 {
				t.Fatalf("naive=%v sample %d = %v, want %v", naive, i, got, want)
			}
		}
	}
}

func TestZeroFreqHoldsValue(t *testing.T) {
	o := New(WaveSin)
	o.SetPhase(0.25)
	n := 64
	pinc := make([]uint32, n)
	amps := make([]float64, n)
	for i := range amps {
		amps[i] = 1
	}
	out := make([]float64, n)
	o.Run(out, 0, pinc, nil, amps)
	for i, v := range out {
		if math.Abs(v-1) > 0.01 {
			t.Fatalf("sample %d = %v, want ~1 (sin at quarter turn)", i, v)
		}
	}
}

func TestLayerAccumulates(t *testing.T) {
	n := 128
	freqs := make([]float64, n)
	amps := make([]float64, n)
	for i := range freqs {
		freqs[i] = 100
		amps[i] = 0.5
	}
	pinc := make([]uint32, n)
	NewPhasor(srate).Fill(pinc, nil, freqs, nil)

	a := New(WaveSin)
	out := make([]float64, n)
	a.Run(out, 0, pinc, nil, amps)
	base := make([]float64, n)
	copy(base, out)

	b := New(WaveSin)
	b.Run(out, 1, pinc, nil, amps)
	for i := range out {
		if math.Abs(out[i]-2*base[i]) > 1e-9 {
			t.Fatalf("layered sample %d = %v, want %v", i, out[i], 2*base[i])
		}
	}
}

func TestEnvModeRange(t *testing.T) {
	n := 4096
	freqs := make([]float64, n)
	amps := make([]float64, n)
	for i := range freqs {
		freqs[i] = 313
		amps[i] = 1
	}
	pinc := make([]uint32, n)
	NewPhasor(srate).Fill(pinc, nil, freqs, nil)
	for w := WaveSin; w < waveCount; w++ {
		o := New(w)
		out := make([]float64, n)
		o.RunEnv(out, 0, pinc, nil, amps)
		// Small overshoot is interpolation error from the integral table.
		for i, v := range out {
			if v < -0.01 || v > 1.01 {
				t.Fatalf("wave %v env sample %d = %v outside [0,1]", w, i, v)
			}
		}
	}
}

func TestPhaseModulationShiftsOutput(t *testing.T) {
	n := 256
	freqs := make([]float64, n)
	amps := make([]float64, n)
	pm := make([]float64, n)
	for i := range freqs {
		freqs[i] = 440
		amps[i] = 1
		pm[i] = 0.25
	}
	pinc := make([]uint32, n)
	pofs := make([]uint32, n)
	ph := NewPhasor(srate)
	ph.Fill(pinc, pofs, freqs, pm)

	plain := New(WaveSin)
	plain.SetNaive(true)
	shifted := New(WaveSin)
	shifted.SetNaive(true)
	a := make([]float64, n)
	b := make([]float64, n)
	plain.Run(a, 0, pinc, nil, amps)
	shifted.Run(b, 0, pinc, pofs, amps)
	// A quarter-turn PM of a sine is a cosine.
	for i := range b {
		phase := 2 * math.Pi * 440 * float64(i+1) / srate
		if math.Abs(b[i]-math.Cos(phase)) > 0.02 {
			t.Fatalf("pm sample %d = %v, want %v", i, b[i], math.Cos(phase))
		}
		if math.Abs(a[i]-math.Sin(phase)) > 0.02 {
			t.Fatalf("plain sample %d = %v, want %v", i, a[i], math.Sin(phase))
		}
	}
}

func TestAllWavesBounded(t *testing.T) {
	n := 8192
	freqs := make([]float64, n)
	amps := make([]float64, n)
	for i := range freqs {
		freqs[i] = 997
		amps[i] = 1
	}
	pinc := make([]uint32, n)
	NewPhasor(srate).Fill(pinc, nil, freqs, nil)
	for w := WaveSin; w < waveCount; w++ {
		o := New(w)
		out := make([]float64, n)
		o.Run(out, 0, pinc, nil, amps)
		for i, v := range out {
			if math.IsNaN(v) || math.Abs(v) > 1.6 {
				t.Fatalf("wave %v sample %d = %v", w, i, v)
			}
		}
	}
}

func TestNoiseDeterministic(t *testing.T) {
	mk := func() []float64 {
		o := New(WaveNoise)
		n := 512
		pinc := make([]uint32, n)
		amps := make([]float64, n)
		for i := range amps {
			amps[i] = 1
		}
		out := make([]float64, n)
		o.Run(out, 0, pinc, nil, amps)
		return out
	}
	a, b := mk(), mk()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("noise diverges at %d", i)
		}
	}
}

func TestWaveByName(t *testing.T) {
	for _, name := range []string{"sin", "tri", "sqr", "saw", "ahs", "hrs", "srs", "szh", "shh", "ssr", "noise"} {
		if _, ok := WaveByName(name); !ok {
			t.Fatalf("missing wave %q", name)
		}
	}
	if _, ok := WaveByName("fmx"); ok {
		t.Fatalf("unexpected wave")
	}
}
