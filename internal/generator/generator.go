// Package generator renders a built program to PCM: a sample-accurate
// event scheduler over per-operator oscillator and ramp state, with a
// recursive modulation evaluator feeding the stereo mixer.
package generator

import (
	"errors"
	"fmt"
	"io"

	"github.com/cbegin/sausyn-go/internal/mixer"
	"github.com/cbegin/sausyn-go/internal/osc"
	"github.com/cbegin/sausyn-go/internal/program"
	"github.com/cbegin/sausyn-go/internal/ramp"
	"github.com/cbegin/sausyn-go/internal/sau"
)

// BlockLen is the internal generation block size in frames.
const BlockLen = 256

// bufsPerLevel is the scratch set one recursion level needs: sample,
// freq, freq2, pm, modmix, amp, amp2.
const bufsPerLevel = 7

const (
	bufSample = iota
	bufFreq
	bufFreq2
	bufPM
	bufModMix
	bufAmp
	bufAmp2
)

const durInf = ^uint32(0)

type opState struct {
	osc        osc.Osc
	used       bool
	timeRem    uint32
	timeInf    bool
	silenceRem uint32
	visited    bool

	fmods, pmods, amods []uint32

	freq, freq2 ramp.Ramp
	amp, amp2   ramp.Ramp
	freqPos     uint32
	freq2Pos    uint32
	ampPos      uint32
	amp2Pos     uint32
}

type voiceState struct {
	active   bool
	durRem   uint32
	carriers []uint32
	graph    []program.OpRef
	pan      ramp.Ramp
	panPos   uint32
}

// Generator renders one program at one sample rate. It borrows the
// program, which must outlive it.
type Generator struct {
	prog   *program.Program
	srate  uint32
	phasor osc.Phasor
	mix    *mixer.Mixer
	diag   io.Writer

	voices []voiceState
	ops    []opState

	eventIdx    int
	eventWait   uint32 // samples until the next event applies
	bufs        [][]float64
	pincs       [][]uint32
	pofss       [][]uint32
	done        bool
	warnedUnini bool
}

// New builds the runtime state for prog at srate.
func New(prog *program.Program, srate uint32, diag io.Writer) (*Generator, error) {
	if prog == nil {
		return nil, errors.New("nil program")
	}
	if srate == 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if diag == nil {
		diag = io.Discard
	}
	g := &Generator{
		prog:   prog,
		srate:  srate,
		phasor: osc.NewPhasor(srate),
		mix:    mixer.New(BlockLen, srate),
		diag:   diag,
		voices: make([]voiceState, prog.VoCount),
		ops:    make([]opState, prog.OpCount),
	}
	for i := range g.voices {
		g.voices[i].pan.Reset(0.5)
	}
	scale := prog.AmpMult
	if prog.Mode&program.AmpDivVoices != 0 && prog.VoCount > 0 {
		scale = 1 / float64(prog.VoCount)
	}
	g.mix.SetScale(scale)
	levels := int(prog.OpNestDepth) + 1
	g.bufs = make([][]float64, levels*bufsPerLevel)
	for i := range g.bufs {
		g.bufs[i] = make([]float64, BlockLen)
	}
	g.pincs = make([][]uint32, levels)
	g.pofss = make([][]uint32, levels)
	for i := range g.pincs {
		g.pincs[i] = make([]uint32, BlockLen)
		g.pofss[i] = make([]uint32, BlockLen)
	}
	if len(prog.Events) > 0 {
		g.eventWait = g.samples(prog.Events[0].WaitMS)
	} else {
		g.done = true
	}
	return g, nil
}

func (g *Generator) samples(ms uint32) uint32 {
	return uint32(uint64(ms) * uint64(g.srate) / 1000)
}

// Run fills buf with up to frames interleaved stereo frames. It
// reports the frames produced and whether more signal remains; once
// the signal ends the unused tail is zeroed.
func (g *Generator) Run(buf []int16, frames int) (int, bool) {
	filled := 0
	for filled < frames && !g.done {
		// Apply every event that is due before rendering ahead of it.
		for g.eventIdx < len(g.prog.Events) && g.eventWait == 0 {
			g.applyEvent(g.prog.Events[g.eventIdx])
			g.eventIdx++
			if g.eventIdx < len(g.prog.Events) {
				g.eventWait = g.samples(g.prog.Events[g.eventIdx].WaitMS)
			}
		}
		n := frames - filled
		if n > BlockLen {
			n = BlockLen
		}
		if g.eventIdx < len(g.prog.Events) && g.eventWait < uint32(n) {
			n = int(g.eventWait)
		}
		if g.eventIdx == len(g.prog.Events) {
			// No event can restart a voice: stop at the longest one's end.
			var rem uint32
			for i := range g.voices {
				if v := &g.voices[i]; v.active && v.durRem > rem {
					rem = v.durRem
				}
			}
			if rem < uint32(n) {
				n = int(rem)
			}
		}
		if n > 0 {
			g.renderBlock(buf[filled*2:], n)
			filled += n
			if g.eventIdx < len(g.prog.Events) {
				g.eventWait -= uint32(n)
			}
		}
		if g.eventIdx == len(g.prog.Events) && g.allVoicesDone() {
			g.done = true
		}
	}
	if g.done {
		g.warnUninitialised()
		for i := filled * 2; i < frames*2; i++ {
			buf[i] = 0
		}
	}
	return filled, !g.done
}

func (g *Generator) allVoicesDone() bool {
	for i := range g.voices {
		if g.voices[i].active && g.voices[i].durRem > 0 {
			return false
		}
	}
	return true
}

func (g *Generator) warnUninitialised() {
	if g.warnedUnini {
		return
	}
	g.warnedUnini = true
	for i := range g.voices {
		if !g.voices[i].active {
			fmt.Fprintf(g.diag, "generator: %s: voice %d was never initialised\n", g.prog.Name, i)
		}
	}
}

func (g *Generator) applyEvent(e *program.Event) {
	for i := range e.Ops {
		od := &e.Ops[i]
		st := &g.ops[od.ID]
		st.used = true
		if od.Params&sau.ParamWave != 0 {
			st.osc.SetWave(od.Wave)
		}
		if od.Params&sau.ParamTime != 0 {
			if od.TimeImplicit {
				st.timeInf = true
				st.timeRem = 0
			} else {
				st.timeInf = false
				st.timeRem = g.samples(od.TimeMS)
			}
		}
		if od.Params&sau.ParamSilence != 0 {
			st.silenceRem = g.samples(od.SilenceMS)
		}
		if od.Params&sau.ParamFreq != 0 {
			st.freq.CopyFrom(&od.Freq, g.srate, &st.freqPos)
		}
		if od.Params&sau.ParamFreq2 != 0 {
			st.freq2.CopyFrom(&od.Freq2, g.srate, &st.freq2Pos)
		}
		if od.Params&sau.ParamAmp != 0 {
			st.amp.CopyFrom(&od.Amp, g.srate, &st.ampPos)
		}
		if od.Params&sau.ParamAmp2 != 0 {
			st.amp2.CopyFrom(&od.Amp2, g.srate, &st.amp2Pos)
		}
		if od.Params&sau.ParamPhase != 0 {
			st.osc.SetPhase(od.Phase)
		}
		if od.FMods != nil {
			st.fmods = od.FMods
		}
		if od.PMods != nil {
			st.pmods = od.PMods
		}
		if od.AMods != nil {
			st.amods = od.AMods
		}
	}
	v := &g.voices[e.VoiceID]
	if e.Voice != nil {
		if e.Voice.Params&sau.ParamPan != 0 {
			v.pan.CopyFrom(&e.Voice.Pan, g.srate, &v.panPos)
		}
		if e.Voice.Graph != nil {
			v.graph = e.Voice.Graph
			v.carriers = e.Voice.Carriers
			v.active = true
		}
	}
	if v.active {
		v.durRem = g.voiceDuration(v)
	}
}

// voiceDuration is the longest remaining time across the voice's
// carriers.
func (g *Generator) voiceDuration(v *voiceState) uint32 {
	var d uint32
	for _, id := range v.carriers {
		st := &g.ops[id]
		if st.timeInf {
			return durInf
		}
		if st.timeRem > d {
			d = st.timeRem
		}
	}
	return d
}

func (g *Generator) renderBlock(out []int16, n int) {
	g.mix.Clear()
	for vi := range g.voices {
		v := &g.voices[vi]
		if !v.active || v.durRem == 0 {
			continue
		}
		g.runVoice(v, n)
	}
	g.mix.Write(out, n)
}

func (g *Generator) runVoice(v *voiceState, n int) {
	m := n
	if v.durRem != durInf && uint32(m) > v.durRem {
		m = int(v.durRem)
	}
	vbuf := g.bufs[bufSample][:m]
	layer := 0
	for _, ref := range v.graph {
		if ref.Use != sau.UseCarr {
			continue
		}
		g.runBlock(ref.ID, m, layer, vbuf, nil, false, 0)
		layer++
	}
	if layer == 0 {
		return
	}
	g.mix.Add(vbuf, m, &v.pan, &v.panPos)
	if v.durRem != durInf {
		v.durRem -= uint32(m)
	}
}

// runBlock generates up to n samples of one operator into out. layer 0
// assigns (and zero-fills any unused tail); higher layers add, so
// sibling outputs sum. env selects envelope (unipolar) output for
// frequency- and amplitude-modulator use. Returns the samples
// produced before the operator's time ran out.
func (g *Generator) runBlock(id uint32, n, layer int, out []float64, parentFreq []float64, env bool, level int) int {
	st := &g.ops[id]
	if st.visited {
		// Cycle cut: this subtree already sounds above us.
		if layer == 0 {
			zero(out[:n])
		}
		return n
	}
	st.visited = true

	// Silence prefix: emit nothing, hold all state.
	skip := 0
	if st.silenceRem > 0 {
		skip = n
		if uint32(skip) > st.silenceRem {
			skip = int(st.silenceRem)
		}
		st.silenceRem -= uint32(skip)
		if !st.timeInf {
			st.timeRem = satSub(st.timeRem, uint32(skip))
		}
		if layer == 0 {
			zero(out[:skip])
		}
	}
	m := n - skip
	if !st.timeInf && uint32(m) > st.timeRem {
		m = int(st.timeRem)
	}
	if m > 0 {
		base := level * bufsPerLevel
		freqBuf := g.bufs[base+bufFreq][:m]
		var pmul []float64
		if parentFreq != nil {
			pmul = parentFreq[skip : skip+m]
		}
		st.freq.Run(g.srate, freqBuf, &st.freqPos, pmul)
		if len(st.fmods) > 0 {
			freq2Buf := g.bufs[base+bufFreq2][:m]
			st.freq2.Run(g.srate, freq2Buf, &st.freq2Pos, pmul)
			fmBuf := g.bufs[base+bufModMix][:m]
			for k, mid := range st.fmods {
				g.runBlock(mid, m, k, fmBuf, freqBuf, true, level+1)
			}
			for i := 0; i < m; i++ {
				freqBuf[i] += (freq2Buf[i] - freqBuf[i]) * fmBuf[i]
			}
		} else {
			st.freq2.Skip(g.srate, uint32(m), &st.freq2Pos)
		}
		var pmBuf []float64
		if len(st.pmods) > 0 {
			pmBuf = g.bufs[base+bufPM][:m]
			for k, mid := range st.pmods {
				g.runBlock(mid, m, k, pmBuf, freqBuf, false, level+1)
			}
		}
		ampBuf := g.bufs[base+bufAmp][:m]
		st.amp.Run(g.srate, ampBuf, &st.ampPos, nil)
		if len(st.amods) > 0 {
			amp2Buf := g.bufs[base+bufAmp2][:m]
			st.amp2.Run(g.srate, amp2Buf, &st.amp2Pos, nil)
			amBuf := g.bufs[base+bufModMix][:m]
			for k, mid := range st.amods {
				g.runBlock(mid, m, k, amBuf, freqBuf, true, level+1)
			}
			for i := 0; i < m; i++ {
				ampBuf[i] += (amp2Buf[i] - ampBuf[i]) * amBuf[i]
			}
		} else {
			st.amp2.Skip(g.srate, uint32(m), &st.amp2Pos)
		}
		pinc := g.pincs[level][:m]
		var pofs []uint32
		if pmBuf != nil {
			pofs = g.pofss[level][:m]
		}
		g.phasor.Fill(pinc, pofs, freqBuf, pmBuf)
		target := out[skip : skip+m]
		if env {
			st.osc.RunEnv(target, layer, pinc, pofs, ampBuf)
		} else {
			st.osc.Run(target, layer, pinc, pofs, ampBuf)
		}
		if !st.timeInf {
			st.timeRem -= uint32(m)
		}
	}
	total := skip + m
	if layer == 0 && total < n {
		zero(out[total:n])
	}
	st.visited = false
	return total
}

func zero(b []float64) {
	for i := range b {
		b[i] = 0
	}
}

func satSub(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return 0
}
