package program

import (
	"fmt"
	"io"

	"github.com/cbegin/sausyn-go/internal/ramp"
	"github.com/cbegin/sausyn-go/internal/sau"
)

type voiceSlot struct {
	lastEvent *sau.Event
	durMS     uint32
	carriers  []uint32
}

type opLists struct {
	fm, pm, am []uint32
}

type builder struct {
	s    *sau.Script
	diag io.Writer

	events []*Event

	voiceOf map[*sau.Event]uint16
	slots   []voiceSlot

	opID    map[*sau.Operator]uint32
	opCount uint32

	lists   map[uint32]*opLists
	nestMax int
	warned  map[[2]uint32]bool // cut edges already reported
}

// Build converts a resolved script into a program. Warnings go to
// diag; limit violations return a typed error and no program.
func Build(s *sau.Script, diag io.Writer) (*Program, error) {
	if diag == nil {
		diag = io.Discard
	}
	b := &builder{
		s:       s,
		diag:    diag,
		voiceOf: make(map[*sau.Event]uint16),
		opID:    make(map[*sau.Operator]uint32),
		lists:   make(map[uint32]*opLists),
		warned:  make(map[[2]uint32]bool),
	}
	var totalWait uint32
	for e := s.Events; e != nil; e = e.Next {
		totalWait += e.WaitMS
		if err := b.buildEvent(e); err != nil {
			return nil, err
		}
	}
	var remaining uint32
	for i := range b.slots {
		if b.slots[i].durMS > remaining {
			remaining = b.slots[i].durMS
		}
	}
	p := &Program{
		Events:      b.events,
		VoCount:     uint32(len(b.slots)),
		OpCount:     b.opCount,
		OpNestDepth: uint8(b.nestMax),
		DurationMS:  totalWait + remaining,
		AmpMult:     s.Options.AmpMult,
		Name:        s.Name,
		Pool:        s.Pool,
	}
	if !s.Options.HasAmpMult {
		p.Mode |= AmpDivVoices
	}
	return p, nil
}

func (b *builder) warn(format string, args ...any) {
	fmt.Fprintf(b.diag, "program: %s: %s\n", b.s.Name, fmt.Sprintf(format, args...))
}

func (b *builder) buildEvent(e *sau.Event) error {
	// Voice durations decay by the wait leading up to this event.
	for i := range b.slots {
		if b.slots[i].durMS > e.WaitMS {
			b.slots[i].durMS -= e.WaitMS
		} else {
			b.slots[i].durMS = 0
		}
	}

	vid, newVoice, err := b.allocVoice(e)
	if err != nil {
		return err
	}

	// First give every operator node touched here a stable ID.
	touched := touchedOps(e)
	for _, op := range touched {
		if err := b.allocOpID(op); err != nil {
			return err
		}
	}

	pe := &Event{WaitMS: e.WaitMS, VoiceID: vid}
	graphDirty := newVoice
	for _, op := range touched {
		od := b.buildOperatorData(op)
		if od.FMods != nil || od.PMods != nil || od.AMods != nil {
			graphDirty = true
		}
		pe.Ops = append(pe.Ops, od)
	}

	slot := &b.slots[vid]
	if len(e.Ops) > 0 {
		carriers := make([]uint32, 0, len(e.Ops))
		for _, op := range e.Ops {
			carriers = append(carriers, b.opID[op])
		}
		if !sameIDs(slot.carriers, carriers) {
			slot.carriers = b.s.Pool.IDs(carriers)
			graphDirty = true
		}
	}
	slot.lastEvent = e
	if d := voiceDuration(e); d > slot.durMS {
		slot.durMS = d
	}

	if graphDirty || e.Params&sau.ParamPan != 0 {
		vd := &VoiceData{Params: e.Params, Pan: e.Pan, Carriers: slot.carriers}
		if graphDirty {
			g, err := b.traverse(slot.carriers)
			if err != nil {
				return err
			}
			vd.Graph = g
		}
		pe.Voice = vd
	}
	b.events = append(b.events, pe)
	return nil
}

// allocVoice picks the event's voice: the predecessor's when one
// exists, otherwise a reusable expired slot, otherwise a new one.
func (b *builder) allocVoice(e *sau.Event) (uint16, bool, error) {
	if prev := voicePredecessor(e); prev != nil {
		if vid, ok := b.voiceOf[prev]; ok {
			b.voiceOf[e] = vid
			return vid, false, nil
		}
	}
	for i := range b.slots {
		s := &b.slots[i]
		if s.durMS == 0 && s.lastEvent != nil && !laterUsed(s.lastEvent) {
			b.voiceOf[e] = uint16(i)
			b.slots[i] = voiceSlot{}
			return uint16(i), true, nil
		}
	}
	if len(b.slots) >= MaxVoices {
		return 0, false, &LimitError{What: "voices", Count: len(b.slots) + 1, Max: MaxVoices}
	}
	b.slots = append(b.slots, voiceSlot{})
	vid := uint16(len(b.slots) - 1)
	b.voiceOf[e] = vid
	return vid, true, nil
}

func voicePredecessor(e *sau.Event) *sau.Event {
	if e.VoicePrev != nil {
		return e.VoicePrev
	}
	// Spliced composite events continue their parent's voice.
	if len(e.Ops) > 0 && e.Ops[0].Prev != nil {
		return e.Ops[0].Prev.Event
	}
	return nil
}

func laterUsed(e *sau.Event) bool {
	for _, op := range e.Ops {
		if op.Flags&sau.OpLaterUsed != 0 {
			return true
		}
	}
	return false
}

func voiceDuration(e *sau.Event) uint32 {
	var d uint32
	for _, op := range e.Ops {
		if op.Time.Flags&sau.TimeImplicit != 0 {
			continue
		}
		if op.Time.MS > d {
			d = op.Time.MS
		}
	}
	return d
}

// allocOpID numbers an operator node. Nodes of the same chain share
// the root's ID; expired IDs are not reused, keeping numbering
// deterministic.
func (b *builder) allocOpID(op *sau.Operator) error {
	if _, ok := b.opID[op]; ok {
		return nil
	}
	if op.Prev != nil {
		id, ok := b.opID[op.Prev]
		if !ok {
			// A reference that jumps events: number the whole chain.
			if err := b.allocOpID(op.Prev); err != nil {
				return err
			}
			id = b.opID[op.Prev]
		}
		b.opID[op] = id
		return nil
	}
	if b.opCount >= MaxOperators {
		return &LimitError{What: "operators", Count: int(b.opCount) + 1, Max: MaxOperators}
	}
	id := b.opCount
	b.opCount++
	b.opID[op] = id
	b.lists[id] = &opLists{}
	return nil
}

// touchedOps lists every operator node updated at this event, nested
// list members before the operators that hold them.
func touchedOps(e *sau.Event) []*sau.Operator {
	var out []*sau.Operator
	var walk func(op *sau.Operator)
	walk = func(op *sau.Operator) {
		for _, list := range op.Mods {
			for _, sub := range list.Ops {
				walk(sub)
			}
		}
		out = append(out, op)
	}
	for _, op := range e.Ops {
		walk(op)
	}
	return out
}

func (b *builder) buildOperatorData(op *sau.Operator) OperatorData {
	id := b.opID[op]
	params := op.Params
	if op.Prev == nil {
		// A fresh operator publishes its full initial state.
		params |= sau.ParamWave | sau.ParamTime | sau.ParamFreq | sau.ParamFreq2 |
			sau.ParamAmp | sau.ParamAmp2 | sau.ParamPhase
		if op.SilenceMS > 0 {
			params |= sau.ParamSilence
		}
	}
	od := OperatorData{
		ID:           id,
		Params:       params,
		TimeMS:       op.Time.MS,
		TimeImplicit: op.Time.Flags&sau.TimeImplicit != 0,
		SilenceMS:    op.SilenceMS,
		Wave:         op.Wave,
		Freq:         op.Freq,
		Freq2:        op.Freq2,
		Amp:          op.Amp,
		Amp2:         op.Amp2,
		Phase:        op.Phase,
	}
	if op.Prev == nil {
		// Initial state must transfer wholesale, defaults included.
		for _, r := range []*ramp.Ramp{&od.Freq, &od.Freq2, &od.Amp, &od.Amp2} {
			r.Flags |= ramp.StateSet | ramp.FillSet
		}
	}
	st := b.lists[id]
	for _, list := range op.Mods {
		ids := make([]uint32, 0, len(list.Ops))
		for _, sub := range list.Ops {
			ids = append(ids, b.opID[sub])
		}
		var cur []uint32
		switch list.Use {
		case sau.UseFM:
			cur = st.fm
		case sau.UsePM:
			cur = st.pm
		case sau.UseAM:
			cur = st.am
		}
		if list.Append {
			ids = append(append([]uint32{}, cur...), ids...)
		}
		shared := b.s.Pool.IDs(ids)
		if shared == nil {
			shared = []uint32{} // published empty list, distinct from unchanged
		}
		switch list.Use {
		case sau.UseFM:
			st.fm = shared
			od.FMods = shared
		case sau.UsePM:
			st.pm = shared
			od.PMods = shared
		case sau.UseAM:
			st.am = shared
			od.AMods = shared
		}
	}
	return od
}

// traverse produces the depth-first, modulator-before-carrier order
// for a carrier set, cutting cycles with a warning.
func (b *builder) traverse(carriers []uint32) ([]OpRef, error) {
	var refs []OpRef
	visited := make(map[uint32]bool)
	var visit func(id uint32, use sau.ListUse, level int, from uint32) error
	visit = func(id uint32, use sau.ListUse, level int, from uint32) error {
		if visited[id] {
			edge := [2]uint32{from, id}
			if !b.warned[edge] {
				b.warned[edge] = true
				b.warn("circular reference to operator %d cut from operator %d", id, from)
			}
			return nil
		}
		if level > MaxNestDepth {
			return &LimitError{What: "nesting levels", Count: level, Max: MaxNestDepth}
		}
		if level > b.nestMax {
			b.nestMax = level
		}
		visited[id] = true
		st := b.lists[id]
		if st != nil {
			for _, m := range st.fm {
				if err := visit(m, sau.UseFM, level+1, id); err != nil {
					return err
				}
			}
			for _, m := range st.pm {
				if err := visit(m, sau.UsePM, level+1, id); err != nil {
					return err
				}
			}
			for _, m := range st.am {
				if err := visit(m, sau.UseAM, level+1, id); err != nil {
					return err
				}
			}
		}
		refs = append(refs, OpRef{ID: id, Use: use, Level: uint8(level)})
		visited[id] = false
		return nil
	}
	for _, c := range carriers {
		if err := visit(c, sau.UseCarr, 1, c); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func sameIDs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return len(a) != 0
}
