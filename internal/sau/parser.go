package sau

import (
	"fmt"
	"io"

	"github.com/cbegin/sausyn-go/internal/mempool"
	"github.com/cbegin/sausyn-go/internal/osc"
	"github.com/cbegin/sausyn-go/internal/ramp"
	"github.com/cbegin/sausyn-go/internal/scanner"
	"github.com/cbegin/sausyn-go/internal/symtab"
)

const itemOperator = 1

type scopeKind uint8

const (
	scopeTop scopeKind = iota
	scopeGroup
	scopeNest
)

// Parser builds the event tree from a character stream. Problems are
// reported as warnings on the diagnostic sink; the parser resyncs and
// keeps going.
type Parser struct {
	sc   *scanner.Scanner
	st   *symtab.Table
	diag io.Writer
	pool *mempool.Pool
	opt  ScriptOptions

	first, last *Event
	pendingWait uint32
	forceNewEv  bool
	curOps      []*Operator
	pendingLbl  string
	haveLbl     bool
	groupStart  *Event
	composited  bool // last ';' awaits its W respecification
	stopped     bool
}

// Parse reads a script from sc. Warnings go to diag; a nil diag
// discards them. The returned script still needs Resolve.
func Parse(sc *scanner.Scanner, diag io.Writer) *Script {
	if diag == nil {
		diag = io.Discard
	}
	p := &Parser{
		sc:   sc,
		st:   symtab.New(),
		diag: diag,
		pool: mempool.New(),
		opt:  DefaultOptions(),
	}
	p.parseLevel(scopeTop, UseCarr)
	return &Script{
		Name:    sc.Name(),
		Events:  p.first,
		Options: p.opt,
		Pool:    p.pool,
	}
}

func (p *Parser) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(p.diag, "parser: %s:%d:%d: %s\n", p.sc.Name(), p.sc.Line(), p.sc.Col(), msg)
}

// parseLevel is the scope loop. In nest scope, operators created are
// NESTED and collected into the returned slice.
func (p *Parser) parseLevel(scope scopeKind, use ListUse) []*Operator {
	var nestOps []*Operator
	savedOps := p.curOps
	if scope == scopeNest {
		p.curOps = nil
	}
	for !p.stopped {
		c := p.sc.Get()
		if p.sc.AfterEOF() {
			if scope != scopeTop {
				p.warn("unexpected end of file in nested scope")
			}
			break
		}
		switch c {
		case ' ', '\t', '\n', '\r':
			// insignificant
		case '#':
			p.sc.SkipLine()
		case 'W':
			op := p.beginOperator(scope == scopeNest)
			if op != nil && scope == scopeNest {
				nestOps = append(nestOps, op)
			}
		case '\'':
			name := p.sc.ScanIdent()
			if name == "" {
				p.warn("label name truncated or missing")
				break
			}
			p.pendingLbl = name
			p.haveLbl = true
		case '@':
			if p.sc.Peek() == '[' {
				p.sc.Get()
				p.bindMultiple(scope)
				break
			}
			op := p.refOperator(scope)
			if op != nil && scope == scopeNest {
				nestOps = append(nestOps, op)
			}
		case ';':
			p.compositeStep()
		case '\\':
			p.parseWait()
		case '|':
			p.closeGroup()
		case '{':
			p.parseLevel(scopeGroup, use)
		case '}':
			if scope == scopeGroup {
				p.closeGroup()
				p.curOps = savedOps
				return nestOps
			}
			p.warn("unexpected '}'")
		case ']':
			if scope == scopeNest {
				p.curOps = savedOps
				return nestOps
			}
			p.warn("unexpected ']'")
		case 'S':
			if scope == scopeTop || scope == scopeGroup {
				p.parseSettings()
			} else {
				p.warn("settings scope not allowed here")
			}
		case 'Q':
			p.stopped = true
		case 'w', 'f', 'r', 'a', 'p', 's', 't':
			p.parseOpParam(c)
		case 'P':
			p.parsePan(scope)
		default:
			p.warn("unexpected character %q", c)
			p.resync()
		}
	}
	p.curOps = savedOps
	return nestOps
}

// resync skips to the next scope boundary or end of line.
func (p *Parser) resync() {
	for {
		c := p.sc.Get()
		if p.sc.AfterEOF() || c == '\n' || c == '\r' {
			return
		}
		if c == ']' || c == '}' {
			p.sc.Unget()
			return
		}
	}
}

// event returns the event new content attaches to, starting one when a
// wait or reference forced a boundary.
func (p *Parser) event() *Event {
	if p.last == nil || p.forceNewEv || p.pendingWait > 0 {
		e := &Event{WaitMS: p.pendingWait}
		if p.last != nil {
			p.last.Next = e
		} else {
			p.first = e
		}
		p.last = e
		p.pendingWait = 0
		p.forceNewEv = false
		if p.groupStart == nil {
			p.groupStart = e
		}
	}
	return p.last
}

func (p *Parser) newOpNode(prev *Operator, nested bool) *Operator {
	e := p.event()
	op := &Operator{Event: e, Prev: prev}
	if nested {
		op.Flags |= OpNested
	}
	if prev == nil {
		op.Time = Time{MS: p.opt.DefTimeMS, Flags: TimeDefault}
		if nested {
			op.Freq.Reset(p.opt.DefRatio)
			op.Freq.Flags |= ramp.StateRatio
		} else {
			op.Freq.Reset(p.opt.DefFreq)
		}
		op.Freq2 = op.Freq
		op.Amp.Reset(1)
		op.Amp2 = op.Amp
	} else {
		op.Time = Time{MS: p.opt.DefTimeMS, Flags: TimeDefault}
		op.Flags |= prev.Flags & OpNested
		prev.Flags |= OpLaterUsed
	}
	return op
}

// beginOperator handles W<wave>: a new operator, or the
// respecification of a composite step's operator.
func (p *Parser) beginOperator(nested bool) *Operator {
	name := p.sc.ScanIdent()
	w, ok := osc.WaveByName(name)
	if !ok {
		p.warn("unknown wave %q", name)
		w = osc.WaveSin
	}
	if p.composited {
		// The W after ';' re-opens the same operator.
		p.composited = false
		for _, op := range p.curOps {
			op.Wave = w
			op.Params |= ParamWave
		}
		return nil
	}
	op := p.newOpNode(nil, nested)
	op.Wave = w
	op.Params |= ParamWave
	if p.haveLbl {
		op.Label = p.pendingLbl
		h := p.st.Intern(p.pendingLbl)
		p.st.AddItem(h, itemOperator, op)
		p.haveLbl = false
	}
	if !nested {
		op.Event.Ops = append(op.Event.Ops, op)
	}
	p.curOps = []*Operator{op}
	return op
}

// refOperator handles @label.
func (p *Parser) refOperator(scope scopeKind) *Operator {
	name := p.sc.ScanIdent()
	if name == "" {
		p.warn("label name truncated or missing")
		return nil
	}
	h := p.st.Lookup(name)
	var prev *Operator
	if h != nil {
		if it := p.st.FindItem(h, itemOperator); it != nil {
			prev = it.Data.(*Operator)
		}
	}
	if prev == nil {
		p.warn("undefined label %q, reference ignored", name)
		return nil
	}
	nested := scope == scopeNest
	if !nested {
		// A reference re-opens the operator in a fresh event.
		p.forceNewEv = true
	}
	op := p.newOpNode(prev, nested)
	op.Label = name
	p.st.AddItem(p.st.Intern(name), itemOperator, op)
	if !nested {
		op.Event.Ops = append(op.Event.Ops, op)
		op.Event.VoicePrev = prev.Event
	}
	p.curOps = []*Operator{op}
	return op
}

// bindMultiple handles @[name name ...]: the referenced operators form
// a set updated together.
func (p *Parser) bindMultiple(scope scopeKind) {
	var prevs []*Operator
	for {
		p.sc.SkipSpaces()
		c := p.sc.Get()
		if c == ']' {
			break
		}
		if p.sc.AfterEOF() {
			p.warn("unterminated '@['")
			break
		}
		if c == '\n' || c == '\r' {
			continue
		}
		p.sc.Unget()
		name := p.sc.ScanIdent()
		if name == "" {
			p.warn("expected label in '@[' set")
			p.sc.Get()
			continue
		}
		h := p.st.Lookup(name)
		var prev *Operator
		if h != nil {
			if it := p.st.FindItem(h, itemOperator); it != nil {
				prev = it.Data.(*Operator)
			}
		}
		if prev == nil {
			p.warn("undefined label %q in '@[' set", name)
			continue
		}
		prevs = append(prevs, prev)
	}
	if len(prevs) == 0 {
		return
	}
	nested := scope == scopeNest
	if !nested {
		p.forceNewEv = true
	}
	p.curOps = nil
	for _, prev := range prevs {
		op := p.newOpNode(prev, nested)
		op.Flags |= OpMultiple
		op.Label = prev.Label
		if op.Label != "" {
			p.st.AddItem(p.st.Intern(op.Label), itemOperator, op)
		}
		if !nested {
			op.Event.Ops = append(op.Event.Ops, op)
			if op.Event.VoicePrev == nil {
				op.Event.VoicePrev = prev.Event
			}
		}
		p.curOps = append(p.curOps, op)
	}
}

// compositeStep handles ';': a sub-event extending the current
// operator's own timeline.
func (p *Parser) compositeStep() {
	if len(p.curOps) == 0 {
		p.warn("';' with no current operator")
		return
	}
	parent := p.curOps[len(p.curOps)-1]
	ce := &Event{Flags: EvComposite}
	// Chain onto the nearest main-list event: a chained ';' parent may
	// itself live on a composite sub-event.
	anchorOp := parent
	for anchorOp.Event.Flags&EvComposite != 0 && anchorOp.Prev != nil {
		anchorOp = anchorOp.Prev
	}
	anchor := anchorOp.Event
	if anchor.Composite == nil {
		anchor.Composite = ce
	} else {
		tail := anchor.Composite
		for tail.Next != nil {
			tail = tail.Next
		}
		tail.Next = ce
	}
	node := &Operator{Event: ce, Prev: parent}
	node.Flags |= parent.Flags & OpNested
	node.Time = Time{MS: p.opt.DefTimeMS, Flags: TimeDefault}
	parent.Flags |= OpHasComposite | OpLaterUsed
	ce.Ops = append(ce.Ops, node)
	if parent.Label != "" {
		node.Label = parent.Label
		p.st.AddItem(p.st.Intern(node.Label), itemOperator, node)
	}
	p.curOps = []*Operator{node}
	p.composited = true
}

// parseWait handles \<seconds> and \t.
func (p *Parser) parseWait() {
	if p.sc.Peek() == 't' {
		p.sc.Get()
		if p.last != nil {
			p.last.Flags |= EvAddWaitDur
			p.forceNewEv = true
		} else {
			p.warn(`\t with no preceding event`)
		}
		return
	}
	v, ok := p.scanNum(false)
	if !ok || v < 0 {
		p.warn("bad wait time")
		return
	}
	p.pendingWait += uint32(v * 1000)
}

// closeGroup marks the last event as the end of the current duration
// group.
func (p *Parser) closeGroup() {
	if p.groupStart == nil || p.last == nil {
		return
	}
	p.last.GroupFrom = p.groupStart
	p.groupStart = nil
	p.forceNewEv = true
}

// parseSettings handles the S scope: script defaults.
func (p *Parser) parseSettings() {
	for {
		p.sc.SkipSpaces()
		c := p.sc.Get()
		switch c {
		case 'a':
			if v, ok := p.scanNum(false); ok {
				p.opt.AmpMult = v
				p.opt.HasAmpMult = true
				continue
			}
		case 'n':
			if v, ok := p.scanNum(false); ok && v > 0 {
				p.opt.A4Freq = v
				continue
			}
		case 't':
			if v, ok := p.scanNum(false); ok && v >= 0 {
				p.opt.DefTimeMS = uint32(v * 1000)
				continue
			}
		case 'f':
			if v, ok := p.scanNum(true); ok && v > 0 {
				p.opt.DefFreq = v
				continue
			}
		case 'r':
			if v, ok := p.scanNum(false); ok && v > 0 {
				p.opt.DefRatio = v
				continue
			}
		default:
			p.sc.Unget()
			return
		}
		p.warn("bad settings value")
		return
	}
}

// parseOpParam handles the per-operator parameter letters.
func (p *Parser) parseOpParam(c byte) {
	if len(p.curOps) == 0 {
		p.warn("parameter %q with no current operator", c)
		p.resync()
		return
	}
	p.composited = false
	switch c {
	case 'w':
		name := p.sc.ScanIdent()
		w, ok := osc.WaveByName(name)
		if !ok {
			p.warn("unknown wave %q, keeping previous", name)
			return
		}
		for _, op := range p.curOps {
			op.Wave = w
			op.Params |= ParamWave
		}
	case 't':
		if p.sc.Peek() == 'i' {
			p.sc.Get()
			for _, op := range p.curOps {
				op.Time = Time{Flags: TimeImplicit | TimeSet}
				op.Params |= ParamTime
			}
			return
		}
		v, ok := p.scanNum(false)
		if !ok || v < 0 {
			p.warn("bad time value")
			return
		}
		for _, op := range p.curOps {
			op.Time = Time{MS: uint32(v * 1000), Flags: TimeSet}
			op.Params |= ParamTime
		}
	case 's':
		v, ok := p.scanNum(false)
		if !ok || v < 0 {
			p.warn("bad silence value")
			return
		}
		for _, op := range p.curOps {
			op.SilenceMS = uint32(v * 1000)
			op.Params |= ParamSilence
		}
	case 'f':
		p.parseFreqLike(false)
	case 'r':
		p.parseFreqLike(true)
	case 'a':
		p.parseAmp()
	case 'p':
		if p.sc.Peek() == '[' {
			p.sc.Get()
			p.attachList(UsePM, ParamPMods)
			return
		}
		v, ok := p.scanNum(false)
		if !ok {
			p.warn("bad phase value")
			return
		}
		v = v - float64(int64(v)) // wrap into [0,1)
		if v < 0 {
			v++
		}
		for _, op := range p.curOps {
			op.Phase = v
			op.Params |= ParamPhase
		}
	}
}

// parseFreqLike handles f (Hz) and r (ratio to parent): value, ramp
// goal, second value, and FM modulator list.
func (p *Parser) parseFreqLike(isRatio bool) {
	freqCtx := !isRatio
	if p.hasNum(freqCtx) {
		v, ok := p.scanNum(freqCtx)
		if !ok {
			return
		}
		for _, op := range p.curOps {
			setRampValue(&op.Freq, v, isRatio)
			op.Params |= ParamFreq
			if op.Prev == nil && op.Params&ParamFreq2 == 0 {
				op.Freq2 = op.Freq
			}
		}
	}
	if p.sc.Peek() == '[' {
		p.sc.Get()
		args := p.parseRampArgs(freqCtx, isRatio)
		for _, op := range p.curOps {
			mergeRampArgs(&op.Freq, args)
			op.Params |= ParamFreq
		}
	}
	if p.sc.Peek() != ',' {
		return
	}
	p.sc.Get()
	if p.sc.Peek() == 'w' {
		p.sc.Get()
		if p.sc.Get() != '[' {
			p.warn("expected '[' after ',w'")
			p.sc.Unget()
			return
		}
		p.attachList(UseFM, ParamFMods)
		return
	}
	if p.hasNum(freqCtx) {
		v, ok := p.scanNum(freqCtx)
		if !ok {
			return
		}
		for _, op := range p.curOps {
			setRampValue(&op.Freq2, v, isRatio)
			op.Params |= ParamFreq2
		}
	}
	if p.sc.Peek() == '[' {
		p.sc.Get()
		args := p.parseRampArgs(freqCtx, isRatio)
		for _, op := range p.curOps {
			mergeRampArgs(&op.Freq2, args)
			op.Params |= ParamFreq2
		}
	}
	if p.sc.Peek() == ',' {
		p.sc.Get()
		if p.sc.Peek() == 'w' {
			p.sc.Get()
			if p.sc.Get() != '[' {
				p.warn("expected '[' after ',w'")
				p.sc.Unget()
				return
			}
			p.attachList(UseFM, ParamFMods)
		} else {
			p.warn("expected 'w' modulator list after ','")
		}
	}
}

// parseAmp handles a: value, ramp goal, second value, AM list.
func (p *Parser) parseAmp() {
	if p.hasNum(false) {
		v, ok := p.scanNum(false)
		if !ok {
			return
		}
		for _, op := range p.curOps {
			setRampValue(&op.Amp, v, false)
			op.Params |= ParamAmp
			if op.Prev == nil && op.Params&ParamAmp2 == 0 {
				op.Amp2 = op.Amp
			}
		}
	}
	if p.sc.Peek() == '[' {
		p.sc.Get()
		args := p.parseRampArgs(false, false)
		for _, op := range p.curOps {
			mergeRampArgs(&op.Amp, args)
			op.Params |= ParamAmp
		}
	}
	if p.sc.Peek() != ',' {
		return
	}
	p.sc.Get()
	if p.sc.Peek() == 'w' {
		p.sc.Get()
		if p.sc.Get() != '[' {
			p.warn("expected '[' after ',w'")
			p.sc.Unget()
			return
		}
		p.attachList(UseAM, ParamAMods)
		return
	}
	if p.hasNum(false) {
		v, ok := p.scanNum(false)
		if !ok {
			return
		}
		for _, op := range p.curOps {
			setRampValue(&op.Amp2, v, false)
			op.Params |= ParamAmp2
		}
	}
	if p.sc.Peek() == '[' {
		p.sc.Get()
		args := p.parseRampArgs(false, false)
		for _, op := range p.curOps {
			mergeRampArgs(&op.Amp2, args)
			op.Params |= ParamAmp2
		}
	}
	if p.sc.Peek() == ',' {
		p.sc.Get()
		if p.sc.Peek() == 'w' {
			p.sc.Get()
			if p.sc.Get() != '[' {
				p.warn("expected '[' after ',w'")
				p.sc.Unget()
				return
			}
			p.attachList(UseAM, ParamAMods)
		} else {
			p.warn("expected 'w' modulator list after ','")
		}
	}
}

// parsePan handles P on the event's voice.
func (p *Parser) parsePan(scope scopeKind) {
	if scope == scopeNest {
		p.warn("panning is a voice parameter, not allowed in a modulator list")
		p.resync()
		return
	}
	e := p.event()
	if p.hasNum(false) {
		v, ok := p.scanNum(false)
		if !ok {
			return
		}
		e.Pan.V0 = clampUnit(v)
		e.Pan.Flags |= ramp.StateSet
		e.Params |= ParamPan
	}
	if p.sc.Peek() == '[' {
		p.sc.Get()
		mergeRampArgs(&e.Pan, p.parseRampArgs(false, false))
		e.Params |= ParamPan
	}
}

// parseRampArgs reads a [fill t<sec> v<target>] goal list into a
// delta ramp that mergeRampArgs applies to each target.
func (p *Parser) parseRampArgs(freqCtx, isRatio bool) ramp.Ramp {
	var r ramp.Ramp
	for {
		p.sc.SkipSpaces()
		c := p.sc.Get()
		if c == ']' {
			return r
		}
		if p.sc.AfterEOF() || c == '\n' || c == '\r' {
			p.warn("unterminated ramp argument list")
			p.sc.Unget()
			return r
		}
		switch c {
		case 't':
			v, ok := p.scanNum(false)
			if !ok || v < 0 {
				p.warn("bad ramp time")
				continue
			}
			r.TimeMS = uint32(v * 1000)
			r.Flags |= ramp.TimeSet
		case 'v':
			v, ok := p.scanNum(freqCtx)
			if !ok {
				p.warn("bad ramp target")
				continue
			}
			r.VT = v
			r.Flags |= ramp.Goal
			if isRatio {
				r.Flags |= ramp.GoalRatio
			}
		default:
			p.sc.Unget()
			name := p.sc.ScanIdent()
			if name == "" {
				p.warn("unexpected %q in ramp arguments", c)
				p.sc.Get()
				continue
			}
			f, ok := ramp.FillByName(name)
			if !ok {
				p.warn("unknown ramp %q, keeping previous", name)
				continue
			}
			r.Fill = f
			r.Flags |= ramp.FillSet
		}
	}
}

// mergeRampArgs applies a parsed goal delta to a target ramp.
func mergeRampArgs(dst *ramp.Ramp, src ramp.Ramp) {
	if src.Flags&ramp.FillSet != 0 {
		dst.Fill = src.Fill
		dst.Flags |= ramp.FillSet
	}
	if src.Flags&ramp.TimeSet != 0 {
		dst.TimeMS = src.TimeMS
		dst.Flags |= ramp.TimeSet
	}
	if src.Flags&ramp.Goal != 0 {
		dst.VT = src.VT
		dst.Flags |= ramp.Goal
		dst.Flags = dst.Flags&^ramp.GoalRatio | src.Flags&ramp.GoalRatio
	}
}

// attachList parses a nested [...] modulator list for all current
// operators. A leading '-' appends to the previous list.
func (p *Parser) attachList(use ListUse, bit ParamSet) {
	appendMode := false
	if p.sc.Peek() == '-' {
		p.sc.Get()
		appendMode = true
	}
	ops := p.parseLevel(scopeNest, use)
	list := &OpList{Use: use, Append: appendMode, Ops: ops}
	for _, op := range p.curOps {
		op.Mods = append(op.Mods, list)
		op.Params |= bit
	}
}

func setRampValue(r *ramp.Ramp, v float64, isRatio bool) {
	r.V0 = v
	r.Flags |= ramp.StateSet
	if isRatio {
		r.Flags |= ramp.StateRatio
	} else {
		r.Flags &^= ramp.StateRatio
	}
	r.Flags &^= ramp.Goal
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
