package sau

import (
	"github.com/cbegin/sausyn-go/internal/ramp"
)

// Resolve runs the post-parse timing passes over the event list. After
// it returns, every operator has a decided time, every wait is
// non-negative, and the list is strictly linear (composite chains are
// spliced in).
func Resolve(s *Script) {
	for e := s.Events; e != nil; e = e.Next {
		timeEvent(e)
	}
	for e := s.Events; e != nil; e = e.Next {
		if e.Composite != nil {
			timeComposite(e)
		}
	}
	for e := s.Events; e != nil; e = e.Next {
		if e.GroupFrom != nil {
			timeDurGroup(e)
		}
	}
	flattenComposites(s)
	for e := s.Events; e != nil; e = e.Next {
		for _, op := range e.Ops {
			finalizeTimes(op)
		}
	}
}

// timeEvent settles per-operator timing for one event, descending into
// modulator lists.
func timeEvent(e *Event) {
	for _, op := range e.Ops {
		timeOperator(op, e)
	}
	// Nested list members are reachable only through their lists.
	for _, op := range e.Ops {
		eachListOp(op, func(sub *Operator) {
			timeOperator(sub, e)
		})
	}
}

func timeOperator(op *Operator, e *Event) {
	if op.Time.Flags&TimeSet == 0 && op.Flags&OpNested != 0 {
		op.Time.Flags |= TimeImplicit | TimeSet
	}
	if op.Time.Flags&TimeImplicit == 0 {
		defaultRampTime(&op.Freq, op.Time.MS)
		defaultRampTime(&op.Freq2, op.Time.MS)
		defaultRampTime(&op.Amp, op.Time.MS)
		defaultRampTime(&op.Amp2, op.Time.MS)
	}
	if op.Flags&OpSilenceAdded == 0 && op.SilenceMS > 0 {
		op.Time.MS += op.SilenceMS
		op.Flags |= OpSilenceAdded
	}
	if e.Flags&EvAddWaitDur != 0 && e.Next != nil {
		e.Next.WaitMS += op.Time.MS
		e.Flags &^= EvAddWaitDur
	}
}

func defaultRampTime(r *ramp.Ramp, timeMS uint32) {
	if r.Flags&ramp.Goal != 0 && r.Flags&ramp.TimeSet == 0 {
		r.TimeMS = timeMS
	}
}

// eachListOp visits every operator reachable through op's modulator
// lists, depth first.
func eachListOp(op *Operator, f func(*Operator)) {
	for _, list := range op.Mods {
		for _, sub := range list.Ops {
			f(sub)
			eachListOp(sub, f)
		}
	}
}

// timeComposite settles a ';' chain: each sub-event starts when the
// previous step's sound ends, and the whole chain's length is folded
// into the parent operator's time.
func timeComposite(e *Event) {
	if len(e.Ops) == 0 {
		return
	}
	parent := compositeParent(e)
	if parent == nil {
		return
	}
	prevOp := parent
	total := parent.Time.MS
	for ce := e.Composite; ce != nil; ce = ce.Next {
		if len(ce.Ops) == 0 {
			continue
		}
		cur := ce.Ops[0]
		ce.WaitMS += prevOp.Time.MS
		if cur.Time.Flags&TimeSet == 0 {
			if cur.Flags&OpNested != 0 && ce.Next == nil {
				cur.Time.Flags |= TimeImplicit | TimeSet
			} else {
				cur.Time = Time{MS: prevOp.Time.MS - prevOp.SilenceMS, Flags: TimeSet}
			}
		}
		// Sub-events inherit timing; the time bit must not re-apply.
		cur.Params &^= ParamTime
		if cur.Time.Flags&TimeImplicit == 0 {
			defaultRampTime(&cur.Freq, cur.Time.MS)
			defaultRampTime(&cur.Freq2, cur.Time.MS)
			defaultRampTime(&cur.Amp, cur.Time.MS)
			defaultRampTime(&cur.Amp2, cur.Time.MS)
			total += cur.Time.MS
		}
		eachListOp(cur, func(sub *Operator) {
			timeOperator(sub, ce)
		})
		prevOp = cur
	}
	parent.Time = Time{MS: total, Flags: parent.Time.Flags | TimeSet}
}

func compositeParent(e *Event) *Operator {
	for _, op := range e.Ops {
		if op.Flags&OpHasComposite != 0 {
			return op
		}
	}
	return nil
}

// timeDurGroup aligns default-duration operators inside a group with
// the group's longest voice, and delays the event after the group
// until the group has played out.
func timeDurGroup(end *Event) {
	from := end.GroupFrom
	var longest, cumw uint32
	for e := from; ; e = e.Next {
		if e != from {
			cumw += e.WaitMS
		}
		for _, op := range e.Ops {
			if op.Time.Flags&(TimeSet|TimeImplicit) == TimeSet {
				if t := cumw + op.Time.MS; t > longest {
					longest = t
				}
			}
		}
		if e == end {
			break
		}
	}
	cumw = 0
	for e := from; ; e = e.Next {
		if e != from {
			cumw += e.WaitMS
		}
		for _, op := range e.Ops {
			if op.Time.Flags&TimeDefault != 0 && op.Time.Flags&TimeSet == 0 {
				t := uint32(0)
				if longest > cumw {
					t = longest - cumw
				} else {
					t = op.Time.MS
					if end2 := cumw + t; end2 > longest {
						longest = end2
					}
				}
				op.Time = Time{MS: t, Flags: TimeSet}
				defaultRampTime(&op.Freq, t)
				defaultRampTime(&op.Amp, t)
			}
		}
		if e == end {
			break
		}
	}
	if end.Next != nil && longest > cumw {
		end.Next.WaitMS += longest - cumw
	}
	end.GroupFrom = nil
}

// flattenComposites splices every composite chain into the main list
// by cumulative time.
func flattenComposites(s *Script) {
	for e := s.Events; e != nil; e = e.Next {
		if e.Composite == nil {
			continue
		}
		chain := e.Composite
		e.Composite = nil
		base := e
		var baseOffset uint32 // offset of base relative to e
		cw := uint32(0)       // absolute offset of the next chain event from e
		for chain != nil {
			next := chain.Next
			cw += chain.WaitMS
			// Find the insertion point: the last event whose cumulative
			// wait does not exceed cw.
			scan := base
			acc := baseOffset
			for scan.Next != nil && acc+scan.Next.WaitMS <= cw {
				scan = scan.Next
				acc += scan.WaitMS
			}
			after := scan.Next
			chain.Next = after
			scan.Next = chain
			chain.WaitMS = cw - acc
			chain.Flags &^= EvComposite
			if after != nil {
				after.WaitMS -= chain.WaitMS
			}
			base = chain
			baseOffset = cw
			chain = next
		}
	}
}

// finalizeTimes marks remaining default times as decided.
func finalizeTimes(op *Operator) {
	if op.Time.Flags&TimeSet == 0 {
		op.Time.Flags |= TimeSet
	}
	eachListOp(op, func(sub *Operator) {
		if sub.Time.Flags&TimeSet == 0 {
			sub.Time.Flags |= TimeSet
		}
	})
}
