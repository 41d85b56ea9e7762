// Package sau parses SAU scripts into a timed event tree: a linear
// list of events, each introducing or updating operators, with nested
// modulator lists hanging off the operators.
package sau

import (
	"github.com/cbegin/sausyn-go/internal/mempool"
	"github.com/cbegin/sausyn-go/internal/osc"
	"github.com/cbegin/sausyn-go/internal/ramp"
)

// TimeFlags qualify an operator's time value.
type TimeFlags uint8

const (
	TimeSet      TimeFlags = 1 << iota // value decided
	TimeImplicit                       // duration comes from the enclosing context
	TimeDefault                        // value is the script default, replaceable by a group
)

// Time is a duration in ms plus how it was decided.
type Time struct {
	MS    uint32
	Flags TimeFlags
}

// OpFlags mark structural properties of an operator node.
type OpFlags uint8

const (
	OpNested       OpFlags = 1 << iota // lives inside a modulator list
	OpMultiple                         // node addresses a bound set
	OpHasComposite                     // a ';' chain extends this node
	OpLaterUsed                        // a later event updates this operator
	OpSilenceAdded                     // silence already folded into time
)

// ParamSet is the bitmask of parameters assigned at a node.
type ParamSet uint16

const (
	ParamWave ParamSet = 1 << iota
	ParamTime
	ParamSilence
	ParamFreq
	ParamFreq2
	ParamAmp
	ParamAmp2
	ParamPhase
	ParamPan
	ParamFMods
	ParamPMods
	ParamAMods
)

// ListUse tags what a modulator list modulates.
type ListUse uint8

const (
	UseCarr ListUse = iota
	UseFM
	UsePM
	UseAM
)

func (u ListUse) String() string {
	switch u {
	case UseFM:
		return "fm"
	case UsePM:
		return "pm"
	case UseAM:
		return "am"
	default:
		return "carr"
	}
}

// OpList is one modulator list attached to an operator at one event.
type OpList struct {
	Use    ListUse
	Append bool // extend the previous list instead of replacing it
	Ops    []*Operator
}

// Operator is one node of an operator's timeline: either its
// introduction or an update at a later event. Nodes of the same
// logical operator chain through Prev.
type Operator struct {
	Event *Event
	Prev  *Operator
	Label string

	Wave      osc.Wave
	Time      Time
	SilenceMS uint32
	Freq      ramp.Ramp
	Freq2     ramp.Ramp
	Amp       ramp.Ramp
	Amp2      ramp.Ramp
	Phase     float64

	Mods []*OpList // lists changed at this node

	Flags  OpFlags
	Params ParamSet
}

// Root returns the first node of the operator's chain, which names its
// identity.
func (o *Operator) Root() *Operator {
	r := o
	for r.Prev != nil {
		r = r.Prev
	}
	return r
}

// EvFlags mark per-event timing behaviour.
type EvFlags uint8

const (
	// EvAddWaitDur makes the next event wait an extra full duration of
	// this event's operator.
	EvAddWaitDur EvFlags = 1 << iota
	// EvComposite marks a ';' sub-event not yet spliced into the main
	// list.
	EvComposite
)

// Event is one time-stamped update. WaitMS is relative to the
// predecessor.
type Event struct {
	Next      *Event
	WaitMS    uint32
	Ops       []*Operator
	VoicePrev *Event // earlier event of the same voice
	Composite *Event // ';' sub-event chain, spliced in by the resolver
	GroupFrom *Event // first event of the duration group this one closes

	Pan    ramp.Ramp
	Params ParamSet
	Flags  EvFlags
}

// ScriptOptions are the S-scope defaults in effect for a script.
type ScriptOptions struct {
	AmpMult    float64
	HasAmpMult bool
	A4Freq     float64
	DefTimeMS  uint32
	DefFreq    float64
	DefRatio   float64
}

// DefaultOptions returns the documented script defaults.
func DefaultOptions() ScriptOptions {
	return ScriptOptions{
		AmpMult:   1,
		A4Freq:    440,
		DefTimeMS: 1000,
		DefFreq:   440,
		DefRatio:  1,
	}
}

// Script is the parsed and (after Resolve) fully timed event list.
type Script struct {
	Name    string
	Events  *Event
	Options ScriptOptions
	Pool    *mempool.Pool
}
