// Package program turns a resolved script into the runtime program: a
// flat, stably numbered sequence of voice and operator updates plus a
// depth-ordered traversal graph per voice.
package program

import (
	"fmt"

	"github.com/cbegin/sausyn-go/internal/mempool"
	"github.com/cbegin/sausyn-go/internal/osc"
	"github.com/cbegin/sausyn-go/internal/ramp"
	"github.com/cbegin/sausyn-go/internal/sau"
)

// Implementation limits.
const (
	MaxVoices    = 65535
	MaxOperators = 1<<31 - 1
	MaxNestDepth = 255
)

// ModeFlags carry program-wide rendering switches.
type ModeFlags uint8

const (
	// AmpDivVoices scales output by 1/voice-count; set when the script
	// never chose an amplitude multiplier.
	AmpDivVoices ModeFlags = 1 << iota
)

// OpRef is one step of a voice's traversal order: modulators always
// precede the operators they feed.
type OpRef struct {
	ID    uint32
	Use   sau.ListUse
	Level uint8
}

// VoiceData carries the voice-level changes of one event.
type VoiceData struct {
	Params   sau.ParamSet
	Pan      ramp.Ramp
	Carriers []uint32
	Graph    []OpRef // non-nil when the traversal changed here
}

// OperatorData carries one operator's changes at one event. Modulator
// ID slices are pool-owned and shared until the next change; nil means
// unchanged.
type OperatorData struct {
	ID           uint32
	Params       sau.ParamSet
	TimeMS       uint32
	TimeImplicit bool
	SilenceMS    uint32
	Wave         osc.Wave
	Freq, Freq2  ramp.Ramp
	Amp, Amp2    ramp.Ramp
	Phase        float64
	FMods        []uint32
	PMods        []uint32
	AMods        []uint32
}

// Event is one program step, delta-timed from its predecessor.
type Event struct {
	WaitMS  uint32
	VoiceID uint16
	Voice   *VoiceData
	Ops     []OperatorData
}

// Program is the built, immutable runtime input.
type Program struct {
	Events      []*Event
	VoCount     uint32
	OpCount     uint32
	OpNestDepth uint8
	DurationMS  uint32
	Mode        ModeFlags
	AmpMult     float64
	Name        string
	Pool        *mempool.Pool
}

// LimitError reports a program exceeding an implementation limit.
type LimitError struct {
	What  string
	Count int
	Max   int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("too many %s: %d exceeds limit %d", e.What, e.Count, e.Max)
}
