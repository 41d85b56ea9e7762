package sau

import (
	"math"
	"strings"
	"testing"

	"github.com/cbegin/sausyn-go/internal/osc"
	"github.com/cbegin/sausyn-go/internal/ramp"
	"github.com/cbegin/sausyn-go/internal/scanner"
)

func parseText(t *testing.T, text string) (*Script, string) {
	t.Helper()
	var diag strings.Builder
	s := Parse(scanner.NewString("test", text), &diag)
	return s, diag.String()
}

func TestParseSingleCarrier(t *testing.T) {
	s, diag := parseText(t, "Wsin")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	if s.Events == nil || s.Events.Next != nil {
		t.Fatalf("expected exactly one event")
	}
	e := s.Events
	if len(e.Ops) != 1 {
		t.Fatalf("expected one operator, got %d", len(e.Ops))
	}
	op := e.Ops[0]
	if op.Wave != osc.WaveSin || op.Params&ParamWave == 0 {
		t.Fatalf("wave not set")
	}
	if op.Freq.V0 != 440 {
		t.Fatalf("default freq = %v, want 440", op.Freq.V0)
	}
	if op.Time.MS != 1000 || op.Time.Flags&TimeDefault == 0 {
		t.Fatalf("default time wrong: %+v", op.Time)
	}
}

func TestParseParams(t *testing.T) {
	s, diag := parseText(t, "Wsqr f220 a0.5 t2 s0.25 p0.5")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	op := s.Events.Ops[0]
	if op.Wave != osc.WaveSqr {
		t.Fatalf("wave = %v", op.Wave)
	}
	if op.Freq.V0 != 220 || op.Amp.V0 != 0.5 {
		t.Fatalf("freq/amp wrong: %v %v", op.Freq.V0, op.Amp.V0)
	}
	if op.Time.MS != 2000 || op.Time.Flags&TimeSet == 0 {
		t.Fatalf("time wrong: %+v", op.Time)
	}
	if op.SilenceMS != 250 {
		t.Fatalf("silence = %d", op.SilenceMS)
	}
	if op.Phase != 0.5 || op.Params&ParamPhase == 0 {
		t.Fatalf("phase wrong: %v", op.Phase)
	}
}

func TestParseNestedPM(t *testing.T) {
	s, diag := parseText(t, "Wsin f137 t10 p[Wsin f10*pi p[Wsin r(4/3)(pi/3)]]")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	outer := s.Events.Ops[0]
	if outer.Time.MS != 10000 {
		t.Fatalf("outer time = %d", outer.Time.MS)
	}
	if len(outer.Mods) != 1 || outer.Mods[0].Use != UsePM {
		t.Fatalf("outer PM list missing")
	}
	mid := outer.Mods[0].Ops[0]
	if mid.Flags&OpNested == 0 {
		t.Fatalf("mid operator should be nested")
	}
	if math.Abs(mid.Freq.V0-10*math.Pi) > 1e-12 {
		t.Fatalf("mid freq = %v, want 10pi", mid.Freq.V0)
	}
	inner := mid.Mods[0].Ops[0]
	want := (4.0 / 3.0) * (math.Pi / 3.0)
	if math.Abs(inner.Freq.V0-want) > 1e-12 {
		t.Fatalf("inner ratio = %v, want %v", inner.Freq.V0, want)
	}
	if inner.Freq.Flags&ramp.StateRatio == 0 {
		t.Fatalf("inner freq should be a ratio")
	}
}

func TestParseSettings(t *testing.T) {
	s, diag := parseText(t, "Sa0.5 Wsin")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	if !s.Options.HasAmpMult || s.Options.AmpMult != 0.5 {
		t.Fatalf("ampmult not applied: %+v", s.Options)
	}
	s2, _ := parseText(t, "St2 Sf220 Wsin")
	if s2.Options.DefTimeMS != 2000 || s2.Options.DefFreq != 220 {
		t.Fatalf("settings defaults wrong: %+v", s2.Options)
	}
	op := s2.Events.Ops[0]
	if op.Time.MS != 2000 || op.Freq.V0 != 220 {
		t.Fatalf("defaults not picked up by operator")
	}
}

func TestParseLabelsAndRefs(t *testing.T) {
	s, diag := parseText(t, "'osc Wsin t1 \\1 @osc t2")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	e1 := s.Events
	e2 := e1.Next
	if e2 == nil || e2.WaitMS != 1000 {
		t.Fatalf("expected second event with 1000 ms wait")
	}
	if e2.VoicePrev != e1 {
		t.Fatalf("voice back-reference missing")
	}
	ref := e2.Ops[0]
	if ref.Prev != e1.Ops[0] {
		t.Fatalf("operator back-reference missing")
	}
	if e1.Ops[0].Flags&OpLaterUsed == 0 {
		t.Fatalf("LATER_USED not marked")
	}
}

func TestParseUndefinedLabelWarns(t *testing.T) {
	s, diag := parseText(t, "@ghost Wsin")
	if !strings.Contains(diag, "undefined label") {
		t.Fatalf("expected warning, got %q", diag)
	}
	// The reference is ignored, but parsing continues.
	if s.Events == nil || len(s.Events.Ops) != 1 {
		t.Fatalf("parse did not continue after bad reference")
	}
}

func TestParseUnknownWaveWarns(t *testing.T) {
	s, diag := parseText(t, "Wzzz")
	if !strings.Contains(diag, "unknown wave") {
		t.Fatalf("expected warning, got %q", diag)
	}
	if s.Events.Ops[0].Wave != osc.WaveSin {
		t.Fatalf("expected fallback to sin")
	}
}

func TestParseAmpModList(t *testing.T) {
	s, diag := parseText(t, "'a Wsin a,w[@a]")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	op := s.Events.Ops[0]
	if len(op.Mods) != 1 || op.Mods[0].Use != UseAM {
		t.Fatalf("AM list missing")
	}
	member := op.Mods[0].Ops[0]
	if member.Root() != op {
		t.Fatalf("self reference should resolve to the same operator identity")
	}
}

func TestParseRampGoal(t *testing.T) {
	s, diag := parseText(t, "Wsin a0[lin t2 v1]")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	a := s.Events.Ops[0].Amp
	if a.V0 != 0 || a.VT != 1 {
		t.Fatalf("goal endpoints wrong: %+v", a)
	}
	if a.Flags&ramp.Goal == 0 || a.TimeMS != 2000 || a.Fill != ramp.FillLin {
		t.Fatalf("goal params wrong: %+v", a)
	}
}

func TestParseFreqSecondValueAndList(t *testing.T) {
	s, diag := parseText(t, "Wsin f100,200,w[Wsin r2]")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	op := s.Events.Ops[0]
	if op.Freq.V0 != 100 || op.Freq2.V0 != 200 {
		t.Fatalf("freq pair wrong: %v %v", op.Freq.V0, op.Freq2.V0)
	}
	if len(op.Mods) != 1 || op.Mods[0].Use != UseFM {
		t.Fatalf("FM list missing")
	}
}

func TestParseAppendList(t *testing.T) {
	s, diag := parseText(t, "'m Wsin p[Wsin f5] \\1 @m p[-Wsin f9]")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	e2 := s.Events.Next
	list := e2.Ops[0].Mods[0]
	if !list.Append {
		t.Fatalf("append flag not set")
	}
	if len(list.Ops) != 1 {
		t.Fatalf("append list should hold only the new member")
	}
}

func TestParseBindMultiple(t *testing.T) {
	s, diag := parseText(t, "'x Wsin 'y Wtri \\1 @[x y] a0.25")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	e2 := s.Events.Next
	if len(e2.Ops) != 2 {
		t.Fatalf("expected 2 bound operators, got %d", len(e2.Ops))
	}
	for _, op := range e2.Ops {
		if op.Flags&OpMultiple == 0 {
			t.Fatalf("MULTIPLE flag missing")
		}
		if op.Amp.V0 != 0.25 || op.Params&ParamAmp == 0 {
			t.Fatalf("bound set param not distributed")
		}
	}
}

func TestParsePanning(t *testing.T) {
	s, diag := parseText(t, "Wsin P0.25")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	e := s.Events
	if e.Params&ParamPan == 0 || e.Pan.V0 != 0.25 {
		t.Fatalf("pan not set: %+v", e.Pan)
	}
}

func TestParseQStops(t *testing.T) {
	s, _ := parseText(t, "Wsin Q Wtri")
	if s.Events.Next != nil {
		t.Fatalf("content after Q should be ignored")
	}
}

func TestParseComment(t *testing.T) {
	s, diag := parseText(t, "# a comment\nWsin # trailing\n")
	if diag != "" {
		t.Fatalf("unexpected diagnostics: %s", diag)
	}
	if s.Events == nil || len(s.Events.Ops) != 1 {
		t.Fatalf("comment handling broke parsing")
	}
}

func TestNoteFrequencies(t *testing.T) {
	cases := []struct {
		name string
		want float64
	}{
		{"A", 440},
		{"A4", 440},
		{"C", 440 * 3.0 / 5.0},
		{"A5", 880},
		{"A3", 220},
		{"Cs", 440 * 3.0 / 5.0 * 25.0 / 24.0},
		{"Gf4", 440 * 3.0 / 5.0 * 36.0 / 25.0},
	}
	for _, tc := range cases {
		got, ok := noteFreq(tc.name, 440)
		if !ok {
			t.Fatalf("note %q not recognised", tc.name)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("note %q = %v, want %v", tc.name, got, tc.want)
		}
	}
	if _, ok := noteFreq("H", 440); ok {
		t.Fatalf("H should not be a note")
	}
}

func TestExpressionEvaluation(t *testing.T) {
	cases := []struct {
		text string
		want float64
	}{
		{"Wsin f2+3*4", 14},
		{"Wsin f(2+3)*4", 20},
		{"Wsin f2^3^2", 512},
		{"Wsin f(4/3)(pi/3)", (4.0 / 3.0) * (math.Pi / 3.0)},
		{"Wsin f10%3", 1},
		{"Wsin f-5+6", 1},
	}
	for _, tc := range cases {
		s, diag := parseText(t, tc.text)
		if diag != "" {
			t.Fatalf("%s: unexpected diagnostics: %s", tc.text, diag)
		}
		got := s.Events.Ops[0].Freq.V0
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: freq = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestDivisionByZeroDiscarded(t *testing.T) {
	s, diag := parseText(t, "Wsin f1/0")
	if !strings.Contains(diag, "overflow") {
		t.Fatalf("expected overflow warning, got %q", diag)
	}
	if s.Events.Ops[0].Freq.V0 != 440 {
		t.Fatalf("discarded expression should keep the default")
	}
}
