package sausyn

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"testing"
)

func TestRenderSamplesLength(t *testing.T) {
	var diag strings.Builder
	prog, err := CompileString("test", "Wsin t1", &diag)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	samples, err := RenderSamples(prog, 48000, &diag)
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if len(samples) != 48000*2 {
		t.Fatalf("expected %d samples, got %d", 48000*2, len(samples))
	}
	if diag.String() != "" {
		t.Fatalf("unexpected diagnostics: %s", diag.String())
	}
}

func TestRenderDeterministic(t *testing.T) {
	const script = "Wsin f220 t1 a0.7 P0.3 p[Wtri f3] \\0.5 Wsaw f110 t1"
	hash := func() [32]byte {
		prog, err := CompileString("test", script, nil)
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}
		samples, err := RenderSamples(prog, 48000, nil)
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}
		raw := make([]byte, len(samples)*2)
		for i, s := range samples {
			binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
		}
		return sha256.Sum256(raw)
	}
	if hash() != hash() {
		t.Fatalf("two renders of the same script differ")
	}
}

func TestEncodeWAV16LEHeader(t *testing.T) {
	samples := []int16{0, 0, 100, -100}
	wav := EncodeWAV16LE(samples, 48000, 2)
	if len(wav) != 44+8 {
		t.Fatalf("wav length = %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("bad container magic")
	}
	if binary.LittleEndian.Uint16(wav[20:]) != 1 {
		t.Fatalf("format code should be PCM (1)")
	}
	if binary.LittleEndian.Uint16(wav[22:]) != 2 {
		t.Fatalf("channel count wrong")
	}
	if binary.LittleEndian.Uint32(wav[24:]) != 48000 {
		t.Fatalf("sample rate wrong")
	}
	if binary.LittleEndian.Uint16(wav[34:]) != 16 {
		t.Fatalf("bit depth wrong")
	}
	if binary.LittleEndian.Uint32(wav[40:]) != 8 {
		t.Fatalf("data size wrong")
	}
	if int16(binary.LittleEndian.Uint16(wav[44+4:])) != 100 {
		t.Fatalf("sample payload wrong")
	}
}

func TestCompileReportsWarningsButBuilds(t *testing.T) {
	var diag strings.Builder
	prog, err := CompileString("test", "@nope Wsin t1", &diag)
	if err != nil {
		t.Fatalf("warnings must not fail the build: %v", err)
	}
	if prog == nil || prog.OpCount != 1 {
		t.Fatalf("expected a one-operator program")
	}
	if !strings.Contains(diag.String(), "undefined label") {
		t.Fatalf("expected diagnostic, got %q", diag.String())
	}
}

func TestCompileEmptyScriptFails(t *testing.T) {
	if _, err := CompileString("test", "", nil); err == nil {
		t.Fatalf("empty script should not produce a program")
	}
}
