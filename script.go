// Package sausyn renders SAU synthesis scripts: a declarative
// description of nested modulation graphs with overlapping time
// windows, compiled to a time-ordered program of voice and operator
// events and generated as 16-bit stereo PCM.
package sausyn

import (
	"errors"
	"io"

	intprog "github.com/cbegin/sausyn-go/internal/program"
	intsau "github.com/cbegin/sausyn-go/internal/sau"
	intscan "github.com/cbegin/sausyn-go/internal/scanner"
)

// DefaultSampleRate is used when the caller does not choose one.
const DefaultSampleRate = 96000

// ReadScript parses a script file. Parse problems are warnings on
// diag and do not fail the read; only an unreadable file does.
func ReadScript(path string, diag io.Writer) (*intsau.Script, error) {
	sc, err := intscan.NewFile(path)
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	s := intsau.Parse(sc, diag)
	intsau.Resolve(s)
	return s, nil
}

// ReadScriptString parses an in-memory script. name labels
// diagnostics.
func ReadScriptString(name, text string, diag io.Writer) *intsau.Script {
	s := intsau.Parse(intscan.NewString(name, text), diag)
	intsau.Resolve(s)
	return s
}

// BuildProgram converts a resolved script into a program. The script
// may be discarded afterwards.
func BuildProgram(s *intsau.Script, diag io.Writer) (*intprog.Program, error) {
	if s == nil {
		return nil, errors.New("nil script")
	}
	if s.Events == nil {
		return nil, errors.New("script has no events")
	}
	return intprog.Build(s, diag)
}

// CompileString is the one-call path from script text to program.
func CompileString(name, text string, diag io.Writer) (*intprog.Program, error) {
	return BuildProgram(ReadScriptString(name, text, diag), diag)
}
