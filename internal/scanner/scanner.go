// Package scanner reads script text byte by byte through a ring
// buffer, with bounded unget, line/column tracking, and the low-level
// number and identifier scanners the parser builds on.
package scanner

import (
	"io"
	"math"
	"os"
	"strings"
)

const (
	bufSize   = 4096 // power of two
	bufMask   = bufSize - 1
	fillChunk = bufSize / 2

	// UngetMax bounds how far a caller can push back.
	UngetMax = 4

	// IdentMax caps identifier length.
	IdentMax = 64

	// EOFByte is returned by Get once the stream is exhausted. A literal
	// 0 byte in the input is distinguished via AfterEOF.
	EOFByte = 0
)

type posInfo struct {
	line, col int
}

// Scanner is a buffered byte reader over a file or an in-memory
// string.
type Scanner struct {
	name   string
	src    io.Reader
	closer io.Closer

	ring   [bufSize]byte
	pos    int // absolute index of next byte to serve
	filled int // absolute index one past the last buffered byte
	srcEOF bool

	afterEOF bool
	line     int
	col      int
	hist     [UngetMax + 1]posInfo
	histLen  int
	ungets   int
}

// NewFile opens path for scanning. Close releases the descriptor.
func NewFile(path string) (*Scanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := newScanner(path, f)
	s.closer = f
	return s, nil
}

// NewString scans an in-memory script. name is used in diagnostics.
func NewString(name, text string) *Scanner {
	return newScanner(name, strings.NewReader(text))
}

func newScanner(name string, src io.Reader) *Scanner {
	return &Scanner{name: name, src: src, line: 1, col: 0}
}

func (s *Scanner) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Name returns the diagnostic name of the source.
func (s *Scanner) Name() string { return s.name }

// Line returns the 1-based line of the byte most recently returned.
func (s *Scanner) Line() int { return s.line }

// Col returns the 1-based column of the byte most recently returned.
func (s *Scanner) Col() int { return s.col }

// AfterEOF reports whether the last Get hit the end of the stream
// rather than returning a literal byte.
func (s *Scanner) AfterEOF() bool { return s.afterEOF }

// Get returns the next byte, advancing. At end of stream it returns
// EOFByte and sets the AfterEOF flag.
func (s *Scanner) Get() byte {
	if s.pos == s.filled && !s.fill() {
		s.afterEOF = true
		return EOFByte
	}
	c := s.ring[s.pos&bufMask]
	s.pos++
	s.afterEOF = false
	s.pushPos()
	switch c {
	case '\n':
		s.line++
		s.col = 0
	case '\r':
		// \r\n counts once, at the \n.
		if s.peekRaw() != '\n' {
			s.line++
			s.col = 0
		}
	default:
		s.col++
	}
	if s.ungets > 0 {
		s.ungets--
	}
	return c
}

// Unget pushes the last byte back. Up to UngetMax consecutive ungets
// are supported. Ungetting past the sentinel only clears the flag.
func (s *Scanner) Unget() {
	if s.afterEOF {
		s.afterEOF = false
		return
	}
	if s.ungets >= UngetMax || s.pos == 0 || s.histLen == 0 {
		return
	}
	s.pos--
	s.ungets++
	s.histLen--
	if s.histLen > 0 {
		p := s.hist[s.histLen-1]
		s.line, s.col = p.line, p.col
	} else {
		s.line, s.col = 1, 0
	}
}

// Peek returns the next byte without consuming it.
func (s *Scanner) Peek() byte {
	if s.pos == s.filled && !s.fill() {
		return EOFByte
	}
	return s.ring[s.pos&bufMask]
}

func (s *Scanner) peekRaw() byte {
	if s.pos == s.filled && !s.fill() {
		return EOFByte
	}
	return s.ring[s.pos&bufMask]
}

// pushPos records the position of the byte about to be returned so
// Unget can restore line/col.
func (s *Scanner) pushPos() {
	if s.histLen == len(s.hist) {
		copy(s.hist[:], s.hist[1:])
		s.histLen--
	}
	s.hist[s.histLen] = posInfo{s.line, s.col + 1}
	s.histLen++
}

// fill reads more bytes into the ring. Returns false at end of stream.
// At most fillChunk bytes are read per call, which keeps the last
// UngetMax served bytes intact behind the read position.
func (s *Scanner) fill() bool {
	if s.srcEOF {
		return s.pos < s.filled
	}
	start := s.filled & bufMask
	n := bufSize - start
	if n > fillChunk {
		n = fillChunk
	}
	read, err := s.src.Read(s.ring[start : start+n])
	s.filled += read
	if err != nil || read == 0 {
		s.srcEOF = true
	}
	return s.pos < s.filled
}

// SkipSpaces consumes spaces and tabs.
func (s *Scanner) SkipSpaces() {
	for {
		c := s.Get()
		if c != ' ' && c != '\t' {
			s.Unget()
			return
		}
	}
}

// SkipLine consumes bytes up to (not including) the next newline.
func (s *Scanner) SkipLine() {
	for {
		c := s.Get()
		if c == '\n' || c == '\r' || s.afterEOF {
			s.Unget()
			return
		}
	}
}

// ScanIdent reads an identifier of [A-Za-z0-9_]+, at most IdentMax
// bytes. Returns the empty string if the next byte cannot begin one.
func (s *Scanner) ScanIdent() string {
	var b [IdentMax]byte
	n := 0
	for {
		c := s.Get()
		if !isIdentByte(c) || s.afterEOF {
			s.Unget()
			break
		}
		if n < IdentMax {
			b[n] = c
			n++
		}
	}
	return string(b[:n])
}

// ScanInt reads a signed 32-bit decimal integer. Reports false when no
// digits follow.
func (s *Scanner) ScanInt() (int32, bool) {
	neg := false
	signConsumed := false
	c := s.Get()
	if c == '-' || c == '+' {
		neg = c == '-'
		signConsumed = true
	} else {
		s.Unget()
	}
	var v int64
	digits := 0
	for {
		c = s.Get()
		if c < '0' || c > '9' || s.afterEOF {
			s.Unget()
			break
		}
		v = v*10 + int64(c-'0')
		if v > math.MaxInt32+1 {
			v = math.MaxInt32 + 1
		}
		digits++
	}
	if digits == 0 {
		if signConsumed {
			s.Unget()
		}
		return 0, false
	}
	if neg {
		v = -v
	}
	if v > math.MaxInt32 {
		v = math.MaxInt32
	} else if v < math.MinInt32 {
		v = math.MinInt32
	}
	return int32(v), true
}

// ScanNumber reads a finite double, allowing a leading '.'. Reports
// false when the next bytes do not form a number.
func (s *Scanner) ScanNumber() (float64, bool) {
	var intPart, fracPart float64
	var fracDiv float64 = 1
	digits := 0
	for {
		c := s.Get()
		if c < '0' || c > '9' || s.afterEOF {
			s.Unget()
			break
		}
		intPart = intPart*10 + float64(c-'0')
		digits++
	}
	if s.Peek() == '.' {
		s.Get()
		fracDigits := 0
		for {
			c := s.Get()
			if c < '0' || c > '9' || s.afterEOF {
				s.Unget()
				break
			}
			fracPart = fracPart*10 + float64(c-'0')
			fracDiv *= 10
			fracDigits++
		}
		if fracDigits == 0 && digits == 0 {
			s.Unget() // lone '.'
			return 0, false
		}
		digits += fracDigits
	}
	if digits == 0 {
		return 0, false
	}
	v := intPart + fracPart/fracDiv
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func isIdentByte(c byte) bool {
	return c == '_' ||
		(c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9')
}
