package sau

import (
	"math"
)

// Numeric expressions: + - * / % ^ with parentheses, implied
// multiplication after a closing parenthesis, the constant pi, and (in
// frequency context) note names. Whitespace ends an expression except
// inside parentheses. Overflow to non-finite discards the expression.

// scanNum evaluates an expression at the scanner position. freqCtx
// admits note names. Reports false (consuming what it scanned) when no
// valid number is present.
func (p *Parser) scanNum(freqCtx bool) (float64, bool) {
	v, ok := p.parseExpr(0, freqCtx)
	if !ok {
		return 0, false
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		p.warn("numeric overflow, expression discarded")
		return 0, false
	}
	return v, true
}

// hasNum reports whether an expression can start here.
func (p *Parser) hasNum(freqCtx bool) bool {
	c := p.sc.Peek()
	switch {
	case c >= '0' && c <= '9', c == '.', c == '(', c == '-':
		return true
	case c == 'p': // pi
		return true
	case freqCtx && (c >= 'a' && c <= 'g' || c >= 'A' && c <= 'G'):
		return true
	}
	return false
}

func (p *Parser) parseExpr(level int, freqCtx bool) (float64, bool) {
	acc, ok := p.parseTerm(level, freqCtx)
	if !ok {
		return 0, false
	}
	for {
		if level > 0 {
			p.sc.SkipSpaces()
		}
		c := p.sc.Get()
		switch c {
		case '+':
			v, ok := p.parseTerm(level, freqCtx)
			if !ok {
				return 0, false
			}
			acc += v
		case '-':
			v, ok := p.parseTerm(level, freqCtx)
			if !ok {
				return 0, false
			}
			acc -= v
		default:
			p.sc.Unget()
			return acc, true
		}
	}
}

func (p *Parser) parseTerm(level int, freqCtx bool) (float64, bool) {
	acc, ok := p.parsePow(level, freqCtx)
	if !ok {
		return 0, false
	}
	for {
		if level > 0 {
			p.sc.SkipSpaces()
		}
		c := p.sc.Get()
		switch c {
		case '*':
			v, ok := p.parsePow(level, freqCtx)
			if !ok {
				return 0, false
			}
			acc *= v
		case '/':
			v, ok := p.parsePow(level, freqCtx)
			if !ok {
				return 0, false
			}
			acc /= v
		case '%':
			v, ok := p.parsePow(level, freqCtx)
			if !ok {
				return 0, false
			}
			acc = math.Mod(acc, v)
		default:
			p.sc.Unget()
			return acc, true
		}
	}
}

func (p *Parser) parsePow(level int, freqCtx bool) (float64, bool) {
	base, ok := p.parseUnary(level, freqCtx)
	if !ok {
		return 0, false
	}
	if level > 0 {
		p.sc.SkipSpaces()
	}
	if c := p.sc.Get(); c != '^' {
		p.sc.Unget()
		return base, true
	}
	// right-associative
	exp, ok := p.parsePow(level, freqCtx)
	if !ok {
		return 0, false
	}
	return math.Pow(base, exp), true
}

func (p *Parser) parseUnary(level int, freqCtx bool) (float64, bool) {
	if level > 0 {
		p.sc.SkipSpaces()
	}
	if c := p.sc.Get(); c != '-' {
		p.sc.Unget()
	} else {
		v, ok := p.parseUnary(level, freqCtx)
		if !ok {
			return 0, false
		}
		return -v, true
	}
	return p.parsePrimary(level, freqCtx)
}

func (p *Parser) parsePrimary(level int, freqCtx bool) (float64, bool) {
	if level > 0 {
		p.sc.SkipSpaces()
	}
	c := p.sc.Get()
	switch {
	case c == '(':
		v, ok := p.parseExpr(level+1, freqCtx)
		if !ok {
			return 0, false
		}
		p.sc.SkipSpaces()
		if close := p.sc.Get(); close != ')' {
			p.warn("expected ')' in expression")
			p.sc.Unget()
			return 0, false
		}
		return p.impliedMul(v, level, freqCtx)
	case c >= '0' && c <= '9', c == '.':
		p.sc.Unget()
		v, ok := p.sc.ScanNumber()
		if !ok {
			return 0, false
		}
		return v, true
	case isWordByte(c):
		p.sc.Unget()
		name := p.sc.ScanIdent()
		if name == "pi" {
			return math.Pi, true
		}
		if freqCtx {
			if v, ok := noteFreq(name, p.opt.A4Freq); ok {
				return v, true
			}
			p.warn("bad note or symbol %q", name)
			return 0, false
		}
		p.warn("unknown symbol %q", name)
		return 0, false
	default:
		p.sc.Unget()
		return 0, false
	}
}

// impliedMul multiplies a parenthesised value with a directly
// following primary, as in (4/3)(pi/3) or (1/2)440.
func (p *Parser) impliedMul(v float64, level int, freqCtx bool) (float64, bool) {
	c := p.sc.Peek()
	if c == '(' || (c >= '0' && c <= '9') || c == '.' || isWordByte(c) {
		w, ok := p.parsePrimary(level, freqCtx)
		if !ok {
			return 0, false
		}
		return v * w, true
	}
	return v, true
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Just-intonation ratios relative to C for the seven diatonic notes
// plus the next octave's C; flat and sharp variants offset each step
// by the classic chromatic semitone 25/24.
var noteRatios = [3][8]float64{
	{ // flat
		24.0 / 25.0, 27.0 / 25.0, 6.0 / 5.0, 32.0 / 25.0,
		36.0 / 25.0, 8.0 / 5.0, 9.0 / 5.0, 48.0 / 25.0,
	},
	{ // natural
		1, 9.0 / 8.0, 5.0 / 4.0, 4.0 / 3.0,
		3.0 / 2.0, 5.0 / 3.0, 15.0 / 8.0, 2,
	},
	{ // sharp
		25.0 / 24.0, 75.0 / 64.0, 125.0 / 96.0, 25.0 / 18.0,
		25.0 / 16.0, 125.0 / 72.0, 125.0 / 64.0, 25.0 / 12.0,
	},
}

var noteIndex = map[byte]int{'C': 0, 'D': 1, 'E': 2, 'F': 3, 'G': 4, 'A': 5, 'B': 6}

// noteFreq interprets name as a note: optional subnote a-g, main
// letter C-B, optional accidental s/f, octave digits 0-10 (default 4).
// The result is A4 x (3/5) x 2^(oct-4) x ratio, the 3/5 factor placing
// natural A4 exactly at the tuning frequency. A subnote slides the
// pitch linearly toward the next diatonic step.
func noteFreq(name string, a4 float64) (float64, bool) {
	if name == "" {
		return 0, false
	}
	i := 0
	subnote := -1
	if name[i] >= 'a' && name[i] <= 'g' && len(name) > i+1 {
		if _, ok := noteIndex[name[i+1]]; ok {
			subnote = int(name[i] - 'a')
			i++
		}
	}
	if i >= len(name) {
		return 0, false
	}
	note, ok := noteIndex[name[i]]
	if !ok {
		return 0, false
	}
	i++
	acc := 1 // natural
	if i < len(name) && (name[i] == 's' || name[i] == 'f') {
		if name[i] == 's' {
			acc = 2
		} else {
			acc = 0
		}
		i++
	}
	oct := 4
	if i < len(name) {
		oct = 0
		for ; i < len(name); i++ {
			if name[i] < '0' || name[i] > '9' {
				return 0, false
			}
			oct = oct*10 + int(name[i]-'0')
		}
		if oct > 10 {
			return 0, false
		}
	}
	ratio := noteRatios[acc][note]
	if subnote >= 0 {
		next := noteRatios[acc][note+1]
		ratio += (next - ratio) * float64(subnote) / 7
	}
	return a4 * (3.0 / 5.0) * math.Pow(2, float64(oct-4)) * ratio, true
}
