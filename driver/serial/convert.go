package serial

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/easternanemone/rudaq/rudaqerr"
)

// builtinFuncs is the closed set of named functions a conversion expression
// may call (§4.3, §9 "Error semantics in configured conversions"): round,
// floor, ceil, abs, min, max, sqrt, sin, cos, tan. min/max take two
// arguments; every other builtin takes exactly one.
var builtinFuncs = map[string]func(args []float64) (float64, error){
	"round": func(a []float64) (float64, error) { return math.Round(a[0]), nil },
	"floor": func(a []float64) (float64, error) { return math.Floor(a[0]), nil },
	"ceil":  func(a []float64) (float64, error) { return math.Ceil(a[0]), nil },
	"abs":   func(a []float64) (float64, error) { return math.Abs(a[0]), nil },
	"sqrt":  func(a []float64) (float64, error) { return math.Sqrt(a[0]), nil },
	"sin":   func(a []float64) (float64, error) { return math.Sin(a[0]), nil },
	"cos":   func(a []float64) (float64, error) { return math.Cos(a[0]), nil },
	"tan":   func(a []float64) (float64, error) { return math.Tan(a[0]), nil },
	"min":   func(a []float64) (float64, error) { return math.Min(a[0], a[1]), nil },
	"max":   func(a []float64) (float64, error) { return math.Max(a[0], a[1]), nil },
}

var builtinArity = map[string]int{
	"round": 1, "floor": 1, "ceil": 1, "abs": 1, "sqrt": 1,
	"sin": 1, "cos": 1, "tan": 1, "min": 2, "max": 2,
}

// errDivByZero marks a division whose result would be non-finite.
var errDivByZero = errors.New("division by zero")

// evalExpr evaluates a small arithmetic expression over +, -, *, /,
// parentheses, numeric literals, identifiers bound in vars (typically just
// "raw"), and the closed builtin function set above. Conversion formulas
// here are a closed, tiny grammar (unlike a general scripting need), so this
// is a deliberately minimal hand-rolled recursive-descent parser rather than
// a dependency pulled in for one operator precedence table. Per §9, a
// non-finite or overflowing result is a Validation error, never silent.
func evalExpr(expr string, vars map[string]float64) (float64, error) {
	p := &exprParser{input: expr, vars: vars}
	p.next()
	v, err := p.parseExpr()
	if err != nil {
		if errors.Is(err, errDivByZero) {
			return 0, rudaqerr.Validation("serial.evalExpr", fmt.Errorf("conversion %q: %w", expr, err))
		}
		return 0, rudaqerr.Configuration("serial.evalExpr", err)
	}
	if p.tok != tokEOF {
		return 0, rudaqerr.Configuration("serial.evalExpr", fmt.Errorf("unexpected trailing input at %q", p.rest()))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, rudaqerr.Validation("serial.evalExpr", fmt.Errorf("conversion %q produced a non-finite result", expr))
	}
	return v, nil
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
)

type exprParser struct {
	input string
	pos   int
	vars  map[string]float64

	tok   tokKind
	num   float64
	ident string
}

func (p *exprParser) rest() string { return p.input[p.pos:] }

func (p *exprParser) next() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		p.tok = tokEOF
		return
	}
	c := p.input[p.pos]
	switch {
	case c == '+':
		p.pos++
		p.tok = tokPlus
	case c == '-':
		p.pos++
		p.tok = tokMinus
	case c == '*':
		p.pos++
		p.tok = tokStar
	case c == '/':
		p.pos++
		p.tok = tokSlash
	case c == '(':
		p.pos++
		p.tok = tokLParen
	case c == ')':
		p.pos++
		p.tok = tokRParen
	case c == ',':
		p.pos++
		p.tok = tokComma
	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
			p.pos++
		}
		p.num, _ = strconv.ParseFloat(p.input[start:p.pos], 64)
		p.tok = tokNumber
	case isIdentStart(c):
		start := p.pos
		for p.pos < len(p.input) && isIdentPart(p.input[p.pos]) {
			p.pos++
		}
		p.ident = p.input[start:p.pos]
		p.tok = tokIdent
	default:
		p.tok = tokEOF
		p.pos = len(p.input)
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (p *exprParser) parseExpr() (float64, error) {
	v, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.tok {
		case tokPlus:
			p.next()
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v += rhs
		case tokMinus:
			p.next()
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	v, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.tok {
		case tokStar:
			p.next()
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			v *= rhs
		case tokSlash:
			p.next()
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, errDivByZero
			}
			v /= rhs
		default:
			return v, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	switch p.tok {
	case tokMinus:
		p.next()
		v, err := p.parseFactor()
		return -v, err
	case tokNumber:
		v := p.num
		p.next()
		return v, nil
	case tokIdent:
		name := p.ident
		p.next()
		if p.tok == tokLParen {
			return p.parseCall(name)
		}
		v, ok := p.vars[name]
		if !ok {
			return 0, fmt.Errorf("unbound identifier %q", name)
		}
		return v, nil
	case tokLParen:
		p.next()
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.tok != tokRParen {
			return 0, fmt.Errorf("expected ')' at %q", p.rest())
		}
		p.next()
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected token at %q", strings.TrimSpace(p.rest()))
	}
}

// parseCall parses the argument list of a builtin function call, name having
// already been consumed with p.tok positioned on the opening '('.
func (p *exprParser) parseCall(name string) (float64, error) {
	fn, ok := builtinFuncs[name]
	if !ok {
		return 0, fmt.Errorf("unknown function %q", name)
	}
	p.next() // consume '('
	var args []float64
	if p.tok != tokRParen {
		for {
			v, err := p.parseExpr()
			if err != nil {
				return 0, err
			}
			args = append(args, v)
			if p.tok != tokComma {
				break
			}
			p.next()
		}
	}
	if p.tok != tokRParen {
		return 0, fmt.Errorf("expected ')' after %q args at %q", name, p.rest())
	}
	p.next()
	if len(args) != builtinArity[name] {
		return 0, fmt.Errorf("%q expects %d argument(s), got %d", name, builtinArity[name], len(args))
	}
	return fn(args)
}
