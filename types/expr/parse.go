package expr

import (
	"strconv"
	"unicode"

	"github.com/pkg/errors"
)

// Parse parses the text form of an expression, as rendered by Expr.String.
//
// It accepts integers, identifiers (letters, digits and underscores, not starting with a digit),
// the binary operators "+", "-", "*", unary "-" and parentheses.
func Parse(text string) (Expr, error) {
	p := &parser{text: text}
	p.next()
	e, err := p.parseSum()
	if err != nil {
		return Expr{}, err
	}
	if p.tok != tokEOF {
		return Expr{}, errors.Errorf("unexpected %q at position %d in expression %q", p.lit, p.pos, text)
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Meant for tests and constant tables.
func MustParse(text string) Expr {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

type token int

const (
	tokEOF token = iota
	tokInt
	tokIdent
	tokOp
)

type parser struct {
	text string
	pos  int // Position of the current token.
	end  int // Position after the current token.
	tok  token
	lit  string
}

func (p *parser) next() {
	for p.end < len(p.text) && p.text[p.end] == ' ' {
		p.end++
	}
	p.pos = p.end
	if p.end >= len(p.text) {
		p.tok, p.lit = tokEOF, ""
		return
	}
	r := rune(p.text[p.end])
	switch {
	case unicode.IsDigit(r):
		for p.end < len(p.text) && unicode.IsDigit(rune(p.text[p.end])) {
			p.end++
		}
		p.tok = tokInt
	case unicode.IsLetter(r) || r == '_':
		for p.end < len(p.text) {
			c := rune(p.text[p.end])
			if !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '_' {
				break
			}
			p.end++
		}
		p.tok = tokIdent
	default:
		p.end++
		p.tok = tokOp
	}
	p.lit = p.text[p.pos:p.end]
}

func (p *parser) parseSum() (Expr, error) {
	e, err := p.parseProduct()
	if err != nil {
		return Expr{}, err
	}
	for p.tok == tokOp && (p.lit == "+" || p.lit == "-") {
		op := p.lit
		p.next()
		rhs, err := p.parseProduct()
		if err != nil {
			return Expr{}, err
		}
		if op == "+" {
			e = Add(e, rhs)
		} else {
			e = Sub(e, rhs)
		}
	}
	return e, nil
}

func (p *parser) parseProduct() (Expr, error) {
	e, err := p.parseFactor()
	if err != nil {
		return Expr{}, err
	}
	for p.tok == tokOp && p.lit == "*" {
		p.next()
		rhs, err := p.parseFactor()
		if err != nil {
			return Expr{}, err
		}
		e = Mul(e, rhs)
	}
	return e, nil
}

func (p *parser) parseFactor() (Expr, error) {
	switch p.tok {
	case tokInt:
		v, err := strconv.ParseInt(p.lit, 10, 64)
		if err != nil {
			return Expr{}, errors.Wrapf(err, "invalid integer %q in expression %q", p.lit, p.text)
		}
		p.next()
		return Const(v), nil
	case tokIdent:
		name := p.lit
		p.next()
		return Var(name), nil
	case tokOp:
		switch p.lit {
		case "-":
			p.next()
			e, err := p.parseFactor()
			if err != nil {
				return Expr{}, err
			}
			return Neg(e), nil
		case "(":
			p.next()
			e, err := p.parseSum()
			if err != nil {
				return Expr{}, err
			}
			if p.tok != tokOp || p.lit != ")" {
				return Expr{}, errors.Errorf("missing \")\" at position %d in expression %q", p.pos, p.text)
			}
			p.next()
			return e, nil
		}
	}
	if p.tok == tokEOF {
		return Expr{}, errors.Errorf("unexpected end of expression %q", p.text)
	}
	return Expr{}, errors.Errorf("unexpected %q at position %d in expression %q", p.lit, p.pos, p.text)
}
