// Package expr implements symbolic size expressions: integer constants and named run-time size
// variables, closed under addition and multiplication.
//
// Expressions are kept in a canonical polynomial form, so structurally different but algebraically
// equal expressions (e.g. "a*(b+1)" and "a*b + a") compare as equal.
//
// Variables stand for positive (>= 1) run-time sizes. Comparisons that depend on their values
// return Unknown, see Equal.
package expr

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Expr is a symbolic integer expression. The zero value is the constant 0.
//
// Expr values are immutable: all operations return new values.
type Expr struct {
	// terms are sorted by decreasing degree and then by key, so the constant term is last.
	// There are no zero coefficients.
	terms []term
}

// term is coef * vars[0] * vars[1] * ..., with vars sorted. The constant term has no vars.
type term struct {
	vars []string
	coef int64
}

func (t term) key() string {
	return strings.Join(t.vars, "*")
}

// Const returns the constant expression v.
func Const(v int64) Expr {
	if v == 0 {
		return Expr{}
	}
	return Expr{terms: []term{{coef: v}}}
}

// Var returns the expression for the run-time size variable with the given name.
func Var(name string) Expr {
	return Expr{terms: []term{{vars: []string{name}, coef: 1}}}
}

// normalize merges terms with the same monomial, drops zeros and sorts.
func normalize(terms []term) Expr {
	merged := make(map[string]term, len(terms))
	for _, t := range terms {
		k := t.key()
		if prev, found := merged[k]; found {
			prev.coef += t.coef
			merged[k] = prev
		} else {
			merged[k] = term{vars: slices.Clone(t.vars), coef: t.coef}
		}
	}
	result := make([]term, 0, len(merged))
	for _, t := range merged {
		if t.coef != 0 {
			result = append(result, t)
		}
	}
	slices.SortFunc(result, func(a, b term) int {
		if len(a.vars) != len(b.vars) {
			return len(b.vars) - len(a.vars)
		}
		return strings.Compare(a.key(), b.key())
	})
	return Expr{terms: result}
}

// Add returns the sum of all the given expressions.
func Add(exprs ...Expr) Expr {
	var all []term
	for _, e := range exprs {
		all = append(all, e.terms...)
	}
	return normalize(all)
}

// Neg returns -e.
func Neg(e Expr) Expr {
	terms := make([]term, len(e.terms))
	for i, t := range e.terms {
		terms[i] = term{vars: t.vars, coef: -t.coef}
	}
	return Expr{terms: terms}
}

// Sub returns a - b.
func Sub(a, b Expr) Expr {
	return Add(a, Neg(b))
}

// Mul returns the product of all the given expressions. The product of no expressions is 1.
func Mul(exprs ...Expr) Expr {
	result := Const(1)
	for _, e := range exprs {
		var terms []term
		for _, t1 := range result.terms {
			for _, t2 := range e.terms {
				vars := make([]string, 0, len(t1.vars)+len(t2.vars))
				vars = append(vars, t1.vars...)
				vars = append(vars, t2.vars...)
				slices.Sort(vars)
				terms = append(terms, term{vars: vars, coef: t1.coef * t2.coef})
			}
		}
		result = normalize(terms)
	}
	return result
}

// Add returns e + other.
func (e Expr) Add(other Expr) Expr { return Add(e, other) }

// Mul returns e * other.
func (e Expr) Mul(other Expr) Expr { return Mul(e, other) }

// MulConst returns e * c.
func (e Expr) MulConst(c int64) Expr { return Mul(e, Const(c)) }

// IsZero returns whether e is the constant 0.
func (e Expr) IsZero() bool {
	return len(e.terms) == 0
}

// IsConst returns whether e doesn't depend on any variable.
func (e Expr) IsConst() bool {
	return len(e.terms) == 0 || (len(e.terms) == 1 && len(e.terms[0].vars) == 0)
}

// ConstValue returns the value of a constant expression, and false if e is not constant.
func (e Expr) ConstValue() (int64, bool) {
	if len(e.terms) == 0 {
		return 0, true
	}
	if len(e.terms) == 1 && len(e.terms[0].vars) == 0 {
		return e.terms[0].coef, true
	}
	return 0, false
}

// IsConstValue returns whether e is the constant v.
func (e Expr) IsConstValue(v int64) bool {
	c, ok := e.ConstValue()
	return ok && c == v
}

// Vars returns the sorted names of the variables e depends on.
func (e Expr) Vars() []string {
	var vars []string
	for _, t := range e.terms {
		for _, v := range t.vars {
			if !slices.Contains(vars, v) {
				vars = append(vars, v)
			}
		}
	}
	slices.Sort(vars)
	return vars
}

// ConstFactor returns the largest positive integer that divides e for any value of its variables,
// i.e. the gcd of its coefficients. It returns 0 for the zero expression.
func (e Expr) ConstFactor() int64 {
	var g int64
	for _, t := range e.terms {
		g = gcd(g, abs(t.coef))
	}
	return g
}

// Eval evaluates e given the values of its variables.
func (e Expr) Eval(values map[string]int64) (int64, error) {
	var sum int64
	for _, t := range e.terms {
		v := t.coef
		for _, name := range t.vars {
			x, found := values[name]
			if !found {
				return 0, errors.Errorf("no value for variable %q in %s", name, e)
			}
			v *= x
		}
		sum += v
	}
	return sum, nil
}

// Format renders e, mapping each variable name with varName. If varName is nil the names are
// used as is.
func (e Expr) Format(varName func(string) string) string {
	if len(e.terms) == 0 {
		return "0"
	}
	var sb strings.Builder
	for i, t := range e.terms {
		coef := t.coef
		if i > 0 {
			if coef < 0 {
				sb.WriteString(" - ")
				coef = -coef
			} else {
				sb.WriteString(" + ")
			}
		} else if coef < 0 && len(t.vars) > 0 {
			sb.WriteString("-")
			coef = -coef
		}
		if len(t.vars) == 0 {
			sb.WriteString(strconv.FormatInt(coef, 10))
			continue
		}
		if coef != 1 {
			sb.WriteString(strconv.FormatInt(coef, 10))
			sb.WriteString("*")
		}
		for j, v := range t.vars {
			if j > 0 {
				sb.WriteString("*")
			}
			if varName != nil {
				v = varName(v)
			}
			sb.WriteString(v)
		}
	}
	return sb.String()
}

// String implements fmt.Stringer.
func (e Expr) String() string {
	return e.Format(nil)
}

// GoString implements fmt.GoStringer, used by %#v.
func (e Expr) GoString() string {
	return fmt.Sprintf("expr(%s)", e)
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs(a int64) int64 {
	if a < 0 {
		return -a
	}
	return a
}
