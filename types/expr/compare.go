package expr

// Tristate is the result of comparing symbolic expressions: they may be provably equal, provably
// different, or the answer may depend on run-time values.
type Tristate int

//go:generate go tool enumer -type=Tristate compare.go

const (
	Unknown Tristate = iota
	True
	False
)

// Equal compares a and b.
//
// It returns True if they are algebraically the same, False if they differ for every positive
// value of the variables, and Unknown otherwise.
func Equal(a, b Expr) Tristate {
	diff := Sub(a, b)
	if diff.IsZero() {
		return True
	}
	if diff.IsConst() {
		return False
	}
	// Variables are >= 1: a difference with all coefficients of the same sign can't be zero.
	positive, negative := true, true
	for _, t := range diff.terms {
		if t.coef < 0 {
			positive = false
		} else {
			negative = false
		}
	}
	if positive || negative {
		return False
	}
	return Unknown
}

// ProvablyEqual returns whether a and b are equal for all values of the variables.
func ProvablyEqual(a, b Expr) bool {
	return Equal(a, b) == True
}

// AllProvablyEqual compares two lists of expressions pairwise. Lists of different lengths are
// never equal.
func AllProvablyEqual(a, b []Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ProvablyEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Product returns the product of the given expressions, 1 if the list is empty.
func Product(exprs []Expr) Expr {
	return Mul(exprs...)
}

// Sum returns the sum of the given expressions, 0 if the list is empty.
func Sum(exprs []Expr) Expr {
	return Add(exprs...)
}

// Consts converts a list of integers to constant expressions.
func Consts(values ...int64) []Expr {
	exprs := make([]Expr, len(values))
	for i, v := range values {
		exprs[i] = Const(v)
	}
	return exprs
}
