package expr

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArithmetic(t *testing.T) {
	a, b := Var("a"), Var("b")
	e := Mul(a, Add(b, Const(1)))
	assert.Equal(t, "a*b + a", e.String())
	assert.Equal(t, True, Equal(e, Add(Mul(a, b), a)))
	assert.Equal(t, "0", Sub(e, e).String())
	assert.True(t, Sub(e, e).IsZero())
	assert.Equal(t, "-a + 3", Sub(Const(3), a).String())
	assert.Equal(t, "2*a*a", Mul(a, a, Const(2)).String())
	assert.Equal(t, "1", Product(nil).String())
	assert.Equal(t, "0", Sum(nil).String())

	v, ok := Mul(Const(3), Const(4)).ConstValue()
	require.True(t, ok)
	assert.Equal(t, int64(12), v)
	_, ok = e.ConstValue()
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, e.Vars())

	got, err := e.Eval(map[string]int64{"a": 3, "b": 5})
	require.NoError(t, err)
	assert.Equal(t, int64(18), got)
	_, err = e.Eval(map[string]int64{"a": 3})
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	s0, s1 := Var("s0"), Var("s1")
	testCases := []struct {
		name string
		a, b Expr
		want Tristate
	}{
		{"constants equal", Const(32), Mul(Const(4), Const(8)), True},
		{"constants differ", Const(32), Const(31), False},
		{"same variable", s0, s0, True},
		{"offset by constant", s0, Add(s0, Const(1)), False},
		{"double of a size", Mul(s0, Const(2)), s0, False},
		{"depends on run-time", Mul(s0, s1), s0, Unknown},
		{"variable vs constant", s0, Const(16), Unknown},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Equal(tc.a, tc.b))
			assert.Equal(t, tc.want, Equal(tc.b, tc.a))
		})
	}
	assert.True(t, AllProvablyEqual(Consts(1, 2), Consts(1, 2)))
	assert.False(t, AllProvablyEqual(Consts(1, 2), Consts(1)))
	assert.False(t, AllProvablyEqual([]Expr{s0}, []Expr{s1}))
}

func TestConstFactor(t *testing.T) {
	assert.Equal(t, int64(0), Const(0).ConstFactor())
	assert.Equal(t, int64(4), Mul(Var("s0"), Const(4)).ConstFactor())
	assert.Equal(t, int64(2), Add(Mul(Var("s0"), Const(4)), Const(6)).ConstFactor())
	assert.Equal(t, int64(64), Const(-64).ConstFactor())
}

func TestParse(t *testing.T) {
	for _, text := range []string{"0", "s0", "-s0 + 3", "2*s0*s1 + s1 - 7", "a*b + a"} {
		e := must.M1(Parse(text))
		assert.Equal(t, text, e.String())
	}
	e := must.M1(Parse("(s0 + 1) * 4"))
	assert.Equal(t, "4*s0 + 4", e.String())

	for _, bad := range []string{"", "s0 +", "(s0", "3 $ 4", "s0 s1"} {
		_, err := Parse(bad)
		assert.Error(t, err, "expected error parsing %q", bad)
	}
}

func TestFormat(t *testing.T) {
	e := Add(Mul(Var("s0"), Const(4)), Const(2))
	assert.Equal(t, "4*tiling_data.s0 + 2", e.Format(func(name string) string { return "tiling_data." + name }))
}
