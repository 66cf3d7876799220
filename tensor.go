package autofuse

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/gopjrt/dtypes"
)

// TensorAttr describes one output tensor of a node: for each of its axes, the number of
// repeats (the extent of the tensor along the axis) and the stride (in elements).
//
// The three lists Axis, Repeats and Strides always have the same length.
type TensorAttr struct {
	DType   dtypes.DType
	Axis    []AxisID
	Repeats []expr.Expr
	Strides []expr.Expr
}

// Rank returns the number of axes of the tensor.
func (t TensorAttr) Rank() int {
	return len(t.Axis)
}

// Clone returns a deep copy of t.
func (t TensorAttr) Clone() TensorAttr {
	return TensorAttr{
		DType:   t.DType,
		Axis:    slices.Clone(t.Axis),
		Repeats: slices.Clone(t.Repeats),
		Strides: slices.Clone(t.Strides),
	}
}

// Validate checks that the axis, repeats and strides lists have the same length.
func (t TensorAttr) Validate() error {
	if len(t.Repeats) != len(t.Axis) || len(t.Strides) != len(t.Axis) {
		return Invariantf("tensor has %d axes, %d repeats and %d strides", len(t.Axis), len(t.Repeats), len(t.Strides))
	}
	return nil
}

// Elements returns the symbolic number of elements of the tensor.
func (t TensorAttr) Elements() expr.Expr {
	return expr.Product(t.Repeats)
}

// ProvablyEqual returns whether t and other have the same dtype and axes, and provably the same
// repeats and strides.
func (t TensorAttr) ProvablyEqual(other TensorAttr) bool {
	return t.DType == other.DType &&
		slices.Equal(t.Axis, other.Axis) &&
		expr.AllProvablyEqual(t.Repeats, other.Repeats) &&
		expr.AllProvablyEqual(t.Strides, other.Strides)
}

// ContiguousTensor returns the attributes of a dense tensor over the given axes, laid out
// row-major (the last axis is the innermost).
func ContiguousTensor(dtype dtypes.DType, axes ...Axis) TensorAttr {
	t := TensorAttr{
		DType:   dtype,
		Axis:    make([]AxisID, len(axes)),
		Repeats: make([]expr.Expr, len(axes)),
		Strides: make([]expr.Expr, len(axes)),
	}
	stride := expr.Const(1)
	for i := len(axes) - 1; i >= 0; i-- {
		t.Axis[i] = axes[i].ID
		t.Repeats[i] = axes[i].Size
		t.Strides[i] = stride
		stride = expr.Mul(stride, axes[i].Size)
	}
	return t
}

// String implements fmt.Stringer.
func (t TensorAttr) String() string {
	parts := make([]string, len(t.Axis))
	for i, id := range t.Axis {
		var repeat, stride string
		if i < len(t.Repeats) {
			repeat = t.Repeats[i].String()
		}
		if i < len(t.Strides) {
			stride = t.Strides[i].String()
		}
		parts[i] = fmt.Sprintf("z%d:%s/%s", id, repeat, stride)
	}
	return fmt.Sprintf("%s[%s]", t.DType, strings.Join(parts, ", "))
}
