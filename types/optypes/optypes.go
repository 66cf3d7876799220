// Package optypes defines OpType, the closed set of operator kinds a schedule graph can hold.
package optypes

import (
	"github.com/gomlx/autofuse/internal/utils"
)

// OpType is an enum of all operator kinds known to the schedule graphs.
type OpType int

//go:generate go tool enumer -type=OpType optypes.go

const (
	Invalid OpType = iota

	// Graph boundary and buffer operators.
	Data
	Output
	NetOutput
	Workspace
	Load
	Store
	Scalar

	// Backend wraps an entire nested graph, a fused region not yet inlined.
	Backend

	Broadcast
	Concat
	Split

	ReduceMax
	ReduceSum
	ReduceMin
	ReduceProd
	ReduceAny
	ReduceAll
	ReduceMean

	// Elementwise operators.
	Abs
	Add
	Cast
	Div
	Exp
	Log
	Max
	Min
	Mul
	Neg
	Relu
	Rsqrt
	Sqrt
	Sub

	// Last should always be kept the last, it is used as a counter/marker.
	Last
)

// IsReduce returns whether the operator is one of the reductions.
func (op OpType) IsReduce() bool {
	return op >= ReduceMax && op <= ReduceMean
}

// IsBuffer returns whether the operator only marks a buffer (graph input/output or workspace)
// and doesn't iterate over the loop nest.
func (op OpType) IsBuffer() bool {
	switch op {
	case Data, Output, NetOutput, Workspace:
		return true
	}
	return false
}

// IsElementwise returns whether the operator maps each element independently.
func (op OpType) IsElementwise() bool {
	return op >= Abs && op < Last
}

// PhaseTwoReduce returns the reduction used to combine partial results of op computed on
// separate cores. Mean combines as a Sum, every other reduction combines with itself.
//
// It returns Invalid if op is not a reduction.
func (op OpType) PhaseTwoReduce() OpType {
	switch op {
	case ReduceMean:
		return ReduceSum
	case ReduceMax, ReduceSum, ReduceMin, ReduceProd, ReduceAny, ReduceAll:
		return op
	}
	return Invalid
}

// SnakeName returns the operator name in snake case, used in dumps and generated node names.
func (op OpType) SnakeName() string {
	return utils.ToSnakeCase(op.String())
}
