package split

import (
	"fmt"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/types/expr"
)

// Alignment classifies the start address of a Split output.
type Alignment int

//go:generate go tool enumer -type=Alignment -trimprefix=Alignment group.go

const (
	// AlignmentUnknown means the alignment depends on run-time sizes.
	AlignmentUnknown Alignment = iota
	Aligned
	Unaligned
)

// SplitGroup is a range of consecutive outputs of a Split lowered together.
type SplitGroup struct {
	// Begin and End delimit the outputs of the group: [Begin, End).
	Begin, End int

	// Alignment of the start of every output of the group.
	Alignment Alignment

	// Bytes is the total size of the outputs of the group.
	Bytes expr.Expr
}

// String implements fmt.Stringer.
func (s SplitGroup) String() string {
	return fmt.Sprintf("[%d, %d):%s:%sB", s.Begin, s.End, s.Alignment, s.Bytes)
}

// classify returns the alignment of a byte offset.
func classify(offset expr.Expr, alignment int64) Alignment {
	if factor := offset.ConstFactor(); offset.IsZero() || factor%alignment == 0 {
		return Aligned
	}
	if offset.IsConst() {
		return Unaligned
	}
	return AlignmentUnknown
}

// combine returns the alignment of a group mixing outputs of alignments a and b.
func combine(a, b Alignment) Alignment {
	switch {
	case a == b:
		return a
	case a == Unaligned || b == Unaligned:
		return Unaligned
	}
	return AlignmentUnknown
}

// SplitGroupPartitioner groups the consecutive outputs of the Split with the same alignment,
// without exceeding Options.GroupBytes per group. Outputs of symbolic size are groups of their
// own. At most Options.MaxGroups groups are created: the remaining outputs are added to the
// last one.
func SplitGroupPartitioner(g *autofuse.Graph, split *autofuse.Node, dim int, opts Options) ([]SplitGroup, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if split.NumOutputs() == 0 {
		return nil, autofuse.Invariantf("Split %q has no outputs", split.Name)
	}
	elementBytes := utils.DTypeBytes(split.Outputs[0].DType)
	producer := g.Producer(split, 0)
	if producer == nil {
		return nil, autofuse.NullReferencef("Split %q in graph %q has no input", split.Name, g.Name)
	}
	input := producer.Output(split.Input(0).Index)
	if input == nil || dim >= input.Rank() {
		return nil, autofuse.NullReferencef("Split %q input has no dimension %d", split.Name, dim)
	}
	unitBytes := expr.Mul(expr.Product(input.Repeats[dim+1:]), expr.Const(elementBytes))

	var groups []SplitGroup
	start := expr.Const(0)
	for j, output := range split.Outputs {
		alignment := classify(expr.Mul(start, unitBytes), opts.Alignment)
		bytes := expr.Mul(output.Elements(), expr.Const(elementBytes))
		start = expr.Add(start, output.Repeats[dim])
		if len(groups) > 0 {
			last := &groups[len(groups)-1]
			merged := expr.Add(last.Bytes, bytes)
			total, isConst := merged.ConstValue()
			fits := isConst && total <= opts.GroupBytes && last.Alignment == alignment
			if fits || len(groups) >= opts.MaxGroups {
				last.End = j + 1
				last.Bytes = merged
				last.Alignment = combine(last.Alignment, alignment)
				continue
			}
		}
		groups = append(groups, SplitGroup{Begin: j, End: j + 1, Alignment: alignment, Bytes: bytes})
	}
	return groups, nil
}
