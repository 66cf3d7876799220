package split

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/types/expr"
)

// Scores returned by the generated functions.
const (
	ScoreRecommended    = 1
	ScoreUndecided      = 0
	ScoreNotRecommended = -1
)

// ScoreFunctionGenerator generates the source of the function scoring the direct lowering of
// a Split on an inner dimension: it is recommended if the outputs start aligned in memory.
//
// The generated function has the signature:
//
//	int64_t <Name>(const TilingData &tiling_data)
//
// where the run-time sizes are fields of tiling_data.
type ScoreFunctionGenerator struct {
	Name string

	// Alignment in bytes.
	Alignment int64

	// AlignedRatio is the fraction of the output elements, counted from the first output, that
	// must start aligned.
	AlignedRatio float64
}

// Generate returns the source of the scoring function of the Split along dimension dim.
//
// If the byte size of one unit of the split dimension is provably a multiple of the alignment,
// the function returns a constant 1. If every output extent is constant, the result is decided
// now: a constant 1 or -1 if the unit size is constant, 0 if it's only known at run time.
// Otherwise, the function computes the aligned ratio at run time.
func (s ScoreFunctionGenerator) Generate(g *autofuse.Graph, split *autofuse.Node, dim int) (string, error) {
	if s.Alignment <= 0 {
		return "", autofuse.Invariantf("invalid alignment %d for score function %q", s.Alignment, s.Name)
	}
	producer := g.Producer(split, 0)
	if producer == nil {
		return "", autofuse.NullReferencef("Split %q in graph %q has no input", split.Name, g.Name)
	}
	input := producer.Output(split.Input(0).Index)
	if input == nil || dim >= input.Rank() {
		return "", autofuse.NullReferencef("Split %q input has no dimension %d", split.Name, dim)
	}
	elementBytes := utils.DTypeBytes(input.DType)
	unitBytes := expr.Mul(expr.Product(input.Repeats[dim+1:]), expr.Const(elementBytes))
	if unitBytes.ConstFactor()%s.Alignment == 0 {
		return s.constant(ScoreRecommended), nil
	}

	sizes := make([]expr.Expr, split.NumOutputs())
	constSizes := make([]int64, split.NumOutputs())
	allConst := true
	for j, output := range split.Outputs {
		if dim >= output.Rank() {
			return "", autofuse.Invariantf("output #%d of Split %q has rank %d", j, split.Name, output.Rank())
		}
		sizes[j] = output.Repeats[dim]
		var isConst bool
		constSizes[j], isConst = sizes[j].ConstValue()
		allConst = allConst && isConst
	}
	if allConst {
		unit, isConst := unitBytes.ConstValue()
		if !isConst {
			return s.constant(ScoreUndecided), nil
		}
		if alignedRatio(constSizes, unit, s.Alignment) >= s.AlignedRatio {
			return s.constant(ScoreRecommended), nil
		}
		return s.constant(ScoreNotRecommended), nil
	}
	return s.runtime(unitBytes, sizes), nil
}

// alignedRatio returns the fraction of the elements of the outputs that start aligned, from
// the first output up to the first unaligned one.
func alignedRatio(sizes []int64, unitBytes, alignment int64) float64 {
	var total, aligned, offset int64
	for _, size := range sizes {
		total += size
	}
	if total <= 0 {
		return 1
	}
	for _, size := range sizes {
		if (offset*unitBytes)%alignment != 0 {
			break
		}
		aligned += size
		offset += size
	}
	return float64(aligned) / float64(total)
}

// constant returns a function returning score.
func (s ScoreFunctionGenerator) constant(score int) string {
	return fmt.Sprintf("int64_t %s(const TilingData &tiling_data) {\n  (void)tiling_data;\n  return %d;\n}\n", s.Name, score)
}

// tilingField renders variables as fields of the tiling data.
func tilingField(name string) string {
	return "tiling_data." + name
}

// runtime returns a function computing the aligned ratio from the tiling data.
func (s ScoreFunctionGenerator) runtime(unitBytes expr.Expr, sizes []expr.Expr) string {
	var sb strings.Builder
	w := func(format string, args ...any) {
		_, _ = fmt.Fprintf(&sb, format, args...)
	}
	rendered := make([]string, len(sizes))
	for i, size := range sizes {
		rendered[i] = size.Format(tilingField)
	}
	n := len(sizes)
	w("int64_t %s(const TilingData &tiling_data) {\n", s.Name)
	w("  const int64_t unit_bytes = %s;\n", unitBytes.Format(tilingField))
	w("  const int64_t sizes[%d] = {%s};\n", n, strings.Join(rendered, ", "))
	w("  int64_t total = 0;\n")
	w("  for (int64_t i = 0; i < %d; ++i) {\n    total += sizes[i];\n  }\n", n)
	w("  if (total <= 0) {\n    return %d;\n  }\n", ScoreNotRecommended)
	w("  int64_t aligned = 0;\n  int64_t offset = 0;\n")
	w("  for (int64_t i = 0; i < %d; ++i) {\n", n)
	w("    if ((offset * unit_bytes) %% %d != 0) {\n      break;\n    }\n", s.Alignment)
	w("    aligned += sizes[i];\n    offset += sizes[i];\n  }\n")
	w("  if (static_cast<double>(aligned) >= %s * static_cast<double>(total)) {\n    return %d;\n  }\n",
		strconv.FormatFloat(s.AlignedRatio, 'g', -1, 64), ScoreRecommended)
	w("  return %d;\n}\n", ScoreNotRecommended)
	return sb.String()
}
