// Package autofuse holds the schedule graph representation used by the schedule-optimization
// passes of the compiler middle-end.
//
// A Graph is an arena of Nodes addressed by stable NodeID values. Data edges connect an output
// anchor to an input anchor, both represented by a Port (node id and anchor index): each input
// anchor has at most one source, each output anchor any number of consumers. Nodes may also be
// ordered by control edges.
//
// Every node iterates over a list of loop axes (its schedule axes) and describes each output
// tensor with a TensorAttr: per axis, the symbolic number of repeats and the stride. Sizes are
// symbolic expressions, see package github.com/gomlx/autofuse/types/expr.
//
// The passes live in sub-packages:
//
//   - unfold: inlines Backend nodes (nodes wrapping a nested Graph) into a flat graph.
//   - loopaxis: unifies the loop axes of the graphs being merged.
//   - reduce: generates schedule candidates for graphs with reductions.
//   - split: generates schedule candidates for graphs with a multi-output Split.
//   - partition: splits a graph into its connected sub-graphs.
//
// Package serial reads and writes graphs as YAML, and package dump sends debug renderings of
// graphs to a configurable sink.
package autofuse

import "github.com/gomlx/autofuse/internal/utils"

// NormalizeIdentifier converts a name (of a graph, node or axis) to a valid identifier for
// generated code: only letters, digits, and underscores are allowed.
//
// Invalid characters are replaced with underscores.
// If the name starts with a digit, it is prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	return utils.NormalizeIdentifier(name)
}
