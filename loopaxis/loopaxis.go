// Package loopaxis unifies the loop nests of the nested graphs of Backend nodes before they are
// merged into one graph.
//
// Unification only expands: the (axis, repeat, stride) triples of a tensor are never reordered
// or dropped, new dimensions are inserted with repeat 1 and stride 0.
package loopaxis

import (
	"slices"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// findConcat returns the first Concat node of the nested graphs of the backends, and its owner.
func findConcat(backends []*autofuse.Node) (concat, owner *autofuse.Node) {
	for _, backend := range backends {
		if backend.Sub == nil {
			continue
		}
		if concats := backend.Sub.NodesOf(optypes.Concat); len(concats) > 0 {
			return concats[0], backend
		}
	}
	return nil, nil
}

// SelectCommonLoopAxis unifies the loop nests of the nested graphs of the backends of parent.
//
// The first Concat found fixes the common loop nest, the one of the graph holding it, and the
// concat dimension. Backends downstream of the one holding the Concat have their axes mapped
// by size, see DoAxisMappingForConstPostAscGraph. The others get the concat dimension
// inserted, see ApplyMergedLoopAxis.
//
// It returns an ErrUnsupportedPattern if there is no Concat, and an ErrInvariantViolation if
// the concat dimension is out of range.
func SelectCommonLoopAxis(parent *autofuse.Graph, backends []*autofuse.Node) error {
	if len(backends) == 0 {
		return autofuse.Invariantf("no backend node to unify the loop axes of, in graph %q", parent.Name)
	}
	for _, backend := range backends {
		if backend.Sub == nil {
			return autofuse.NullReferencef("backend node %q has no nested graph", backend.Name)
		}
	}
	concat, owner := findConcat(backends)
	if concat == nil {
		return autofuse.Unsupportedf("no Concat in the %d backends of graph %q, only concat fusions can be unified",
			len(backends), parent.Name)
	}
	newAxes := slices.Clone(owner.Sub.Axes)
	if concat.ConcatDim < 0 || concat.ConcatDim >= len(newAxes) {
		return autofuse.Invariantf("Concat %q in %q has concat dimension %d, out of range for %d axes",
			concat.Name, owner.Name, concat.ConcatDim, len(newAxes))
	}
	post := parent.ReachableFrom(owner.ID)
	for _, backend := range backends {
		if backend == owner {
			continue
		}
		var err error
		if post.Has(backend.ID) {
			klog.V(2).Infof("backend %q is after Concat %q, mapping axes by size", backend.Name, concat.Name)
			err = DoAxisMappingForConstPostAscGraph(backend.Sub, newAxes)
		} else {
			err = ApplyMergedLoopAxis(backend.Sub, newAxes, concat.ConcatDim)
		}
		if err != nil {
			return errors.WithMessagef(err, "unifying loop axes of backend %q", backend.Name)
		}
	}
	return nil
}

// remapIDs substitutes the axis ids of the node schedule and tensors.
func remapIDs(node *autofuse.Node, mapping map[autofuse.AxisID]autofuse.AxisID) {
	for i, id := range node.Sched {
		if newID, found := mapping[id]; found {
			node.Sched[i] = newID
		}
	}
	for o := range node.Outputs {
		for i, id := range node.Outputs[o].Axis {
			if newID, found := mapping[id]; found {
				node.Outputs[o].Axis[i] = newID
			}
		}
	}
}

// ApplyMergedLoopAxis moves g to the loop nest newAxes.
//
// If g has as many axes, only the axis ids are remapped, position by position. If it has one
// axis less, the missing one is the concat dimension: besides the remapping, every tensor of
// the non-buffer nodes gets a dimension with repeat 1 and stride 0 inserted at concatDim.
// Scalar (rank 0) tensors are left as they are. Any other difference is an
// ErrUnsupportedPattern.
func ApplyMergedLoopAxis(g *autofuse.Graph, newAxes []autofuse.Axis, concatDim int) error {
	oldAxes := g.Axes
	expand := len(newAxes) == len(oldAxes)+1
	if !expand && len(newAxes) != len(oldAxes) {
		return autofuse.Unsupportedf("graph %q has %d axes, the merged loop nest %d: only expansion of the concat dimension is supported",
			g.Name, len(oldAxes), len(newAxes))
	}
	if concatDim < 0 || concatDim >= len(newAxes) {
		return autofuse.Invariantf("concat dimension %d out of range for %d axes", concatDim, len(newAxes))
	}
	mapping := make(map[autofuse.AxisID]autofuse.AxisID, len(oldAxes))
	for i, axis := range oldAxes {
		j := i
		if expand && i >= concatDim {
			j++
		}
		mapping[axis.ID] = newAxes[j].ID
	}
	concatAxis := newAxes[concatDim].ID
	for _, node := range g.Nodes() {
		remapIDs(node, mapping)
		if !expand || node.Op.IsBuffer() {
			continue
		}
		for o := range node.Outputs {
			t := &node.Outputs[o]
			if t.Rank() == 0 {
				continue
			}
			if t.Rank() != len(oldAxes) {
				return autofuse.Invariantf("output #%d of node %q has rank %d, the loop nest of %q %d axes",
					o, node.Name, t.Rank(), g.Name, len(oldAxes))
			}
			t.Axis = slices.Insert(t.Axis, concatDim, concatAxis)
			t.Repeats = slices.Insert(t.Repeats, concatDim, expr.Const(1))
			t.Strides = slices.Insert(t.Strides, concatDim, expr.Const(0))
		}
		if len(node.Sched) == len(oldAxes) {
			node.Sched = slices.Insert(node.Sched, concatDim, concatAxis)
		}
	}
	g.SetAxes(newAxes)
	return nil
}

// DoAxisMappingForConstPostAscGraph moves g, a graph downstream of the Concat, to the loop
// nest newAxes.
//
// The axes of g are matched left to right with the new axes of the same size, skipping the new
// axes that don't match. Every axis of g must be matched, otherwise it returns an
// ErrUnsupportedPattern. Tensors are rebuilt over the new loop nest: matched dimensions keep
// their repeat and stride, the others get repeat 1 and stride 0.
func DoAxisMappingForConstPostAscGraph(g *autofuse.Graph, newAxes []autofuse.Axis) error {
	oldAxes := g.Axes
	newToOld := make([]int, len(newAxes))
	next := 0
	for i, axis := range newAxes {
		newToOld[i] = -1
		if next < len(oldAxes) && expr.Equal(axis.Size, oldAxes[next].Size) == expr.True {
			newToOld[i] = next
			next++
		}
	}
	if next != len(oldAxes) {
		return autofuse.Unsupportedf("only %d of the %d axes of graph %q match the merged loop nest",
			next, len(oldAxes), g.Name)
	}
	newIDs := make([]autofuse.AxisID, len(newAxes))
	mapping := make(map[autofuse.AxisID]autofuse.AxisID, len(oldAxes))
	for i, axis := range newAxes {
		newIDs[i] = axis.ID
		if newToOld[i] >= 0 {
			mapping[oldAxes[newToOld[i]].ID] = axis.ID
		}
	}
	for _, node := range g.Nodes() {
		for o := range node.Outputs {
			old := node.Outputs[o]
			if old.Rank() != len(oldAxes) {
				return autofuse.Invariantf("output #%d of node %q has rank %d, the loop nest of %q %d axes",
					o, node.Name, old.Rank(), g.Name, len(oldAxes))
			}
			t := autofuse.TensorAttr{
				DType:   old.DType,
				Axis:    slices.Clone(newIDs),
				Repeats: make([]expr.Expr, len(newAxes)),
				Strides: make([]expr.Expr, len(newAxes)),
			}
			for i, from := range newToOld {
				if from < 0 {
					t.Repeats[i], t.Strides[i] = expr.Const(1), expr.Const(0)
					continue
				}
				if id, found := mapping[old.Axis[from]]; found {
					t.Axis[i] = id
				}
				t.Repeats[i], t.Strides[i] = old.Repeats[from], old.Strides[from]
			}
			node.Outputs[o] = t
		}
		if len(node.Sched) == len(oldAxes) {
			node.Sched = slices.Clone(newIDs)
		} else {
			for i, id := range node.Sched {
				if newID, found := mapping[id]; found {
					node.Sched[i] = newID
				}
			}
		}
	}
	g.SetAxes(newAxes)
	return nil
}
