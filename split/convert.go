package split

import (
	"fmt"
	"slices"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ResolveSplitDim returns the dimension split by the node: the first one where the repeats of
// its input and of its first output are not provably equal.
//
// firstDim is set if it is the first dimension, or if every dimension before it has a single
// element.
func ResolveSplitDim(g *autofuse.Graph, split *autofuse.Node) (dim int, firstDim bool, err error) {
	producer := g.Producer(split, 0)
	if producer == nil {
		return 0, false, autofuse.NullReferencef("Split %q in graph %q has no input", split.Name, g.Name)
	}
	input := producer.Output(split.Input(0).Index)
	output := split.Output(0)
	if input == nil || output == nil {
		return 0, false, autofuse.NullReferencef("Split %q in graph %q misses tensor attributes", split.Name, g.Name)
	}
	if input.Rank() != output.Rank() {
		return 0, false, autofuse.Invariantf("Split %q input has rank %d, its output rank %d",
			split.Name, input.Rank(), output.Rank())
	}
	for i := range input.Rank() {
		if expr.Equal(input.Repeats[i], output.Repeats[i]) == expr.True {
			continue
		}
		firstDim = true
		for _, repeat := range input.Repeats[:i] {
			if !repeat.IsConstValue(1) {
				firstDim = false
				break
			}
		}
		return i, firstDim, nil
	}
	return 0, false, autofuse.Unsupportedf("Split %q doesn't split any dimension", split.Name)
}

// splitChain returns the Load feeding the Split and the Data buffer it reads.
func splitChain(g *autofuse.Graph, split *autofuse.Node) (load, data *autofuse.Node, err error) {
	load = g.Producer(split, 0)
	if load == nil {
		return nil, nil, autofuse.NullReferencef("Split %q in graph %q has no input", split.Name, g.Name)
	}
	if load.Op != optypes.Load {
		return nil, nil, autofuse.Unsupportedf("Split %q is fed by %s, only Data -> Load -> Split is supported",
			split.Name, load)
	}
	data = g.Producer(load, 0)
	if data == nil || data.Op != optypes.Data {
		return nil, nil, autofuse.Unsupportedf("Load %q feeding Split %q doesn't read a Data node, only Data -> Load -> Split is supported",
			load.Name, split.Name)
	}
	return load, data, nil
}

// ConvertSplitToLoads replaces each output of the Split by a Load reading its slice directly
// from the Split input buffer. See ConvertSplitGroupsToLoads.
func ConvertSplitToLoads(g *autofuse.Graph, split *autofuse.Node) error {
	return ConvertSplitGroupsToLoads(g, split, nil)
}

// ConvertSplitGroupsToLoads replaces each output of the Split by a Load reading its slice
// directly from the Split input buffer. The Loads of the outputs of a group share a copy of the
// Data buffer: each group is connected separately. If groups is nil, each output is its own
// group.
//
// The offset of the output j is the offset of the original Load plus the extent of the
// outputs before j along the split dimension, times the input stride of that dimension.
//
// The split axis is replaced in the nodes downstream of each new Load: by the axis of a
// Broadcast found there with the same extent, or by a new axis sized to the output extent.
//
// Finally, the Split and the Load and Data nodes feeding it are removed once they have no
// consumers, as well as the axes no longer used.
func ConvertSplitGroupsToLoads(g *autofuse.Graph, split *autofuse.Node, groups []SplitGroup) error {
	dim, _, err := ResolveSplitDim(g, split)
	if err != nil {
		return err
	}
	load, data, err := splitChain(g, split)
	if err != nil {
		return err
	}
	numOutputs := split.NumOutputs()
	groupOf, err := outputGroups(numOutputs, groups)
	if err != nil {
		return errors.WithMessagef(err, "Split %q", split.Name)
	}
	input := load.Output(split.Input(0).Index)
	stride := input.Strides[dim]
	oldAxis := input.Axis[dim]
	axisPos := g.AxisPosition(oldAxis)

	starts := make([]expr.Expr, numOutputs)
	extent := expr.Const(0)
	for j := range numOutputs {
		if split.Outputs[j].Rank() != input.Rank() {
			return autofuse.Invariantf("output #%d of Split %q has rank %d, its input rank %d",
				j, split.Name, split.Outputs[j].Rank(), input.Rank())
		}
		starts[j] = extent
		extent = expr.Add(extent, split.Outputs[j].Repeats[dim])
	}

	buffers := make(map[int]*autofuse.Node)
	// In reverse order, so the indices of the remaining outputs are not disturbed.
	for j := numOutputs - 1; j >= 0; j-- {
		consumers := split.Consumers(j)
		if len(consumers) == 0 {
			continue
		}
		buffer := buffers[groupOf[j]]
		if buffer == nil {
			if buffer, err = g.CopyNode(data, g.UniqueName(data.Name)); err != nil {
				return err
			}
			buffers[groupOf[j]] = buffer
		}
		output := split.Outputs[j]
		newLoad, err := g.AddNode(g.UniqueName(fmt.Sprintf("%s_load_%d", split.Name, j)), optypes.Load, 1, output)
		if err != nil {
			return err
		}
		newLoad.Sched = slices.Clone(load.Sched)
		newLoad.Offset = expr.Add(load.Offset, expr.Mul(starts[j], stride))
		if err := g.Link(buffer.Out(load.Input(0).Index), newLoad.In(0)); err != nil {
			return err
		}
		if err := g.RedirectConsumers(split.Out(j), newLoad.Out(0)); err != nil {
			return err
		}

		region := utils.SortedKeys(g.ReachableFrom(newLoad.ID))
		size := output.Repeats[dim]
		newAxis, found := broadcastAxis(g, region, dim, oldAxis, size)
		if !found {
			newAxis = g.InsertAxis(axisPos+1, fmt.Sprintf("%s_%d", split.Name, j), size).ID
		}
		g.ReplaceAxis(oldAxis, newAxis, region...)
		klog.V(3).Infof("Split %q output #%d -> Load %q at offset %s, axis z%d", split.Name, j, newLoad.Name,
			newLoad.Offset, newAxis)
	}

	for _, node := range []*autofuse.Node{split, load, data} {
		if node.NumConsumers() > 0 {
			break
		}
		if err := g.DeleteNode(node.ID); err != nil {
			return err
		}
	}
	g.PruneUnusedAxes()
	return nil
}

// outputGroups maps each output to its group.
func outputGroups(numOutputs int, groups []SplitGroup) ([]int, error) {
	groupOf := make([]int, numOutputs)
	if groups == nil {
		for j := range groupOf {
			groupOf[j] = j
		}
		return groupOf, nil
	}
	next := 0
	for k, group := range groups {
		if group.Begin != next || group.End <= group.Begin {
			return nil, autofuse.Invariantf("group #%d covers outputs [%d, %d), expected to start at %d",
				k, group.Begin, group.End, next)
		}
		for j := group.Begin; j < group.End && j < numOutputs; j++ {
			groupOf[j] = k
		}
		next = group.End
	}
	if next != numOutputs {
		return nil, autofuse.Invariantf("groups cover %d outputs out of %d", next, numOutputs)
	}
	return groupOf, nil
}

// broadcastAxis looks for a Broadcast among the nodes, or feeding them, whose output has at the
// split dimension an axis other than oldAxis with the given extent.
func broadcastAxis(g *autofuse.Graph, nodes []autofuse.NodeID, dim int, oldAxis autofuse.AxisID, size expr.Expr) (autofuse.AxisID, bool) {
	for _, id := range nodes {
		node := g.Node(id)
		for _, candidate := range append([]*autofuse.Node{node}, g.Predecessors(node)...) {
			if candidate.Op != optypes.Broadcast {
				continue
			}
			for _, output := range candidate.Outputs {
				if dim < output.Rank() && output.Axis[dim] != oldAxis && expr.Equal(output.Repeats[dim], size) == expr.True {
					return output.Axis[dim], true
				}
			}
		}
	}
	return 0, false
}
