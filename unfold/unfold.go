// Package unfold flattens graphs holding Backend nodes: each nested graph is inlined into its
// parent, graph inputs and outputs are rewired, and the result is cleaned up (load CSE,
// redundant Store/Output/Load triples, output index renumbering).
package unfold

import (
	"slices"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/dump"
	"github.com/gomlx/autofuse/loopaxis"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// UnfoldFusedGraph returns a flat copy of g, with every Backend node replaced by the nodes of its
// nested graph. g itself is not modified.
//
// The nested graphs first get a common loop nest (see loopaxis.SelectCommonLoopAxis), unless
// they already share one. The graph inputs take the attributes of the nested Data nodes they
// feed (ReAssembleDataIrAttr), then each backend is unfolded (UnfoldBackendNode), duplicate
// Loads are merged (DoSameLoadCse), the NetOutput slots are renumbered (ReAssembleOutputIndex)
// and the intermediate Store/Output/Load triples between unfolded backends are removed
// (RemoveRedundantLoads).
//
// The result is topologically sorted, with dense node ids.
func UnfoldFusedGraph(g *autofuse.Graph) (*autofuse.Graph, error) {
	work := g.Clone()
	backends := work.NodesOf(optypes.Backend)
	if len(backends) == 0 {
		if err := work.TopoSort(); err != nil {
			return nil, err
		}
		return work.Compact()
	}
	for _, backend := range backends {
		if backend.Sub == nil {
			return nil, autofuse.NullReferencef("backend node %q of graph %q has no nested graph", backend.Name, g.Name)
		}
		if len(backend.Sub.NodesOf(optypes.Backend)) > 0 {
			flat, err := UnfoldFusedGraph(backend.Sub)
			if err != nil {
				return nil, errors.WithMessagef(err, "unfolding the nested graph of %q", backend.Name)
			}
			backend.Sub = flat
		}
	}
	klog.V(1).Infof("unfolding %d backend nodes of graph %q", len(backends), g.Name)

	if sharedLoopNest(backends) {
		klog.V(2).Infof("backends of %q share their loop nest, skipping loop axis unification", g.Name)
	} else if err := loopaxis.SelectCommonLoopAxis(work, backends); err != nil {
		return nil, errors.WithMessagef(err, "unfolding graph %q", g.Name)
	}
	work.SetAxes(backends[0].Sub.Axes)

	if err := ReAssembleDataIrAttr(work); err != nil {
		return nil, errors.WithMessagef(err, "unfolding graph %q", g.Name)
	}
	for _, backend := range backends {
		if err := UnfoldBackendNode(work, backend); err != nil {
			return nil, errors.WithMessagef(err, "unfolding graph %q", g.Name)
		}
	}
	numCse, err := DoSameLoadCse(work)
	if err != nil {
		return nil, errors.WithMessagef(err, "unfolding graph %q", g.Name)
	}
	if err := ReAssembleOutputIndex(work); err != nil {
		return nil, errors.WithMessagef(err, "unfolding graph %q", g.Name)
	}
	numRedundant, err := RemoveRedundantLoads(work)
	if err != nil {
		return nil, errors.WithMessagef(err, "unfolding graph %q", g.Name)
	}
	work.PruneUnusedAxes()
	if err := work.TopoSort(); err != nil {
		return nil, errors.WithMessagef(err, "sorting unfolded graph %q", g.Name)
	}
	klog.V(2).Infof("unfolded %q: %d nodes, %d duplicate loads merged, %d redundant loads removed",
		g.Name, work.NumNodes(), numCse, numRedundant)
	result, err := work.Compact()
	if err != nil {
		return nil, err
	}
	dump.DumpGraph(result, "unfolded_"+g.Name)
	return result, nil
}

// sharedLoopNest returns whether all nested graphs have the same axes.
func sharedLoopNest(backends []*autofuse.Node) bool {
	first := backends[0].Sub.Axes
	for _, backend := range backends[1:] {
		axes := backend.Sub.Axes
		if len(axes) != len(first) {
			return false
		}
		for i := range axes {
			if axes[i].ID != first[i].ID || !expr.ProvablyEqual(axes[i].Size, first[i].Size) {
				return false
			}
		}
	}
	return true
}

// ReAssembleDataIrAttr copies onto each Data node of g feeding a Backend node the schedule and
// tensor attributes of the nested Data node it stands for: the one whose Index is the backend
// input it is connected to. The first backend consumer wins.
func ReAssembleDataIrAttr(g *autofuse.Graph) error {
	for _, data := range g.NodesOf(optypes.Data) {
	consumers:
		for o := range data.Outputs {
			for _, consumer := range data.Consumers(o) {
				backend := g.Node(consumer.Node)
				if backend.Op != optypes.Backend {
					continue
				}
				if backend.Sub == nil {
					return autofuse.NullReferencef("backend node %q has no nested graph", backend.Name)
				}
				sub := findData(backend.Sub, consumer.Index)
				if sub == nil {
					return autofuse.NullReferencef("nested graph of %q has no Data node for input #%d, fed by %q",
						backend.Name, consumer.Index, data.Name)
				}
				data.Sched = slices.Clone(sub.Sched)
				data.Outputs = make([]autofuse.TensorAttr, len(sub.Outputs))
				for i, t := range sub.Outputs {
					data.Outputs[i] = t.Clone()
				}
				break consumers
			}
		}
	}
	return nil
}

func findData(g *autofuse.Graph, index int) *autofuse.Node {
	for _, node := range g.NodesOf(optypes.Data) {
		if node.Index == index {
			return node
		}
	}
	return nil
}

// UnfoldBackendNode replaces backend by the nodes of its nested graph.
//
// The nested nodes are copied into g, renamed where their names are taken, and their workspace
// buffer ids are reallocated in g. Then the inputs (MergeInputNodes) and outputs
// (MergeOutputNodes) are reconnected, the control edges of the backend are moved to the
// inlined nodes, and the backend is removed.
func UnfoldBackendNode(g *autofuse.Graph, backend *autofuse.Node) error {
	if backend == nil || g.Node(backend.ID) != backend {
		return autofuse.NullReferencef("backend node not found in graph %q", g.Name)
	}
	if backend.Sub == nil {
		return autofuse.NullReferencef("backend node %q has no nested graph", backend.Name)
	}
	inlined, err := inlineNodes(g, backend.Sub)
	if err != nil {
		return errors.WithMessagef(err, "inlining nested graph of %q", backend.Name)
	}
	roots, err := MergeInputNodes(g, backend, inlined)
	if err != nil {
		return err
	}
	inlined = slices.DeleteFunc(inlined, func(id autofuse.NodeID) bool { return g.Node(id) == nil })
	if err := TransferInControlEdges(g, backend, roots); err != nil {
		return err
	}
	if err := MergeOutputNodes(g, backend, inlined); err != nil {
		return err
	}
	inlined = slices.DeleteFunc(inlined, func(id autofuse.NodeID) bool { return g.Node(id) == nil })
	if err := TransferOutControlEdges(g, backend, leaves(g, inlined)); err != nil {
		return err
	}
	if err := g.DeleteNode(backend.ID); err != nil {
		return errors.WithMessagef(err, "removing backend node %q", backend.Name)
	}
	return nil
}

// inlineNodes copies all the nodes of sub into g with their edges. It returns the ids of the
// copies, in the order of sub.
func inlineNodes(g, sub *autofuse.Graph) ([]autofuse.NodeID, error) {
	mapping := make(map[autofuse.NodeID]autofuse.NodeID, sub.NumNodes())
	workspaces := make(map[int]int)
	var inlined []autofuse.NodeID
	for _, node := range sub.Nodes() {
		c, err := g.CopyNode(node, g.UniqueName(node.Name))
		if err != nil {
			return nil, err
		}
		if c.Op == optypes.Workspace {
			index, found := workspaces[node.Index]
			if !found {
				index = g.NewWorkspaceID()
				workspaces[node.Index] = index
			}
			c.Index = index
		}
		mapping[node.ID] = c.ID
		inlined = append(inlined, c.ID)
	}
	for _, node := range sub.Nodes() {
		for i, in := range node.Inputs() {
			if !in.Valid() {
				continue
			}
			src := autofuse.Port{Node: mapping[in.Node], Index: in.Index}
			if err := g.Link(src, autofuse.Port{Node: mapping[node.ID], Index: i}); err != nil {
				return nil, err
			}
		}
		for _, to := range node.ControlOutputs() {
			if err := g.LinkControl(mapping[node.ID], mapping[to]); err != nil {
				return nil, err
			}
		}
	}
	return inlined, nil
}

// MergeInputNodes connects the consumers of each inlined Data node directly to the producer of the
// corresponding backend input, and removes the Data node. Data nodes whose backend input is not
// connected are kept: they are true graph inputs.
//
// It returns the roots of the inlined nodes: the ones not fed by any other inlined node.
func MergeInputNodes(g *autofuse.Graph, backend *autofuse.Node, inlined []autofuse.NodeID) ([]autofuse.NodeID, error) {
	var remaining []autofuse.NodeID
	for _, id := range inlined {
		data := g.Node(id)
		if data.Op != optypes.Data || data.Index >= backend.NumInputs() || !backend.Input(data.Index).Valid() {
			remaining = append(remaining, id)
			continue
		}
		src := backend.Input(data.Index)
		for o := range data.Outputs {
			if err := g.RedirectConsumers(data.Out(o), src); err != nil {
				return nil, errors.WithMessagef(err, "merging input #%d of backend %q", data.Index, backend.Name)
			}
		}
		if err := g.UnlinkAllControl(id); err != nil {
			return nil, err
		}
		if err := g.DeleteNode(id); err != nil {
			return nil, errors.WithMessagef(err, "removing merged Data node %q", data.Name)
		}
	}

	inSet := make(map[autofuse.NodeID]bool, len(remaining))
	for _, id := range remaining {
		inSet[id] = true
	}
	var roots []autofuse.NodeID
	for _, id := range remaining {
		if !slices.ContainsFunc(g.Predecessors(g.Node(id)), func(p *autofuse.Node) bool { return inSet[p.ID] }) {
			roots = append(roots, id)
		}
	}
	return roots, nil
}

// leaves returns the inlined nodes without consumers among the inlined nodes.
func leaves(g *autofuse.Graph, inlined []autofuse.NodeID) []autofuse.NodeID {
	inSet := make(map[autofuse.NodeID]bool, len(inlined))
	for _, id := range inlined {
		inSet[id] = true
	}
	var result []autofuse.NodeID
	for _, id := range inlined {
		if !slices.ContainsFunc(g.Successors(g.Node(id)), func(s *autofuse.Node) bool { return inSet[s.ID] }) {
			result = append(result, id)
		}
	}
	return result
}

// TransferInControlEdges adds a control edge from each control predecessor of the backend to each
// of the roots, except where a data path already orders them.
func TransferInControlEdges(g *autofuse.Graph, backend *autofuse.Node, roots []autofuse.NodeID) error {
	for _, from := range backend.ControlInputs() {
		for _, root := range roots {
			if from == root || g.PathExists(from, root) {
				continue
			}
			if err := g.LinkControl(from, root); err != nil {
				return errors.WithMessagef(err, "transferring control input of backend %q", backend.Name)
			}
		}
	}
	return nil
}

// TransferOutControlEdges adds a control edge from each of the leaves to each control successor
// of the backend, except where a data path already orders them.
func TransferOutControlEdges(g *autofuse.Graph, backend *autofuse.Node, leaves []autofuse.NodeID) error {
	for _, to := range backend.ControlOutputs() {
		for _, leaf := range leaves {
			if to == leaf || g.PathExists(leaf, to) {
				continue
			}
			if err := g.LinkControl(leaf, to); err != nil {
				return errors.WithMessagef(err, "transferring control output of backend %q", backend.Name)
			}
		}
	}
	return nil
}

// MergeOutputNodes moves the consumers of each backend output to the inlined Output node with
// the same Index. Consumers that are Output nodes themselves are connected to the producer of the
// inlined Output instead, and the inlined Output is removed if nothing else reads it.
func MergeOutputNodes(g *autofuse.Graph, backend *autofuse.Node, inlined []autofuse.NodeID) error {
	for _, id := range inlined {
		output := g.Node(id)
		if output == nil || output.Op != optypes.Output {
			continue
		}
		if output.Index < 0 || output.Index >= backend.NumOutputs() {
			return autofuse.Invariantf("Output node %q has index %d, backend %q has %d outputs",
				output.Name, output.Index, backend.Name, backend.NumOutputs())
		}
		if output.NumOutputs() == 0 {
			return autofuse.NullReferencef("Output node %q of backend %q has no output anchor", output.Name, backend.Name)
		}
		bypassed := false
		for _, consumer := range backend.Consumers(output.Index) {
			src := output.Out(0)
			if g.Node(consumer.Node).Op == optypes.Output && output.NumInputs() == 1 && output.Input(0).Valid() {
				src = output.Input(0)
				bypassed = true
			}
			if err := g.Relink(src, consumer); err != nil {
				return errors.WithMessagef(err, "merging output #%d of backend %q", output.Index, backend.Name)
			}
		}
		if bypassed && output.NumConsumers() == 0 {
			if err := g.DeleteNode(output.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// sameLoad returns whether two Loads provably read the same elements in the same order. Any
// comparison that can only be decided at run time makes them different.
func sameLoad(a, b *autofuse.Node) bool {
	if !slices.Equal(a.Sched, b.Sched) || expr.Equal(a.Offset, b.Offset) != expr.True ||
		len(a.Outputs) != len(b.Outputs) {
		return false
	}
	for i := range a.Outputs {
		ta, tb := a.Outputs[i], b.Outputs[i]
		if ta.DType != tb.DType || ta.Rank() != tb.Rank() ||
			!expr.AllProvablyEqual(ta.Repeats, tb.Repeats) || !expr.AllProvablyEqual(ta.Strides, tb.Strides) {
			return false
		}
	}
	return true
}

// DoSameLoadCse merges the Loads reading the same Data output that provably load the same
// elements: the consumers of the duplicates are moved to the first Load, and the duplicates are
// removed. It returns the number of Loads removed.
func DoSameLoadCse(g *autofuse.Graph) (int, error) {
	removed := 0
	for _, data := range g.NodesOf(optypes.Data) {
		for o := range data.Outputs {
			var loads []*autofuse.Node
			for _, consumer := range data.Consumers(o) {
				node := g.Node(consumer.Node)
				if node.Op == optypes.Load && !slices.Contains(loads, node) {
					loads = append(loads, node)
				}
			}
			if len(loads) < 2 {
				continue
			}
			for i, keep := range loads {
				if keep == nil {
					continue
				}
				for j := i + 1; j < len(loads); j++ {
					dup := loads[j]
					if dup == nil || !sameLoad(keep, dup) {
						continue
					}
					if err := mergeLoad(g, keep, dup); err != nil {
						return removed, err
					}
					loads[j] = nil
					removed++
				}
			}
		}
	}
	if removed > 0 {
		klog.V(2).Infof("graph %q: %d duplicate loads merged", g.Name, removed)
	}
	return removed, nil
}

// mergeLoad moves the consumers and control edges of dup to keep, and removes dup.
func mergeLoad(g *autofuse.Graph, keep, dup *autofuse.Node) error {
	for o := range dup.Outputs {
		if err := g.RedirectConsumers(dup.Out(o), keep.Out(o)); err != nil {
			return errors.WithMessagef(err, "merging load %q into %q", dup.Name, keep.Name)
		}
	}
	for _, from := range dup.ControlInputs() {
		if from != keep.ID {
			if err := g.LinkControl(from, keep.ID); err != nil {
				return err
			}
		}
	}
	for _, to := range dup.ControlOutputs() {
		if to != keep.ID {
			if err := g.LinkControl(keep.ID, to); err != nil {
				return err
			}
		}
	}
	if err := g.DeleteNode(dup.ID); err != nil {
		return errors.WithMessagef(err, "removing duplicate load %q", dup.Name)
	}
	return nil
}

// RemoveRedundantLoads elides the Store -> Output -> Load chains where the Output is only read
// back by the Load or returned through NetOutput nodes: the consumers of the Load are connected
// to the producer of the Store, and the three nodes are removed. NetOutput nodes left without
// inputs are removed too.
//
// It returns the number of chains removed.
func RemoveRedundantLoads(g *autofuse.Graph) (int, error) {
	removed := 0
	for _, load := range g.NodesOf(optypes.Load) {
		if load.NumInputs() != 1 {
			continue
		}
		output := g.Producer(load, 0)
		if output == nil || output.Op != optypes.Output || output.NumInputs() != 1 || !onlyReadBy(g, output, load) {
			continue
		}
		store := g.Producer(output, 0)
		if store == nil || store.Op != optypes.Store || store.NumInputs() != 1 || store.NumConsumers() != 1 {
			continue
		}
		src := store.Input(0)
		if !src.Valid() {
			continue
		}
		for o := range load.Outputs {
			if err := g.RedirectConsumers(load.Out(o), src); err != nil {
				return removed, errors.WithMessagef(err, "bypassing redundant load %q", load.Name)
			}
		}
		for _, node := range []*autofuse.Node{load, output, store} {
			if err := g.DeleteNode(node.ID); err != nil {
				return removed, errors.WithMessagef(err, "removing redundant %s %q", node.Op, node.Name)
			}
		}
		klog.V(3).Infof("graph %q: removed redundant %s -> %s -> %s", g.Name, store.Name, output.Name, load.Name)
		removed++
	}
	for _, netOutput := range g.NodesOf(optypes.NetOutput) {
		if netOutput.NumConnectedInputs() == 0 {
			if err := g.DeleteNode(netOutput.ID); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

// onlyReadBy reports whether every consumer of output is either load or a NetOutput node.
func onlyReadBy(g *autofuse.Graph, output, load *autofuse.Node) bool {
	for o := range output.Outputs {
		for _, consumer := range output.Consumers(o) {
			if consumer.Node == load.ID {
				continue
			}
			if node := g.Node(consumer.Node); node == nil || node.Op != optypes.NetOutput {
				return false
			}
		}
	}
	return true
}

// ReAssembleOutputIndex renumbers the graph outputs densely: the disconnected inputs of each
// NetOutput node are dropped, and the Output node feeding input slot i gets Index i.
//
// Any NetOutput input not fed by an Output node is an ErrInvariantViolation.
func ReAssembleOutputIndex(g *autofuse.Graph) error {
	for _, netOutput := range g.NodesOf(optypes.NetOutput) {
		if err := g.CompactInputs(netOutput.ID); err != nil {
			return err
		}
		for i := range netOutput.NumInputs() {
			producer := g.Producer(netOutput, i)
			if producer == nil {
				return autofuse.NullReferencef("input #%d of %q is not connected", i, netOutput.Name)
			}
			if producer.Op != optypes.Output {
				return autofuse.Invariantf("input #%d of %q is fed by %s, only Output nodes can feed a NetOutput",
					i, netOutput.Name, producer)
			}
			producer.Index = i
		}
	}
	return nil
}
