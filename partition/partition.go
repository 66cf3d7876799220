// Package partition splits a graph into its connected components.
package partition

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
	"k8s.io/klog/v2"
)

// PartitionByConnectivity splits g into the sub-graphs of its connected components, considering
// data and control edges in both directions.
//
// Components are discovered from the roots in order: if order is empty, the roots are the sinks
// of g (nodes without consumers) sorted by name. Nodes of order that were already reached by an
// earlier root are skipped. The sub-graphs are named after g with a "_<n>" suffix, inherit its
// loop nest, and are topologically sorted.
//
// If g has more than one component, the axis sizes of each sub-graph are refreshed from the
// repeats of its nodes, and unused axes are pruned.
//
// It fails if a node of g is not reached from any of the roots.
func PartitionByConnectivity(g *autofuse.Graph, order []autofuse.NodeID) ([]*autofuse.Graph, error) {
	if len(order) == 0 {
		sinks := g.Sinks()
		slices.SortFunc(sinks, func(a, b *autofuse.Node) int { return strings.Compare(a.Name, b.Name) })
		for _, sink := range sinks {
			order = append(order, sink.ID)
		}
	}
	ug := undirected(g)
	visited := utils.MakeSet[autofuse.NodeID](g.NumNodes())
	var components []utils.Set[autofuse.NodeID]
	for _, root := range order {
		if g.Node(root) == nil {
			return nil, autofuse.NullReferencef("partition root #%d not in graph %q", root, g.Name)
		}
		if visited.Has(root) {
			continue
		}
		component := utils.MakeSet[autofuse.NodeID]()
		bf := traverse.BreadthFirst{
			Visit: func(n graph.Node) { component.Insert(autofuse.NodeID(n.ID())) },
		}
		bf.Walk(ug, simple.Node(root), nil)
		visited.Insert(utils.SortedKeys(component)...)
		components = append(components, component)
	}
	if len(visited) != g.NumNodes() {
		var missing []string
		for _, node := range g.Nodes() {
			if !visited.Has(node.ID) {
				missing = append(missing, node.Name)
			}
		}
		return nil, autofuse.Invariantf("partition of graph %q visited %d of %d nodes, not reached: %v",
			g.Name, len(visited), g.NumNodes(), missing)
	}

	subs := make([]*autofuse.Graph, 0, len(components))
	for i, component := range components {
		sub := autofuse.NewGraph(fmt.Sprintf("%s_%d", g.Name, i))
		sub.SetAxes(g.Axes)
		var ids []autofuse.NodeID
		for _, node := range g.Nodes() {
			if component.Has(node.ID) {
				ids = append(ids, node.ID)
			}
		}
		if _, err := sub.CopyNodes(g, ids); err != nil {
			return nil, errors.WithMessagef(err, "copying component %d of graph %q", i, g.Name)
		}
		if err := sub.TopoSort(); err != nil {
			return nil, errors.WithMessagef(err, "sorting component %d of graph %q", i, g.Name)
		}
		subs = append(subs, sub)
	}
	klog.V(2).Infof("graph %q partitioned in %d components", g.Name, len(subs))
	if len(subs) > 1 {
		for _, sub := range subs {
			RefreshAxisSizes(sub)
			sub.PruneUnusedAxes()
		}
	}
	return subs, nil
}

// undirected returns the structure of g, data and control edges, as an undirected gonum graph.
func undirected(g *autofuse.Graph) *simple.UndirectedGraph {
	ug := simple.NewUndirectedGraph()
	for _, node := range g.Nodes() {
		ug.AddNode(simple.Node(node.ID))
	}
	addEdge := func(a, b autofuse.NodeID) {
		if a == b {
			return
		}
		ug.SetEdge(ug.NewEdge(simple.Node(a), simple.Node(b)))
	}
	for _, node := range g.Nodes() {
		for _, in := range node.Inputs() {
			if in.Valid() {
				addEdge(in.Node, node.ID)
			}
		}
		for _, to := range node.ControlOutputs() {
			addEdge(node.ID, to)
		}
	}
	return ug
}

// RefreshAxisSizes sets the size of each axis of g to the repeat its nodes use for it, taking
// the first node (in graph order) whose output spans the axis. Broadcast dimensions (repeat 1,
// stride 0) are ignored.
//
// A constant size replaced by a symbolic one, or vice versa, is logged as a warning.
func RefreshAxisSizes(g *autofuse.Graph) {
	sizes := make(map[autofuse.AxisID]expr.Expr, len(g.Axes))
	for _, node := range g.Nodes() {
		for _, output := range node.Outputs {
			for i, id := range output.Axis {
				if _, found := sizes[id]; found {
					continue
				}
				if output.Repeats[i].IsConstValue(1) && output.Strides[i].IsZero() {
					continue
				}
				sizes[id] = output.Repeats[i]
			}
		}
	}
	axes := slices.Clone(g.Axes)
	for i, axis := range axes {
		size, found := sizes[axis.ID]
		if !found || expr.Equal(size, axis.Size) == expr.True {
			continue
		}
		if size.IsConst() != axis.Size.IsConst() {
			klog.Warningf("graph %q: axis %s size %s differs from the size %s used by its nodes, using the latter",
				g.Name, axis.Name, axis.Size, size)
		}
		axes[i].Size = size
	}
	g.SetAxes(axes)
}
