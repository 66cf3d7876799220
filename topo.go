package autofuse

import (
	"slices"

	"github.com/gomlx/autofuse/internal/utils"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/graph/traverse"
)

// directed returns the graph structure as a gonum directed graph, with node ids equal to the
// NodeID. Control edges are included if withControl is set.
func (g *Graph) directed(withControl bool) (*simple.DirectedGraph, error) {
	dg := simple.NewDirectedGraph()
	for _, id := range g.order {
		dg.AddNode(simple.Node(id))
	}
	addEdge := func(from, to NodeID) error {
		if from == to {
			return Invariantf("node %q of graph %q is connected to itself", g.nodes[from].Name, g.Name)
		}
		dg.SetEdge(dg.NewEdge(simple.Node(from), simple.Node(to)))
		return nil
	}
	for _, id := range g.order {
		node := g.nodes[id]
		for _, in := range node.inputs {
			if !in.Valid() {
				continue
			}
			if err := addEdge(in.Node, id); err != nil {
				return nil, err
			}
		}
		if withControl {
			for _, to := range node.ctrlOut {
				if err := addEdge(id, to); err != nil {
					return nil, err
				}
			}
		}
	}
	return dg, nil
}

// TopoSort reorders the graph nodes in topological order, considering data and control edges.
// Among independent nodes, the current relative order is kept.
//
// It fails with ErrInvariantViolation if the graph has a cycle.
func (g *Graph) TopoSort() error {
	dg, err := g.directed(true)
	if err != nil {
		return err
	}
	position := make(map[int64]int, len(g.order))
	for i, id := range g.order {
		position[int64(id)] = i
	}
	sorted, err := topo.SortStabilized(dg, func(nodes []graph.Node) {
		slices.SortFunc(nodes, func(a, b graph.Node) int {
			return position[a.ID()] - position[b.ID()]
		})
	})
	if err != nil {
		var names []string
		if unorderable, ok := err.(topo.Unorderable); ok {
			for _, component := range unorderable {
				for _, n := range component {
					names = append(names, g.nodes[n.ID()].Name)
				}
			}
		}
		return errors.Wrapf(ErrInvariantViolation, "graph %q is not acyclic, nodes in cycles: %v", g.Name, names)
	}
	order := make([]NodeID, len(sorted))
	for i, n := range sorted {
		order[i] = NodeID(n.ID())
	}
	g.order = order
	return nil
}

// CheckAcyclic returns an error if the graph has a cycle, without changing the node order.
func (g *Graph) CheckAcyclic() error {
	dg, err := g.directed(true)
	if err != nil {
		return err
	}
	if _, err := topo.Sort(dg); err != nil {
		return errors.Wrapf(ErrInvariantViolation, "graph %q is not acyclic: %v", g.Name, err)
	}
	return nil
}

// ReachableFrom returns the nodes reachable from the given node following data edges forward,
// the node itself included.
func (g *Graph) ReachableFrom(id NodeID) utils.Set[NodeID] {
	reached := utils.MakeSet[NodeID]()
	dg, err := g.directed(false)
	if err != nil || g.Node(id) == nil {
		return reached
	}
	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) { reached.Insert(NodeID(n.ID())) },
	}
	bf.Walk(dg, simple.Node(id), nil)
	return reached
}

// BreadthFirstFrom returns the nodes reachable from the given node following data edges
// forward, in breadth-first order starting with the node itself.
func (g *Graph) BreadthFirstFrom(id NodeID) []NodeID {
	var visited []NodeID
	dg, err := g.directed(false)
	if err != nil || g.Node(id) == nil {
		return nil
	}
	bf := traverse.BreadthFirst{
		Visit: func(n graph.Node) { visited = append(visited, NodeID(n.ID())) },
	}
	bf.Walk(dg, simple.Node(id), nil)
	return visited
}

// PathExists returns whether there is a data path from -> to.
func (g *Graph) PathExists(from, to NodeID) bool {
	if g.Node(from) == nil || g.Node(to) == nil {
		return false
	}
	dg, err := g.directed(false)
	if err != nil {
		return false
	}
	return topo.PathExistsIn(dg, simple.Node(from), simple.Node(to))
}

// Validate checks the graph invariants: every output tensor has consistent axis, repeats and
// strides lists, and the graph is acyclic.
func (g *Graph) Validate() error {
	for _, node := range g.Nodes() {
		for i, output := range node.Outputs {
			if err := output.Validate(); err != nil {
				return errors.WithMessagef(err, "output #%d of node %q in graph %q", i, node.Name, g.Name)
			}
		}
		if node.Sub != nil {
			if err := node.Sub.Validate(); err != nil {
				return errors.WithMessagef(err, "nested graph of node %q", node.Name)
			}
		}
	}
	return g.CheckAcyclic()
}
