package autofuse

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// Clone returns a deep copy of the graph, nested graphs included. Node ids are preserved, so ids
// of g can be used to address the same nodes in the clone.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:            g.Name,
		Axes:            slices.Clone(g.Axes),
		nodes:           make([]*Node, len(g.nodes)),
		order:           slices.Clone(g.order),
		byName:          maps.Clone(g.byName),
		nextAxisID:      g.nextAxisID,
		nextWorkspaceID: g.nextWorkspaceID,
	}
	for id, node := range g.nodes {
		if node == nil {
			continue
		}
		nc := node.copyAttrs()
		nc.ID = node.ID
		nc.graph = c
		nc.inputs = slices.Clone(node.inputs)
		nc.consumers = make([][]Port, len(node.consumers))
		for i, consumers := range node.consumers {
			nc.consumers[i] = slices.Clone(consumers)
		}
		nc.ctrlIn = slices.Clone(node.ctrlIn)
		nc.ctrlOut = slices.Clone(node.ctrlOut)
		c.nodes[id] = nc
	}
	return c
}

// CopyNode adds to g a copy of the attributes of node (possibly from another graph), without
// its edges. The copy has the same number of input and output anchors.
//
// If name is empty, the node name is kept.
func (g *Graph) CopyNode(node *Node, name string) (*Node, error) {
	if name == "" {
		name = node.Name
	}
	if _, found := g.byName[name]; found {
		return nil, errors.Errorf("graph %q already has a node named %q", g.Name, name)
	}
	c := node.copyAttrs()
	c.Name = name
	g.insert(c, len(node.inputs))
	return c, nil
}

// CopyNodes copies the given nodes of src into g, keeping their names, and recreates the data and
// control edges among them. Edges to nodes outside the set are dropped.
//
// Workspace buffer ids allocated afterwards in g won't collide with the ones of src.
//
// It returns the mapping from src node ids to the new ids in g.
func (g *Graph) CopyNodes(src *Graph, ids []NodeID) (map[NodeID]NodeID, error) {
	src.reserveWorkspaceIDs()
	g.nextWorkspaceID = max(g.nextWorkspaceID, src.nextWorkspaceID)
	mapping := make(map[NodeID]NodeID, len(ids))
	for _, id := range ids {
		node, err := src.mustNode(id)
		if err != nil {
			return nil, err
		}
		c, err := g.CopyNode(node, "")
		if err != nil {
			return nil, err
		}
		mapping[id] = c.ID
	}
	for _, id := range ids {
		node := src.nodes[id]
		for i, in := range node.inputs {
			if !in.Valid() {
				continue
			}
			from, found := mapping[in.Node]
			if !found {
				continue
			}
			if err := g.Link(Port{Node: from, Index: in.Index}, Port{Node: mapping[id], Index: i}); err != nil {
				return nil, err
			}
		}
		for _, to := range node.ctrlOut {
			if newTo, found := mapping[to]; found {
				if err := g.LinkControl(mapping[id], newTo); err != nil {
					return nil, err
				}
			}
		}
	}
	return mapping, nil
}

// Compact returns a copy of the graph with dense node ids assigned in graph order.
func (g *Graph) Compact() (*Graph, error) {
	c := NewGraph(g.Name)
	c.SetAxes(g.Axes)
	c.nextWorkspaceID = g.nextWorkspaceID
	if _, err := c.CopyNodes(g, g.order); err != nil {
		return nil, errors.WithMessagef(err, "compacting graph %q", g.Name)
	}
	return c, nil
}
