package autofuse

import (
	"fmt"
	"slices"

	"github.com/gomlx/autofuse/types/optypes"
	"github.com/pkg/errors"
)

// Graph is a set of nodes linked by data and control edges, with an ordered list of loop axes.
//
// Nodes are kept in an arena indexed by NodeID, plus an order (the schedule order, normally a
// topological order, see Graph.TopoSort).
type Graph struct {
	// Name of the graph.
	Name string

	// Axes is the loop nest of the graph, outer to inner.
	Axes []Axis

	nodes  []*Node // Indexed by NodeID, nil for removed nodes.
	order  []NodeID
	byName map[string]NodeID

	nextAxisID      AxisID
	nextWorkspaceID int
}

// NewGraph creates an empty graph.
func NewGraph(name string) *Graph {
	return &Graph{
		Name:   name,
		byName: make(map[string]NodeID),
	}
}

// AddNode creates a new node with numInputs unconnected input anchors and one output anchor per
// given tensor attribute. The name must be unique in the graph.
func (g *Graph) AddNode(name string, op optypes.OpType, numInputs int, outputs ...TensorAttr) (*Node, error) {
	if name == "" {
		return nil, errors.Errorf("cannot add %s node with an empty name to graph %q", op, g.Name)
	}
	if _, found := g.byName[name]; found {
		return nil, errors.Errorf("graph %q already has a node named %q", g.Name, name)
	}
	for i, output := range outputs {
		if err := output.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "output #%d of new node %q", i, name)
		}
	}
	node := &Node{
		Name:    name,
		Op:      op,
		Outputs: make([]TensorAttr, len(outputs)),
	}
	for i, output := range outputs {
		node.Outputs[i] = output.Clone()
	}
	g.insert(node, numInputs)
	return node, nil
}

// insert places a detached node in the arena.
func (g *Graph) insert(node *Node, numInputs int) {
	node.ID = NodeID(len(g.nodes))
	node.graph = g
	node.inputs = make([]Port, numInputs)
	for i := range node.inputs {
		node.inputs[i] = NoPort
	}
	node.consumers = make([][]Port, len(node.Outputs))
	node.ctrlIn, node.ctrlOut = nil, nil
	g.nodes = append(g.nodes, node)
	g.order = append(g.order, node.ID)
	g.byName[node.Name] = node.ID
}

// UniqueName returns a node name based on prefix not yet used in the graph.
func (g *Graph) UniqueName(prefix string) string {
	if _, found := g.byName[prefix]; !found {
		return prefix
	}
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s_%d", prefix, i)
		if _, found := g.byName[name]; !found {
			return name
		}
	}
}

// NewWorkspaceID allocates a new workspace buffer id.
func (g *Graph) NewWorkspaceID() int {
	g.reserveWorkspaceIDs()
	id := g.nextWorkspaceID
	g.nextWorkspaceID++
	return id
}

// reserveWorkspaceIDs makes sure the next workspace id is above the ids used by the nodes.
func (g *Graph) reserveWorkspaceIDs() {
	for _, node := range g.Nodes() {
		if node.Op == optypes.Workspace && node.Index >= g.nextWorkspaceID {
			g.nextWorkspaceID = node.Index + 1
		}
	}
}

// Node returns the node with the given id, or nil if it doesn't exist (or was removed).
func (g *Graph) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// NodeByName returns the node with the given name, or nil.
func (g *Graph) NodeByName(name string) *Node {
	id, found := g.byName[name]
	if !found {
		return nil
	}
	return g.nodes[id]
}

// Nodes returns the live nodes in graph order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// NumNodes returns the number of live nodes.
func (g *Graph) NumNodes() int {
	return len(g.order)
}

// NodesOf returns the live nodes with the given operator kinds, in graph order.
func (g *Graph) NodesOf(ops ...optypes.OpType) []*Node {
	var nodes []*Node
	for _, id := range g.order {
		if slices.Contains(ops, g.nodes[id].Op) {
			nodes = append(nodes, g.nodes[id])
		}
	}
	return nodes
}

// Reductions returns the live reduction nodes in graph order.
func (g *Graph) Reductions() []*Node {
	var nodes []*Node
	for _, node := range g.Nodes() {
		if node.Op.IsReduce() {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// Position returns the index of the node in the graph order, or -1.
func (g *Graph) Position(id NodeID) int {
	return slices.Index(g.order, id)
}

// mustNode returns the node or a NullReference error.
func (g *Graph) mustNode(id NodeID) (*Node, error) {
	node := g.Node(id)
	if node == nil {
		return nil, NullReferencef("node #%d not found in graph %q", id, g.Name)
	}
	return node, nil
}

// Producer returns the node feeding the input anchor i of n, or nil if it's not connected.
func (g *Graph) Producer(n *Node, i int) *Node {
	return g.Node(n.Input(i).Node)
}

// Successors returns the distinct nodes consuming any output of n, in edge order.
func (g *Graph) Successors(n *Node) []*Node {
	var result []*Node
	for _, consumers := range n.consumers {
		for _, c := range consumers {
			node := g.nodes[c.Node]
			if !slices.Contains(result, node) {
				result = append(result, node)
			}
		}
	}
	return result
}

// Predecessors returns the distinct nodes feeding n through data edges, in input order.
func (g *Graph) Predecessors(n *Node) []*Node {
	var result []*Node
	for _, in := range n.inputs {
		if !in.Valid() {
			continue
		}
		node := g.nodes[in.Node]
		if !slices.Contains(result, node) {
			result = append(result, node)
		}
	}
	return result
}

// Sinks returns the nodes without data consumers, in graph order.
func (g *Graph) Sinks() []*Node {
	var sinks []*Node
	for _, node := range g.Nodes() {
		if node.NumConsumers() == 0 {
			sinks = append(sinks, node)
		}
	}
	return sinks
}

// Link connects the output anchor src to the (unconnected) input anchor dst.
func (g *Graph) Link(src, dst Port) error {
	srcNode, err := g.mustNode(src.Node)
	if err != nil {
		return err
	}
	dstNode, err := g.mustNode(dst.Node)
	if err != nil {
		return err
	}
	if src.Index < 0 || src.Index >= len(srcNode.Outputs) {
		return NullReferencef("node %q has no output anchor #%d", srcNode.Name, src.Index)
	}
	if dst.Index < 0 || dst.Index >= len(dstNode.inputs) {
		return NullReferencef("node %q has no input anchor #%d", dstNode.Name, dst.Index)
	}
	if dstNode.inputs[dst.Index].Valid() {
		return errors.Errorf("input #%d of node %q is already connected to %s", dst.Index, dstNode.Name,
			dstNode.inputs[dst.Index])
	}
	dstNode.inputs[dst.Index] = src
	srcNode.consumers[src.Index] = append(srcNode.consumers[src.Index], dst)
	return nil
}

// Unlink disconnects the input anchor dst from its source. It's a no-op if it's not connected.
func (g *Graph) Unlink(dst Port) error {
	dstNode, err := g.mustNode(dst.Node)
	if err != nil {
		return err
	}
	if dst.Index < 0 || dst.Index >= len(dstNode.inputs) {
		return NullReferencef("node %q has no input anchor #%d", dstNode.Name, dst.Index)
	}
	src := dstNode.inputs[dst.Index]
	if !src.Valid() {
		return nil
	}
	srcNode, err := g.mustNode(src.Node)
	if err != nil {
		return errors.WithMessagef(err, "source of input #%d of node %q", dst.Index, dstNode.Name)
	}
	srcNode.consumers[src.Index] = slices.DeleteFunc(srcNode.consumers[src.Index], func(p Port) bool {
		return p == dst
	})
	dstNode.inputs[dst.Index] = NoPort
	return nil
}

// Relink moves the input anchor dst to a new source.
func (g *Graph) Relink(src, dst Port) error {
	if err := g.Unlink(dst); err != nil {
		return err
	}
	return g.Link(src, dst)
}

// RedirectConsumers moves every consumer of the output anchor from to the output anchor to.
func (g *Graph) RedirectConsumers(from, to Port) error {
	fromNode, err := g.mustNode(from.Node)
	if err != nil {
		return err
	}
	if from.Index < 0 || from.Index >= len(fromNode.consumers) {
		return NullReferencef("node %q has no output anchor #%d", fromNode.Name, from.Index)
	}
	for _, consumer := range slices.Clone(fromNode.consumers[from.Index]) {
		if err := g.Relink(to, consumer); err != nil {
			return err
		}
	}
	return nil
}

// LinkControl adds a control edge from -> to. It's a no-op if the edge already exists.
func (g *Graph) LinkControl(from, to NodeID) error {
	fromNode, err := g.mustNode(from)
	if err != nil {
		return err
	}
	toNode, err := g.mustNode(to)
	if err != nil {
		return err
	}
	if from == to {
		return Invariantf("control edge from node %q to itself", fromNode.Name)
	}
	if slices.Contains(fromNode.ctrlOut, to) {
		return nil
	}
	fromNode.ctrlOut = append(fromNode.ctrlOut, to)
	toNode.ctrlIn = append(toNode.ctrlIn, from)
	return nil
}

// UnlinkControl removes the control edge from -> to, if it exists.
func (g *Graph) UnlinkControl(from, to NodeID) error {
	fromNode, err := g.mustNode(from)
	if err != nil {
		return err
	}
	toNode, err := g.mustNode(to)
	if err != nil {
		return err
	}
	fromNode.ctrlOut = slices.DeleteFunc(fromNode.ctrlOut, func(id NodeID) bool { return id == to })
	toNode.ctrlIn = slices.DeleteFunc(toNode.ctrlIn, func(id NodeID) bool { return id == from })
	return nil
}

// HasControlEdge returns whether there is a control edge from -> to.
func (g *Graph) HasControlEdge(from, to NodeID) bool {
	node := g.Node(from)
	return node != nil && slices.Contains(node.ctrlOut, to)
}

// UnlinkAllControl removes every control edge of the node.
func (g *Graph) UnlinkAllControl(id NodeID) error {
	node, err := g.mustNode(id)
	if err != nil {
		return err
	}
	for _, from := range slices.Clone(node.ctrlIn) {
		if err := g.UnlinkControl(from, id); err != nil {
			return err
		}
	}
	for _, to := range slices.Clone(node.ctrlOut) {
		if err := g.UnlinkControl(id, to); err != nil {
			return err
		}
	}
	return nil
}

// Isolate unlinks every data and control edge of the node.
func (g *Graph) Isolate(id NodeID) error {
	node, err := g.mustNode(id)
	if err != nil {
		return err
	}
	for i := range node.inputs {
		if err := g.Unlink(node.In(i)); err != nil {
			return err
		}
	}
	for _, consumers := range node.consumers {
		for _, consumer := range slices.Clone(consumers) {
			if err := g.Unlink(consumer); err != nil {
				return err
			}
		}
	}
	return g.UnlinkAllControl(id)
}

// RemoveNode removes an isolated node from the graph. It fails if any edge is still attached,
// see Graph.Isolate and Graph.DeleteNode.
func (g *Graph) RemoveNode(id NodeID) error {
	node, err := g.mustNode(id)
	if err != nil {
		return err
	}
	if node.IsLinked() {
		return Invariantf("cannot remove node %q from graph %q: it still has edges attached", node.Name, g.Name)
	}
	g.nodes[id] = nil
	g.order = slices.DeleteFunc(g.order, func(other NodeID) bool { return other == id })
	delete(g.byName, node.Name)
	node.graph = nil
	return nil
}

// DeleteNode unlinks all edges of the node and removes it.
func (g *Graph) DeleteNode(id NodeID) error {
	if err := g.Isolate(id); err != nil {
		return err
	}
	return g.RemoveNode(id)
}

// AddInputAnchor appends a new unconnected input anchor to the node and returns its index.
func (g *Graph) AddInputAnchor(id NodeID) (int, error) {
	node, err := g.mustNode(id)
	if err != nil {
		return 0, err
	}
	node.inputs = append(node.inputs, NoPort)
	return len(node.inputs) - 1, nil
}

// CompactInputs drops the unconnected input anchors of the node, renumbering the others densely
// while keeping their order.
func (g *Graph) CompactInputs(id NodeID) error {
	node, err := g.mustNode(id)
	if err != nil {
		return err
	}
	var sources []Port
	for i := range node.inputs {
		src := node.inputs[i]
		if !src.Valid() {
			continue
		}
		sources = append(sources, src)
		if err := g.Unlink(node.In(i)); err != nil {
			return err
		}
	}
	node.inputs = make([]Port, len(sources))
	for i := range node.inputs {
		node.inputs[i] = NoPort
	}
	for i, src := range sources {
		if err := g.Link(src, node.In(i)); err != nil {
			return err
		}
	}
	return nil
}
