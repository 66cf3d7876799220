package autofuse

import (
	"fmt"
	"slices"

	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
)

// NodeID identifies a node within its graph. Ids are stable: removing a node never renumbers the
// others.
type NodeID int64

// InvalidNode is the id of no node.
const InvalidNode NodeID = -1

// Port is an anchor: an input or output slot of a node.
type Port struct {
	Node  NodeID
	Index int
}

// NoPort is the source of an input anchor that is not connected.
var NoPort = Port{Node: InvalidNode, Index: -1}

// Valid returns whether the port refers to a node.
func (p Port) Valid() bool {
	return p.Node != InvalidNode
}

// String implements fmt.Stringer.
func (p Port) String() string {
	if !p.Valid() {
		return "<none>"
	}
	return fmt.Sprintf("#%d:%d", p.Node, p.Index)
}

// Node is an operator in a Graph.
//
// Besides the operator kind, a node carries a payload whose meaning depends on Op: Index for
// Data, Output, NetOutput and Workspace, Offset for Load and Store, ConcatDim for Concat,
// Value for Scalar and Sub for Backend.
type Node struct {
	ID   NodeID
	Name string
	Op   optypes.OpType

	// Sched lists the loop axes the node iterates over, outer to inner.
	Sched []AxisID

	// Outputs holds the attributes of each output tensor.
	Outputs []TensorAttr

	// Index is the graph input/output position of Data, Output and NetOutput nodes, and the
	// buffer id of Workspace nodes.
	Index int

	// Offset is the element offset a Load reads from (or a Store writes to) its buffer.
	Offset expr.Expr

	// ConcatDim is the concatenated dimension of a Concat node.
	ConcatDim int

	// Value of a Scalar node.
	Value float64

	// Sub is the nested graph of a Backend node.
	Sub *Graph

	graph     *Graph
	inputs    []Port   // Source of each input anchor.
	consumers [][]Port // Consumers of each output anchor.
	ctrlIn    []NodeID
	ctrlOut   []NodeID
}

// Graph returns the graph owning the node.
func (n *Node) Graph() *Graph {
	return n.graph
}

// NumInputs returns the number of input anchors.
func (n *Node) NumInputs() int {
	return len(n.inputs)
}

// Input returns the source of the input anchor i, NoPort if it's not connected.
func (n *Node) Input(i int) Port {
	if i < 0 || i >= len(n.inputs) {
		return NoPort
	}
	return n.inputs[i]
}

// Inputs returns the sources of all input anchors.
func (n *Node) Inputs() []Port {
	return slices.Clone(n.inputs)
}

// NumOutputs returns the number of output anchors.
func (n *Node) NumOutputs() int {
	return len(n.Outputs)
}

// Out returns the output port i of the node.
func (n *Node) Out(i int) Port {
	return Port{Node: n.ID, Index: i}
}

// In returns the input port i of the node.
func (n *Node) In(i int) Port {
	return Port{Node: n.ID, Index: i}
}

// Consumers returns the input ports connected to the output anchor i.
func (n *Node) Consumers(i int) []Port {
	if i < 0 || i >= len(n.consumers) {
		return nil
	}
	return slices.Clone(n.consumers[i])
}

// NumConsumers returns the number of data edges leaving the node, over all outputs.
func (n *Node) NumConsumers() int {
	var count int
	for _, c := range n.consumers {
		count += len(c)
	}
	return count
}

// NumConnectedInputs returns the number of connected input anchors.
func (n *Node) NumConnectedInputs() int {
	var count int
	for _, in := range n.inputs {
		if in.Valid() {
			count++
		}
	}
	return count
}

// ControlInputs returns the nodes that must run before n.
func (n *Node) ControlInputs() []NodeID {
	return slices.Clone(n.ctrlIn)
}

// ControlOutputs returns the nodes that must run after n.
func (n *Node) ControlOutputs() []NodeID {
	return slices.Clone(n.ctrlOut)
}

// IsLinked returns whether any data or control edge is attached to the node.
func (n *Node) IsLinked() bool {
	return n.NumConnectedInputs() > 0 || n.NumConsumers() > 0 || len(n.ctrlIn) > 0 || len(n.ctrlOut) > 0
}

// Output returns a pointer to the attributes of output i, or nil if there is no such output.
func (n *Node) Output(i int) *TensorAttr {
	if i < 0 || i >= len(n.Outputs) {
		return nil
	}
	return &n.Outputs[i]
}

// copyAttrs returns a detached copy of the node attributes, without edges.
func (n *Node) copyAttrs() *Node {
	c := &Node{
		Name:      n.Name,
		Op:        n.Op,
		Sched:     slices.Clone(n.Sched),
		Outputs:   make([]TensorAttr, len(n.Outputs)),
		Index:     n.Index,
		Offset:    n.Offset,
		ConcatDim: n.ConcatDim,
		Value:     n.Value,
	}
	for i, output := range n.Outputs {
		c.Outputs[i] = output.Clone()
	}
	if n.Sub != nil {
		c.Sub = n.Sub.Clone()
	}
	return c
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Name, n.Op)
}
