// Package graphtest builds small graphs for tests.
//
// Builder methods panic on error: they are meant only for hand-written test graphs.
package graphtest

import (
	"fmt"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// Builder adds nodes to a graph whose loop nest is fixed at creation.
type Builder struct {
	G     *autofuse.Graph
	DType dtypes.DType
}

// New creates a graph with one axis per given size, named s0, s1, ...
func New(name string, dtype dtypes.DType, sizes ...expr.Expr) *Builder {
	g := autofuse.NewGraph(name)
	for i, size := range sizes {
		g.AddAxis(fmt.Sprintf("s%d", i), size)
	}
	return &Builder{G: g, DType: dtype}
}

// NewConst is like New with constant sizes.
func NewConst(name string, dtype dtypes.DType, sizes ...int64) *Builder {
	return New(name, dtype, expr.Consts(sizes...)...)
}

// Tensor returns the dense tensor over the whole loop nest.
func (b *Builder) Tensor() autofuse.TensorAttr {
	return autofuse.ContiguousTensor(b.DType, b.G.Axes...)
}

// Node adds a node with one output (the dense tensor), scheduled over the whole loop nest, fed
// by the output 0 of each of the inputs.
func (b *Builder) Node(name string, op optypes.OpType, inputs ...*autofuse.Node) *autofuse.Node {
	return b.NodeWith(name, op, b.Tensor(), inputs...)
}

// NodeWith is like Node with the given output tensor.
func (b *Builder) NodeWith(name string, op optypes.OpType, output autofuse.TensorAttr, inputs ...*autofuse.Node) *autofuse.Node {
	node := must.M1(b.G.AddNode(name, op, len(inputs), output))
	node.Sched = b.G.AxisIDs()
	for i, in := range inputs {
		must.M(b.G.Link(in.Out(0), node.In(i)))
	}
	return node
}

// Data adds a graph input.
func (b *Builder) Data(name string, index int) *autofuse.Node {
	node := b.Node(name, optypes.Data)
	node.Index = index
	return node
}

// Load adds a Load from src at offset 0.
func (b *Builder) Load(name string, src *autofuse.Node) *autofuse.Node {
	node := b.Node(name, optypes.Load, src)
	node.Offset = expr.Const(0)
	return node
}

// Store adds a Store of src at offset 0.
func (b *Builder) Store(name string, src *autofuse.Node) *autofuse.Node {
	node := b.Node(name, optypes.Store, src)
	node.Offset = expr.Const(0)
	return node
}

// Output adds a graph output fed by src.
func (b *Builder) Output(name string, index int, src *autofuse.Node) *autofuse.Node {
	node := b.Node(name, optypes.Output, src)
	node.Index = index
	return node
}

// Reduce adds a reduction of src over the given dimensions: the output has repeat 1 and
// stride 0 on them.
func (b *Builder) Reduce(name string, op optypes.OpType, src *autofuse.Node, dims ...int) *autofuse.Node {
	output := b.Tensor()
	for _, dim := range dims {
		output.Repeats[dim] = expr.Const(1)
		output.Strides[dim] = expr.Const(0)
	}
	// Recompute the strides of the kept dimensions.
	stride := expr.Const(1)
	for i := len(output.Repeats) - 1; i >= 0; i-- {
		if output.Strides[i].IsZero() {
			continue
		}
		output.Strides[i] = stride
		stride = expr.Mul(stride, output.Repeats[i])
	}
	return b.NodeWith(name, op, output, src)
}

// Chain adds n nodes of the given op, each feeding the next, starting from src. It returns the
// last one.
func (b *Builder) Chain(prefix string, op optypes.OpType, n int, src *autofuse.Node) *autofuse.Node {
	last := src
	for i := range n {
		last = b.NodeWith(fmt.Sprintf("%s%d", prefix, i), op, last.Outputs[0], last)
	}
	return last
}

// LoadChain adds Data -> Load -> op -> Store -> Output, the body of a minimal fused kernel.
// It returns the Output node.
func (b *Builder) LoadChain(prefix string, op optypes.OpType, dataIndex, outputIndex int) *autofuse.Node {
	data := b.Data(prefix+"data", dataIndex)
	load := b.Load(prefix+"load", data)
	compute := b.Node(prefix+"compute", op, load)
	store := b.Store(prefix+"store", compute)
	return b.Output(prefix+"output", outputIndex, store)
}

// Backend adds a Backend node wrapping sub, with one input per Data node of sub and one output
// per Output node of sub, in index order. The inputs are linked to output 0 of the given nodes.
func (b *Builder) Backend(name string, sub *autofuse.Graph, inputs ...*autofuse.Node) *autofuse.Node {
	outputs := make([]autofuse.TensorAttr, len(sub.NodesOf(optypes.Output)))
	for _, output := range sub.NodesOf(optypes.Output) {
		outputs[output.Index] = output.Outputs[0]
	}
	node := must.M1(b.G.AddNode(name, optypes.Backend, len(sub.NodesOf(optypes.Data)), outputs...))
	node.Sub = sub
	for i, in := range inputs {
		must.M(b.G.Link(in.Out(0), node.In(i)))
	}
	return node
}

// CountOps returns the number of live nodes of the given kind.
func CountOps(g *autofuse.Graph, op optypes.OpType) int {
	return len(g.NodesOf(op))
}

// CheckRanks returns an error if any node output breaks the rank invariant, nested graphs
// included.
func CheckRanks(g *autofuse.Graph) error {
	for _, node := range g.Nodes() {
		for i, output := range node.Outputs {
			if err := output.Validate(); err != nil {
				return errors.WithMessagef(err, "output #%d of %s", i, node)
			}
		}
		if node.Sub != nil {
			if err := CheckRanks(node.Sub); err != nil {
				return err
			}
		}
	}
	return nil
}
