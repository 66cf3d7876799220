package autofuse_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/graphtest"
	"github.com/gomlx/autofuse/types"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_Edges(t *testing.T) {
	b := graphtest.NewConst("edges", dtypes.Float32, 8, 16)
	data := b.Data("data", 0)
	load := b.Load("load", data)
	abs := b.Node("abs", optypes.Abs, load)
	exp := b.Node("exp", optypes.Exp, load)
	g := b.G

	t.Run("queries", func(t *testing.T) {
		assert.Equal(t, data, g.Producer(load, 0))
		assert.Equal(t, []*autofuse.Node{abs, exp}, g.Successors(load))
		assert.Equal(t, []*autofuse.Node{load}, g.Predecessors(abs))
		assert.Equal(t, []*autofuse.Node{abs, exp}, g.Sinks())
		assert.Equal(t, 2, load.NumConsumers())
		assert.True(t, g.PathExists(data.ID, exp.ID))
		assert.False(t, g.PathExists(abs.ID, exp.ID))
	})

	t.Run("link errors", func(t *testing.T) {
		err := g.Link(data.Out(0), load.In(0))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already connected")
		err = g.Link(data.Out(3), abs.In(0))
		require.ErrorIs(t, err, autofuse.ErrNullReference)
		err = g.Link(autofuse.Port{Node: 100}, abs.In(0))
		require.ErrorIs(t, err, autofuse.ErrNullReference)
	})

	t.Run("remove", func(t *testing.T) {
		c := g.Clone()
		err := c.RemoveNode(exp.ID)
		require.ErrorIs(t, err, autofuse.ErrInvariantViolation)
		require.NoError(t, c.DeleteNode(exp.ID))
		assert.Nil(t, c.Node(exp.ID))
		assert.Nil(t, c.NodeByName("exp"))
		assert.Equal(t, 3, c.NumNodes())
		assert.Len(t, c.Node(load.ID).Consumers(0), 1)

		// The original graph is untouched.
		assert.Equal(t, 4, g.NumNodes())
		assert.Equal(t, 2, g.Node(load.ID).NumConsumers())
	})

	t.Run("redirect", func(t *testing.T) {
		c := g.Clone()
		neg := must.M1(c.AddNode("neg", optypes.Neg, 1, b.Tensor()))
		require.NoError(t, c.Link(c.Node(data.ID).Out(0), neg.In(0)))
		require.NoError(t, c.RedirectConsumers(c.Node(load.ID).Out(0), neg.Out(0)))
		assert.Equal(t, 0, c.Node(load.ID).NumConsumers())
		assert.Equal(t, neg.Out(0), c.Node(abs.ID).Input(0))
		assert.Equal(t, neg.Out(0), c.Node(exp.ID).Input(0))
	})
}

func TestGraph_ControlEdges(t *testing.T) {
	b := graphtest.NewConst("control", dtypes.Float32, 4)
	x := b.Data("x", 0)
	y := b.Data("y", 1)
	g := b.G
	require.NoError(t, g.LinkControl(x.ID, y.ID))
	require.NoError(t, g.LinkControl(x.ID, y.ID))
	assert.Equal(t, []autofuse.NodeID{y.ID}, x.ControlOutputs())
	assert.True(t, g.HasControlEdge(x.ID, y.ID))
	require.ErrorIs(t, g.LinkControl(x.ID, x.ID), autofuse.ErrInvariantViolation)

	// Control edges order the topological sort.
	require.NoError(t, g.LinkControl(y.ID, x.ID))
	err := g.TopoSort()
	require.ErrorIs(t, err, autofuse.ErrInvariantViolation)
	assert.Contains(t, err.Error(), "not acyclic")

	require.NoError(t, g.UnlinkControl(x.ID, y.ID))
	require.NoError(t, g.TopoSort())
	assert.Equal(t, []*autofuse.Node{y, x}, g.Nodes())
	require.NoError(t, g.Isolate(x.ID))
	assert.False(t, x.IsLinked())
}

func TestGraph_TopoSort(t *testing.T) {
	b := graphtest.NewConst("topo", dtypes.Float32, 4)
	g := b.G
	// Nodes created out of order: the consumer first.
	add := must.M1(g.AddNode("add", optypes.Add, 2, b.Tensor()))
	x := b.Data("x", 0)
	y := b.Data("y", 1)
	require.NoError(t, g.Link(x.Out(0), add.In(0)))
	require.NoError(t, g.Link(y.Out(0), add.In(1)))
	require.NoError(t, g.TopoSort())
	assert.Equal(t, []*autofuse.Node{x, y, add}, g.Nodes())

	// Self loops are rejected as cycles.
	neg := must.M1(g.AddNode("neg", optypes.Neg, 1, b.Tensor()))
	require.NoError(t, g.Link(neg.Out(0), neg.In(0)))
	require.ErrorIs(t, g.Validate(), autofuse.ErrInvariantViolation)
}

func TestGraph_AddNode(t *testing.T) {
	b := graphtest.NewConst("add_node", dtypes.Float32, 4)
	g := b.G
	_, err := g.AddNode("", optypes.Abs, 1)
	require.Error(t, err)
	b.Data("x", 0)
	_, err = g.AddNode("x", optypes.Abs, 1)
	require.Error(t, err)
	assert.Equal(t, "x_1", g.UniqueName("x"))
	assert.Equal(t, "y", g.UniqueName("y"))

	bad := b.Tensor()
	bad.Strides = bad.Strides[:0]
	_, err = g.AddNode("bad", optypes.Abs, 1, bad)
	require.ErrorIs(t, err, autofuse.ErrInvariantViolation)
}

func TestGraph_CompactInputs(t *testing.T) {
	b := graphtest.NewConst("compact", dtypes.Float32, 4)
	g := b.G
	x := b.Data("x", 0)
	y := b.Data("y", 1)
	out := must.M1(g.AddNode("net_output", optypes.NetOutput, 3))
	require.NoError(t, g.Link(x.Out(0), out.In(0)))
	require.NoError(t, g.Link(y.Out(0), out.In(2)))
	require.NoError(t, g.CompactInputs(out.ID))
	assert.Equal(t, []autofuse.Port{x.Out(0), y.Out(0)}, out.Inputs())
	idx := must.M1(g.AddInputAnchor(out.ID))
	assert.Equal(t, 2, idx)
	assert.Equal(t, []autofuse.Port{out.In(1)}, y.Consumers(0))
}

func TestGraph_Axes(t *testing.T) {
	b := graphtest.New("axes", dtypes.Float16, expr.Var("n"), expr.Const(64))
	g := b.G
	x := b.Data("x", 0)
	extra := g.AddAxis("extra", expr.Const(3))
	assert.Equal(t, autofuse.AxisID(2), extra.ID)
	assert.Equal(t, 1, g.PruneUnusedAxes())
	assert.Len(t, g.Axes, 2)

	fresh := g.NewAxis("fresh", expr.Const(5))
	assert.Equal(t, autofuse.AxisID(3), fresh.ID)
	g.ReplaceAxis(0, fresh.ID)
	assert.Equal(t, []autofuse.AxisID{fresh.ID, 1}, x.Sched)
	assert.Equal(t, []autofuse.AxisID{fresh.ID, 1}, x.Outputs[0].Axis)
	assert.Equal(t, 1, g.PruneUnusedAxes())
	_, found := g.FindAxis(0)
	assert.False(t, found)

	// Contiguous tensors are row-major.
	tensor := autofuse.ContiguousTensor(dtypes.Float32,
		autofuse.Axis{ID: 0, Size: expr.Var("n")}, autofuse.Axis{ID: 1, Size: expr.Const(64)})
	assert.Equal(t, "64*n", tensor.Elements().String())
	assert.Equal(t, "64", tensor.Strides[0].String())
	assert.Equal(t, "1", tensor.Strides[1].String())
}

func TestGraph_CloneAndCompact(t *testing.T) {
	b := graphtest.NewConst("clone", dtypes.Float32, 4)
	b.LoadChain("a_", optypes.Relu, 0, 0)
	g := b.G
	require.NoError(t, g.DeleteNode(g.NodeByName("a_compute").ID))
	require.NoError(t, g.DeleteNode(g.NodeByName("a_store").ID))

	c := must.M1(g.Compact())
	require.Equal(t, 3, c.NumNodes())
	for i, node := range c.Nodes() {
		assert.Equal(t, autofuse.NodeID(i), node.ID)
	}
	assert.Equal(t, c.NodeByName("a_data").Out(0), c.NodeByName("a_load").Input(0))

	// Nested graphs are deep-copied.
	backend := must.M1(g.AddNode("backend", optypes.Backend, 0))
	backend.Sub = autofuse.NewGraph("inner")
	cloned := g.Clone()
	cloned.NodeByName("backend").Sub.Name = "changed"
	assert.Equal(t, "inner", backend.Sub.Name)
}

func TestGraph_Write(t *testing.T) {
	b := graphtest.NewConst("write", dtypes.Float32, 4)
	out := b.LoadChain("", optypes.Exp, 0, 0)
	out.Sched = nil
	var buf bytes.Buffer
	require.NoError(t, b.G.Write(&buf, ""))
	text := buf.String()
	assert.Contains(t, text, "graph @write {\n")
	assert.Contains(t, text, fmt.Sprintf("%%load = Load(%%data:0){offset=0, sched=[z0]} -> %s[z0:4/1]", dtypes.Float32))
	assert.Contains(t, text, fmt.Sprintf("%%output = Output(%%store:0){index=0} -> %s[z0:4/1]", dtypes.Float32))
	assert.Equal(t, text, b.G.String())
}

func TestWorkspaceDeps(t *testing.T) {
	newSub := func(name string, writes, reads []int) *autofuse.Graph {
		b := graphtest.NewConst(name, dtypes.Float32, 4)
		for _, id := range reads {
			ws := b.Node(b.G.UniqueName("read"), optypes.Workspace)
			ws.Index = id
			b.Load(b.G.UniqueName("load"), ws)
		}
		for _, id := range writes {
			x := b.Data(b.G.UniqueName("x"), 0)
			store := b.Store(b.G.UniqueName("store"), x)
			ws := b.Node(b.G.UniqueName("write"), optypes.Workspace, store)
			ws.Index = id
		}
		return b.G
	}
	subs := []*autofuse.Graph{
		newSub("p0", []int{0, 1}, nil),
		newSub("p1", []int{2}, []int{0}),
		newSub("p2", nil, []int{1, 2}),
	}
	deps := autofuse.WorkspaceDeps(subs)
	assert.Equal(t, map[int][]int{0: {1, 2}, 1: {2}}, deps)

	task := &autofuse.ScheduleTask{Graph: subs[0], SubGraphs: subs, Kind: types.TemplateReduceCommon, Deps: deps}
	c := task.Clone()
	c.Deps[0][0] = 7
	assert.Equal(t, 1, task.Deps[0][0])
}

func TestErrors(t *testing.T) {
	err := autofuse.Unsupportedf("no concat in %d graphs", 3)
	assert.True(t, errors.Is(err, autofuse.ErrUnsupportedPattern))
	assert.Equal(t, "no concat in 3 graphs: unsupported pattern", err.Error())
	assert.False(t, errors.Is(err, autofuse.ErrNullReference))
}
