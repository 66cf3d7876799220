package loopaxis

import (
	"fmt"
	"testing"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/graphtest"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func axes(sizes ...int64) []autofuse.Axis {
	result := make([]autofuse.Axis, len(sizes))
	for i, size := range sizes {
		result[i] = autofuse.Axis{ID: autofuse.AxisID(10 + i), Name: fmt.Sprintf("u%d", i), Size: expr.Const(size)}
	}
	return result
}

func triples(t autofuse.TensorAttr) string {
	return fmt.Sprintf("%v %v %v", t.Axis, t.Repeats, t.Strides)
}

func TestApplyMergedLoopAxis(t *testing.T) {
	t.Run("expansion", func(t *testing.T) {
		b := graphtest.NewConst("sub", dtypes.Float32, 8, 16)
		b.LoadChain("", optypes.Exp, 0, 0)
		require.NoError(t, ApplyMergedLoopAxis(b.G, axes(8, 32, 16), 1))
		assert.Equal(t, axes(8, 32, 16), b.G.Axes)
		for _, name := range []string{"load", "compute", "store"} {
			node := b.G.NodeByName(name)
			assert.Equal(t, "[10 11 12] [8 1 16] [16 0 1]", triples(node.Outputs[0]), "node %q", name)
			assert.Equal(t, []autofuse.AxisID{10, 11, 12}, node.Sched, "node %q", name)
		}
		// Buffers only get their ids remapped.
		data := b.G.NodeByName("data")
		assert.Equal(t, "[10 12] [8 16] [16 1]", triples(data.Outputs[0]))
		assert.Equal(t, []autofuse.AxisID{10, 12}, data.Sched)
		require.NoError(t, graphtest.CheckRanks(b.G))
	})

	t.Run("scalar", func(t *testing.T) {
		b := graphtest.NewConst("sub", dtypes.Float32, 8, 16)
		load := b.Load("load", b.Data("data", 0))
		scalar := b.NodeWith("scalar", optypes.Scalar, autofuse.TensorAttr{DType: dtypes.Float32})
		b.Output("output", 0, b.Store("store", b.Node("mul", optypes.Mul, load, scalar)))
		require.NoError(t, ApplyMergedLoopAxis(b.G, axes(8, 32, 16), 1))
		assert.Equal(t, 0, scalar.Outputs[0].Rank())
		assert.Equal(t, []autofuse.AxisID{10, 11, 12}, scalar.Sched)
		assert.Equal(t, "[10 11 12] [8 1 16] [16 0 1]", triples(b.G.NodeByName("mul").Outputs[0]))
	})

	t.Run("same rank", func(t *testing.T) {
		b := graphtest.NewConst("sub", dtypes.Float32, 8, 16)
		b.LoadChain("", optypes.Exp, 0, 0)
		require.NoError(t, ApplyMergedLoopAxis(b.G, axes(8, 16), 1))
		load := b.G.NodeByName("load")
		assert.Equal(t, "[10 11] [8 16] [16 1]", triples(load.Outputs[0]))
		assert.Equal(t, []autofuse.AxisID{10, 11}, load.Sched)
	})

	t.Run("unsupported", func(t *testing.T) {
		b := graphtest.NewConst("sub", dtypes.Float32, 8, 16)
		b.LoadChain("", optypes.Exp, 0, 0)
		err := ApplyMergedLoopAxis(b.G, axes(8, 4, 4, 16), 1)
		require.ErrorIs(t, err, autofuse.ErrUnsupportedPattern)
		assert.Contains(t, err.Error(), "only expansion of the concat dimension is supported")
	})
}

func TestDoAxisMappingForConstPostAscGraph(t *testing.T) {
	t.Run("mapped", func(t *testing.T) {
		b := graphtest.NewConst("post", dtypes.Float32, 8, 16)
		b.LoadChain("", optypes.Exp, 0, 0)
		require.NoError(t, DoAxisMappingForConstPostAscGraph(b.G, axes(8, 32, 16)))
		for _, node := range b.G.Nodes() {
			assert.Equal(t, "[10 11 12] [8 1 16] [16 0 1]", triples(node.Outputs[0]), "node %q", node.Name)
			assert.Equal(t, []autofuse.AxisID{10, 11, 12}, node.Sched, "node %q", node.Name)
		}
		assert.Len(t, b.G.Axes, 3)
	})

	t.Run("unmatched axis", func(t *testing.T) {
		b := graphtest.NewConst("post", dtypes.Float32, 8, 7)
		b.LoadChain("", optypes.Exp, 0, 0)
		err := DoAxisMappingForConstPostAscGraph(b.G, axes(8, 32, 16))
		require.ErrorIs(t, err, autofuse.ErrUnsupportedPattern)
		// Nothing changed.
		assert.Equal(t, "[0 1] [8 7] [7 1]", triples(b.G.NodeByName("load").Outputs[0]))
	})
}

// concatGraph builds a parent graph with backends pre -> concat -> post, the concat one holding a
// Concat over dimension 1.
func concatGraph() (parent *graphtest.Builder, pre, concat, post *autofuse.Node) {
	preSub := graphtest.NewConst("pre_sub", dtypes.Float32, 8, 16)
	preSub.LoadChain("", optypes.Exp, 0, 0)

	concatSub := graphtest.NewConst("concat_sub", dtypes.Float32, 8, 32, 16)
	load := concatSub.Load("load", concatSub.Data("data", 0))
	concatNode := concatSub.Node("concat", optypes.Concat, load)
	concatNode.ConcatDim = 1
	concatSub.Output("output", 0, concatSub.Store("store", concatNode))

	postSub := graphtest.NewConst("post_sub", dtypes.Float32, 8, 16)
	postSub.LoadChain("", optypes.Neg, 0, 0)

	parent = graphtest.NewConst("parent", dtypes.Float32, 8, 32, 16)
	pre = parent.Backend("pre", preSub.G, parent.Data("x", 0))
	concat = parent.Backend("concat", concatSub.G, pre)
	post = parent.Backend("post", postSub.G, concat)
	parent.Output("y", 0, post)
	return
}

func TestSelectCommonLoopAxis(t *testing.T) {
	t.Run("pre and post", func(t *testing.T) {
		parent, pre, concat, post := concatGraph()
		require.NoError(t, SelectCommonLoopAxis(parent.G, []*autofuse.Node{pre, concat, post}))
		want := concat.Sub.Axes
		assert.Equal(t, want, pre.Sub.Axes)
		assert.Equal(t, want, post.Sub.Axes)
		assert.Equal(t, "[0 1 2] [8 1 16] [16 0 1]", triples(pre.Sub.NodeByName("load").Outputs[0]))
		assert.Equal(t, "[0 1 2] [8 1 16] [16 0 1]", triples(post.Sub.NodeByName("load").Outputs[0]))
		// Post-concat buffers are mapped too, pre-concat ones keep their rank.
		assert.Equal(t, 3, post.Sub.NodeByName("data").Outputs[0].Rank())
		assert.Equal(t, 2, pre.Sub.NodeByName("data").Outputs[0].Rank())
		for _, backend := range []*autofuse.Node{pre, concat, post} {
			require.NoError(t, graphtest.CheckRanks(backend.Sub))
		}
	})

	t.Run("no backends", func(t *testing.T) {
		parent := graphtest.NewConst("parent", dtypes.Float32, 8)
		require.ErrorIs(t, SelectCommonLoopAxis(parent.G, nil), autofuse.ErrInvariantViolation)
	})

	t.Run("no concat", func(t *testing.T) {
		sub0 := graphtest.NewConst("sub0", dtypes.Float32, 8)
		sub0.LoadChain("", optypes.Exp, 0, 0)
		sub1 := graphtest.NewConst("sub1", dtypes.Float32, 8)
		sub1.LoadChain("", optypes.Exp, 0, 0)
		parent := graphtest.NewConst("parent", dtypes.Float32, 8)
		x := parent.Data("x", 0)
		b0 := parent.Backend("b0", sub0.G, x)
		b1 := parent.Backend("b1", sub1.G, x)
		err := SelectCommonLoopAxis(parent.G, []*autofuse.Node{b0, b1})
		require.ErrorIs(t, err, autofuse.ErrUnsupportedPattern)
	})

	t.Run("concat dimension out of range", func(t *testing.T) {
		parent, pre, concat, post := concatGraph()
		concat.Sub.NodeByName("concat").ConcatDim = 3
		err := SelectCommonLoopAxis(parent.G, []*autofuse.Node{pre, concat, post})
		require.ErrorIs(t, err, autofuse.ErrInvariantViolation)
	})

	t.Run("failure names the backend", func(t *testing.T) {
		parent, pre, concat, post := concatGraph()
		post.Sub.SetAxes(append(post.Sub.Axes, autofuse.Axis{ID: 7, Name: "extra", Size: expr.Const(5)}))
		err := SelectCommonLoopAxis(parent.G, []*autofuse.Node{pre, concat, post})
		require.Error(t, err)
		assert.True(t, errors.Is(err, autofuse.ErrUnsupportedPattern))
		assert.Contains(t, err.Error(), `backend "post"`)
	})
}

func TestSelectCommonLoopAxis_ConcatGraphUnchanged(t *testing.T) {
	parent, pre, concat, post := concatGraph()
	before := must.M1(concat.Sub.Compact())
	require.NoError(t, SelectCommonLoopAxis(parent.G, []*autofuse.Node{pre, concat, post}))
	assert.Equal(t, before.String(), concat.Sub.String())
}
