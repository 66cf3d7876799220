package split

import (
	"fmt"
	"testing"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/graphtest"
	"github.com/gomlx/autofuse/types"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// splitGraph builds data -> load -> split, and exp -> store -> output for each output of the
// split. The outputs take the loop nest extents, except along dim.
func splitGraph(b *graphtest.Builder, dim int, extents ...expr.Expr) *autofuse.Node {
	g := b.G
	load := b.Load("load", b.Data("data", 0))
	outputs := make([]autofuse.TensorAttr, len(extents))
	for j, extent := range extents {
		outputs[j] = b.Tensor()
		outputs[j].Repeats[dim] = extent
	}
	split := must.M1(g.AddNode("split", optypes.Split, 1, outputs...))
	split.Sched = g.AxisIDs()
	must.M(g.Link(load.Out(0), split.In(0)))
	for j := range extents {
		exp := must.M1(g.AddNode(fmt.Sprintf("exp_%d", j), optypes.Exp, 1, outputs[j]))
		exp.Sched = g.AxisIDs()
		must.M(g.Link(split.Out(j), exp.In(0)))
		store := b.NodeWith(fmt.Sprintf("store_%d", j), optypes.Store, outputs[j], exp)
		b.NodeWith(fmt.Sprintf("output_%d", j), optypes.Output, outputs[j], store).Index = j
	}
	return split
}

func TestResolveSplitDim(t *testing.T) {
	testCases := []struct {
		name     string
		sizes    []expr.Expr
		dim      int
		firstDim bool
	}{
		{"first", []expr.Expr{expr.Const(192), expr.Const(64)}, 0, true},
		{"inner", []expr.Expr{expr.Const(8), expr.Const(96)}, 1, false},
		{"after unit dims", []expr.Expr{expr.Const(1), expr.Const(96), expr.Var("n")}, 1, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := graphtest.New(tc.name, dtypes.Float32, tc.sizes...)
			half := expr.Const(32)
			split := splitGraph(b, tc.dim, half, half)
			dim, firstDim, err := ResolveSplitDim(b.G, split)
			require.NoError(t, err)
			assert.Equal(t, tc.dim, dim)
			assert.Equal(t, tc.firstDim, firstDim)
		})
	}

	t.Run("no split dimension", func(t *testing.T) {
		b := graphtest.NewConst("none", dtypes.Float32, 8)
		split := splitGraph(b, 0, expr.Const(8))
		_, _, err := ResolveSplitDim(b.G, split)
		require.ErrorIs(t, err, autofuse.ErrUnsupportedPattern)
	})
}

func TestConvertSplitToLoads(t *testing.T) {
	b := graphtest.New("first", dtypes.Float32, expr.Const(192), expr.Var("s1"))
	split := splitGraph(b, 0, expr.Const(32), expr.Const(56), expr.Const(114))
	g := b.G
	require.NoError(t, ConvertSplitToLoads(g, split))

	loads := g.NodesOf(optypes.Load)
	require.Len(t, loads, 3)
	for j, offset := range []string{"0", "32*s1", "88*s1"} {
		load := g.NodeByName(fmt.Sprintf("split_load_%d", j))
		require.NotNil(t, load)
		assert.Equal(t, offset, load.Offset.String(), "offset of output #%d", j)
		assert.Equal(t, load.Out(0), g.NodeByName(fmt.Sprintf("exp_%d", j)).Input(0))
		assert.Equal(t, optypes.Data, g.Producer(load, 0).Op)
	}
	assert.Nil(t, g.NodeByName("split"))
	assert.Nil(t, g.NodeByName("load"))
	assert.Nil(t, g.NodeByName("data"))
	assert.Empty(t, g.NodesOf(optypes.Split))
	assert.Len(t, g.NodesOf(optypes.Data), 3)

	// The split axis is replaced by one axis per output, in order. It's kept for the Data buffers.
	var names, sizes []string
	for _, axis := range g.Axes {
		names = append(names, axis.Name)
		sizes = append(sizes, axis.Size.String())
	}
	assert.Equal(t, []string{"s0", "split_0", "split_1", "split_2", "s1"}, names)
	assert.Equal(t, []string{"192", "32", "56", "114", "s1"}, sizes)
	exp1 := g.NodeByName("exp_1")
	assert.Equal(t, g.Axes[2].ID, exp1.Sched[0])
	assert.Equal(t, g.Axes[2].ID, exp1.Outputs[0].Axis[0])
	require.NoError(t, graphtest.CheckRanks(g))
	require.NoError(t, g.Validate())
}

func TestConvertSplitToLoads_Broadcast(t *testing.T) {
	b := graphtest.New("bcast", dtypes.Float32, expr.Const(64), expr.Var("s1"))
	split := splitGraph(b, 0, expr.Const(32), expr.Const(32))
	g := b.G
	bAxis := g.AddAxis("b", expr.Const(32))
	bias := b.NodeWith("bias", optypes.Data, autofuse.TensorAttr{
		DType:   dtypes.Float32,
		Axis:    []autofuse.AxisID{bAxis.ID, 1},
		Repeats: []expr.Expr{expr.Const(1), expr.Var("s1")},
		Strides: []expr.Expr{expr.Const(0), expr.Const(1)},
	})
	bias.Sched = nil
	bcast := b.NodeWith("bcast", optypes.Broadcast, autofuse.TensorAttr{
		DType:   dtypes.Float32,
		Axis:    []autofuse.AxisID{bAxis.ID, 1},
		Repeats: []expr.Expr{expr.Const(32), expr.Var("s1")},
		Strides: []expr.Expr{expr.Var("s1"), expr.Const(1)},
	}, bias)
	exp0 := g.NodeByName("exp_0")
	add := b.NodeWith("add_0", optypes.Add, exp0.Outputs[0], exp0, bcast)
	require.NoError(t, g.Relink(add.Out(0), g.NodeByName("store_0").In(0)))
	require.NoError(t, g.TopoSort())

	require.NoError(t, ConvertSplitToLoads(g, split))
	assert.Equal(t, bAxis.ID, exp0.Sched[0])
	assert.Equal(t, bAxis.ID, add.Outputs[0].Axis[0])
	var names []string
	for _, axis := range g.Axes {
		names = append(names, axis.Name)
	}
	assert.Equal(t, []string{"s0", "split_1", "s1", "b"}, names)
}

func TestConvertSplitToLoads_Unsupported(t *testing.T) {
	b := graphtest.NewConst("unsupported", dtypes.Float32, 64)
	split := splitGraph(b, 0, expr.Const(32), expr.Const(32))
	g := b.G
	load := g.NodeByName("load")
	exp := b.Node("pre", optypes.Exp, load)
	require.NoError(t, g.Relink(exp.Out(0), split.In(0)))
	err := ConvertSplitToLoads(g, split)
	require.ErrorIs(t, err, autofuse.ErrUnsupportedPattern)
}

func TestSplitGroupPartitioner(t *testing.T) {
	b := graphtest.NewConst("groups", dtypes.Float32, 8, 32)
	split := splitGraph(b, 1, expr.Consts(8, 8, 3, 5, 8)...)
	opts := DefaultOptions()
	opts.GroupBytes = 1024
	opts.MaxGroups = 3
	groups := must.M1(SplitGroupPartitioner(b.G, split, 1, opts))
	require.Len(t, groups, 3)
	assert.Equal(t, "[0, 3):Aligned:608B", groups[0].String())
	assert.Equal(t, "[3, 4):Unaligned:160B", groups[1].String())
	assert.Equal(t, "[4, 5):Aligned:256B", groups[2].String())

	opts.MaxGroups = 2
	groups = must.M1(SplitGroupPartitioner(b.G, split, 1, opts))
	require.Len(t, groups, 2)
	assert.Equal(t, "[3, 5):Unaligned:416B", groups[1].String())

	// Size limit.
	opts = DefaultOptions()
	opts.GroupBytes = 300
	groups = must.M1(SplitGroupPartitioner(b.G, split, 1, opts))
	assert.Equal(t, 5, len(groups))
	assert.Equal(t, SplitGroup{Begin: 0, End: 1, Alignment: Aligned, Bytes: expr.Const(256)}.String(), groups[0].String())
}

func TestScoreFunctionGenerator(t *testing.T) {
	scorer := ScoreFunctionGenerator{Name: "score", Alignment: 32, AlignedRatio: 0.9}
	constant := func(score int) string {
		return fmt.Sprintf("int64_t score(const TilingData &tiling_data) {\n  (void)tiling_data;\n  return %d;\n}\n", score)
	}
	testCases := []struct {
		name    string
		sizes   []expr.Expr
		extents []expr.Expr
		want    string
	}{
		{"aligned unit", expr.Consts(8, 16, 8), expr.Consts(4, 12), constant(1)},
		{"aligned outputs", expr.Consts(8, 96), expr.Consts(32, 64), constant(1)},
		{"unaligned outputs", expr.Consts(8, 9), expr.Consts(3, 6), constant(-1)},
		{"mostly aligned", expr.Consts(8, 104), expr.Consts(100, 4), constant(1)},
		{"symbolic unit", []expr.Expr{expr.Const(8), expr.Const(64), expr.Var("k")}, expr.Consts(32, 32), constant(0)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := graphtest.New(tc.name, dtypes.Float32, tc.sizes...)
			split := splitGraph(b, 1, tc.extents...)
			assert.Equal(t, tc.want, must.M1(scorer.Generate(b.G, split, 1)))
		})
	}

	t.Run("run time", func(t *testing.T) {
		b := graphtest.New("runtime", dtypes.Float16, expr.Const(8), expr.Var("n"))
		split := splitGraph(b, 1, expr.Var("a"), expr.Add(expr.Var("b"), expr.Const(1)))
		source := must.M1(scorer.Generate(b.G, split, 1))
		fmt.Printf("%s:\n%s", t.Name(), source)
		assert.Contains(t, source, "int64_t score(const TilingData &tiling_data) {\n")
		assert.Contains(t, source, "  const int64_t unit_bytes = 2;\n")
		assert.Contains(t, source, "  const int64_t sizes[2] = {tiling_data.a, tiling_data.b + 1};\n")
		assert.Contains(t, source, "if ((offset * unit_bytes) % 32 != 0) {")
		assert.Contains(t, source, ">= 0.9 * static_cast<double>(total)) {\n    return 1;\n  }\n  return -1;\n}\n")
		assert.Contains(t, source, "  if (total <= 0) {\n    return -1;\n  }\n")
		assert.NotContains(t, source, "return 0;")
	})
}

func TestGenerate(t *testing.T) {
	t.Run("first dimension", func(t *testing.T) {
		b := graphtest.New("first", dtypes.Float32, expr.Const(192), expr.Var("s1"))
		splitGraph(b, 0, expr.Const(32), expr.Const(56), expr.Const(114))
		tasks := must.M1(New(DefaultOptions()).Generate(b.G))
		require.Len(t, tasks, 1)
		assert.Equal(t, types.TemplateSplitLoads, tasks[0].Kind)
		assert.Empty(t, tasks[0].ScoreFunc)
		assert.Len(t, tasks[0].SubGraphs, 3)
		// The input graph is not modified.
		assert.NotNil(t, b.G.NodeByName("split"))
	})

	t.Run("inner dimension", func(t *testing.T) {
		b := graphtest.NewConst("inner", dtypes.Float32, 8, 96)
		splitGraph(b, 1, expr.Consts(32, 64)...)
		tasks := must.M1(New(DefaultOptions()).Generate(b.G))
		require.Len(t, tasks, 2)
		assert.Equal(t, types.TemplateDefault, tasks[0].Kind)
		assert.Contains(t, tasks[0].ScoreFunc, "int64_t split_score_inner_split(const TilingData &tiling_data)")
		assert.Contains(t, tasks[0].ScoreFunc, "return 1;")
		assert.NotContains(t, tasks[0].ScoreFunc, "unit_bytes")
		assert.NotNil(t, tasks[0].Graph.NodeByName("split"))

		grouped := tasks[1]
		assert.Equal(t, types.TemplateSplitGroup, grouped.Kind)
		assert.Empty(t, grouped.ScoreFunc)
		assert.Nil(t, grouped.Graph.NodeByName("split"))
		// Both outputs are aligned and small: a single group, sharing its input buffer.
		require.Len(t, grouped.SubGraphs, 1)
		assert.Len(t, grouped.SubGraphs[0].NodesOf(optypes.Load), 2)
		assert.Len(t, grouped.SubGraphs[0].NodesOf(optypes.Data), 1)
	})

	t.Run("too many outputs", func(t *testing.T) {
		b := graphtest.NewConst("many", dtypes.Float32, 8, 96)
		splitGraph(b, 1, expr.Consts(32, 64)...)
		opts := DefaultOptions()
		opts.MaxDirectOutputs = 1
		tasks := must.M1(New(opts).Generate(b.G))
		require.Len(t, tasks, 1)
		assert.Equal(t, types.TemplateSplitGroup, tasks[0].Kind)
		assert.Empty(t, tasks[0].ScoreFunc)
	})

	t.Run("invalid options", func(t *testing.T) {
		b := graphtest.NewConst("invalid", dtypes.Float32, 8, 96)
		split := splitGraph(b, 1, expr.Consts(32, 64)...)
		opts := DefaultOptions()
		opts.Alignment = 0
		_, err := New(opts).Generate(b.G)
		require.ErrorIs(t, err, autofuse.ErrInvariantViolation)
		_, err = SplitGroupPartitioner(b.G, split, 1, opts)
		require.ErrorIs(t, err, autofuse.ErrInvariantViolation)

		opts = DefaultOptions()
		opts.MaxGroups = 0
		_, err = New(opts).Generate(b.G)
		require.ErrorIs(t, err, autofuse.ErrInvariantViolation)
	})

	t.Run("no split", func(t *testing.T) {
		b := graphtest.NewConst("none", dtypes.Float32, 8)
		b.LoadChain("", optypes.Abs, 0, 0)
		_, err := New(DefaultOptions()).Generate(b.G)
		require.ErrorIs(t, err, autofuse.ErrUnsupportedPattern)
	})
}
