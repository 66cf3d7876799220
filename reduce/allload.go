package reduce

import (
	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/types"
	"github.com/gomlx/autofuse/types/expr"
	"k8s.io/klog/v2"
)

// reductionTensors returns the input and output tensors of the reduction.
func reductionTensors(g *autofuse.Graph, reduction *autofuse.Node) (input, output *autofuse.TensorAttr, err error) {
	producer := g.Producer(reduction, 0)
	if producer == nil {
		return nil, nil, autofuse.NullReferencef("reduction %q in graph %q has no input", reduction.Name, g.Name)
	}
	input = producer.Output(reduction.Input(0).Index)
	output = reduction.Output(0)
	if input == nil || output == nil {
		return nil, nil, autofuse.NullReferencef("reduction %q in graph %q misses tensor attributes", reduction.Name, g.Name)
	}
	if input.Rank() != output.Rank() {
		return nil, nil, autofuse.Unsupportedf("reduction %q changes the rank from %d to %d",
			reduction.Name, input.Rank(), output.Rank())
	}
	return input, output, nil
}

// effectiveRank returns the number of dimensions whose repeat is not provably 1.
func effectiveRank(t *autofuse.TensorAttr) int {
	var rank int
	for _, repeat := range t.Repeats {
		if !repeat.IsConstValue(1) {
			rank++
		}
	}
	return rank
}

// GenerateAllLoadTask returns the AllLoad template of g: the graph unpartitioned, with every
// reduction resident.
//
// It is only supported if every reduction keeps its first dimension and its output has at most
// Options.AllLoadMaxRank non-unit dimensions. Otherwise, it returns an ErrUnsupportedPattern.
func (p *Partitioner) GenerateAllLoadTask(g *autofuse.Graph) (*autofuse.ScheduleTask, error) {
	for _, reduction := range g.Reductions() {
		input, output, err := reductionTensors(g, reduction)
		if err != nil {
			return nil, err
		}
		if output.Rank() == 0 {
			return nil, autofuse.Unsupportedf("reduction %q has a scalar output", reduction.Name)
		}
		if expr.Equal(input.Repeats[0], output.Repeats[0]) != expr.True {
			return nil, autofuse.Unsupportedf("reduction %q changes the first dimension from %s to %s",
				reduction.Name, input.Repeats[0], output.Repeats[0])
		}
		if rank := effectiveRank(output); rank > p.opts.AllLoadMaxRank {
			return nil, autofuse.Unsupportedf("reduction %q output has rank %d, at most %d supported",
				reduction.Name, rank, p.opts.AllLoadMaxRank)
		}
	}
	work := g.Clone()
	klog.V(1).Infof("graph %q: %s template", g.Name, types.TemplateReduceAllLoad)
	return &autofuse.ScheduleTask{
		Graph:     work,
		SubGraphs: []*autofuse.Graph{work.Clone()},
		Kind:      types.TemplateReduceAllLoad,
		Deps:      map[int][]int{},
	}, nil
}
