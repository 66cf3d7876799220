package reduce

import (
	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/partition"
	"github.com/gomlx/autofuse/types"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GenerateRCoreTasks derives one RCore template from each Common template whose
// sub-partitions hold one reduction each: every sub-partition is split in a phase 1 computing
// partial reductions into a workspace, and a phase 2 combining them.
//
// Templates that can't be converted (ErrUnsupportedPattern), including those with a
// sub-partition without reduction, are skipped. A sub-partition with
// more than one reduction, or with more than Options.PostFanOutThreshold nodes after its
// reduction, is an ErrInvariantViolation and aborts the whole call.
func (p *Partitioner) GenerateRCoreTasks(commons []*autofuse.ScheduleTask) ([]*autofuse.ScheduleTask, error) {
	var tasks []*autofuse.ScheduleTask
	for i, common := range commons {
		if common.Kind != types.TemplateReduceCommon {
			continue
		}
		task, err := p.rcoreTask(common)
		if err != nil {
			if errors.Is(err, autofuse.ErrUnsupportedPattern) {
				klog.V(1).Infof("skipping %s template for candidate #%d: %v", types.TemplateReduceRCore, i, err)
				continue
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (p *Partitioner) rcoreTask(common *autofuse.ScheduleTask) (*autofuse.ScheduleTask, error) {
	var subs []*autofuse.Graph
	var numPhased int
	for _, sub := range common.SubGraphs {
		reductions := sub.Reductions()
		if len(reductions) == 0 {
			return nil, autofuse.Unsupportedf("sub-partition %q has no reduction", sub.Name)
		}
		if len(reductions) > 1 {
			return nil, autofuse.Invariantf("sub-partition %q has %d reductions, at most one is supported",
				sub.Name, len(reductions))
		}
		work := sub.Clone()
		reduction := work.Node(reductions[0].ID)
		if post := len(PostReduceNodes(work, reduction)); post > p.opts.PostFanOutThreshold {
			return nil, autofuse.Invariantf("sub-partition %q has %d nodes after reduction %q, at most %d expected",
				sub.Name, post, reduction.Name, p.opts.PostFanOutThreshold)
		}
		if err := RemapToReduceAxes(work, reduction); err != nil {
			return nil, err
		}
		phase2, err := RMulticorePhase2Graph(work, reduction)
		if err != nil {
			return nil, err
		}
		order := work.BreadthFirstFrom(phase2.ID)
		for _, sink := range work.Sinks() {
			order = append(order, sink.ID)
		}
		pieces, err := partition.PartitionByConnectivity(work, order)
		if err != nil {
			return nil, err
		}
		if len(pieces) != 2 {
			return nil, autofuse.Unsupportedf("phases of reduction %q in %q split in %d pieces, expected 2",
				reduction.Name, sub.Name, len(pieces))
		}
		// The phase 2 is discovered first, from the seed.
		pieces[1].Name, pieces[0].Name = sub.Name+"_phase1", sub.Name+"_phase2"
		subs = append(subs, pieces[1], pieces[0])
		numPhased++
	}
	if numPhased == 0 {
		return nil, autofuse.Unsupportedf("no sub-partition with a reduction")
	}
	return &autofuse.ScheduleTask{
		Graph:     common.Graph.Clone(),
		SubGraphs: subs,
		Kind:      types.TemplateReduceRCore,
		Deps:      autofuse.WorkspaceDeps(subs),
	}, nil
}

// RemapToReduceAxes replaces the loop nest of g by two synthetic axes: "A" spanning the
// dimensions kept by the reduction and "R" spanning the reduced ones. Every node is
// rescheduled over [A, R] and its tensors collapsed accordingly: a dense tensor before the
// reduction becomes repeats [A, R] and strides [R, 1], the reduction output [A, 1] and [1, 0].
//
// It returns an ErrUnsupportedPattern if the dimensions of the reduction can't be resolved.
func RemapToReduceAxes(g *autofuse.Graph, reduction *autofuse.Node) error {
	input, output, err := reductionTensors(g, reduction)
	if err != nil {
		return err
	}
	if input.Rank() != len(g.Axes) {
		return autofuse.Unsupportedf("reduction %q has rank %d, the loop nest of %q has %d axes",
			reduction.Name, input.Rank(), g.Name, len(g.Axes))
	}
	reduced := make([]bool, input.Rank())
	var keptSizes, reducedSizes []expr.Expr
	for i := range input.Rank() {
		if output.Repeats[i].IsConstValue(1) && !input.Repeats[i].IsConstValue(1) {
			reduced[i] = true
			reducedSizes = append(reducedSizes, input.Repeats[i])
		} else {
			keptSizes = append(keptSizes, input.Repeats[i])
		}
	}
	if len(reducedSizes) == 0 {
		return autofuse.Unsupportedf("reduction %q doesn't reduce any dimension", reduction.Name)
	}
	axisA := g.NewAxis("A", expr.Product(keptSizes))
	axisR := g.NewAxis("R", expr.Product(reducedSizes))

	for _, node := range g.Nodes() {
		for o := range node.Outputs {
			t := &node.Outputs[o]
			if t.Rank() != len(reduced) {
				return autofuse.Unsupportedf("output #%d of node %q has rank %d, expected %d",
					o, node.Name, t.Rank(), len(reduced))
			}
			var a, r []expr.Expr
			for i, repeat := range t.Repeats {
				if reduced[i] {
					r = append(r, repeat)
				} else {
					a = append(a, repeat)
				}
			}
			repeatA, repeatR := expr.Product(a), expr.Product(r)
			strideA, strideR := repeatR, expr.Const(1)
			if repeatR.IsConstValue(1) {
				strideR = expr.Const(0)
			}
			if repeatA.IsConstValue(1) {
				strideA = expr.Const(0)
			}
			*t = autofuse.TensorAttr{
				DType:   t.DType,
				Axis:    []autofuse.AxisID{axisA.ID, axisR.ID},
				Repeats: []expr.Expr{repeatA, repeatR},
				Strides: []expr.Expr{strideA, strideR},
			}
		}
		node.Sched = []autofuse.AxisID{axisA.ID, axisR.ID}
	}
	g.SetAxes([]autofuse.Axis{axisA, axisR})
	return nil
}

// RMulticorePhase2Graph splits the reduction in two phases: the reduction itself computes the
// partial results (phase 1), stored in a workspace, and a new reduction (phase 2) loads them
// and combines them for the original consumers. See optypes.OpType.PhaseTwoReduce for the
// combining reduction.
//
// It returns the phase 2 reduction.
func RMulticorePhase2Graph(g *autofuse.Graph, reduction *autofuse.Node) (*autofuse.Node, error) {
	op := reduction.Op.PhaseTwoReduce()
	if op == optypes.Invalid {
		return nil, autofuse.Invariantf("node %q (%s) is not a reduction", reduction.Name, reduction.Op)
	}
	consumers := reduction.Consumers(0)
	b, err := insertBoundary(g, reduction.Out(0))
	if err != nil {
		return nil, errors.WithMessagef(err, "splitting phases of reduction %q", reduction.Name)
	}
	phase2, err := g.AddNode(g.UniqueName(reduction.Name+"_phase2"), op, 1, reduction.Outputs[0])
	if err != nil {
		return nil, err
	}
	phase2.Sched = append(phase2.Sched, reduction.Sched...)
	if err := g.Link(b.Load.Out(0), phase2.In(0)); err != nil {
		return nil, err
	}
	for _, consumer := range consumers {
		if err := g.Relink(phase2.Out(0), consumer); err != nil {
			return nil, err
		}
	}
	if err := g.TopoSort(); err != nil {
		return nil, err
	}
	klog.V(2).Infof("graph %q: reduction %q split in %s + %s", g.Name, reduction.Name, reduction.Op, op)
	return phase2, nil
}
