package reduce

import (
	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/partition"
	"github.com/gomlx/autofuse/types"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PostReduceNodes returns the compute nodes downstream of the reduction in the same partition:
// buffer and Store nodes are not counted.
func PostReduceNodes(g *autofuse.Graph, reduction *autofuse.Node) []*autofuse.Node {
	reached := g.ReachableFrom(reduction.ID)
	var nodes []*autofuse.Node
	for _, node := range g.Nodes() {
		if node.ID == reduction.ID || !reached.Has(node.ID) || node.Op.IsBuffer() || node.Op == optypes.Store {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// IsNotPartitionReduce returns whether the nodes computed after the reduction can stay in its
// partition: that is, if there are at most threshold of them.
func IsNotPartitionReduce(g *autofuse.Graph, reduction *autofuse.Node, threshold int) bool {
	return len(PostReduceNodes(g, reduction)) <= threshold
}

// ReducePartitionPostFusion materializes the output of the reduction if too many nodes are
// computed after it, see IsNotPartitionReduce.
func (p *Partitioner) ReducePartitionPostFusion(g *autofuse.Graph, reduction *autofuse.Node) (bool, error) {
	if IsNotPartitionReduce(g, reduction, p.opts.PostFanOutThreshold) {
		return false, nil
	}
	klog.V(2).Infof("graph %q: %d nodes after reduction %q, partitioning", g.Name,
		len(PostReduceNodes(g, reduction)), reduction.Name)
	return PartitionAfter(g, reduction)
}

// reachedReductions returns the reductions reachable from the node, itself included.
func reachedReductions(g *autofuse.Graph, node *autofuse.Node) utils.Set[autofuse.NodeID] {
	reductions := utils.MakeSet[autofuse.NodeID]()
	for id := range g.ReachableFrom(node.ID) {
		if g.Node(id).Op.IsReduce() {
			reductions.Insert(id)
		}
	}
	return reductions
}

// ReducePartitionMultipleCitations resolves the remaining structures that would put two
// reductions in the same partition:
//
//   - A reduction feeding another reduction is materialized right after it.
//   - A node whose consumers lead to different reductions keeps only the consumers leading to
//     the same reductions as the first one, the edges to the others are cut.
func ReducePartitionMultipleCitations(g *autofuse.Graph) (bool, error) {
	var inserted bool
	for _, reduction := range g.Reductions() {
		if len(reachedReductions(g, reduction)) < 2 {
			continue
		}
		cut, err := PartitionAfter(g, reduction)
		if err != nil {
			return false, err
		}
		inserted = inserted || cut
	}

	for _, node := range g.Nodes() {
		successors := g.Successors(node)
		if len(successors) < 2 {
			continue
		}
		var first utils.Set[autofuse.NodeID]
		for _, succ := range successors {
			targets := reachedReductions(g, succ)
			if len(targets) == 0 {
				continue
			}
			if first == nil {
				first = targets
				continue
			}
			if targets.Equal(first) {
				continue
			}
			cut, err := PartitionByNode(g, node, succ)
			if err != nil {
				return false, err
			}
			inserted = inserted || cut
		}
	}
	return inserted, nil
}

// GenerateGeneralCase returns the Common template of g: a copy of g cut in sub-partitions with
// at most one reduction each.
//
// Norm loops are detected first. Then the fan-out after each reduction is bounded
// (ReducePartitionPostFusion), the norm loops are cut (PartitionNorm) and finally the
// remaining multiple citations are resolved (ReducePartitionMultipleCitations).
// If no cut was needed, the task holds g unpartitioned.
//
// A sub-partition with more than one reduction is an ErrInvariantViolation.
func (p *Partitioner) GenerateGeneralCase(g *autofuse.Graph) (*autofuse.ScheduleTask, error) {
	work := g.Clone()
	loops := p.FindNormLoops(work)
	var inserted bool
	for _, reduction := range work.Reductions() {
		cut, err := p.ReducePartitionPostFusion(work, reduction)
		if err != nil {
			return nil, err
		}
		inserted = inserted || cut
	}
	for _, loop := range loops {
		cut, err := PartitionNorm(work, loop)
		if err != nil {
			return nil, errors.WithMessagef(err, "partitioning norm loop %q -> %q",
				work.Node(loop.Diverge).Name, work.Node(loop.Converge).Name)
		}
		inserted = inserted || cut
	}
	cut, err := ReducePartitionMultipleCitations(work)
	if err != nil {
		return nil, err
	}
	inserted = inserted || cut
	if !inserted {
		work = g.Clone()
	} else if err := work.TopoSort(); err != nil {
		return nil, err
	}

	subs, err := partition.PartitionByConnectivity(work, nil)
	if err != nil {
		return nil, err
	}
	if err := checkReductionsPerPartition(subs); err != nil {
		return nil, err
	}
	klog.V(1).Infof("graph %q: %s template with %d sub-partitions", g.Name, types.TemplateReduceCommon, len(subs))
	return &autofuse.ScheduleTask{
		Graph:     work,
		SubGraphs: subs,
		Kind:      types.TemplateReduceCommon,
		Deps:      autofuse.WorkspaceDeps(subs),
	}, nil
}

// checkReductionsPerPartition fails if any sub-partition has more than one reduction.
func checkReductionsPerPartition(subs []*autofuse.Graph) error {
	for _, sub := range subs {
		if reductions := sub.Reductions(); len(reductions) > 1 {
			return autofuse.Invariantf("sub-partition %q has %d reductions (%s, %s, ...), at most one is supported",
				sub.Name, len(reductions), reductions[0].Name, reductions[1].Name)
		}
	}
	return nil
}
