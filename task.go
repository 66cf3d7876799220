package autofuse

import (
	"slices"

	"github.com/gomlx/autofuse/types"
	"github.com/gomlx/autofuse/types/optypes"
)

// ScheduleTask is one candidate lowering of a graph.
type ScheduleTask struct {
	// Graph is the (possibly rewritten) graph of the candidate.
	Graph *Graph

	// SubGraphs are the sub-partitions scheduled as separate kernels.
	SubGraphs []*Graph

	// ScoreFunc is the source of the generated scoring function, empty if there is none.
	ScoreFunc string

	// Kind of lowering template.
	Kind types.TemplateKind

	// Deps maps the index of a sub-partition to the indices of the sub-partitions consuming what it
	// writes, e.g. phase 1 -> phase 2 of a multi-core reduction.
	Deps map[int][]int
}

// Clone returns a deep copy of the task.
func (t *ScheduleTask) Clone() *ScheduleTask {
	c := &ScheduleTask{
		ScoreFunc: t.ScoreFunc,
		Kind:      t.Kind,
		Deps:      make(map[int][]int, len(t.Deps)),
	}
	if t.Graph != nil {
		c.Graph = t.Graph.Clone()
	}
	for _, sub := range t.SubGraphs {
		c.SubGraphs = append(c.SubGraphs, sub.Clone())
	}
	for k, v := range t.Deps {
		c.Deps[k] = slices.Clone(v)
	}
	return c
}

// IsWorkspaceWriter returns whether the node is a Workspace fed by a Store, the producing side of
// a partition boundary.
func IsWorkspaceWriter(node *Node) bool {
	return node.Op == optypes.Workspace && node.NumConnectedInputs() > 0
}

// IsWorkspaceReader returns whether the node is a Workspace without inputs, the consuming side of
// a partition boundary.
func IsWorkspaceReader(node *Node) bool {
	return node.Op == optypes.Workspace && node.NumConnectedInputs() == 0
}

// WorkspaceDeps computes the dependencies among sub-partitions: sub-partition i precedes j if
// j reads a workspace buffer i writes.
func WorkspaceDeps(subs []*Graph) map[int][]int {
	writers := make(map[int][]int)
	for i, sub := range subs {
		for _, node := range sub.NodesOf(optypes.Workspace) {
			if IsWorkspaceWriter(node) && !slices.Contains(writers[node.Index], i) {
				writers[node.Index] = append(writers[node.Index], i)
			}
		}
	}
	deps := make(map[int][]int)
	for j, sub := range subs {
		for _, node := range sub.NodesOf(optypes.Workspace) {
			if !IsWorkspaceReader(node) {
				continue
			}
			for _, i := range writers[node.Index] {
				if i != j && !slices.Contains(deps[i], j) {
					deps[i] = append(deps[i], j)
				}
			}
		}
	}
	for i := range deps {
		slices.Sort(deps[i])
	}
	return deps
}
