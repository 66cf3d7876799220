package reduce

import (
	"slices"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/types/optypes"
	"k8s.io/klog/v2"
)

// NormLoop is a divergence node whose branches converge again downstream, with a reduction on
// at least one of the branches. E.g.: x - mean(x).
type NormLoop struct {
	Diverge, Converge autofuse.NodeID

	// Paths from Diverge to Converge.
	Paths [][]autofuse.NodeID
}

// hasReduction returns whether an interior node of the path is a reduction.
func hasReduction(g *autofuse.Graph, path []autofuse.NodeID) bool {
	for _, id := range path[1 : len(path)-1] {
		if g.Node(id).Op.IsReduce() {
			return true
		}
	}
	return false
}

// IsNormLoop returns whether the paths from a divergence node to a convergence one form a
// norm loop: a reduction lies on one of the paths and the paths reach the convergence node
// through at least two distinct predecessors.
func IsNormLoop(g *autofuse.Graph, paths [][]autofuse.NodeID) bool {
	var predecessors []autofuse.NodeID
	var reduction bool
	for _, path := range paths {
		if len(path) < 2 {
			continue
		}
		if pred := path[len(path)-2]; !slices.Contains(predecessors, pred) {
			predecessors = append(predecessors, pred)
		}
		reduction = reduction || hasReduction(g, path)
	}
	return reduction && len(predecessors) >= 2
}

// enumeratePaths lists the data paths from start to every node downstream, grouped by end
// node. At most maxPaths paths are listed.
func enumeratePaths(g *autofuse.Graph, start *autofuse.Node, maxPaths int) (byEnd map[autofuse.NodeID][][]autofuse.NodeID, truncated bool) {
	type frame struct {
		node  *autofuse.Node
		succs []*autofuse.Node
		next  int
	}
	byEnd = make(map[autofuse.NodeID][][]autofuse.NodeID)
	var count int
	path := []autofuse.NodeID{start.ID}
	stack := []frame{{node: start, succs: g.Successors(start)}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.succs) {
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
			continue
		}
		succ := top.succs[top.next]
		top.next++
		if slices.Contains(path, succ.ID) {
			// Only possible in a cyclic graph, rejected elsewhere.
			continue
		}
		if count >= maxPaths {
			return byEnd, true
		}
		path = append(path, succ.ID)
		byEnd[succ.ID] = append(byEnd[succ.ID], slices.Clone(path))
		count++
		stack = append(stack, frame{node: succ, succs: g.Successors(succ)})
	}
	return byEnd, false
}

// FindNormLoops returns the norm loops of g, ordered by divergence and then convergence node
// in graph order.
func (p *Partitioner) FindNormLoops(g *autofuse.Graph) []NormLoop {
	var loops []NormLoop
	for _, node := range g.Nodes() {
		if len(g.Successors(node)) < 2 {
			continue
		}
		byEnd, truncated := enumeratePaths(g, node, p.opts.MaxPaths)
		if truncated {
			klog.Warningf("graph %q: more than %d paths from node %q, norm loops may be missed",
				g.Name, p.opts.MaxPaths, node.Name)
		}
		for _, end := range g.Nodes() {
			paths := byEnd[end.ID]
			if len(paths) < 2 || !IsNormLoop(g, paths) {
				continue
			}
			loops = append(loops, NormLoop{Diverge: node.ID, Converge: end.ID, Paths: paths})
		}
	}
	return loops
}

// pathIntact returns whether every edge of the path still exists in g.
func pathIntact(g *autofuse.Graph, path []autofuse.NodeID) bool {
	for i := 1; i < len(path); i++ {
		from, to := g.Node(path[i-1]), g.Node(path[i])
		if from == nil || to == nil || !slices.Contains(g.Predecessors(to), from) {
			return false
		}
	}
	return true
}

// PartitionNorm separates the branches of a norm loop: on every branch still connecting the
// divergence to the convergence node, paths through a reduction are cut right before the
// convergence node, and the others right after the divergence node.
//
// It returns whether any edge was cut.
func PartitionNorm(g *autofuse.Graph, loop NormLoop) (bool, error) {
	var inserted bool
	for _, path := range loop.Paths {
		if !pathIntact(g, path) {
			continue
		}
		var src, dst *autofuse.Node
		if hasReduction(g, path) {
			src, dst = g.Node(path[len(path)-2]), g.Node(path[len(path)-1])
			if src.Op == optypes.Load {
				continue
			}
		} else {
			src, dst = g.Node(path[0]), g.Node(path[1])
		}
		cut, err := PartitionByNode(g, src, dst)
		if err != nil {
			return false, err
		}
		inserted = inserted || cut
	}
	return inserted, nil
}
