package autofuse

import (
	"fmt"
	"slices"

	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/types/expr"
)

// AxisID identifies a loop axis within a graph.
type AxisID int64

// Axis is a loop dimension with a symbolic size.
type Axis struct {
	ID   AxisID
	Name string
	Size expr.Expr
}

// String implements fmt.Stringer.
func (a Axis) String() string {
	return fmt.Sprintf("z%d(%s=%s)", a.ID, a.Name, a.Size)
}

// AddAxis appends a new axis (innermost) to the graph loop nest and returns it.
func (g *Graph) AddAxis(name string, size expr.Expr) Axis {
	axis := g.NewAxis(name, size)
	g.Axes = append(g.Axes, axis)
	return axis
}

// NewAxis allocates a new axis id in the graph, without adding it to the loop nest.
func (g *Graph) NewAxis(name string, size expr.Expr) Axis {
	for _, axis := range g.Axes {
		if axis.ID >= g.nextAxisID {
			g.nextAxisID = axis.ID + 1
		}
	}
	axis := Axis{ID: g.nextAxisID, Name: name, Size: size}
	g.nextAxisID++
	return axis
}

// InsertAxis allocates a new axis and inserts it in the loop nest at position pos, 0 being the
// outermost.
func (g *Graph) InsertAxis(pos int, name string, size expr.Expr) Axis {
	axis := g.NewAxis(name, size)
	pos = min(max(pos, 0), len(g.Axes))
	g.Axes = slices.Insert(g.Axes, pos, axis)
	return axis
}

// AxisPosition returns the position of the axis in the loop nest, or -1.
func (g *Graph) AxisPosition(id AxisID) int {
	return slices.IndexFunc(g.Axes, func(axis Axis) bool { return axis.ID == id })
}

// SetAxes replaces the graph loop nest.
func (g *Graph) SetAxes(axes []Axis) {
	g.Axes = slices.Clone(axes)
	for _, axis := range axes {
		if axis.ID >= g.nextAxisID {
			g.nextAxisID = axis.ID + 1
		}
	}
}

// FindAxis returns the graph axis with the given id.
func (g *Graph) FindAxis(id AxisID) (Axis, bool) {
	for _, axis := range g.Axes {
		if axis.ID == id {
			return axis, true
		}
	}
	return Axis{}, false
}

// AxisIDs returns the ids of the graph loop nest, outer to inner.
func (g *Graph) AxisIDs() []AxisID {
	ids := make([]AxisID, len(g.Axes))
	for i, axis := range g.Axes {
		ids[i] = axis.ID
	}
	return ids
}

// ReplaceAxis substitutes oldID by newID in the schedule axes and tensor axes of the given
// nodes. If nodes is empty, all nodes of the graph are updated.
func (g *Graph) ReplaceAxis(oldID, newID AxisID, nodes ...NodeID) {
	if len(nodes) == 0 {
		nodes = slices.Clone(g.order)
	}
	for _, id := range nodes {
		node := g.Node(id)
		if node == nil {
			continue
		}
		for i, axisID := range node.Sched {
			if axisID == oldID {
				node.Sched[i] = newID
			}
		}
		for o := range node.Outputs {
			for i, axisID := range node.Outputs[o].Axis {
				if axisID == oldID {
					node.Outputs[o].Axis[i] = newID
				}
			}
		}
	}
}

// UsedAxes returns the set of axis ids referenced by any node of the graph.
func (g *Graph) UsedAxes() utils.Set[AxisID] {
	used := utils.MakeSet[AxisID]()
	for _, node := range g.Nodes() {
		used.Insert(node.Sched...)
		for _, output := range node.Outputs {
			used.Insert(output.Axis...)
		}
	}
	return used
}

// PruneUnusedAxes removes from the loop nest the axes no node refers to.
// It returns the number of axes removed.
func (g *Graph) PruneUnusedAxes() int {
	used := g.UsedAxes()
	before := len(g.Axes)
	g.Axes = slices.DeleteFunc(g.Axes, func(axis Axis) bool {
		return !used.Has(axis.ID)
	})
	return before - len(g.Axes)
}
