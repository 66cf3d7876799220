package reduce

import (
	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/pkg/errors"
)

// Boundary is a Store -> Workspace ... Workspace -> Load hand-off inserted after an output of a
// node. Both Workspace nodes share the same buffer id.
type Boundary struct {
	Store, Writer, Reader, Load *autofuse.Node
}

// insertBoundary creates a boundary fed by src. Its Load is left without consumers.
func insertBoundary(g *autofuse.Graph, src autofuse.Port) (*Boundary, error) {
	srcNode := g.Node(src.Node)
	if srcNode == nil {
		return nil, autofuse.NullReferencef("boundary source %s not in graph %q", src, g.Name)
	}
	output := srcNode.Output(src.Index)
	if output == nil {
		return nil, autofuse.NullReferencef("node %q has no output #%d", srcNode.Name, src.Index)
	}
	bufferID := g.NewWorkspaceID()
	newNode := func(op optypes.OpType, numInputs int, suffix string) (*autofuse.Node, error) {
		name := srcNode.Name + "_" + op.SnakeName() + suffix
		node, err := g.AddNode(g.UniqueName(name), op, numInputs, *output)
		if err != nil {
			return nil, err
		}
		node.Sched = append(node.Sched, srcNode.Sched...)
		return node, nil
	}
	b := &Boundary{}
	var err error
	if b.Store, err = newNode(optypes.Store, 1, ""); err != nil {
		return nil, err
	}
	b.Store.Offset = expr.Const(0)
	if b.Writer, err = newNode(optypes.Workspace, 1, ""); err != nil {
		return nil, err
	}
	b.Writer.Index = bufferID
	if b.Reader, err = newNode(optypes.Workspace, 0, "_read"); err != nil {
		return nil, err
	}
	b.Reader.Index = bufferID
	if b.Load, err = newNode(optypes.Load, 1, ""); err != nil {
		return nil, err
	}
	b.Load.Offset = expr.Const(0)

	for _, edge := range [][2]autofuse.Port{
		{src, b.Store.In(0)},
		{b.Store.Out(0), b.Writer.In(0)},
		{b.Reader.Out(0), b.Load.In(0)},
	} {
		if err := g.Link(edge[0], edge[1]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// PartitionAfter materializes every output of src in a workspace: the consumers of src are
// moved to the Load side of a new boundary, one per output. The boundary nodes take a copy of
// the output attributes, so dtype and shape are preserved across it.
//
// It returns false if src has no consumers.
func PartitionAfter(g *autofuse.Graph, src *autofuse.Node) (bool, error) {
	var inserted bool
	for i := range src.NumOutputs() {
		consumers := src.Consumers(i)
		if len(consumers) == 0 {
			continue
		}
		b, err := insertBoundary(g, src.Out(i))
		if err != nil {
			return false, errors.WithMessagef(err, "partitioning after node %q", src.Name)
		}
		for _, consumer := range consumers {
			if err := g.Relink(b.Load.Out(0), consumer); err != nil {
				return false, err
			}
		}
		inserted = true
	}
	return inserted, nil
}

// PartitionByNode cuts the data edges from src to dst.
//
// Nodes cheap to duplicate are re-emitted for dst instead of materialized: a Load reading a Data
// or Workspace buffer is cloned with a copy of its buffer, and Scalar and buffer nodes are
// copied. Other sources get a Store -> Workspace ... Workspace -> Load boundary.
//
// It returns false if there is no edge from src to dst.
func PartitionByNode(g *autofuse.Graph, src, dst *autofuse.Node) (bool, error) {
	var inserted bool
	for i, in := range dst.Inputs() {
		if in.Node != src.ID {
			continue
		}
		replacement, err := duplicateSource(g, src, in.Index)
		if err != nil {
			return false, errors.WithMessagef(err, "partitioning edge %q -> %q", src.Name, dst.Name)
		}
		if err := g.Relink(replacement, dst.In(i)); err != nil {
			return false, err
		}
		inserted = true
	}
	return inserted, nil
}

// duplicateSource returns the port dst should read instead of src:port.
func duplicateSource(g *autofuse.Graph, src *autofuse.Node, port int) (autofuse.Port, error) {
	switch {
	case src.Op == optypes.Scalar || src.Op.IsBuffer():
		c, err := g.CopyNode(src, g.UniqueName(src.Name))
		if err != nil {
			return autofuse.NoPort, err
		}
		return c.Out(port), nil

	case src.Op == optypes.Load:
		buffer := g.Producer(src, 0)
		if buffer != nil && (buffer.Op == optypes.Data || buffer.Op == optypes.Workspace) {
			bufferCopy, err := g.CopyNode(buffer, g.UniqueName(buffer.Name))
			if err != nil {
				return autofuse.NoPort, err
			}
			loadCopy, err := g.CopyNode(src, g.UniqueName(src.Name))
			if err != nil {
				return autofuse.NoPort, err
			}
			if err := g.Link(bufferCopy.Out(src.Input(0).Index), loadCopy.In(0)); err != nil {
				return autofuse.NoPort, err
			}
			return loadCopy.Out(port), nil
		}
	}
	b, err := insertBoundary(g, src.Out(port))
	if err != nil {
		return autofuse.NoPort, err
	}
	return b.Load.Out(0), nil
}
