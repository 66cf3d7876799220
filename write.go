package autofuse

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/types/optypes"
)

// IndentationStep used when writing nested graphs.
const IndentationStep = "  "

// Write writes a human-readable rendering of the graph, meant for debugging.
//
// Nested graphs of Backend nodes are written inline, indented.
func (g *Graph) Write(writer io.Writer, indentation string) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}

	w("%sgraph @%s {\n", indentation, NormalizeIdentifier(g.Name))
	nextIndent := indentation + IndentationStep
	if len(g.Axes) > 0 {
		axes := make([]string, len(g.Axes))
		for i, axis := range g.Axes {
			axes[i] = axis.String()
		}
		w("%saxes: %s\n", nextIndent, strings.Join(axes, ", "))
	}
	for _, node := range g.Nodes() {
		w("%s%s\n", nextIndent, g.nodeLine(node))
		if node.Sub != nil && err == nil {
			err = node.Sub.Write(writer, nextIndent+IndentationStep)
		}
	}
	w("%s}\n", indentation)
	return err
}

// nodeLine renders one node, with its inputs, payload and outputs.
func (g *Graph) nodeLine(node *Node) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%%%s = %s(", node.Name, node.Op)
	for i, in := range node.inputs {
		if i > 0 {
			sb.WriteString(", ")
		}
		src := g.Node(in.Node)
		if src == nil {
			sb.WriteString("_")
			continue
		}
		fmt.Fprintf(&sb, "%%%s:%d", src.Name, in.Index)
	}
	sb.WriteString(")")

	var attrs []string
	switch node.Op {
	case optypes.Data, optypes.Output, optypes.NetOutput, optypes.Workspace:
		attrs = append(attrs, fmt.Sprintf("index=%d", node.Index))
	case optypes.Load, optypes.Store:
		attrs = append(attrs, fmt.Sprintf("offset=%s", node.Offset))
	case optypes.Concat:
		attrs = append(attrs, fmt.Sprintf("concat_dim=%d", node.ConcatDim))
	case optypes.Scalar:
		if len(node.Outputs) > 0 {
			attrs = append(attrs, "value="+utils.FormatScalar(node.Outputs[0].DType, node.Value))
		}
	}
	if len(node.Sched) > 0 {
		ids := make([]string, len(node.Sched))
		for i, id := range node.Sched {
			ids[i] = fmt.Sprintf("z%d", id)
		}
		attrs = append(attrs, "sched=["+strings.Join(ids, ",")+"]")
	}
	if len(node.ctrlIn) > 0 {
		names := make([]string, len(node.ctrlIn))
		for i, id := range node.ctrlIn {
			names[i] = "%" + g.nodes[id].Name
		}
		attrs = append(attrs, "after=["+strings.Join(names, ",")+"]")
	}
	if len(attrs) > 0 {
		sb.WriteString("{" + strings.Join(attrs, ", ") + "}")
	}
	if len(node.Outputs) > 0 {
		outputs := make([]string, len(node.Outputs))
		for i, output := range node.Outputs {
			outputs[i] = output.String()
		}
		sb.WriteString(" -> " + strings.Join(outputs, ", "))
	}
	return sb.String()
}

// String implements fmt.Stringer, see Graph.Write.
func (g *Graph) String() string {
	var buf bytes.Buffer
	if err := g.Write(&buf, ""); err != nil {
		return fmt.Sprintf("graph %q: failed to write: %v", g.Name, err)
	}
	return buf.String()
}
