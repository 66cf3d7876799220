// Package serial converts graphs and schedule tasks to and from YAML documents, the form used to
// hand them across pass boundaries.
//
// Nodes are listed in graph order, edges refer to the producer by name ("name:output"), and
// nested graphs of Backend nodes are written inline.
package serial

import (
	"strconv"
	"strings"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/types"
	"github.com/gomlx/autofuse/types/expr"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type graphDoc struct {
	Name  string    `yaml:"name"`
	Axes  []axisDoc `yaml:"axes,omitempty"`
	Nodes []nodeDoc `yaml:"nodes"`
}

type axisDoc struct {
	ID   int64  `yaml:"id"`
	Name string `yaml:"name"`
	Size string `yaml:"size"`
}

type nodeDoc struct {
	Name      string      `yaml:"name"`
	Op        string      `yaml:"op"`
	Inputs    []string    `yaml:"inputs,omitempty"`
	Control   []string    `yaml:"control,omitempty"`
	Sched     []int64     `yaml:"sched,flow,omitempty"`
	Outputs   []tensorDoc `yaml:"outputs,omitempty"`
	Index     int         `yaml:"index,omitempty"`
	Offset    string      `yaml:"offset,omitempty"`
	ConcatDim int         `yaml:"concat_dim,omitempty"`
	Value     float64     `yaml:"value,omitempty"`
	Sub       *graphDoc   `yaml:"sub,omitempty"`
}

type tensorDoc struct {
	DType   string   `yaml:"dtype"`
	Axis    []int64  `yaml:"axis,flow"`
	Repeats []string `yaml:"repeats,flow"`
	Strides []string `yaml:"strides,flow"`
}

type taskDoc struct {
	Kind      string        `yaml:"kind"`
	ScoreFunc string        `yaml:"score_func,omitempty"`
	Deps      map[int][]int `yaml:"deps,omitempty"`
	Graph     *graphDoc     `yaml:"graph"`
	SubGraphs []*graphDoc   `yaml:"sub_graphs,omitempty"`
}

// Marshal returns the YAML document of the graph.
func Marshal(g *autofuse.Graph) ([]byte, error) {
	data, err := yaml.Marshal(toDoc(g))
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling graph %q", g.Name)
	}
	return data, nil
}

// Unmarshal parses a graph from its YAML document.
func Unmarshal(data []byte) (*autofuse.Graph, error) {
	var doc graphDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parsing graph YAML")
	}
	return fromDoc(&doc)
}

// MarshalTasks returns the YAML document (a list) of the schedule tasks.
func MarshalTasks(tasks []*autofuse.ScheduleTask) ([]byte, error) {
	docs := make([]taskDoc, len(tasks))
	for i, task := range tasks {
		if task.Graph == nil {
			return nil, autofuse.NullReferencef("task #%d (%s) has no graph", i, task.Kind)
		}
		docs[i] = taskDoc{
			Kind:      task.Kind.String(),
			ScoreFunc: task.ScoreFunc,
			Deps:      task.Deps,
			Graph:     toDoc(task.Graph),
		}
		for _, sub := range task.SubGraphs {
			docs[i].SubGraphs = append(docs[i].SubGraphs, toDoc(sub))
		}
	}
	data, err := yaml.Marshal(docs)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling %d schedule tasks", len(tasks))
	}
	return data, nil
}

// UnmarshalTasks parses schedule tasks written by MarshalTasks.
func UnmarshalTasks(data []byte) ([]*autofuse.ScheduleTask, error) {
	var docs []taskDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, errors.Wrap(err, "parsing schedule tasks YAML")
	}
	tasks := make([]*autofuse.ScheduleTask, len(docs))
	for i, doc := range docs {
		kind, err := types.TemplateKindString(doc.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "task #%d", i)
		}
		if doc.Graph == nil {
			return nil, autofuse.NullReferencef("task #%d has no graph", i)
		}
		task := &autofuse.ScheduleTask{
			Kind:      kind,
			ScoreFunc: doc.ScoreFunc,
			Deps:      doc.Deps,
		}
		if task.Deps == nil {
			task.Deps = make(map[int][]int)
		}
		if task.Graph, err = fromDoc(doc.Graph); err != nil {
			return nil, errors.WithMessagef(err, "task #%d", i)
		}
		for j, subDoc := range doc.SubGraphs {
			sub, err := fromDoc(subDoc)
			if err != nil {
				return nil, errors.WithMessagef(err, "sub-graph #%d of task #%d", j, i)
			}
			task.SubGraphs = append(task.SubGraphs, sub)
		}
		tasks[i] = task
	}
	return tasks, nil
}

func exprStrings(exprs []expr.Expr) []string {
	result := make([]string, len(exprs))
	for i, e := range exprs {
		result[i] = e.String()
	}
	return result
}

func toDoc(g *autofuse.Graph) *graphDoc {
	doc := &graphDoc{Name: g.Name}
	for _, axis := range g.Axes {
		doc.Axes = append(doc.Axes, axisDoc{ID: int64(axis.ID), Name: axis.Name, Size: axis.Size.String()})
	}
	for _, node := range g.Nodes() {
		nd := nodeDoc{
			Name:      node.Name,
			Op:        node.Op.String(),
			Index:     node.Index,
			ConcatDim: node.ConcatDim,
			Value:     node.Value,
		}
		for _, in := range node.Inputs() {
			if !in.Valid() {
				nd.Inputs = append(nd.Inputs, "")
				continue
			}
			nd.Inputs = append(nd.Inputs, g.Node(in.Node).Name+":"+strconv.Itoa(in.Index))
		}
		for _, id := range node.ControlInputs() {
			nd.Control = append(nd.Control, g.Node(id).Name)
		}
		for _, id := range node.Sched {
			nd.Sched = append(nd.Sched, int64(id))
		}
		for _, t := range node.Outputs {
			td := tensorDoc{
				DType:   t.DType.String(),
				Repeats: exprStrings(t.Repeats),
				Strides: exprStrings(t.Strides),
			}
			for _, id := range t.Axis {
				td.Axis = append(td.Axis, int64(id))
			}
			nd.Outputs = append(nd.Outputs, td)
		}
		if node.Op == optypes.Load || node.Op == optypes.Store {
			nd.Offset = node.Offset.String()
		}
		if node.Sub != nil {
			nd.Sub = toDoc(node.Sub)
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	return doc
}

func parseExprs(texts []string) ([]expr.Expr, error) {
	result := make([]expr.Expr, len(texts))
	for i, text := range texts {
		e, err := expr.Parse(text)
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func parseTensor(td tensorDoc) (autofuse.TensorAttr, error) {
	var t autofuse.TensorAttr
	var err error
	if t.DType, err = dtypes.DTypeString(td.DType); err != nil {
		return t, errors.Wrapf(err, "unknown dtype %q", td.DType)
	}
	for _, id := range td.Axis {
		t.Axis = append(t.Axis, autofuse.AxisID(id))
	}
	if t.Repeats, err = parseExprs(td.Repeats); err != nil {
		return t, errors.WithMessage(err, "repeats")
	}
	if t.Strides, err = parseExprs(td.Strides); err != nil {
		return t, errors.WithMessage(err, "strides")
	}
	return t, nil
}

// parsePort parses "name:output".
func parsePort(g *autofuse.Graph, text string) (autofuse.Port, error) {
	sep := strings.LastIndex(text, ":")
	if sep < 0 {
		return autofuse.NoPort, errors.Errorf("invalid edge %q, expected \"<node>:<output>\"", text)
	}
	node := g.NodeByName(text[:sep])
	if node == nil {
		return autofuse.NoPort, autofuse.NullReferencef("edge %q refers to an unknown node", text)
	}
	index, err := strconv.Atoi(text[sep+1:])
	if err != nil {
		return autofuse.NoPort, errors.Wrapf(err, "invalid output index in edge %q", text)
	}
	return node.Out(index), nil
}

func fromDoc(doc *graphDoc) (*autofuse.Graph, error) {
	g := autofuse.NewGraph(doc.Name)
	axes := make([]autofuse.Axis, len(doc.Axes))
	for i, ad := range doc.Axes {
		size, err := expr.Parse(ad.Size)
		if err != nil {
			return nil, errors.WithMessagef(err, "size of axis %q in graph %q", ad.Name, doc.Name)
		}
		axes[i] = autofuse.Axis{ID: autofuse.AxisID(ad.ID), Name: ad.Name, Size: size}
	}
	g.SetAxes(axes)

	for _, nd := range doc.Nodes {
		op, err := optypes.OpTypeString(nd.Op)
		if err != nil {
			return nil, errors.Wrapf(err, "node %q in graph %q", nd.Name, doc.Name)
		}
		outputs := make([]autofuse.TensorAttr, len(nd.Outputs))
		for i, td := range nd.Outputs {
			if outputs[i], err = parseTensor(td); err != nil {
				return nil, errors.WithMessagef(err, "output #%d of node %q in graph %q", i, nd.Name, doc.Name)
			}
		}
		node, err := g.AddNode(nd.Name, op, len(nd.Inputs), outputs...)
		if err != nil {
			return nil, err
		}
		for _, id := range nd.Sched {
			node.Sched = append(node.Sched, autofuse.AxisID(id))
		}
		node.Index = nd.Index
		node.ConcatDim = nd.ConcatDim
		node.Value = nd.Value
		if nd.Offset != "" {
			if node.Offset, err = expr.Parse(nd.Offset); err != nil {
				return nil, errors.WithMessagef(err, "offset of node %q in graph %q", nd.Name, doc.Name)
			}
		}
		if nd.Sub != nil {
			if node.Sub, err = fromDoc(nd.Sub); err != nil {
				return nil, errors.WithMessagef(err, "nested graph of node %q", nd.Name)
			}
		}
	}

	// Edges, once every node exists.
	for _, nd := range doc.Nodes {
		node := g.NodeByName(nd.Name)
		for i, text := range nd.Inputs {
			if text == "" {
				continue
			}
			src, err := parsePort(g, text)
			if err != nil {
				return nil, errors.WithMessagef(err, "input #%d of node %q in graph %q", i, nd.Name, doc.Name)
			}
			if err := g.Link(src, node.In(i)); err != nil {
				return nil, err
			}
		}
		for _, name := range nd.Control {
			from := g.NodeByName(name)
			if from == nil {
				return nil, autofuse.NullReferencef("control input %q of node %q not found in graph %q", name, nd.Name, doc.Name)
			}
			if err := g.LinkControl(from.ID, node.ID); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "graph %q read from YAML", doc.Name)
	}
	return g, nil
}
