// Package split lowers multi-output Split nodes.
//
// A Split on the first (non-unit) dimension of its input is lowered into one offset Load per
// output, reading directly from the input buffer. A Split on an inner dimension yields two
// candidates: the graph as is, scored at run time by a generated function, and a grouped
// lowering into Loads.
package split

import (
	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/dump"
	"github.com/gomlx/autofuse/internal/utils"
	"github.com/gomlx/autofuse/partition"
	"github.com/gomlx/autofuse/types"
	"github.com/gomlx/autofuse/types/optypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options of the Generator.
type Options struct {
	// MaxDirectOutputs is the maximum number of outputs of a Split kept as is.
	MaxDirectOutputs int

	// Alignment in bytes of efficient memory accesses.
	Alignment int64

	// AlignedRatio is the fraction of the outputs elements that must start aligned for a Split to
	// be considered aligned.
	AlignedRatio float64

	// GroupBytes is the maximum size of a group of outputs, see SplitGroupPartitioner.
	GroupBytes int64

	// MaxGroups is the maximum number of groups, see SplitGroupPartitioner.
	MaxGroups int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		MaxDirectOutputs: 32,
		Alignment:        32,
		AlignedRatio:     0.9,
		GroupBytes:       16 * 1024,
		MaxGroups:        8,
	}
}

// Validate returns an ErrInvariantViolation if the options can't be used to lower a Split.
func (opts Options) Validate() error {
	if opts.Alignment <= 0 {
		return autofuse.Invariantf("split alignment must be positive, got %d", opts.Alignment)
	}
	if opts.MaxGroups < 1 {
		return autofuse.Invariantf("split max groups must be at least 1, got %d", opts.MaxGroups)
	}
	if opts.AlignedRatio < 0 || opts.AlignedRatio > 1 {
		return autofuse.Invariantf("split aligned ratio must be in [0, 1], got %g", opts.AlignedRatio)
	}
	return nil
}

// Generator creates the lowering candidates of a graph with a Split.
type Generator struct {
	opts Options
}

// New creates a Generator with the given options.
func New(opts Options) *Generator {
	return &Generator{opts: opts}
}

// FindSplit returns the first Split node of g, in graph order.
func FindSplit(g *autofuse.Graph) (*autofuse.Node, error) {
	splits := g.NodesOf(optypes.Split)
	if len(splits) == 0 {
		return nil, autofuse.Unsupportedf("graph %q has no Split node", g.Name)
	}
	if len(splits) > 1 {
		klog.V(1).Infof("graph %q has %d Split nodes, only %q is lowered", g.Name, len(splits), splits[0].Name)
	}
	return splits[0], nil
}

// Generate returns the candidate lowerings of the first Split of g. The input graph is not
// modified.
//
// A first-dimension split yields a single TemplateSplitLoads candidate. Otherwise, the
// candidates are the unmodified graph (TemplateDefault, only if the Split has at most
// Options.MaxDirectOutputs outputs) and the grouped lowering (TemplateSplitGroup). If there
// is more than one candidate the first one carries a scoring function, see
// ScoreFunctionGenerator.
func (gen *Generator) Generate(g *autofuse.Graph) ([]*autofuse.ScheduleTask, error) {
	if err := gen.opts.Validate(); err != nil {
		return nil, err
	}
	split, err := FindSplit(g)
	if err != nil {
		return nil, err
	}
	dim, firstDim, err := ResolveSplitDim(g, split)
	if err != nil {
		return nil, err
	}
	if firstDim {
		task, err := gen.loadsTask(g, split.ID, nil, types.TemplateSplitLoads)
		if err != nil {
			return nil, err
		}
		return []*autofuse.ScheduleTask{task}, nil
	}

	var tasks []*autofuse.ScheduleTask
	if split.NumOutputs() <= gen.opts.MaxDirectOutputs {
		direct := g.Clone()
		tasks = append(tasks, &autofuse.ScheduleTask{
			Graph:     direct,
			SubGraphs: []*autofuse.Graph{direct.Clone()},
			Kind:      types.TemplateDefault,
			Deps:      map[int][]int{},
		})
	} else {
		klog.V(1).Infof("graph %q: Split %q has %d outputs, more than %d, not kept as is",
			g.Name, split.Name, split.NumOutputs(), gen.opts.MaxDirectOutputs)
	}
	groups, err := SplitGroupPartitioner(g, split, dim, gen.opts)
	if err != nil {
		return nil, err
	}
	grouped, err := gen.loadsTask(g, split.ID, groups, types.TemplateSplitGroup)
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, grouped)

	if len(tasks) > 1 {
		scorer := ScoreFunctionGenerator{
			Name:         utils.NormalizeIdentifier("split_score_" + g.Name + "_" + split.Name),
			Alignment:    gen.opts.Alignment,
			AlignedRatio: gen.opts.AlignedRatio,
		}
		tasks[0].ScoreFunc, err = scorer.Generate(g, split, dim)
		if err != nil {
			return nil, errors.WithMessagef(err, "generating score function of Split %q", split.Name)
		}
	}
	for _, task := range tasks {
		dump.DumpGraph(task.Graph, g.Name+"_"+task.Kind.String())
	}
	return tasks, nil
}

// loadsTask lowers the Split in a copy of g, see ConvertSplitGroupsToLoads.
func (gen *Generator) loadsTask(g *autofuse.Graph, splitID autofuse.NodeID, groups []SplitGroup, kind types.TemplateKind) (*autofuse.ScheduleTask, error) {
	work := g.Clone()
	split := work.Node(splitID)
	if err := ConvertSplitGroupsToLoads(work, split, groups); err != nil {
		return nil, err
	}
	if err := work.TopoSort(); err != nil {
		return nil, err
	}
	subs, err := partition.PartitionByConnectivity(work, nil)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("graph %q: %s template with %d sub-partitions", g.Name, kind, len(subs))
	return &autofuse.ScheduleTask{
		Graph:     work,
		SubGraphs: subs,
		Kind:      kind,
		Deps:      autofuse.WorkspaceDeps(subs),
	}, nil
}
