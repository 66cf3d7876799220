// Package reduce generates the schedule templates of graphs with reductions.
//
// Three kinds of templates are generated, see types.TemplateKind:
//
//   - Common: the graph is cut by Store -> Workspace ... Workspace -> Load boundaries so every
//     sub-partition holds at most one reduction.
//   - AllLoad: the whole reduction stays resident, no partitioning. Only for reductions that
//     keep their first dimension and have a small output rank.
//   - RCore: derived from a Common template, each reduction is split in two phases running on
//     different cores, with a workspace hand-off in between.
package reduce

import (
	"fmt"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/dump"
	"github.com/gomlx/autofuse/types"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options of the Partitioner.
type Options struct {
	// PostFanOutThreshold is the maximum number of nodes computed after a reduction in the same
	// sub-partition. Above it the reduction output is materialized in a workspace.
	PostFanOutThreshold int

	// MaxPaths bounds the enumeration of paths when looking for norm loops.
	MaxPaths int

	// AllLoadMaxRank is the maximum output rank supported by the AllLoad template.
	AllLoadMaxRank int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		PostFanOutThreshold: 4,
		MaxPaths:            1024,
		AllLoadMaxRank:      3,
	}
}

// Partitioner generates the reduction templates of a graph.
type Partitioner struct {
	opts Options
}

// New creates a Partitioner with the given options.
func New(opts Options) *Partitioner {
	return &Partitioner{opts: opts}
}

// Generate returns all the candidate templates for g: the Common one, the AllLoad one if
// supported, and the RCore ones derived from the Common template.
//
// The candidates don't share any state: each owns its graphs. The input graph is not modified.
func (p *Partitioner) Generate(g *autofuse.Graph) ([]*autofuse.ScheduleTask, error) {
	if len(g.Reductions()) == 0 {
		return nil, autofuse.Unsupportedf("graph %q has no reduction", g.Name)
	}
	common, err := p.GenerateGeneralCase(g)
	if err != nil {
		return nil, err
	}
	tasks := []*autofuse.ScheduleTask{common}

	allLoad, err := p.GenerateAllLoadTask(g)
	switch {
	case err == nil:
		tasks = append(tasks, allLoad)
	case errors.Is(err, autofuse.ErrUnsupportedPattern):
		klog.V(1).Infof("graph %q: skipping %s template: %v", g.Name, types.TemplateReduceAllLoad, err)
	default:
		return nil, err
	}

	rcore, err := p.GenerateRCoreTasks([]*autofuse.ScheduleTask{common})
	if err != nil {
		return nil, err
	}
	tasks = append(tasks, rcore...)
	klog.V(1).Infof("graph %q: %d reduction templates generated", g.Name, len(tasks))
	for i, task := range tasks {
		for j, sub := range task.SubGraphs {
			dump.DumpGraph(sub, fmt.Sprintf("%s_%s_%d_%d", g.Name, task.Kind, i, j))
		}
	}
	return tasks, nil
}
