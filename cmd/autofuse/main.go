// autofuse reads a graph in YAML (see package serial), runs one of the schedule passes on it and
// writes the result, also in YAML.
//
// Usage:
//
//	autofuse [flags] <unfold|reduce|split> <graph.yaml>
//
// The unfold pass writes the flattened graph, the reduce and split passes write the list of
// candidate schedule tasks.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/autofuse"
	"github.com/gomlx/autofuse/dump"
	"github.com/gomlx/autofuse/reduce"
	"github.com/gomlx/autofuse/serial"
	"github.com/gomlx/autofuse/split"
	"github.com/gomlx/autofuse/unfold"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	reduceDefaults = reduce.DefaultOptions()
	splitDefaults  = split.DefaultOptions()

	flagOutput  = flag.String("output", "", "File to write the result to. If empty, it's written to the standard output.")
	flagDumpDir = flag.String("dump_dir", "", "If set, intermediate graphs are dumped into this directory.")

	flagPostFanOut = flag.Int("reduce_post_fanout", reduceDefaults.PostFanOutThreshold,
		"Maximum number of nodes after a reduction kept in its sub-partition.")
	flagMaxPaths = flag.Int("reduce_max_paths", reduceDefaults.MaxPaths,
		"Maximum number of paths enumerated when looking for norm loops.")
	flagAllLoadMaxRank = flag.Int("reduce_all_load_max_rank", reduceDefaults.AllLoadMaxRank,
		"Maximum reduction output rank for the all-load template.")

	flagMaxDirectOutputs = flag.Int("split_max_direct_outputs", splitDefaults.MaxDirectOutputs,
		"Maximum number of outputs of a Split kept as is.")
	flagAlignment = flag.Int64("split_alignment", splitDefaults.Alignment,
		"Alignment in bytes of efficient memory accesses.")
	flagAlignedRatio = flag.Float64("split_aligned_ratio", splitDefaults.AlignedRatio,
		"Fraction of the Split output elements that must be aligned for the Split to be considered aligned.")
	flagGroupBytes = flag.Int64("split_group_bytes", splitDefaults.GroupBytes,
		"Maximum size in bytes of a group of Split outputs.")
	flagMaxGroups = flag.Int("split_max_groups", splitDefaults.MaxGroups,
		"Maximum number of groups of Split outputs.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <unfold|reduce|split> <graph.yaml>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	if *flagDumpDir != "" {
		sink, err := dump.NewDirSink(*flagDumpDir)
		if err != nil {
			klog.Fatalf("%+v", err)
		}
		dump.SetSink(sink)
	}
	if err := run(flag.Arg(0), flag.Arg(1)); err != nil {
		klog.Fatalf("autofuse %s: %+v", flag.Arg(0), err)
	}
}

func run(pass, inputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return errors.Wrapf(err, "reading %q", inputPath)
	}
	g, err := serial.Unmarshal(data)
	if err != nil {
		return errors.WithMessagef(err, "reading %q", inputPath)
	}
	dump.DumpComputeGraph(g, "input_"+g.Name)

	var result []byte
	switch pass {
	case "unfold":
		var flat *autofuse.Graph
		if flat, err = unfold.UnfoldFusedGraph(g); err != nil {
			return err
		}
		result, err = serial.Marshal(flat)
	case "reduce":
		p := reduce.New(reduce.Options{
			PostFanOutThreshold: *flagPostFanOut,
			MaxPaths:            *flagMaxPaths,
			AllLoadMaxRank:      *flagAllLoadMaxRank,
		})
		var tasks []*autofuse.ScheduleTask
		if tasks, err = p.Generate(g); err != nil {
			return err
		}
		result, err = serial.MarshalTasks(tasks)
	case "split":
		gen := split.New(split.Options{
			MaxDirectOutputs: *flagMaxDirectOutputs,
			Alignment:        *flagAlignment,
			AlignedRatio:     *flagAlignedRatio,
			GroupBytes:       *flagGroupBytes,
			MaxGroups:        *flagMaxGroups,
		})
		var tasks []*autofuse.ScheduleTask
		if tasks, err = gen.Generate(g); err != nil {
			return err
		}
		result, err = serial.MarshalTasks(tasks)
	default:
		return errors.Errorf("unknown pass %q, expected unfold, reduce or split", pass)
	}
	if err != nil {
		return err
	}

	if *flagOutput == "" {
		_, err = os.Stdout.Write(result)
		return errors.Wrap(err, "writing result")
	}
	return errors.Wrapf(os.WriteFile(*flagOutput, result, 0o644), "writing %q", *flagOutput)
}
