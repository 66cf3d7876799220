// Package types defines small enums shared by the schedule generators.
package types

// TemplateKind identifies the lowering strategy of a schedule task.
type TemplateKind int

//go:generate go tool enumer -type=TemplateKind -trimprefix=Template -output=gen_templatekind_enumer.go templates.go

const (
	// TemplateDefault is a graph scheduled as given, without any partitioning.
	TemplateDefault TemplateKind = iota

	// TemplateReduceCommon is the general reduction lowering: the graph is partitioned so that
	// each sub-partition holds at most one reduction.
	TemplateReduceCommon

	// TemplateReduceAllLoad keeps the whole reduction resident on one core, without partitioning.
	TemplateReduceAllLoad

	// TemplateReduceRCore splits each reduction into two phases over multiple cores.
	TemplateReduceRCore

	// TemplateSplitLoads lowers a Split into independent offset Loads.
	TemplateSplitLoads

	// TemplateSplitGroup lowers a Split after grouping its outputs.
	TemplateSplitGroup
)
