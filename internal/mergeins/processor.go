package mergeins

import (
	"kanso-prover/internal/errors"
	"kanso-prover/internal/model"
	"kanso-prover/internal/pipeline"
	"kanso-prover/internal/structure"
	"kanso-prover/internal/target"
)

// ProcessorName is the pipeline name of the merge inserter
const ProcessorName = "conditional_merge_insertion"

// MergeSummary is the annotation left on a function variant that received merges
type MergeSummary struct {
	Merges []*MergeInfo
}

// Processor inserts conditional merges into every structurable function
type Processor struct {
	opts Options
}

// NewProcessor creates the merge insertion pass
func NewProcessor(opts Options) *Processor {
	return &Processor{opts: opts}
}

func (p *Processor) Name() string { return ProcessorName }

func (p *Processor) Description() string {
	return "Resolves slots assigned on several paths with merge calls where the paths reconverge"
}

func (p *Processor) Process(ctx *pipeline.ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	if len(data.Code) == 0 {
		return data
	}

	requirement, required := requirementOf(fun)
	// recursive groups are visited once per round; report once
	report := required && data.Variant == target.BaselineVariant && ctx.Round <= 1

	if data.HasMutableReferences() {
		if report {
			ctx.Env.Report(errors.MutableReferencesNotSupported(fun.QualifiedName(), requirement, fun.Loc))
		}
		return data
	}

	tree, reason := structure.ReconstructWithReason(data.Code)
	if reason != structure.NoFailure {
		log.Debugf("%s is not structurable: %s", fun.QualifiedName(), reason)
		if report {
			ctx.Env.Report(notStructurable(fun, requirement, reason))
		}
		return data
	}

	merges, err := Insert(data, tree, p.opts)
	if err != nil {
		log.Debugf("%s: %s", fun.QualifiedName(), err)
		if report {
			ctx.Env.Report(errors.ControlFlowNotSupported(fun.QualifiedName(), requirement, err.Error(), fun.Loc))
		}
		return data
	}
	if len(merges) > 0 {
		data.Annotations.Set(&MergeSummary{Merges: merges}, true)
		log.Debugf("%s: %d merges inserted into %s", fun.QualifiedName(), len(merges), data.Variant)
	}
	return data
}

func notStructurable(fun *model.FunctionEnv, requirement string, reason structure.FailureReason) errors.Diagnostic {
	if reason == structure.FailureLoop {
		return errors.LoopsNotSupported(fun.QualifiedName(), requirement, fun.Loc)
	}
	return errors.ControlFlowNotSupported(fun.QualifiedName(), requirement, reason.String(), fun.Loc)
}

// requirementOf names the attribute that obliges a function to be
// encodable without branches
func requirementOf(fun *model.FunctionEnv) (string, bool) {
	switch {
	case fun.HasAttribute(model.AttrPure):
		return string(model.AttrPure), true
	case fun.HasAttribute(model.AttrDeterministic):
		return string(model.AttrDeterministic), true
	}
	return "", false
}
