package analysis

import (
	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/errors"
	"kanso-prover/internal/model"
	"kanso-prover/internal/pipeline"
	"kanso-prover/internal/source"
	"kanso-prover/internal/target"
)

// NoAbortName is the pipeline name of the no-abort analysis
const NoAbortName = "noabort"

// NoAbortInfo tells whether a function variant can abort. AbortAt is the
// first offset that may abort, or -1.
type NoAbortInfo struct {
	NoAbort bool
	AbortAt bytecode.CodeOffset
}

// NoAbortSummary is the global result of the analysis, stored as an
// extension of the GlobalEnv
type NoAbortSummary struct {
	MayAbort map[bytecode.FunID]bool
}

// Aborts reports whether the baseline of a function may abort. Functions
// without a result are assumed to abort.
func (s *NoAbortSummary) Aborts(id bytecode.FunID) bool {
	mayAbort, ok := s.MayAbort[id]
	return !ok || mayAbort
}

// NoAbortAnalysis computes NoAbortInfo. Functions start out as not
// aborting and can only be demoted, so recursive groups converge.
type NoAbortAnalysis struct{}

// NewNoAbortAnalysis creates the pass
func NewNoAbortAnalysis() *NoAbortAnalysis {
	return &NoAbortAnalysis{}
}

func (a *NoAbortAnalysis) Name() string { return NoAbortName }

func (a *NoAbortAnalysis) Description() string {
	return "Determines which functions can never abort"
}

func (a *NoAbortAnalysis) Process(ctx *pipeline.ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	info := &NoAbortInfo{NoAbort: true, AbortAt: -1}
	if fun.IsOpaque() {
		// the declaration is trusted for functions whose body is not analyzed
		info.NoAbort = fun.HasAttribute(model.AttrNoAbort)
	} else {
		for pc, instr := range data.Code {
			if mayAbort(ctx, fun.ID, data.Variant, instr) {
				info = &NoAbortInfo{NoAbort: false, AbortAt: bytecode.CodeOffset(pc)}
				break
			}
		}
	}

	if prev, ok := target.Get[*NoAbortInfo](data.Annotations); ok && !prev.NoAbort {
		info = prev
	}
	data.Annotations.SetWithFixpointCheck(info)
	return data
}

func mayAbort(ctx *pipeline.ProcessContext, caller bytecode.FunID, variant target.FunctionVariant, instr bytecode.Bytecode) bool {
	switch i := instr.(type) {
	case *bytecode.AbortTerminator:
		return true
	case *bytecode.CallInstruction:
		if i.Abort != nil {
			return true
		}
		if !i.Op.IsFunctionCall() {
			return i.Op.CanAbort()
		}
		if i.Op.Callee == caller {
			return false
		}
		return calleeMayAbort(ctx, variant, i.Op.Callee)
	}
	return false
}

// calleeMayAbort reads the callee's current result. A callee without a
// result yet belongs to the recursive group being iterated and is
// optimistically assumed not to abort.
func calleeMayAbort(ctx *pipeline.ProcessContext, variant target.FunctionVariant, callee bytecode.FunID) bool {
	data, ok := ctx.Targets.GetData(callee, variant)
	if !ok {
		data, ok = ctx.Targets.GetData(callee, target.BaselineVariant)
	}
	if !ok {
		return true
	}
	info, ok := target.Get[*NoAbortInfo](data.Annotations)
	return ok && !info.NoAbort
}

// Finalize stores the global summary and reports #[no_abort] functions
// that may abort
func (a *NoAbortAnalysis) Finalize(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) {
	summary := &NoAbortSummary{MayAbort: make(map[bytecode.FunID]bool)}
	for _, id := range targets.FunIDs() {
		data, ok := targets.GetData(id, target.BaselineVariant)
		if !ok {
			continue
		}
		info, ok := target.Get[*NoAbortInfo](data.Annotations)
		if !ok {
			continue
		}
		summary.MayAbort[id] = !info.NoAbort

		fun := env.Function(id)
		if !info.NoAbort && fun.HasAttribute(model.AttrNoAbort) {
			env.Report(errors.MayAbort(fun.QualifiedName(), abortLoc(fun, data, info)))
		}
	}
	env.SetExtension(summary)
}

func abortLoc(fun *model.FunctionEnv, data *target.FunctionData, info *NoAbortInfo) source.Loc {
	if info.AbortAt >= 0 && int(info.AbortAt) < len(data.Code) {
		if loc, ok := data.Locations[data.Code[info.AbortAt].GetAttrID()]; ok && loc.IsKnown() {
			return loc
		}
	}
	return fun.Loc
}

func (a *NoAbortAnalysis) Annotator(t *target.FunctionTarget) bytecode.Annotator {
	info, ok := target.Get[*NoAbortInfo](t.Data.Annotations)
	return func(offset bytecode.CodeOffset, instr bytecode.Bytecode) string {
		if !ok || info.NoAbort || offset != info.AbortAt {
			return ""
		}
		return "may abort"
	}
}
