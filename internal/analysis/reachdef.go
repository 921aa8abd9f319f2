package analysis

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/dataflow"
	"kanso-prover/internal/errors"
	"kanso-prover/internal/model"
	"kanso-prover/internal/pipeline"
	"kanso-prover/internal/target"
)

// ReachingDefsName is the pipeline name of the reaching-definitions analysis
const ReachingDefsName = "reaching_definitions"

// ReachingDefsAnnotation holds the definitions reaching every instruction
type ReachingDefsAnnotation struct {
	Defs *dataflow.ReachingDefs
}

// ReachingDefsAnalysis annotates variants with reaching definitions and
// warns about locals read before any write reaches them
type ReachingDefsAnalysis struct{}

// NewReachingDefsAnalysis creates the pass
func NewReachingDefsAnalysis() *ReachingDefsAnalysis {
	return &ReachingDefsAnalysis{}
}

func (a *ReachingDefsAnalysis) Name() string { return ReachingDefsName }

func (a *ReachingDefsAnalysis) Description() string {
	return "Records the definitions reaching every read and warns about reads of unassigned locals"
}

func (a *ReachingDefsAnalysis) Process(ctx *pipeline.ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	if len(data.Code) == 0 {
		return data
	}
	defs := dataflow.AnalyzeReachingDefs(data.Code)
	data.Annotations.Set(&ReachingDefsAnnotation{Defs: defs}, true)

	if data.Variant != target.BaselineVariant || ctx.Round > 1 {
		return data
	}
	reported := mapset.NewThreadUnsafeSet[bytecode.TempIndex]()
	for pc, instr := range data.Code {
		offset := bytecode.CodeOffset(pc)
		if !defs.Reached(offset) {
			continue
		}
		for _, src := range instr.GetSources() {
			if int(src) < data.ParamCount || reported.Contains(src) {
				continue
			}
			if len(defs.DefsReaching(offset, src)) > 0 {
				continue
			}
			reported.Add(src)
			loc := fun.GetLoc(instr.GetAttrID())
			ctx.Env.Report(errors.UninitializedTemp(fun.QualifiedName(), data.TempName(src), loc))
		}
	}
	return data
}

// Annotator prints, for every temp an instruction reads, the offsets of the
// writes that can reach it
func (a *ReachingDefsAnalysis) Annotator(t *target.FunctionTarget) bytecode.Annotator {
	annotation, ok := target.Get[*ReachingDefsAnnotation](t.Data.Annotations)
	return func(offset bytecode.CodeOffset, instr bytecode.Bytecode) string {
		if !ok {
			return ""
		}
		var parts []string
		for _, src := range instr.GetSources() {
			if int(src) < t.Data.ParamCount {
				continue
			}
			defs := annotation.Defs.DefsReaching(offset, src)
			at := make([]string, len(defs))
			for i, d := range defs {
				at[i] = fmt.Sprint(d)
			}
			parts = append(parts, fmt.Sprintf("%s@%s", t.Data.TempName(src), strings.Join(at, "|")))
		}
		if len(parts) == 0 {
			return ""
		}
		return "defs: " + strings.Join(parts, ", ")
	}
}
