package analysis

import (
	"strings"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/dataflow"
	"kanso-prover/internal/model"
	"kanso-prover/internal/pipeline"
	"kanso-prover/internal/target"
)

// LiveVarName is the pipeline name of the live-variable analysis
const LiveVarName = "livevar"

// LiveVarAnnotation holds the temps live after every instruction
type LiveVarAnnotation struct {
	Live *dataflow.LiveVars
}

// LiveVarAnalysis annotates every function variant with live variables
type LiveVarAnalysis struct{}

// NewLiveVarAnalysis creates the pass
func NewLiveVarAnalysis() *LiveVarAnalysis {
	return &LiveVarAnalysis{}
}

func (a *LiveVarAnalysis) Name() string { return LiveVarName }

func (a *LiveVarAnalysis) Description() string {
	return "Annotates every instruction with the temps live after it"
}

func (a *LiveVarAnalysis) Process(ctx *pipeline.ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	if len(data.Code) == 0 {
		return data
	}
	live := dataflow.AnalyzeLiveVars(data.Code, data.LocalCount())
	data.Annotations.Set(&LiveVarAnnotation{Live: live}, true)
	return data
}

func (a *LiveVarAnalysis) Annotator(t *target.FunctionTarget) bytecode.Annotator {
	annotation, ok := target.Get[*LiveVarAnnotation](t.Data.Annotations)
	return func(offset bytecode.CodeOffset, instr bytecode.Bytecode) string {
		if !ok {
			return ""
		}
		temps := annotation.Live.LiveAfter(offset)
		if len(temps) == 0 {
			return ""
		}
		names := make([]string, len(temps))
		for i, temp := range temps {
			names[i] = t.Data.TempName(temp)
		}
		return "live: " + strings.Join(names, ", ")
	}
}
