package analysis

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tliron/commonlog"
	"golang.org/x/exp/slices"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/model"
	"kanso-prover/internal/pipeline"
	"kanso-prover/internal/target"
)

var log = commonlog.GetLogger("kanso-prover.analysis")

// VerificationVariantsName is the pipeline name of the variant creation pass
const VerificationVariantsName = "verification_variants"

// VerificationVariants creates a verification variant for every function
// marked #[verify] and for everything those functions transitively call
type VerificationVariants struct {
	flavor string
}

// NewVerificationVariants creates the pass for the given flavor
func NewVerificationVariants(flavor string) *VerificationVariants {
	if flavor == "" {
		flavor = target.RegularFlavor
	}
	return &VerificationVariants{flavor: flavor}
}

func (v *VerificationVariants) Name() string { return VerificationVariantsName }

func (v *VerificationVariants) Description() string {
	return "Creates verification variants for verified functions and their callees"
}

// Process is never called for a single run processor
func (v *VerificationVariants) Process(ctx *pipeline.ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	return data
}

func (v *VerificationVariants) RunOnce(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) {
	variant := target.VerificationVariant(v.flavor)
	for _, id := range VerificationScope(env, targets) {
		if targets.HasData(id, variant) {
			continue
		}
		baseline, ok := targets.GetData(id, target.BaselineVariant)
		if !ok {
			continue
		}
		targets.InsertData(id, variant, baseline.Clone(variant))
		log.Debugf("created %s of %s", variant, env.Function(id).QualifiedName())
	}
}

// VerificationScope returns the functions marked #[verify] and all functions
// reachable from them in the call graph, ascending
func VerificationScope(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) []bytecode.FunID {
	graph := pipeline.NewCallGraph(env, targets.FunIDs())

	scope := mapset.NewThreadUnsafeSet[bytecode.FunID]()
	var work []bytecode.FunID
	for _, id := range graph.Nodes() {
		if env.Function(id).HasAttribute(model.AttrVerify) {
			scope.Add(id)
			work = append(work, id)
		}
	}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		for _, callee := range graph.Callees(id) {
			if scope.Add(callee) {
				work = append(work, callee)
			}
		}
	}

	ids := scope.ToSlice()
	slices.Sort(ids)
	return ids
}
