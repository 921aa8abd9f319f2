package pipeline

import (
	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/model"
	"kanso-prover/internal/target"
)

// FunctionTargetProcessor is a pass run over every function variant.
// Process receives exclusive ownership of data and returns the data to
// keep, or nil to drop the variant.
type FunctionTargetProcessor interface {
	Name() string
	Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData
}

// ProcessContext is what a processor sees besides the data it owns
type ProcessContext struct {
	Env     *model.GlobalEnv
	Targets *target.FunctionTargetsHolder
	// Group holds the members of the recursive group being iterated to a
	// fixpoint, nil for functions outside a cycle
	Group []bytecode.FunID
	// Round is the fixpoint round, starting at 1
	Round int
}

// InCycle reports whether the function is processed as part of a recursive group
func (c *ProcessContext) InCycle() bool {
	return len(c.Group) > 0
}

// Initializer is implemented by processors needing setup before the pass
type Initializer interface {
	Initialize(env *model.GlobalEnv, targets *target.FunctionTargetsHolder)
}

// Finalizer is implemented by processors aggregating global facts after
// every function went through the pass
type Finalizer interface {
	Finalize(env *model.GlobalEnv, targets *target.FunctionTargetsHolder)
}

// SingleRunProcessor is implemented by processors that need a global view.
// RunOnce replaces the per-function iteration.
type SingleRunProcessor interface {
	RunOnce(env *model.GlobalEnv, targets *target.FunctionTargetsHolder)
}

// Describer is implemented by processors with a human readable description
type Describer interface {
	Description() string
}

// AnnotationPrinter is implemented by processors whose annotations can be
// shown next to the code in dumps
type AnnotationPrinter interface {
	Annotator(t *target.FunctionTarget) bytecode.Annotator
}
