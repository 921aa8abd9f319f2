package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanso-prover/internal/bytecode"
	kerrors "kanso-prover/internal/errors"
	"kanso-prover/internal/model"
	"kanso-prover/internal/source"
	"kanso-prover/internal/target"
)

// buildEnv creates one function per name; calls maps a caller to its callees
func buildEnv(t *testing.T, names []string, calls map[string][]string) (*model.GlobalEnv, *target.FunctionTargetsHolder) {
	t.Helper()
	env := model.NewGlobalEnv()
	for _, name := range names {
		env.AddFunction(model.NewFunctionEnv("M", name, source.NoLoc))
	}
	for _, f := range env.Functions() {
		for _, callee := range calls[f.Name] {
			g, ok := env.FindFunction("M::" + callee)
			require.True(t, ok)
			f.Code = append(f.Code, &bytecode.CallInstruction{Op: bytecode.FunctionOp(g.ID, g.QualifiedName())})
		}
		f.Code = append(f.Code, &bytecode.ReturnTerminator{})
	}

	targets := target.NewFunctionTargetsHolder()
	for _, f := range env.Functions() {
		targets.AddTarget(f)
	}
	return env, targets
}

// recorder records the order in which functions are visited
type recorder struct {
	name    string
	visited []string
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	r.visited = append(r.visited, fun.Name)
	return data
}

func TestPipelineOrdering(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B", "C"}, map[string][]string{
		"A": {"B"},
		"B": {"C"},
	})

	rec := &recorder{name: "record"}
	require.NoError(t, New(rec).Run(env, targets))
	assert.Equal(t, []string{"C", "B", "A"}, rec.visited)
}

func TestPipelineOrderingRecomputedPerPass(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B", "C"}, map[string][]string{
		"A": {"C"},
		"C": {"B"},
	})

	first := &recorder{name: "first"}
	second := &recorder{name: "second"}
	require.NoError(t, New(first, second).Run(env, targets))
	assert.Equal(t, []string{"B", "C", "A"}, first.visited)
	assert.Equal(t, []string{"B", "C", "A"}, second.visited)
}

func TestSpecFunctionEdges(t *testing.T) {
	env, targets := buildEnv(t, []string{"f", "g", "g_spec"}, map[string][]string{
		"f": {"g"},
	})
	g, _ := env.FindFunction("M::g")
	spec, _ := env.FindFunction("M::g_spec")
	g.SetSpecFunction(spec.ID)

	graph := NewCallGraph(env, targets.FunIDs())
	f, _ := env.FindFunction("M::f")
	assert.Equal(t, []bytecode.FunID{g.ID, spec.ID}, graph.Callees(f.ID))

	// g itself is not an edge to its own spec
	assert.Empty(t, graph.Callees(g.ID))
}

func TestSCCs(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B", "C", "D", "E"}, map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"A", "D"},
		"E": {"E"},
	})

	graph := NewCallGraph(env, targets.FunIDs())
	sccs := graph.SCCs()

	ids := func(names ...string) []bytecode.FunID {
		var out []bytecode.FunID
		for _, n := range names {
			f, _ := env.FindFunction("M::" + n)
			out = append(out, f.ID)
		}
		return out
	}

	require.Len(t, sccs, 3)
	pos := make(map[bytecode.FunID]int)
	for i, scc := range sccs {
		for _, id := range scc {
			pos[id] = i
		}
	}
	assert.Contains(t, sccs, ids("A", "B", "C"))
	assert.Contains(t, sccs, ids("D"))
	assert.Contains(t, sccs, ids("E"))
	assert.Less(t, pos[ids("D")[0]], pos[ids("A")[0]], "callee D must come before its callers")
	assert.True(t, graph.IsRecursive(ids("E")[0]))
	assert.False(t, graph.IsRecursive(ids("A")[0]))
}

// okInfo is a boolean annotation that can only go from true to false
type okInfo struct {
	OK bool
}

// okPropagation sets a function's flag to false if it is named "leaf_bad"
// or calls a function whose flag is false
type okPropagation struct {
	rounds  map[int]bool // rounds in which some annotation changed
	maxSeen int
}

func (p *okPropagation) Name() string { return "ok_propagation" }

func (p *okPropagation) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	ok := fun.Name != "leaf_bad"
	for _, callee := range fun.CalledFunctions() {
		calleeData, found := ctx.Targets.GetData(callee, target.BaselineVariant)
		if !found {
			continue
		}
		if info, has := target.Get[*okInfo](calleeData.Annotations); has && !info.OK {
			ok = false
		}
	}
	if prev, has := target.Get[*okInfo](data.Annotations); has {
		if prev.OK != ok {
			p.rounds[ctx.Round] = true
		}
		ok = ok && prev.OK
	}
	data.Annotations.SetWithFixpointCheck(&okInfo{OK: ok})
	if ctx.Round > p.maxSeen {
		p.maxSeen = ctx.Round
	}
	return data
}

func TestFixpointConvergence(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B", "C", "leaf_bad"}, map[string][]string{
		"A": {"B"},
		"B": {"C"},
		"C": {"A", "leaf_bad"},
	})

	pass := &okPropagation{rounds: make(map[int]bool)}
	require.NoError(t, New(pass).Run(env, targets))

	for _, name := range []string{"A", "B", "C", "leaf_bad"} {
		f, _ := env.FindFunction("M::" + name)
		data, ok := targets.GetData(f.ID, target.BaselineVariant)
		require.True(t, ok)
		info, ok := target.Get[*okInfo](data.Annotations)
		require.True(t, ok)
		assert.False(t, info.OK, "%s should not be ok", name)
	}

	// the group has 3 members: values stop changing within 3 rounds and
	// one more round confirms the fixpoint
	for round := range pass.rounds {
		assert.LessOrEqual(t, round, 3)
	}
	assert.LessOrEqual(t, pass.maxSeen, 4)
	assert.False(t, env.HasErrors())
}

// flipper never reaches a fixpoint
type flipper struct{}

func (flipper) Name() string { return "flipper" }

func (flipper) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	data.Annotations.SetWithFixpointCheck(&okInfo{OK: ctx.Round%2 == 0})
	return data
}

func TestFixpointRoundLimit(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B"}, map[string][]string{
		"A": {"B"},
		"B": {"A"},
	})

	p := New(flipper{})
	p.SetMaxFixpointRounds(5)
	err := p.Run(env, targets)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, "flipper", abort.Pass)
	require.Equal(t, 1, env.Diagnostics.Len())
	diag := env.Diagnostics.All()[0]
	assert.Equal(t, kerrors.Bug, diag.Level)
	assert.Equal(t, kerrors.ErrorFixpointNotReached, diag.Code)
	assert.Contains(t, diag.Message, "after 5 rounds")
}

// unsettled leaves an annotation without a fixpoint on every function
// once it is done
type unsettled struct{}

func (unsettled) Name() string { return "unsettled" }

func (unsettled) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	return data
}

func (unsettled) Finalize(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) {
	for _, id := range targets.FunIDs() {
		for _, variant := range targets.Variants(id) {
			data, _ := targets.GetData(id, variant)
			data.Annotations.Set(&okInfo{OK: true}, false)
		}
	}
}

// roundCounter touches no annotation and records the rounds it ran
type roundCounter struct {
	maxSeen int
}

func (c *roundCounter) Name() string { return "round_counter" }

func (c *roundCounter) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	if ctx.Round > c.maxSeen {
		c.maxSeen = ctx.Round
	}
	return data
}

func TestFixpointIgnoresEarlierPasses(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B"}, map[string][]string{
		"A": {"B"},
		"B": {"A"},
	})

	counter := &roundCounter{}
	p := New(unsettled{}, counter)
	p.SetMaxFixpointRounds(5)
	require.NoError(t, p.Run(env, targets))

	assert.Equal(t, 1, counter.maxSeen)
	assert.False(t, env.HasErrors())
}

// failing reports an error for one function
type failing struct {
	visited []string
}

func (f *failing) Name() string { return "failing" }

func (f *failing) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	f.visited = append(f.visited, fun.Name)
	if fun.Name == "B" {
		ctx.Env.Report(kerrors.MayAbort(fun.QualifiedName(), fun.Loc))
	}
	return data
}

func TestAbortAfterFailingPass(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B", "C"}, nil)

	fail := &failing{}
	after := &recorder{name: "after"}
	p := New(&recorder{name: "before"}, fail, after)
	err := p.Run(env, targets)

	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, "failing", abort.Pass)
	assert.Equal(t, 1, abort.Step)
	assert.Contains(t, err.Error(), "failing")

	// the failing pass still sweeps every function
	assert.ElementsMatch(t, []string{"A", "B", "C"}, fail.visited)
	assert.Empty(t, after.visited)
	assert.Equal(t, []PassState{PassDone, PassAborted, PassNotStarted}, p.States())
}

// dropper drops every verification variant
type dropper struct{}

func (dropper) Name() string { return "dropper" }

func (dropper) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	if data.Variant.IsVerification() {
		return nil
	}
	return data
}

func TestDropVariant(t *testing.T) {
	env, targets := buildEnv(t, []string{"A"}, nil)
	f, _ := env.FindFunction("M::A")
	baseline, _ := targets.GetData(f.ID, target.BaselineVariant)
	verification := target.VerificationVariant(target.RegularFlavor)
	targets.InsertData(f.ID, verification, baseline.Clone(verification))

	require.NoError(t, New(dropper{}).Run(env, targets))
	assert.Equal(t, []target.FunctionVariant{target.BaselineVariant}, targets.Variants(f.ID))
}

// lifecycle records the hooks it receives
type lifecycle struct {
	events []string
}

func (l *lifecycle) Name() string { return "lifecycle" }

func (l *lifecycle) Initialize(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) {
	l.events = append(l.events, "init")
}

func (l *lifecycle) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	l.events = append(l.events, "process "+fun.Name)
	return data
}

func (l *lifecycle) Finalize(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) {
	l.events = append(l.events, "finalize")
}

func TestInitializeAndFinalize(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B"}, map[string][]string{"A": {"B"}})

	l := &lifecycle{}
	var hooks []string
	p := New(l)
	err := p.RunWithHook(env, targets,
		func(step int, processor FunctionTargetProcessor, _ *target.FunctionTargetsHolder) {
			hooks = append(hooks, "before "+processor.Name())
		},
		func(step int, processor FunctionTargetProcessor, _ *target.FunctionTargetsHolder) {
			hooks = append(hooks, "after "+processor.Name())
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"init", "process B", "process A", "finalize"}, l.events)
	assert.Equal(t, []string{"before lifecycle", "after lifecycle"}, hooks)
	assert.Equal(t, PassDone, p.State(0))
}

// singleRun must never be called per function
type singleRun struct {
	runs int
}

func (s *singleRun) Name() string { return "single" }

func (s *singleRun) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	panic("per-function processing of a single run processor")
}

func (s *singleRun) RunOnce(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) {
	s.runs++
}

func TestSingleRunProcessor(t *testing.T) {
	env, targets := buildEnv(t, []string{"A", "B"}, nil)

	s := &singleRun{}
	require.NoError(t, New(s).Run(env, targets))
	assert.Equal(t, 1, s.runs)
}

// finalizeFailure reports an error while finalizing
type finalizeFailure struct{}

func (finalizeFailure) Name() string { return "finalize_failure" }

func (finalizeFailure) Process(ctx *ProcessContext, fun *model.FunctionEnv, data *target.FunctionData) *target.FunctionData {
	return data
}

func (finalizeFailure) Finalize(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) {
	env.Report(kerrors.NewError(kerrors.ErrorMayAbort, "global failure", source.NoLoc).Build())
}

func TestAbortWhileFinalizing(t *testing.T) {
	env, targets := buildEnv(t, []string{"A"}, nil)

	p := New(finalizeFailure{})
	err := p.Run(env, targets)
	require.Error(t, err)
	assert.Equal(t, PassAborted, p.State(0))
}

func TestSingletonProcessedOnce(t *testing.T) {
	env, targets := buildEnv(t, []string{"R"}, map[string][]string{"R": {"R"}})

	rec := &recorder{name: "record"}
	require.NoError(t, New(rec).Run(env, targets))
	assert.Equal(t, []string{"R"}, rec.visited)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canAdvance(PassNotStarted, PassInitializing))
	assert.True(t, canAdvance(PassRunning, PassAborted))
	assert.True(t, canAdvance(PassFinalizing, PassAborted))
	assert.False(t, canAdvance(PassInitializing, PassAborted))
	assert.False(t, canAdvance(PassDone, PassRunning))
	assert.True(t, PassDone.IsTerminal())
	assert.Equal(t, "Finalizing", PassFinalizing.String())
}
