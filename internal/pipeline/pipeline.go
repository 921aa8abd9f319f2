package pipeline

import (
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/errors"
	"kanso-prover/internal/model"
	"kanso-prover/internal/target"
)

var log = commonlog.GetLogger("kanso-prover.pipeline")

// DefaultMaxFixpointRounds bounds the rounds spent on one recursive group
const DefaultMaxFixpointRounds = 64

// Hook observes the store before or after a pass
type Hook func(step int, processor FunctionTargetProcessor, targets *target.FunctionTargetsHolder)

// AbortError is returned when a pass reported an error-severity diagnostic
type AbortError struct {
	Pass string
	Step int
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("pipeline aborted after pass '%s' (step %d) due to errors", e.Pass, e.Step)
}

// Pipeline runs an ordered list of processors over all function variants
type Pipeline struct {
	processors        []FunctionTargetProcessor
	states            []PassState
	maxFixpointRounds int
}

// New creates a pipeline with the given processors
func New(processors ...FunctionTargetProcessor) *Pipeline {
	p := &Pipeline{maxFixpointRounds: DefaultMaxFixpointRounds}
	for _, processor := range processors {
		p.AddProcessor(processor)
	}
	return p
}

// AddProcessor appends a processor to the pipeline
func (p *Pipeline) AddProcessor(processor FunctionTargetProcessor) {
	p.processors = append(p.processors, processor)
	p.states = append(p.states, PassNotStarted)
}

// SetMaxFixpointRounds bounds the fixpoint iteration of recursive groups
func (p *Pipeline) SetMaxFixpointRounds(rounds int) {
	if rounds < 1 {
		rounds = 1
	}
	p.maxFixpointRounds = rounds
}

// Processors returns the processors in execution order
func (p *Pipeline) Processors() []FunctionTargetProcessor {
	return p.processors
}

// State returns the state of the pass at the given step
func (p *Pipeline) State(step int) PassState {
	return p.states[step]
}

// States returns the state of every pass
func (p *Pipeline) States() []PassState {
	return append([]PassState(nil), p.states...)
}

// Run executes all passes
func (p *Pipeline) Run(env *model.GlobalEnv, targets *target.FunctionTargetsHolder) error {
	return p.RunWithHook(env, targets, nil, nil)
}

// RunWithHook executes all passes, calling before and after around each
// of them. after is also called for the pass that aborts the run.
func (p *Pipeline) RunWithHook(env *model.GlobalEnv, targets *target.FunctionTargetsHolder, before, after Hook) error {
	for i := range p.states {
		p.states[i] = PassNotStarted
	}

	for step, processor := range p.processors {
		if before != nil {
			before(step, processor, targets)
		}

		start := time.Now()
		log.Infof("running pass %s", processor.Name())
		err := p.runPass(step, processor, env, targets)
		log.Debugf("pass %s finished in %s", processor.Name(), time.Since(start))

		if after != nil {
			after(step, processor, targets)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) runPass(step int, processor FunctionTargetProcessor, env *model.GlobalEnv, targets *target.FunctionTargetsHolder) error {
	p.advance(step, PassInitializing)
	if init, ok := processor.(Initializer); ok {
		init.Initialize(env, targets)
	}

	p.advance(step, PassRunning)
	if single, ok := processor.(SingleRunProcessor); ok {
		single.RunOnce(env, targets)
	} else {
		for _, scc := range NewCallGraph(env, targets.FunIDs()).SCCs() {
			if len(scc) == 1 {
				p.processSingleton(processor, env, targets, scc[0])
			} else {
				p.processCycle(processor, env, targets, scc)
			}
		}
	}
	if env.HasErrors() {
		p.advance(step, PassAborted)
		log.Errorf("pass %s reported errors", processor.Name())
		return &AbortError{Pass: processor.Name(), Step: step}
	}

	p.advance(step, PassFinalizing)
	if fin, ok := processor.(Finalizer); ok {
		fin.Finalize(env, targets)
	}
	if env.HasErrors() {
		p.advance(step, PassAborted)
		log.Errorf("pass %s reported errors while finalizing", processor.Name())
		return &AbortError{Pass: processor.Name(), Step: step}
	}

	p.advance(step, PassDone)
	return nil
}

// processSingleton hands every variant of a function to the processor once
func (p *Pipeline) processSingleton(processor FunctionTargetProcessor, env *model.GlobalEnv, targets *target.FunctionTargetsHolder, id bytecode.FunID) {
	ctx := &ProcessContext{Env: env, Targets: targets, Round: 1}
	fun := env.Function(id)
	for _, variant := range targets.Variants(id) {
		processVariant(processor, ctx, fun, variant)
	}
}

// processCycle iterates the processor over a recursive group until every
// member's annotations reached a fixpoint
func (p *Pipeline) processCycle(processor FunctionTargetProcessor, env *model.GlobalEnv, targets *target.FunctionTargetsHolder, group []bytecode.FunID) {
	// flags left by earlier passes do not count against this one
	for _, id := range group {
		for _, variant := range targets.Variants(id) {
			if data, ok := targets.GetData(id, variant); ok {
				data.Annotations.Settle()
			}
		}
	}

	for round := 1; ; round++ {
		log.Debugf("pass %s: round %d over recursive group %v", processor.Name(), round, group)
		ctx := &ProcessContext{Env: env, Targets: targets, Group: group, Round: round}
		for _, id := range group {
			fun := env.Function(id)
			for _, variant := range targets.Variants(id) {
				processVariant(processor, ctx, fun, variant)
			}
		}

		if groupReachedFixpoint(targets, group) {
			return
		}
		if round >= p.maxFixpointRounds {
			names := make([]string, len(group))
			for i, id := range group {
				names[i] = env.Function(id).QualifiedName()
			}
			env.Report(errors.FixpointNotReached(processor.Name(), names, round))
			return
		}
	}
}

func processVariant(processor FunctionTargetProcessor, ctx *ProcessContext, fun *model.FunctionEnv, variant target.FunctionVariant) {
	data, ok := ctx.Targets.TakeData(fun.ID, variant)
	if !ok {
		return
	}
	result := processor.Process(ctx, fun, data)
	if result == nil {
		log.Debugf("pass %s dropped %s of %s", processor.Name(), variant, fun.QualifiedName())
		return
	}
	ctx.Targets.InsertData(fun.ID, variant, result)
}

func groupReachedFixpoint(targets *target.FunctionTargetsHolder, group []bytecode.FunID) bool {
	for _, id := range group {
		for _, variant := range targets.Variants(id) {
			data, ok := targets.GetData(id, variant)
			if ok && !data.Annotations.ReachedFixpoint() {
				return false
			}
		}
	}
	return true
}
