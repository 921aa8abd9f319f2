package structure

import (
	"fmt"

	"github.com/tliron/commonlog"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/cfg"
)

var log = commonlog.GetLogger("kanso-prover.structure")

// FailureReason tells why a stream could not be structured
type FailureReason int

const (
	NoFailure FailureReason = iota
	FailureSwitch
	FailureStop
	FailureLoop
	FailureUnstructured
)

func (r FailureReason) String() string {
	switch r {
	case FailureSwitch:
		return "multi-way switch"
	case FailureStop:
		return "stop instruction"
	case FailureLoop:
		return "loop"
	case FailureUnstructured:
		return "unstructured control flow"
	}
	return "none"
}

// Reconstruct recovers a structured tree from an acyclic instruction stream.
// It reports false when the stream cannot be structured.
func Reconstruct(code []bytecode.Bytecode) (StructuredBlock, bool) {
	block, reason := ReconstructWithReason(code)
	return block, reason == NoFailure
}

// ReconstructWithReason is Reconstruct, also telling why structuring failed.
//
// The tree starts with the region entered from the function entry. Regions
// entered only through an on_abort edge follow it, in the order their
// handlers are first named, and code reachable from neither comes last.
// Each of these trailing regions is a direct child of the root Seq.
func ReconstructWithReason(code []bytecode.Bytecode) (StructuredBlock, FailureReason) {
	for _, instr := range code {
		switch i := instr.(type) {
		case *bytecode.SwitchTerminator:
			return nil, FailureSwitch
		case *bytecode.CallInstruction:
			if i.Op.Kind == bytecode.OpStop {
				return nil, FailureStop
			}
		}
	}

	// abort edges count for cycles even though regions ignore them
	if !cfg.NewForward(code).IsAcyclic() {
		return nil, FailureLoop
	}

	forward := cfg.NewForwardWithOptions(code, true)
	r := &reconstructor{
		forward:      forward,
		backward:     cfg.NewBackwardIgnoringAborts(code, true),
		fullBackward: cfg.NewBackwardWithOptions(code, false, true),
		code:         code,
		topo:         topoOrder(forward),
		claimed:      make(map[cfg.BlockID]bool),
	}

	main := r.region(forward.EntryBlock(), 0, false)
	if main == nil {
		main = &Seq{}
	}
	r.claim(main)
	regions := []StructuredBlock{main}

	handlers, ok := r.handlerRegions(main)
	if !ok {
		return nil, FailureUnstructured
	}
	regions = append(regions, handlers...)
	regions = append(regions, r.deadRegions()...)

	block := joinRegions(regions)
	if !coversExactly(block, len(code)) {
		return nil, FailureUnstructured
	}
	return block, NoFailure
}

// joinRegions puts the trailing regions after the blocks of the main one
func joinRegions(regions []StructuredBlock) StructuredBlock {
	if len(regions) == 1 {
		return regions[0]
	}
	var blocks []StructuredBlock
	if seq, ok := regions[0].(*Seq); ok {
		blocks = append(blocks, seq.Blocks...)
	} else {
		blocks = append(blocks, regions[0])
	}
	return &Seq{Blocks: append(blocks, regions[1:]...)}
}

// coversExactly reports whether every offset is visited once
func coversExactly(block StructuredBlock, n int) bool {
	seen := make([]bool, n)
	for _, pc := range Offsets(block) {
		if seen[pc] {
			return false
		}
		seen[pc] = true
	}
	for _, ok := range seen {
		if !ok {
			return false
		}
	}
	return true
}

// topoOrder numbers every block of an acyclic graph, unreachable ones
// included, so that edges go from lower to higher numbers
func topoOrder(g *cfg.Graph) map[cfg.BlockID]int {
	indegree := make(map[cfg.BlockID]int)
	for _, b := range g.Blocks() {
		for _, succ := range g.Successors(b) {
			indegree[succ]++
		}
	}
	var ready []cfg.BlockID
	for _, b := range g.Blocks() {
		if indegree[b] == 0 {
			ready = append(ready, b)
		}
	}
	order := make(map[cfg.BlockID]int, g.NumBlocks())
	for len(ready) > 0 {
		b := ready[0]
		ready = ready[1:]
		order[b] = len(order)
		for _, succ := range g.Successors(b) {
			if indegree[succ]--; indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}
	return order
}

type reconstructor struct {
	forward      *cfg.Graph
	backward     *cfg.Graph // abort exits detached
	fullBackward *cfg.Graph
	code         []bytecode.Bytecode
	topo         map[cfg.BlockID]int
	// blocks owned by regions already built
	claimed map[cfg.BlockID]bool
}

func (r *reconstructor) claim(block StructuredBlock) {
	Walk(block, func(b *Basic) {
		if id, ok := r.forward.BlockOf(b.Lower); ok {
			r.claimed[id] = true
		}
	})
}

// abortTargets lists the on_abort labels of the calls in block, in code order
func (r *reconstructor) abortTargets(block StructuredBlock) []bytecode.Label {
	var targets []bytecode.Label
	for _, pc := range Offsets(block) {
		if call, ok := r.code[pc].(*bytecode.CallInstruction); ok && call.Abort != nil {
			targets = append(targets, call.Abort.Target)
		}
	}
	return targets
}

// handlerRegions builds one region per on_abort handler. A handler must be
// entered only through abort edges and must not flow into code owned by
// another region; otherwise it reports false.
func (r *reconstructor) handlerRegions(main StructuredBlock) ([]StructuredBlock, bool) {
	labels := bytecode.LabelOffsets(r.code)
	starts := make(map[cfg.BlockID]bool)
	var regions []StructuredBlock

	queue := r.abortTargets(main)
	for len(queue) > 0 {
		target := queue[0]
		queue = queue[1:]
		h, ok := r.forward.BlockOf(labels[target])
		if !ok {
			panic(fmt.Sprintf("structure: on_abort target L%d has no block", target))
		}
		if starts[h] {
			continue
		}
		if r.claimed[h] {
			log.Debugf("handler L%d is also entered without aborting", target)
			return nil, false
		}
		reached := r.reach(h, 0, false)
		for id := range reached {
			for _, succ := range r.forward.Successors(id) {
				if r.claimed[succ] {
					log.Debugf("handler L%d flows into block %d", target, succ)
					return nil, false
				}
			}
		}

		region := r.region(h, 0, false)
		starts[h] = true
		r.claim(region)
		regions = append(regions, region)
		queue = append(queue, r.abortTargets(region)...)
	}
	return regions, true
}

// deadRegions structures the blocks no entry reaches, lowest block first
func (r *reconstructor) deadRegions() []StructuredBlock {
	var regions []StructuredBlock
	for _, id := range r.forward.Blocks() {
		if r.forward.IsDummy(id) || r.claimed[id] {
			continue
		}
		region := r.region(id, 0, false)
		r.claim(region)
		regions = append(regions, region)
	}
	return regions
}

// region walks from start until stop (when hasStop), a claimed block, or
// until no successors remain. It returns nil for an empty region.
func (r *reconstructor) region(start, stop cfg.BlockID, hasStop bool) StructuredBlock {
	var blocks []StructuredBlock
	current := start

walk:
	for {
		if (hasStop && current == stop) || r.claimed[current] {
			break
		}
		if content, ok := r.forward.Content(current).(cfg.Basic); ok {
			blocks = append(blocks, &Basic{Lower: content.Lower, Upper: content.Upper})
		}

		succs := r.forward.Successors(current)
		switch {
		case len(succs) == 0:
			break walk
		case len(succs) == 1:
			current = succs[0]
		case len(succs) == 2 && succs[0] == succs[1]:
			current = succs[0]
		case len(succs) == 2:
			var node StructuredBlock
			node, current = r.branch(current, succs[0], succs[1], stop, hasStop)
			blocks = append(blocks, node)
		default:
			panic(fmt.Sprintf("structure: block %d has %d successors", current, len(succs)))
		}
	}

	switch len(blocks) {
	case 0:
		return nil
	case 1:
		return blocks[0]
	default:
		return &Seq{Blocks: blocks}
	}
}

// branch structures the two arms of the branch ending block b and
// returns the merge point where the walk resumes
func (r *reconstructor) branch(b, thenStart, elseStart, stop cfg.BlockID, hasStop bool) (StructuredBlock, cfg.BlockID) {
	merge := r.mergePoint(b, thenStart, elseStart, stop, hasStop)
	content, ok := r.forward.Content(b).(cfg.Basic)
	if !ok {
		panic(fmt.Sprintf("structure: branching block %d is a sentinel", b))
	}
	condAt := content.Upper
	if _, ok := r.code[condAt].(*bytecode.BranchTerminator); !ok {
		panic(fmt.Sprintf("structure: block %d does not end in a branch", b))
	}

	thenBranch := r.region(thenStart, merge, true)
	if thenBranch == nil {
		if thenStart != merge && !r.claimed[thenStart] {
			panic(fmt.Sprintf("structure: then arm of branch at %d is empty", condAt))
		}
		// branching straight to the merge point
		thenBranch = &Seq{}
	}
	elseBranch := r.region(elseStart, merge, true)

	log.Debugf("branch at %d merges at block %d", condAt, merge)
	return optimizeIfThenElse(&IfThenElse{CondAt: condAt, Then: thenBranch, Else: elseBranch}), merge
}

// mergePoint picks where the arms of the branch ending b reconverge. The
// immediate post-dominator over returning paths is preferred, then the
// one over all paths, then the first block both arms reach. A candidate is
// taken only when it separates the arms. Without one, the arms run to the
// enclosing stop, or to the exit at the top level.
func (r *reconstructor) mergePoint(b, thenStart, elseStart, stop cfg.BlockID, hasStop bool) cfg.BlockID {
	fromThen := r.reach(thenStart, stop, hasStop)
	fromElse := r.reach(elseStart, stop, hasStop)

	var candidates []cfg.BlockID
	for _, g := range []*cfg.Graph{r.backward, r.fullBackward} {
		if pdom, ok := g.FindImmediateDominator(b); ok && !g.IsDummy(pdom) {
			candidates = append(candidates, pdom)
		}
	}
	common, found := cfg.BlockID(0), false
	for id := range fromThen {
		if fromElse[id] && (!found || r.topo[id] < r.topo[common]) {
			common, found = id, true
		}
	}
	if found {
		candidates = append(candidates, common)
	}

	for _, m := range candidates {
		if (fromThen[m] || fromElse[m]) && r.separates(m, thenStart, elseStart, stop, hasStop) {
			return m
		}
	}
	if hasStop {
		return stop
	}
	return r.forward.ExitBlock()
}

// separates reports whether m can close a branch: the arms share no block
// before m, do not run into the enclosing stop first, and do not reach
// code that follows m
func (r *reconstructor) separates(m, thenStart, elseStart, stop cfg.BlockID, hasStop bool) bool {
	armThen := r.reach(thenStart, m, true)
	armElse := r.reach(elseStart, m, true)
	if hasStop && m != stop && (armThen[stop] || armElse[stop]) {
		return false
	}
	var after map[cfg.BlockID]bool
	if !hasStop || m != stop {
		after = r.reach(m, stop, hasStop)
	}
	for id := range armThen {
		if armElse[id] || after[id] {
			return false
		}
	}
	for id := range armElse {
		if after[id] {
			return false
		}
	}
	return true
}

// reach collects the unclaimed real blocks reachable from start without
// walking into bound. bound itself is not included.
func (r *reconstructor) reach(start, bound cfg.BlockID, hasBound bool) map[cfg.BlockID]bool {
	seen := make(map[cfg.BlockID]bool)
	work := []cfg.BlockID{start}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]
		if seen[id] || r.forward.IsDummy(id) || r.claimed[id] || (hasBound && id == bound) {
			continue
		}
		seen[id] = true
		work = append(work, r.forward.Successors(id)...)
	}
	return seen
}
