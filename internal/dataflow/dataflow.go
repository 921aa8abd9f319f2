package dataflow

import (
	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/cfg"
)

// Analysis describes a monotone dataflow problem over states of type S.
// The direction is given by the graph the analysis is solved on.
type Analysis[S any] interface {
	// Bottom is the state of blocks no flow has reached yet
	Bottom() S
	// Join merges two states without mutating either
	Join(a, b S) S
	Equal(a, b S) bool
	// Transfer applies one instruction to a state without mutating it
	Transfer(offset bytecode.CodeOffset, instr bytecode.Bytecode, state S) S
}

// Result holds the fixpoint of an analysis. Before and After are
// relative to the flow direction: for a backward analysis, Before[o]
// is the state after instruction o in program order.
type Result[S any] struct {
	Before map[bytecode.CodeOffset]S
	After  map[bytecode.CodeOffset]S
	Blocks map[cfg.BlockID]S // state at the start of each block, in flow order
	// Reached holds the blocks flow from the entry arrived at
	Reached map[cfg.BlockID]bool
}

// Solve runs the worklist algorithm on g, seeding its entry with initial
func Solve[S any](code []bytecode.Bytecode, g *cfg.Graph, analysis Analysis[S], initial S) *Result[S] {
	blocks := g.Blocks()
	in := make(map[cfg.BlockID]S, len(blocks))
	reached := make(map[cfg.BlockID]bool, len(blocks))

	in[g.EntryBlock()] = initial
	reached[g.EntryBlock()] = true

	work := []cfg.BlockID{g.EntryBlock()}
	queued := map[cfg.BlockID]bool{g.EntryBlock(): true}
	for len(work) > 0 {
		b := work[0]
		work = work[1:]
		queued[b] = false

		state := in[b]
		for _, pc := range flowOrder(g, b) {
			state = analysis.Transfer(pc, code[pc], state)
		}

		for _, succ := range g.Successors(b) {
			joined := state
			if reached[succ] {
				joined = analysis.Join(in[succ], state)
				if analysis.Equal(in[succ], joined) {
					continue
				}
			}
			in[succ] = joined
			reached[succ] = true
			if !queued[succ] {
				queued[succ] = true
				work = append(work, succ)
			}
		}
	}

	result := &Result[S]{
		Before:  make(map[bytecode.CodeOffset]S, len(code)),
		After:   make(map[bytecode.CodeOffset]S, len(code)),
		Blocks:  make(map[cfg.BlockID]S, len(blocks)),
		Reached: reached,
	}
	for _, b := range blocks {
		state, ok := in[b]
		if !ok {
			state = analysis.Bottom()
		}
		result.Blocks[b] = state
		for _, pc := range flowOrder(g, b) {
			result.Before[pc] = state
			state = analysis.Transfer(pc, code[pc], state)
			result.After[pc] = state
		}
	}
	return result
}

// flowOrder lists the offsets of a block in the direction of g
func flowOrder(g *cfg.Graph, b cfg.BlockID) []bytecode.CodeOffset {
	offsets := g.Offsets(b)
	if g.IsBackward() {
		for i, j := 0, len(offsets)-1; i < j; i, j = i+1, j-1 {
			offsets[i], offsets[j] = offsets[j], offsets[i]
		}
	}
	return offsets
}
