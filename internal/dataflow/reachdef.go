package dataflow

import (
	"github.com/willf/bitset"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/cfg"
)

// ReachingDefs is the result of reaching-definitions analysis. A
// definition is identified by the offset of the instruction writing a temp.
type ReachingDefs struct {
	reachIn   map[bytecode.CodeOffset]*bitset.BitSet
	defsOf    map[bytecode.TempIndex]*bitset.BitSet
	reachable map[bytecode.CodeOffset]bool
}

type reachDefAnalysis struct {
	codeLen uint
	defsOf  map[bytecode.TempIndex]*bitset.BitSet
}

func (a *reachDefAnalysis) Bottom() *bitset.BitSet {
	return bitset.New(a.codeLen)
}

func (a *reachDefAnalysis) Join(x, y *bitset.BitSet) *bitset.BitSet {
	return x.Union(y)
}

func (a *reachDefAnalysis) Equal(x, y *bitset.BitSet) bool {
	return x.Equal(y)
}

func (a *reachDefAnalysis) Transfer(offset bytecode.CodeOffset, instr bytecode.Bytecode, state *bitset.BitSet) *bitset.BitSet {
	dests := instr.GetDests()
	if len(dests) == 0 {
		return state
	}
	reach := state.Clone()
	for _, dest := range dests {
		reach.InPlaceDifference(a.defsOf[dest])
	}
	reach.Set(uint(offset))
	return reach
}

// AnalyzeReachingDefs computes the definitions reaching every instruction
func AnalyzeReachingDefs(code []bytecode.Bytecode) *ReachingDefs {
	defsOf := make(map[bytecode.TempIndex]*bitset.BitSet)
	for pc, instr := range code {
		for _, dest := range instr.GetDests() {
			if defsOf[dest] == nil {
				defsOf[dest] = bitset.New(uint(len(code)))
			}
			defsOf[dest].Set(uint(pc))
		}
	}

	analysis := &reachDefAnalysis{codeLen: uint(len(code)), defsOf: defsOf}
	g := cfg.NewForward(code)
	result := Solve[*bitset.BitSet](code, g, analysis, analysis.Bottom())

	reachable := make(map[bytecode.CodeOffset]bool, len(code))
	for b := range result.Reached {
		for _, pc := range g.Offsets(b) {
			reachable[pc] = true
		}
	}
	return &ReachingDefs{reachIn: result.Before, defsOf: defsOf, reachable: reachable}
}

// Reached reports whether the instruction at offset is reachable from the entry
func (r *ReachingDefs) Reached(offset bytecode.CodeOffset) bool {
	return r.reachable[offset]
}

// DefsReaching returns the offsets of the definitions of temp that reach
// the instruction at offset, ascending. Parameters have no definition.
func (r *ReachingDefs) DefsReaching(offset bytecode.CodeOffset, temp bytecode.TempIndex) []bytecode.CodeOffset {
	reach, ok := r.reachIn[offset]
	defs := r.defsOf[temp]
	if !ok || defs == nil {
		return nil
	}
	var offsets []bytecode.CodeOffset
	both := reach.Intersection(defs)
	for i, ok := both.NextSet(0); ok; i, ok = both.NextSet(i + 1) {
		offsets = append(offsets, bytecode.CodeOffset(i))
	}
	return offsets
}
