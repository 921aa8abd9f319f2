package dataflow

import (
	"github.com/willf/bitset"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/cfg"
)

// LiveVars is the result of live-variable analysis
type LiveVars struct {
	liveBefore map[bytecode.CodeOffset]*bitset.BitSet
	liveAfter  map[bytecode.CodeOffset]*bitset.BitSet
}

type liveVarAnalysis struct {
	numTemps uint
}

func (a *liveVarAnalysis) Bottom() *bitset.BitSet {
	return bitset.New(a.numTemps)
}

func (a *liveVarAnalysis) Join(x, y *bitset.BitSet) *bitset.BitSet {
	return x.Union(y)
}

func (a *liveVarAnalysis) Equal(x, y *bitset.BitSet) bool {
	return x.Equal(y)
}

func (a *liveVarAnalysis) Transfer(_ bytecode.CodeOffset, instr bytecode.Bytecode, state *bitset.BitSet) *bitset.BitSet {
	live := state.Clone()
	for _, dest := range instr.GetDests() {
		live.Clear(uint(dest))
	}
	for _, src := range instr.GetSources() {
		live.Set(uint(src))
	}
	return live
}

// AnalyzeLiveVars computes the temps live before and after every instruction
func AnalyzeLiveVars(code []bytecode.Bytecode, numTemps int) *LiveVars {
	g := cfg.NewBackward(code, true)
	analysis := &liveVarAnalysis{numTemps: uint(numTemps)}
	result := Solve[*bitset.BitSet](code, g, analysis, analysis.Bottom())

	return &LiveVars{
		liveBefore: result.After,
		liveAfter:  result.Before,
	}
}

// IsLiveBefore reports whether temp is read before being overwritten on
// some path starting at offset
func (l *LiveVars) IsLiveBefore(offset bytecode.CodeOffset, temp bytecode.TempIndex) bool {
	set, ok := l.liveBefore[offset]
	return ok && set.Test(uint(temp))
}

// IsLiveAfter reports whether temp is live right after the instruction at offset
func (l *LiveVars) IsLiveAfter(offset bytecode.CodeOffset, temp bytecode.TempIndex) bool {
	set, ok := l.liveAfter[offset]
	return ok && set.Test(uint(temp))
}

// LiveAfter returns the temps live after the instruction at offset, ascending
func (l *LiveVars) LiveAfter(offset bytecode.CodeOffset) []bytecode.TempIndex {
	return members(l.liveAfter[offset])
}

// LiveBefore returns the temps live before the instruction at offset, ascending
func (l *LiveVars) LiveBefore(offset bytecode.CodeOffset) []bytecode.TempIndex {
	return members(l.liveBefore[offset])
}

func members(set *bitset.BitSet) []bytecode.TempIndex {
	if set == nil {
		return nil
	}
	var temps []bytecode.TempIndex
	for i, ok := set.NextSet(0); ok; i, ok = set.NextSet(i + 1) {
		temps = append(temps, bytecode.TempIndex(i))
	}
	return temps
}
