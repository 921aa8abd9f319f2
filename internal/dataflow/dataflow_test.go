package dataflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"kanso-prover/internal/bytecode"
)

// diamond is: if ($t0) { $t1 := 1 } else { $t1 := 2 }; return $t1
func diamond() []bytecode.Bytecode {
	return []bytecode.Bytecode{
		&bytecode.BranchTerminator{Then: 0, Else: 1, Cond: 0},
		&bytecode.LabelInstruction{Label: 0},
		&bytecode.LoadInstruction{Dest: 1, Value: bytecode.IntConstant(1)},
		&bytecode.JumpTerminator{Target: 2},
		&bytecode.LabelInstruction{Label: 1},
		&bytecode.LoadInstruction{Dest: 1, Value: bytecode.IntConstant(2)},
		&bytecode.LabelInstruction{Label: 2},
		&bytecode.ReturnTerminator{Srcs: []bytecode.TempIndex{1}},
	}
}

func TestLiveVars(t *testing.T) {
	live := AnalyzeLiveVars(diamond(), 2)

	assert.True(t, live.IsLiveBefore(0, 0))
	assert.False(t, live.IsLiveAfter(0, 0))
	assert.False(t, live.IsLiveBefore(2, 1))
	assert.True(t, live.IsLiveAfter(2, 1))
	assert.True(t, live.IsLiveAfter(5, 1))
	assert.True(t, live.IsLiveBefore(7, 1))
	assert.Empty(t, live.LiveAfter(7))
	assert.Equal(t, []bytecode.TempIndex{0}, live.LiveBefore(0))
	assert.Equal(t, []bytecode.TempIndex{1}, live.LiveAfter(3))
}

func TestLiveVarsDeadStore(t *testing.T) {
	code := []bytecode.Bytecode{
		&bytecode.LoadInstruction{Dest: 0, Value: bytecode.IntConstant(1)},
		&bytecode.LoadInstruction{Dest: 0, Value: bytecode.IntConstant(2)},
		&bytecode.ReturnTerminator{Srcs: []bytecode.TempIndex{0}},
	}
	live := AnalyzeLiveVars(code, 1)

	assert.False(t, live.IsLiveAfter(0, 0))
	assert.True(t, live.IsLiveAfter(1, 0))
}

func TestLiveVarsThroughLoop(t *testing.T) {
	// $t1 is read at the loop head, so it stays live around the back edge
	code := []bytecode.Bytecode{
		&bytecode.LabelInstruction{Label: 0},
		&bytecode.CallInstruction{Dests: []bytecode.TempIndex{2}, Op: bytecode.Builtin(bytecode.OpLt), Srcs: []bytecode.TempIndex{1, 0}},
		&bytecode.BranchTerminator{Then: 1, Else: 2, Cond: 2},
		&bytecode.LabelInstruction{Label: 1},
		&bytecode.CallInstruction{Dests: []bytecode.TempIndex{1}, Op: bytecode.Builtin(bytecode.OpAdd), Srcs: []bytecode.TempIndex{1, 0}},
		&bytecode.JumpTerminator{Target: 0},
		&bytecode.LabelInstruction{Label: 2},
		&bytecode.ReturnTerminator{Srcs: []bytecode.TempIndex{1}},
	}
	live := AnalyzeLiveVars(code, 3)

	assert.True(t, live.IsLiveAfter(4, 1))
	assert.True(t, live.IsLiveAfter(4, 0))
	assert.True(t, live.IsLiveBefore(0, 1))
}

func TestReachingDefs(t *testing.T) {
	defs := AnalyzeReachingDefs(diamond())

	assert.Equal(t, []bytecode.CodeOffset{2, 5}, defs.DefsReaching(7, 1))
	assert.Equal(t, []bytecode.CodeOffset{2}, defs.DefsReaching(3, 1))
	assert.Empty(t, defs.DefsReaching(2, 1))
	// parameters have no definition
	assert.Empty(t, defs.DefsReaching(7, 0))
}

func TestReachingDefsKill(t *testing.T) {
	code := []bytecode.Bytecode{
		&bytecode.LoadInstruction{Dest: 0, Value: bytecode.IntConstant(1)},
		&bytecode.LoadInstruction{Dest: 0, Value: bytecode.IntConstant(2)},
		&bytecode.ReturnTerminator{Srcs: []bytecode.TempIndex{0}},
	}
	defs := AnalyzeReachingDefs(code)

	assert.Equal(t, []bytecode.CodeOffset{1}, defs.DefsReaching(2, 0))
}
