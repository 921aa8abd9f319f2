package cfg

import (
	"fmt"

	"golang.org/x/exp/slices"

	"kanso-prover/internal/bytecode"
)

// BlockID identifies a block of a Graph
type BlockID int

const (
	DummyEntryBlock BlockID = 0
	DummyExitBlock  BlockID = 1
	firstRealBlock  BlockID = 2
)

// BlockContent is either Dummy or Basic
type BlockContent interface {
	isBlockContent()
}

// Dummy is the content of the synthetic entry and exit sentinels
type Dummy struct{}

// Basic is a contiguous, inclusive range of code offsets
type Basic struct {
	Lower bytecode.CodeOffset
	Upper bytecode.CodeOffset
}

func (Dummy) isBlockContent() {}
func (Basic) isBlockContent() {}

func (b Basic) String() string {
	return fmt.Sprintf("[%d..%d]", b.Lower, b.Upper)
}

type block struct {
	content    BlockContent
	successors []BlockID
}

// Graph is a basic-block control-flow graph over a flat instruction stream.
// A backward graph has its edges reversed, and its entry is the forward exit.
type Graph struct {
	entry    BlockID
	exit     BlockID
	blocks   map[BlockID]*block
	backward bool

	idom map[BlockID]BlockID // computed on first dominator query
}

// NewForward builds the forward CFG of code, including abort-action edges
func NewForward(code []bytecode.Bytecode) *Graph {
	return NewForwardWithOptions(code, false)
}

// NewForwardWithOptions builds the forward CFG; ignoreOnAbort drops the
// edges from calls to their abort-action handlers
func NewForwardWithOptions(code []bytecode.Bytecode, ignoreOnAbort bool) *Graph {
	if len(code) == 0 {
		panic("cfg: cannot build a control-flow graph of empty code")
	}

	g := &Graph{
		entry:  DummyEntryBlock,
		exit:   DummyExitBlock,
		blocks: make(map[BlockID]*block),
	}
	g.blocks[DummyEntryBlock] = &block{content: Dummy{}}
	g.blocks[DummyExitBlock] = &block{content: Dummy{}}

	leaders := collectLeaders(code)
	offsetToBlock := make(map[bytecode.CodeOffset]BlockID, len(leaders))
	id := firstRealBlock
	for i, lower := range leaders {
		upper := bytecode.CodeOffset(len(code) - 1)
		if i+1 < len(leaders) {
			upper = leaders[i+1] - 1
		}
		g.blocks[id] = &block{content: Basic{Lower: lower, Upper: upper}}
		offsetToBlock[lower] = id
		id++
	}

	labelToBlock := make(map[bytecode.Label]BlockID)
	for label, offset := range bytecode.LabelOffsets(code) {
		labelToBlock[label] = offsetToBlock[offset]
	}
	target := func(label bytecode.Label) BlockID {
		b, ok := labelToBlock[label]
		if !ok {
			panic(fmt.Sprintf("cfg: jump to undefined label L%d", label))
		}
		return b
	}

	g.blocks[DummyEntryBlock].successors = []BlockID{firstRealBlock}

	for bid := firstRealBlock; bid < id; bid++ {
		b := g.blocks[bid]
		upper := b.content.(Basic).Upper
		last := code[upper]
		next, hasNext := offsetToBlock[upper+1]

		var succs []BlockID
		switch instr := last.(type) {
		case *bytecode.BranchTerminator:
			// duplicates are kept so that the reconstructor sees the degenerate shape
			succs = []BlockID{target(instr.Then), target(instr.Else)}
		case *bytecode.JumpTerminator:
			succs = []BlockID{target(instr.Target)}
		case *bytecode.SwitchTerminator:
			for _, l := range instr.Targets {
				succs = append(succs, target(l))
			}
		case *bytecode.CallInstruction:
			switch {
			case instr.IsExit():
				succs = []BlockID{DummyExitBlock}
			default:
				if hasNext {
					succs = append(succs, next)
				}
				if instr.Abort != nil && !ignoreOnAbort {
					succs = append(succs, target(instr.Abort.Target))
				}
				if len(succs) == 0 {
					succs = []BlockID{DummyExitBlock}
				}
			}
		default:
			switch {
			case last.IsExit():
				succs = []BlockID{DummyExitBlock}
			case hasNext:
				succs = []BlockID{next}
			default:
				// falling off the end of the code leaves the function
				succs = []BlockID{DummyExitBlock}
			}
		}
		b.successors = succs
	}

	g.checkCoverage(len(code))
	return g
}

// NewBackward builds the reversed CFG. With fromAllBlocks, the backward
// entry gets an edge to every real block, so that blocks without a path
// to the exit stay reachable.
func NewBackward(code []bytecode.Bytecode, fromAllBlocks bool) *Graph {
	return NewBackwardWithOptions(code, fromAllBlocks, false)
}

// NewBackwardWithOptions builds the reversed CFG of NewForwardWithOptions
func NewBackwardWithOptions(code []bytecode.Bytecode, fromAllBlocks, ignoreOnAbort bool) *Graph {
	forward := NewForwardWithOptions(code, ignoreOnAbort)

	g := &Graph{
		entry:    DummyExitBlock,
		exit:     DummyEntryBlock,
		blocks:   make(map[BlockID]*block, len(forward.blocks)),
		backward: true,
	}
	for id, b := range forward.blocks {
		g.blocks[id] = &block{content: b.content}
	}

	for _, from := range forward.Blocks() {
		for _, to := range forward.blocks[from].successors {
			g.blocks[to].successors = appendUnique(g.blocks[to].successors, from)
		}
	}

	if fromAllBlocks {
		for _, id := range forward.Blocks() {
			if id == DummyEntryBlock || id == DummyExitBlock {
				continue
			}
			g.blocks[g.entry].successors = appendUnique(g.blocks[g.entry].successors, id)
		}
	}

	return g
}

// NewBackwardIgnoringAborts is NewBackwardWithOptions without the edges
// from the exit to blocks that leave the function by aborting. Post-dominance
// on this view only follows paths that return.
func NewBackwardIgnoringAborts(code []bytecode.Bytecode, ignoreOnAbort bool) *Graph {
	g := NewBackwardWithOptions(code, false, ignoreOnAbort)

	exit := g.blocks[g.entry]
	kept := exit.successors[:0]
	for _, id := range exit.successors {
		basic, ok := g.blocks[id].content.(Basic)
		if ok && aborts(code[basic.Upper]) {
			continue
		}
		kept = append(kept, id)
	}
	exit.successors = kept
	return g
}

func aborts(instr bytecode.Bytecode) bool {
	switch i := instr.(type) {
	case *bytecode.AbortTerminator:
		return true
	case *bytecode.CallInstruction:
		return i.Op.Kind == bytecode.OpStop
	}
	return false
}

// collectLeaders returns the sorted offsets that start a block
func collectLeaders(code []bytecode.Bytecode) []bytecode.CodeOffset {
	isLeader := make(map[bytecode.CodeOffset]bool)
	isLeader[0] = true
	for pc, instr := range code {
		offset := bytecode.CodeOffset(pc)
		if _, ok := instr.(*bytecode.LabelInstruction); ok {
			isLeader[offset] = true
		}
		if instr.IsTerminator() && pc+1 < len(code) {
			isLeader[offset+1] = true
		}
	}

	leaders := make([]bytecode.CodeOffset, 0, len(isLeader))
	for offset := range isLeader {
		leaders = append(leaders, offset)
	}
	slices.Sort(leaders)
	return leaders
}

// checkCoverage verifies that every offset belongs to exactly one block
func (g *Graph) checkCoverage(codeLen int) {
	covered := make([]int, codeLen)
	for _, b := range g.blocks {
		if basic, ok := b.content.(Basic); ok {
			if basic.Lower > basic.Upper {
				panic(fmt.Sprintf("cfg: empty block %s", basic))
			}
			for pc := basic.Lower; pc <= basic.Upper; pc++ {
				covered[pc]++
			}
		}
	}
	for pc, n := range covered {
		if n != 1 {
			panic(fmt.Sprintf("cfg: offset %d is covered by %d blocks", pc, n))
		}
	}
}

func appendUnique(ids []BlockID, id BlockID) []BlockID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// EntryBlock returns the entry sentinel of this view
func (g *Graph) EntryBlock() BlockID {
	return g.entry
}

// ExitBlock returns the exit sentinel of this view
func (g *Graph) ExitBlock() BlockID {
	return g.exit
}

// IsBackward reports whether this is a reversed view
func (g *Graph) IsBackward() bool {
	return g.backward
}

// Successors returns the ordered successors of a block
func (g *Graph) Successors(id BlockID) []BlockID {
	return g.mustBlock(id).successors
}

// Predecessors returns the blocks having id as a successor, in block order
func (g *Graph) Predecessors(id BlockID) []BlockID {
	g.mustBlock(id)
	var preds []BlockID
	for _, from := range g.Blocks() {
		for _, to := range g.blocks[from].successors {
			if to == id {
				preds = append(preds, from)
				break
			}
		}
	}
	return preds
}

// Blocks returns all block ids in ascending order
func (g *Graph) Blocks() []BlockID {
	ids := make([]BlockID, 0, len(g.blocks))
	for id := range g.blocks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NumBlocks returns the number of blocks including the sentinels
func (g *Graph) NumBlocks() int {
	return len(g.blocks)
}

// Content returns whether a block is a sentinel or a code range
func (g *Graph) Content(id BlockID) BlockContent {
	return g.mustBlock(id).content
}

// IsDummy reports whether the block is the entry or exit sentinel
func (g *Graph) IsDummy(id BlockID) bool {
	_, ok := g.mustBlock(id).content.(Dummy)
	return ok
}

// Offsets returns the code offsets of a block, empty for sentinels
func (g *Graph) Offsets(id BlockID) []bytecode.CodeOffset {
	basic, ok := g.mustBlock(id).content.(Basic)
	if !ok {
		return nil
	}
	offsets := make([]bytecode.CodeOffset, 0, basic.Upper-basic.Lower+1)
	for pc := basic.Lower; pc <= basic.Upper; pc++ {
		offsets = append(offsets, pc)
	}
	return offsets
}

// BlockOf returns the block containing the offset
func (g *Graph) BlockOf(offset bytecode.CodeOffset) (BlockID, bool) {
	for id, b := range g.blocks {
		if basic, ok := b.content.(Basic); ok && basic.Lower <= offset && offset <= basic.Upper {
			return id, true
		}
	}
	return 0, false
}

// IsAcyclic reports whether the graph has no cycle
func (g *Graph) IsAcyclic() bool {
	const (
		white = iota
		grey
		black
	)
	color := make(map[BlockID]int, len(g.blocks))

	var visit func(id BlockID) bool
	visit = func(id BlockID) bool {
		color[id] = grey
		for _, succ := range g.blocks[id].successors {
			switch color[succ] {
			case grey:
				return false
			case white:
				if !visit(succ) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}

	for _, id := range g.Blocks() {
		if color[id] == white && !visit(id) {
			return false
		}
	}
	return true
}

func (g *Graph) mustBlock(id BlockID) *block {
	b, ok := g.blocks[id]
	if !ok {
		panic(fmt.Sprintf("cfg: unknown block %d", id))
	}
	return b
}
