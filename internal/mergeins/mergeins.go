package mergeins

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tliron/commonlog"
	"golang.org/x/exp/slices"

	"kanso-prover/internal/bytecode"
	"kanso-prover/internal/cfg"
	"kanso-prover/internal/dataflow"
	"kanso-prover/internal/structure"
	"kanso-prover/internal/target"
)

var log = commonlog.GetLogger("kanso-prover.mergeins")

// MergeInfo describes one merge scheduled at the reconvergence point of a
// conditional. Dest is the original slot when the merge completes it.
type MergeInfo struct {
	Slot       bytecode.TempIndex
	Dest       bytecode.TempIndex
	Cond       bytecode.TempIndex
	Then       bytecode.TempIndex
	Else       bytecode.TempIndex
	CondAt     bytecode.CodeOffset
	At         bytecode.CodeOffset
	Completion bool
}

func (m *MergeInfo) String() string {
	return fmt.Sprintf("$t%d := merge($t%d, $t%d, $t%d) at %d for $t%d", m.Dest, m.Cond, m.Then, m.Else, m.At, m.Slot)
}

// Options control merge insertion
type Options struct {
	// SkipDeadMerges drops merges of slots that are not live at the
	// reconvergence point
	SkipDeadMerges bool
}

// versionState is the version map threaded through the walk together with
// the tracked slots holding a value on the current path
type versionState struct {
	versions map[bytecode.TempIndex]bytecode.TempIndex
	known    mapset.Set[bytecode.TempIndex]
}

func (s *versionState) clone() *versionState {
	versions := make(map[bytecode.TempIndex]bytecode.TempIndex, len(s.versions))
	for k, v := range s.versions {
		versions[k] = v
	}
	return &versionState{versions: versions, known: s.known.Clone()}
}

// divergent is the version of a slot in an abort handler whose calls
// disagree on it
const divergent bytecode.TempIndex = -1

func (s *versionState) current(temp bytecode.TempIndex) bytecode.TempIndex {
	if v, ok := s.versions[temp]; ok {
		return v
	}
	return temp
}

type inserter struct {
	data    *target.FunctionData
	opts    Options
	code    []bytecode.Bytecode
	tracked []bytecode.TempIndex
	isTrack mapset.Set[bytecode.TempIndex]

	// position of every offset in tree order
	position map[bytecode.CodeOffset]int
	// last position at which each tracked slot is assigned
	lastAssign map[bytecode.TempIndex]int
	// completion point (CondAt of the deciding conditional) per slot
	completion map[bytecode.TempIndex]bytecode.CodeOffset

	live      *dataflow.LiveVars
	scheduled map[bytecode.CodeOffset][]*MergeInfo
	merges    []*MergeInfo

	// forward CFG without abort edges, to tell regions apart
	forward *cfg.Graph
	// version state on entry of each on_abort handler
	handlers map[bytecode.Label]*versionState
	err      error
}

// Insert versions every slot assigned more than once in data.Code and
// resolves divergent versions with merge calls where the arms of a
// conditional reconverge. tree must be the structured form of data.Code.
// data is updated in place; the inserted merges are returned.
//
// Abort codes are never versioned. An on_abort handler sees the versions
// current at the calls aborting to it; when those calls disagree on a slot
// the handler reads, Insert fails and leaves data unchanged.
func Insert(data *target.FunctionData, tree structure.StructuredBlock, opts Options) ([]*MergeInfo, error) {
	abortCodes := mapset.NewThreadUnsafeSet[bytecode.TempIndex]()
	for _, instr := range data.Code {
		if call, ok := instr.(*bytecode.CallInstruction); ok && call.Abort != nil {
			abortCodes.Add(call.Abort.Code)
		}
	}
	var tracked []bytecode.TempIndex
	for temp, count := range bytecode.AssignedTemps(data.Code) {
		if count >= 2 && !abortCodes.Contains(temp) {
			tracked = append(tracked, temp)
		}
	}
	if len(tracked) == 0 {
		return nil, nil
	}
	slices.Sort(tracked)

	m := &inserter{
		data:       data,
		opts:       opts,
		code:       slices.Clone(data.Code),
		tracked:    tracked,
		isTrack:    mapset.NewThreadUnsafeSet(tracked...),
		position:   make(map[bytecode.CodeOffset]int),
		lastAssign: make(map[bytecode.TempIndex]int),
		completion: make(map[bytecode.TempIndex]bytecode.CodeOffset),
		scheduled:  make(map[bytecode.CodeOffset][]*MergeInfo),
		forward:    cfg.NewForwardWithOptions(data.Code, true),
		handlers:   make(map[bytecode.Label]*versionState),
	}
	if opts.SkipDeadMerges {
		m.live = dataflow.AnalyzeLiveVars(data.Code, data.LocalCount())
	}

	for i, pc := range structure.Offsets(tree) {
		m.position[pc] = i
		for _, dest := range data.Code[pc].GetDests() {
			if m.isTrack.Contains(dest) {
				m.lastAssign[dest] = i
			}
		}
	}

	m.findCompletionPoints(tree, m.initialState().known)

	locals := data.LocalCount()
	// leftover merges belong to conditionals whose arms all leave the function
	m.walk(tree, m.initialState())
	if m.err != nil {
		data.LocalTypes = data.LocalTypes[:locals]
		data.LocalNames = data.LocalNames[:locals]
		return nil, m.err
	}

	data.Code = m.emit()
	log.Debugf("inserted %d merges for %d tracked slots", len(m.merges), len(tracked))
	return m.merges, nil
}

// coverBlocks adds the CFG blocks of a tree to covered
func (m *inserter) coverBlocks(block structure.StructuredBlock, covered map[cfg.BlockID]bool) {
	structure.Walk(block, func(b *structure.Basic) {
		if id, ok := m.forward.BlockOf(b.Lower); ok {
			covered[id] = true
		}
	})
}

// entered reports whether control reaches block from the blocks covered so
// far. Abort handlers and dead code are entered from nowhere.
func (m *inserter) entered(block structure.StructuredBlock, covered map[cfg.BlockID]bool) bool {
	first, ok := structure.FirstOffset(block)
	if !ok {
		return true
	}
	id, ok := m.forward.BlockOf(first)
	if !ok {
		return true
	}
	for _, pred := range m.forward.Predecessors(id) {
		if covered[pred] {
			return true
		}
	}
	return false
}

// detachedState is the state a region entered from nowhere starts from
func (m *inserter) detachedState(block structure.StructuredBlock) *versionState {
	if first, ok := structure.FirstOffset(block); ok {
		if l, ok := m.code[first].(*bytecode.LabelInstruction); ok {
			if st, ok := m.handlers[l.Label]; ok {
				return st.clone()
			}
		}
	}
	return m.initialState()
}

// enterHandler records the state in which a call may abort to target
func (m *inserter) enterHandler(target bytecode.Label, st *versionState) {
	prev, ok := m.handlers[target]
	if !ok {
		m.handlers[target] = st.clone()
		return
	}
	for _, slot := range m.tracked {
		if prev.current(slot) != st.current(slot) {
			prev.versions[slot] = divergent
		}
	}
	prev.known = prev.known.Union(st.known)
}

func (m *inserter) initialState() *versionState {
	st := &versionState{
		versions: make(map[bytecode.TempIndex]bytecode.TempIndex, len(m.tracked)),
		known:    mapset.NewThreadUnsafeSet[bytecode.TempIndex](),
	}
	for _, slot := range m.tracked {
		st.versions[slot] = slot
		if int(slot) < m.data.ParamCount {
			st.known.Add(slot)
		}
	}
	return st
}

// findCompletionPoints walks the tree in post-order and returns the tracked
// slots assigned within block. known is updated with the slots holding a
// value after block. The last conditional visited at which a slot is known
// on both arms and assigned on at least one becomes its completion point,
// unless the slot is assigned again after that conditional.
func (m *inserter) findCompletionPoints(block structure.StructuredBlock, known mapset.Set[bytecode.TempIndex]) mapset.Set[bytecode.TempIndex] {
	assigned := mapset.NewThreadUnsafeSet[bytecode.TempIndex]()

	switch b := block.(type) {
	case nil:
	case *structure.Basic:
		for pc := b.Lower; pc <= b.Upper; pc++ {
			for _, dest := range m.data.Code[pc].GetDests() {
				if m.isTrack.Contains(dest) {
					assigned.Add(dest)
					known.Add(dest)
				}
			}
		}
	case *structure.Seq:
		covered := make(map[cfg.BlockID]bool)
		for i, child := range b.Blocks {
			childKnown := known
			if i > 0 && !m.entered(child, covered) {
				childKnown = known.Clone()
			}
			assigned = assigned.Union(m.findCompletionPoints(child, childKnown))
			m.coverBlocks(child, covered)
		}
	case *structure.IfThenElse:
		thenKnown := known.Clone()
		elseKnown := known.Clone()
		assigned = m.findCompletionPoints(b.Then, thenKnown).
			Union(m.findCompletionPoints(b.Else, elseKnown))

		end := m.lastPosition(b)
		for _, slot := range sortedSlots(assigned) {
			if thenKnown.Contains(slot) && elseKnown.Contains(slot) && m.lastAssign[slot] <= end {
				m.completion[slot] = b.CondAt
			}
		}
		known.Append(thenKnown.Union(elseKnown).ToSlice()...)
	case *structure.IfElseChain:
		return m.findCompletionPoints(structure.ChainToIfThenElse(b), known)
	default:
		panic(fmt.Sprintf("mergeins: unknown block %T", block))
	}
	return assigned
}

func (m *inserter) lastPosition(block structure.StructuredBlock) int {
	last := -1
	for _, pc := range structure.Offsets(block) {
		last = max(last, m.position[pc])
	}
	return last
}

// walk rewrites the code covered by block under the version state and
// returns the merges not yet scheduled at a reconvergence offset
func (m *inserter) walk(block structure.StructuredBlock, st *versionState) []*MergeInfo {
	switch b := block.(type) {
	case nil:
		return nil
	case *structure.Basic:
		for pc := b.Lower; pc <= b.Upper; pc++ {
			m.rewrite(pc, st)
		}
		return nil
	case *structure.Seq:
		var pending []*MergeInfo
		covered := make(map[cfg.BlockID]bool)
		for i, child := range b.Blocks {
			if i > 0 && !m.entered(child, covered) {
				// pending arms never reconverge here, and neither do the
				// arms inside a handler or dead code
				pending = nil
				m.walk(child, m.detachedState(child))
				m.coverBlocks(child, covered)
				continue
			}
			if len(pending) > 0 {
				if at, ok := structure.FirstOffset(child); ok {
					m.schedule(at, pending)
					pending = nil
				}
			}
			pending = append(pending, m.walk(child, st)...)
			m.coverBlocks(child, covered)
		}
		return pending
	case *structure.IfThenElse:
		return m.walkConditional(b, st)
	case *structure.IfElseChain:
		return m.walk(structure.ChainToIfThenElse(b), st)
	default:
		panic(fmt.Sprintf("mergeins: unknown block %T", block))
	}
}

func (m *inserter) walkConditional(ite *structure.IfThenElse, st *versionState) []*MergeInfo {
	elseSt := st.clone()
	pending := m.walk(ite.Then, st)
	pending = append(pending, m.walk(ite.Else, elseSt)...)

	branch, ok := m.code[ite.CondAt].(*bytecode.BranchTerminator)
	if !ok {
		panic(fmt.Sprintf("mergeins: no branch at offset %d", ite.CondAt))
	}

	for _, slot := range m.tracked {
		thenVersion, elseVersion := st.current(slot), elseSt.current(slot)
		point, hasPoint := m.completion[slot]
		completes := hasPoint && point == ite.CondAt
		if thenVersion == elseVersion {
			if completes {
				panic(fmt.Sprintf("mergeins: completion point of $t%d at %d has no divergent versions", slot, ite.CondAt))
			}
			continue
		}
		if thenVersion == divergent || elseVersion == divergent {
			st.versions[slot] = divergent
			continue
		}

		thenKnown, elseKnown := st.known.Contains(slot), elseSt.known.Contains(slot)
		if !thenKnown || !elseKnown {
			// the slot holds a value on one path only
			if elseKnown {
				st.versions[slot] = elseVersion
			}
			continue
		}

		info := &MergeInfo{
			Slot:       slot,
			Cond:       branch.Cond,
			Then:       thenVersion,
			Else:       elseVersion,
			CondAt:     ite.CondAt,
			Completion: completes,
		}
		if completes {
			info.Dest = slot
		} else {
			info.Dest = m.data.NewTemp(m.data.LocalTypes[slot])
		}
		st.versions[slot] = info.Dest
		pending = append(pending, info)
	}
	st.known.Append(elseSt.known.ToSlice()...)
	return pending
}

// rewrite renames the sources of the instruction at pc to their current
// versions and gives every tracked destination a fresh slot
func (m *inserter) rewrite(pc bytecode.CodeOffset, st *versionState) {
	if call, ok := m.code[pc].(*bytecode.CallInstruction); ok && call.Abort != nil {
		m.enterHandler(call.Abort.Target, st)
	}
	for _, src := range m.code[pc].GetSources() {
		if st.current(src) == divergent && m.err == nil {
			m.err = fmt.Errorf("abort handler reads $t%d at %d, which differs between the calls aborting to it", src, pc)
		}
	}
	instr := m.code[pc].RemapSources(st.current)

	fresh := make(map[bytecode.TempIndex]bytecode.TempIndex)
	for _, dest := range instr.GetDests() {
		if !m.isTrack.Contains(dest) {
			continue
		}
		if _, ok := fresh[dest]; !ok {
			fresh[dest] = m.data.NewTemp(m.data.LocalTypes[dest])
		}
		st.versions[dest] = fresh[dest]
		st.known.Add(dest)
	}
	if len(fresh) > 0 {
		instr = instr.RemapDests(func(t bytecode.TempIndex) bytecode.TempIndex {
			if v, ok := fresh[t]; ok {
				return v
			}
			return t
		})
	}
	m.code[pc] = instr
}

// schedule places merges at the first offset of the block where the arms
// of their conditional reconverge
func (m *inserter) schedule(at bytecode.CodeOffset, merges []*MergeInfo) {
	for _, info := range merges {
		if m.live != nil && !m.live.IsLiveBefore(at, info.Slot) {
			log.Debugf("skipping merge of dead $t%d at %d", info.Slot, at)
			continue
		}
		info.At = at
		m.scheduled[at] = append(m.scheduled[at], info)
		m.merges = append(m.merges, info)
	}
}

// emit re-emits the rewritten code with the scheduled merges. Merges go
// right after the label opening their block, or ahead of its first
// instruction when it has none.
func (m *inserter) emit() []bytecode.Bytecode {
	out := make([]bytecode.Bytecode, 0, len(m.code)+len(m.merges))
	for pc, instr := range m.code {
		merges := m.scheduled[bytecode.CodeOffset(pc)]
		_, isLabel := instr.(*bytecode.LabelInstruction)
		if isLabel {
			out = append(out, instr)
		}
		for _, info := range merges {
			attr := m.data.NewAttrID(m.data.Locations[m.code[info.CondAt].GetAttrID()])
			out = append(out, bytecode.NewMerge(attr, info.Dest, info.Cond, info.Then, info.Else))
		}
		if !isLabel {
			out = append(out, instr)
		}
	}
	return out
}

func sortedSlots(set mapset.Set[bytecode.TempIndex]) []bytecode.TempIndex {
	slots := set.ToSlice()
	slices.Sort(slots)
	return slots
}
