package bytecode

import (
	"fmt"
	"strings"
)

// TempIndex is a local slot of a function. Parameters come first.
type TempIndex int

// Label identifies a jump target within a function
type Label int

// AttrID is a stable instruction id used to recover source locations
type AttrID int

// CodeOffset is the dense zero-based position of an instruction
type CodeOffset int

// Bytecode is one instruction of the stackless instruction stream.
// The set of implementations is closed.
type Bytecode interface {
	GetAttrID() AttrID
	GetSources() []TempIndex
	GetDests() []TempIndex
	GetTargets() []Label // jump targets, in successor order
	IsTerminator() bool  // ends a basic block
	IsExit() bool        // leaves the function
	String() string
	GetEffects() []Effect

	// RemapSources returns a copy with every source rewritten through f
	RemapSources(f func(TempIndex) TempIndex) Bytecode
	// RemapDests returns a copy with every destination rewritten through f
	RemapDests(f func(TempIndex) TempIndex) Bytecode

	isBytecode()
}

// AbortAction redirects control to a label when a call aborts,
// storing the abort code in a temp
type AbortAction struct {
	Target Label
	Code   TempIndex
}

// Instructions

type AssignInstruction struct {
	Attr AttrID
	Dest TempIndex
	Src  TempIndex
}

type LoadInstruction struct {
	Attr  AttrID
	Dest  TempIndex
	Value Constant
}

type CallInstruction struct {
	Attr  AttrID
	Dests []TempIndex
	Op    Operation
	Srcs  []TempIndex
	Abort *AbortAction
}

type LabelInstruction struct {
	Attr  AttrID
	Label Label
}

type NopInstruction struct {
	Attr AttrID
}

// Terminators

type BranchTerminator struct {
	Attr AttrID
	Then Label
	Else Label
	Cond TempIndex
}

type JumpTerminator struct {
	Attr   AttrID
	Target Label
}

type ReturnTerminator struct {
	Attr AttrID
	Srcs []TempIndex
}

type AbortTerminator struct {
	Attr AttrID
	Code TempIndex
}

// SwitchTerminator is a multi-way dispatch on an integer condition
type SwitchTerminator struct {
	Attr    AttrID
	Cond    TempIndex
	Targets []Label
}

// Implementation of interfaces

func (i *AssignInstruction) GetAttrID() AttrID       { return i.Attr }
func (i *AssignInstruction) GetSources() []TempIndex { return []TempIndex{i.Src} }
func (i *AssignInstruction) GetDests() []TempIndex   { return []TempIndex{i.Dest} }
func (i *AssignInstruction) GetTargets() []Label     { return nil }
func (i *AssignInstruction) IsTerminator() bool      { return false }
func (i *AssignInstruction) IsExit() bool            { return false }
func (i *AssignInstruction) isBytecode()             {}
func (i *AssignInstruction) String() string {
	return fmt.Sprintf("%s := %s", temp(i.Dest), temp(i.Src))
}
func (i *AssignInstruction) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	c.Src = f(i.Src)
	return &c
}
func (i *AssignInstruction) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	c.Dest = f(i.Dest)
	return &c
}

func (i *LoadInstruction) GetAttrID() AttrID       { return i.Attr }
func (i *LoadInstruction) GetSources() []TempIndex { return nil }
func (i *LoadInstruction) GetDests() []TempIndex   { return []TempIndex{i.Dest} }
func (i *LoadInstruction) GetTargets() []Label     { return nil }
func (i *LoadInstruction) IsTerminator() bool      { return false }
func (i *LoadInstruction) IsExit() bool            { return false }
func (i *LoadInstruction) isBytecode()             {}
func (i *LoadInstruction) String() string          { return fmt.Sprintf("%s := %s", temp(i.Dest), i.Value) }
func (i *LoadInstruction) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	return &c
}
func (i *LoadInstruction) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	c.Dest = f(i.Dest)
	return &c
}

func (i *CallInstruction) GetAttrID() AttrID       { return i.Attr }
func (i *CallInstruction) GetSources() []TempIndex { return i.Srcs }
func (i *CallInstruction) GetDests() []TempIndex {
	if i.Abort != nil {
		return append(append([]TempIndex{}, i.Dests...), i.Abort.Code)
	}
	return i.Dests
}
func (i *CallInstruction) GetTargets() []Label {
	if i.Abort != nil {
		return []Label{i.Abort.Target}
	}
	return nil
}
func (i *CallInstruction) IsTerminator() bool { return i.Abort != nil || i.Op.Kind == OpStop }
func (i *CallInstruction) IsExit() bool       { return i.Op.Kind == OpStop }
func (i *CallInstruction) isBytecode()        {}
func (i *CallInstruction) String() string {
	var b strings.Builder
	if len(i.Dests) > 0 {
		b.WriteString(temps(i.Dests))
		b.WriteString(" := ")
	}
	b.WriteString(fmt.Sprintf("%s(%s)", i.Op, temps(i.Srcs)))
	if i.Abort != nil {
		b.WriteString(fmt.Sprintf(" on_abort goto %s with %s", label(i.Abort.Target), temp(i.Abort.Code)))
	}
	return b.String()
}
func (i *CallInstruction) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	c.Srcs = remap(i.Srcs, f)
	return &c
}
func (i *CallInstruction) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	c.Dests = remap(i.Dests, f)
	if i.Abort != nil {
		c.Abort = &AbortAction{Target: i.Abort.Target, Code: f(i.Abort.Code)}
	}
	return &c
}

func (i *LabelInstruction) GetAttrID() AttrID       { return i.Attr }
func (i *LabelInstruction) GetSources() []TempIndex { return nil }
func (i *LabelInstruction) GetDests() []TempIndex   { return nil }
func (i *LabelInstruction) GetTargets() []Label     { return nil }
func (i *LabelInstruction) IsTerminator() bool      { return false }
func (i *LabelInstruction) IsExit() bool            { return false }
func (i *LabelInstruction) isBytecode()             {}
func (i *LabelInstruction) String() string          { return fmt.Sprintf("label %s", label(i.Label)) }
func (i *LabelInstruction) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	return &c
}
func (i *LabelInstruction) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	return &c
}

func (i *NopInstruction) GetAttrID() AttrID       { return i.Attr }
func (i *NopInstruction) GetSources() []TempIndex { return nil }
func (i *NopInstruction) GetDests() []TempIndex   { return nil }
func (i *NopInstruction) GetTargets() []Label     { return nil }
func (i *NopInstruction) IsTerminator() bool      { return false }
func (i *NopInstruction) IsExit() bool            { return false }
func (i *NopInstruction) isBytecode()             {}
func (i *NopInstruction) String() string          { return "nop" }
func (i *NopInstruction) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	return &c
}
func (i *NopInstruction) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *i
	return &c
}

func (t *BranchTerminator) GetAttrID() AttrID       { return t.Attr }
func (t *BranchTerminator) GetSources() []TempIndex { return []TempIndex{t.Cond} }
func (t *BranchTerminator) GetDests() []TempIndex   { return nil }
func (t *BranchTerminator) GetTargets() []Label     { return []Label{t.Then, t.Else} }
func (t *BranchTerminator) IsTerminator() bool      { return true }
func (t *BranchTerminator) IsExit() bool            { return false }
func (t *BranchTerminator) isBytecode()             {}
func (t *BranchTerminator) String() string {
	return fmt.Sprintf("if (%s) goto %s else goto %s", temp(t.Cond), label(t.Then), label(t.Else))
}
func (t *BranchTerminator) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	c.Cond = f(t.Cond)
	return &c
}
func (t *BranchTerminator) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	return &c
}

func (t *JumpTerminator) GetAttrID() AttrID       { return t.Attr }
func (t *JumpTerminator) GetSources() []TempIndex { return nil }
func (t *JumpTerminator) GetDests() []TempIndex   { return nil }
func (t *JumpTerminator) GetTargets() []Label     { return []Label{t.Target} }
func (t *JumpTerminator) IsTerminator() bool      { return true }
func (t *JumpTerminator) IsExit() bool            { return false }
func (t *JumpTerminator) isBytecode()             {}
func (t *JumpTerminator) String() string          { return fmt.Sprintf("goto %s", label(t.Target)) }
func (t *JumpTerminator) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	return &c
}
func (t *JumpTerminator) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	return &c
}

func (t *ReturnTerminator) GetAttrID() AttrID       { return t.Attr }
func (t *ReturnTerminator) GetSources() []TempIndex { return t.Srcs }
func (t *ReturnTerminator) GetDests() []TempIndex   { return nil }
func (t *ReturnTerminator) GetTargets() []Label     { return nil }
func (t *ReturnTerminator) IsTerminator() bool      { return true }
func (t *ReturnTerminator) IsExit() bool            { return true }
func (t *ReturnTerminator) isBytecode()             {}
func (t *ReturnTerminator) String() string {
	if len(t.Srcs) == 0 {
		return "return"
	}
	return "return " + temps(t.Srcs)
}
func (t *ReturnTerminator) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	c.Srcs = remap(t.Srcs, f)
	return &c
}
func (t *ReturnTerminator) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	return &c
}

func (t *AbortTerminator) GetAttrID() AttrID       { return t.Attr }
func (t *AbortTerminator) GetSources() []TempIndex { return []TempIndex{t.Code} }
func (t *AbortTerminator) GetDests() []TempIndex   { return nil }
func (t *AbortTerminator) GetTargets() []Label     { return nil }
func (t *AbortTerminator) IsTerminator() bool      { return true }
func (t *AbortTerminator) IsExit() bool            { return true }
func (t *AbortTerminator) isBytecode()             {}
func (t *AbortTerminator) String() string          { return fmt.Sprintf("abort %s", temp(t.Code)) }
func (t *AbortTerminator) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	c.Code = f(t.Code)
	return &c
}
func (t *AbortTerminator) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	return &c
}

func (t *SwitchTerminator) GetAttrID() AttrID       { return t.Attr }
func (t *SwitchTerminator) GetSources() []TempIndex { return []TempIndex{t.Cond} }
func (t *SwitchTerminator) GetDests() []TempIndex   { return nil }
func (t *SwitchTerminator) GetTargets() []Label     { return t.Targets }
func (t *SwitchTerminator) IsTerminator() bool      { return true }
func (t *SwitchTerminator) IsExit() bool            { return false }
func (t *SwitchTerminator) isBytecode()             {}
func (t *SwitchTerminator) String() string {
	names := make([]string, len(t.Targets))
	for i, l := range t.Targets {
		names[i] = label(l)
	}
	return fmt.Sprintf("switch (%s) [%s]", temp(t.Cond), strings.Join(names, ", "))
}
func (t *SwitchTerminator) RemapSources(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	c.Cond = f(t.Cond)
	return &c
}
func (t *SwitchTerminator) RemapDests(f func(TempIndex) TempIndex) Bytecode {
	c := *t
	return &c
}

// LabelOffsets maps every label to the offset of its LabelInstruction
func LabelOffsets(code []Bytecode) map[Label]CodeOffset {
	offsets := make(map[Label]CodeOffset)
	for pc, instr := range code {
		if l, ok := instr.(*LabelInstruction); ok {
			offsets[l.Label] = CodeOffset(pc)
		}
	}
	return offsets
}

// AssignedTemps returns every temp that appears as a destination, with multiplicity
func AssignedTemps(code []Bytecode) map[TempIndex]int {
	counts := make(map[TempIndex]int)
	for _, instr := range code {
		for _, dest := range instr.GetDests() {
			counts[dest]++
		}
	}
	return counts
}

// IsMerge reports whether the instruction is a conditional merge
func IsMerge(instr Bytecode) bool {
	call, ok := instr.(*CallInstruction)
	return ok && call.Op.Kind == OpMerge
}

// NewMerge creates dest := merge(cond, thenValue, elseValue)
func NewMerge(attr AttrID, dest, cond, thenValue, elseValue TempIndex) *CallInstruction {
	return &CallInstruction{
		Attr:  attr,
		Dests: []TempIndex{dest},
		Op:    Builtin(OpMerge),
		Srcs:  []TempIndex{cond, thenValue, elseValue},
	}
}

func temp(t TempIndex) string {
	return fmt.Sprintf("$t%d", t)
}

func temps(ts []TempIndex) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = temp(t)
	}
	return strings.Join(parts, ", ")
}

func label(l Label) string {
	return fmt.Sprintf("L%d", l)
}

func remap(ts []TempIndex, f func(TempIndex) TempIndex) []TempIndex {
	if ts == nil {
		return nil
	}
	out := make([]TempIndex, len(ts))
	for i, t := range ts {
		out[i] = f(t)
	}
	return out
}
