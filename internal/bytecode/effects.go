package bytecode

// This file implements the GetEffects() method for all instruction types.
// Effects describe what executing an instruction may do besides writing its destinations.

// Effect is a side effect of an instruction
type Effect interface {
	EffectKind() string
}

// PureEffect marks instructions that only compute their destinations
type PureEffect struct{}

func (e *PureEffect) EffectKind() string { return "pure" }

// AbortEffect marks instructions that may abort execution
type AbortEffect struct {
	Handled bool // an abort action catches the abort locally
}

func (e *AbortEffect) EffectKind() string { return "abort" }

// ReferenceEffect marks writes through references
type ReferenceEffect struct {
	Type string // "read" or "write"
}

func (e *ReferenceEffect) EffectKind() string { return "reference" }

// CallEffect marks calls to user functions, whose effects depend on the callee
type CallEffect struct {
	Callee FunID
}

func (e *CallEffect) EffectKind() string { return "call" }

// NondetEffect marks instructions producing unconstrained values
type NondetEffect struct{}

func (e *NondetEffect) EffectKind() string { return "nondet" }

// ControlEffect marks instructions that transfer control
type ControlEffect struct{}

func (e *ControlEffect) EffectKind() string { return "control" }

// AssignInstruction effects
func (i *AssignInstruction) GetEffects() []Effect {
	return []Effect{&PureEffect{}}
}

// LoadInstruction effects
func (i *LoadInstruction) GetEffects() []Effect {
	return []Effect{&PureEffect{}}
}

// CallInstruction effects (depends on the operation being called)
func (i *CallInstruction) GetEffects() []Effect {
	var effects []Effect
	switch i.Op.Kind {
	case OpFunction:
		effects = append(effects, &CallEffect{Callee: i.Op.Callee})
	case OpWriteRef:
		effects = append(effects, &ReferenceEffect{Type: "write"})
	case OpReadRef:
		effects = append(effects, &ReferenceEffect{Type: "read"})
	case OpHavoc:
		effects = append(effects, &NondetEffect{})
	}
	if i.Op.CanAbort() {
		effects = append(effects, &AbortEffect{Handled: i.Abort != nil})
	}
	if len(effects) == 0 {
		effects = append(effects, &PureEffect{})
	}
	return effects
}

// LabelInstruction effects
func (i *LabelInstruction) GetEffects() []Effect {
	return []Effect{&PureEffect{}}
}

// NopInstruction effects
func (i *NopInstruction) GetEffects() []Effect {
	return []Effect{&PureEffect{}}
}

// BranchTerminator effects
func (t *BranchTerminator) GetEffects() []Effect {
	return []Effect{&ControlEffect{}}
}

// JumpTerminator effects
func (t *JumpTerminator) GetEffects() []Effect {
	return []Effect{&ControlEffect{}}
}

// ReturnTerminator effects
func (t *ReturnTerminator) GetEffects() []Effect {
	return []Effect{&ControlEffect{}}
}

// AbortTerminator effects
func (t *AbortTerminator) GetEffects() []Effect {
	return []Effect{&ControlEffect{}, &AbortEffect{}}
}

// SwitchTerminator effects
func (t *SwitchTerminator) GetEffects() []Effect {
	return []Effect{&ControlEffect{}}
}

// MayAbort reports whether the instruction may abort. Calls with an
// abort action count as aborting; user function calls always do.
func MayAbort(instr Bytecode) bool {
	for _, effect := range instr.GetEffects() {
		if _, ok := effect.(*AbortEffect); ok {
			return true
		}
	}
	return false
}

// IsPure reports whether the instruction has no effect besides its destinations
func IsPure(instr Bytecode) bool {
	effects := instr.GetEffects()
	if len(effects) != 1 {
		return false
	}
	_, ok := effects[0].(*PureEffect)
	return ok
}
