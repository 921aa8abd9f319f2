package bytecode

import "fmt"

// FunID identifies a function within a GlobalEnv
type FunID int

// OpKind identifies an operation invoked by a CallInstruction
type OpKind int

const (
	OpFunction OpKind = iota // user function call

	// Arithmetic
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	// Comparison
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNeq

	// Boolean
	OpAnd
	OpOr
	OpNot

	// Casts
	OpCastU8
	OpCastU64
	OpCastU128
	OpCastU256

	// References
	OpBorrowLocal
	OpBorrowMut
	OpReadRef
	OpWriteRef

	OpStop    // trap, never returns
	OpMerge   // dest := cond ? then : else
	OpHavoc   // dest := arbitrary value
	OpDestroy // end of a slot's lifetime
)

// operationInfo describes the static properties of a builtin operation.
// Arity -1 means variable.
type operationInfo struct {
	name     string
	srcs     int
	dests    int
	canAbort bool
	pure     bool
}

var operationTable = map[OpKind]operationInfo{
	OpAdd:         {"add", 2, 1, true, true},
	OpSub:         {"sub", 2, 1, true, true},
	OpMul:         {"mul", 2, 1, true, true},
	OpDiv:         {"div", 2, 1, true, true},
	OpMod:         {"mod", 2, 1, true, true},
	OpLt:          {"lt", 2, 1, false, true},
	OpLe:          {"le", 2, 1, false, true},
	OpGt:          {"gt", 2, 1, false, true},
	OpGe:          {"ge", 2, 1, false, true},
	OpEq:          {"eq", 2, 1, false, true},
	OpNeq:         {"neq", 2, 1, false, true},
	OpAnd:         {"and", 2, 1, false, true},
	OpOr:          {"or", 2, 1, false, true},
	OpNot:         {"not", 1, 1, false, true},
	OpCastU8:      {"cast_u8", 1, 1, true, true},
	OpCastU64:     {"cast_u64", 1, 1, true, true},
	OpCastU128:    {"cast_u128", 1, 1, true, true},
	OpCastU256:    {"cast_u256", 1, 1, true, true},
	OpBorrowLocal: {"borrow_local", 1, 1, false, true},
	OpBorrowMut:   {"borrow_mut", 1, 1, false, true},
	OpReadRef:     {"read_ref", 1, 1, false, true},
	OpWriteRef:    {"write_ref", 2, 0, false, false},
	OpStop:        {"stop", 0, 0, true, false},
	OpMerge:       {"merge", 3, 1, false, true},
	OpHavoc:       {"havoc", 0, 1, false, false},
	OpDestroy:     {"destroy", 1, 0, false, true},
}

// builtinsByName is the reverse index of operationTable
var builtinsByName = func() map[string]OpKind {
	m := make(map[string]OpKind, len(operationTable))
	for kind, info := range operationTable {
		m[info.name] = kind
	}
	return m
}()

// LookupBuiltin finds a builtin operation by its textual name
func LookupBuiltin(name string) (OpKind, bool) {
	kind, ok := builtinsByName[name]
	return kind, ok
}

// Operation is the callee of a CallInstruction
type Operation struct {
	Kind   OpKind
	Callee FunID  // only for OpFunction
	Name   string // qualified callee name, only for OpFunction
}

// Builtin creates an operation for a builtin kind
func Builtin(kind OpKind) Operation {
	return Operation{Kind: kind}
}

// FunctionOp creates a user function call operation
func FunctionOp(callee FunID, name string) Operation {
	return Operation{Kind: OpFunction, Callee: callee, Name: name}
}

func (o Operation) IsFunctionCall() bool {
	return o.Kind == OpFunction
}

// Arity returns the expected number of sources and destinations, -1 if variable
func (o Operation) Arity() (srcs, dests int) {
	if info, ok := operationTable[o.Kind]; ok {
		return info.srcs, info.dests
	}
	return -1, -1
}

// CanAbort reports whether executing the operation may abort.
// User function calls are conservatively assumed to abort.
func (o Operation) CanAbort() bool {
	if info, ok := operationTable[o.Kind]; ok {
		return info.canAbort
	}
	return true
}

// IsPure reports whether the operation only computes its destinations
func (o Operation) IsPure() bool {
	if info, ok := operationTable[o.Kind]; ok {
		return info.pure
	}
	return false
}

func (o Operation) String() string {
	if o.Kind == OpFunction {
		if o.Name != "" {
			return o.Name
		}
		return fmt.Sprintf("fun#%d", o.Callee)
	}
	if info, ok := operationTable[o.Kind]; ok {
		return info.name
	}
	return fmt.Sprintf("<op %d>", o.Kind)
}
