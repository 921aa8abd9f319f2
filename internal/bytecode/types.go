package bytecode

import "fmt"

// TypeKind identifies the shape of a local slot type
type TypeKind int

const (
	TypeBool TypeKind = iota
	TypeU8
	TypeU64
	TypeU128
	TypeU256
	TypeAddress
	TypeReference
)

// Type is the type of a local slot
type Type struct {
	Kind    TypeKind
	Mutable bool  // only meaningful for references
	Elem    *Type // referenced type
}

var (
	BoolType    = &Type{Kind: TypeBool}
	U8Type      = &Type{Kind: TypeU8}
	U64Type     = &Type{Kind: TypeU64}
	U128Type    = &Type{Kind: TypeU128}
	U256Type    = &Type{Kind: TypeU256}
	AddressType = &Type{Kind: TypeAddress}
)

// NewReference creates a reference type to elem
func NewReference(elem *Type, mutable bool) *Type {
	return &Type{Kind: TypeReference, Mutable: mutable, Elem: elem}
}

// PrimitiveTypes maps type names to their primitive types
var PrimitiveTypes = map[string]*Type{
	"bool":    BoolType,
	"u8":      U8Type,
	"u64":     U64Type,
	"u128":    U128Type,
	"u256":    U256Type,
	"address": AddressType,
}

func (t *Type) IsReference() bool {
	return t.Kind == TypeReference
}

func (t *Type) IsMutableReference() bool {
	return t.Kind == TypeReference && t.Mutable
}

func (t *Type) IsInteger() bool {
	switch t.Kind {
	case TypeU8, TypeU64, TypeU128, TypeU256:
		return true
	}
	return false
}

// BitWidth returns the width of integer types, 0 for others
func (t *Type) BitWidth() int {
	switch t.Kind {
	case TypeU8:
		return 8
	case TypeU64:
		return 64
	case TypeU128:
		return 128
	case TypeU256:
		return 256
	}
	return 0
}

// Equals compares two types structurally
func (t *Type) Equals(other *Type) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Kind != other.Kind {
		return false
	}
	if t.Kind == TypeReference {
		return t.Mutable == other.Mutable && t.Elem.Equals(other.Elem)
	}
	return true
}

func (t *Type) String() string {
	switch t.Kind {
	case TypeBool:
		return "bool"
	case TypeU8:
		return "u8"
	case TypeU64:
		return "u64"
	case TypeU128:
		return "u128"
	case TypeU256:
		return "u256"
	case TypeAddress:
		return "address"
	case TypeReference:
		if t.Mutable {
			return "&mut " + t.Elem.String()
		}
		return "&" + t.Elem.String()
	}
	return fmt.Sprintf("<type %d>", t.Kind)
}
