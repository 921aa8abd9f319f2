package bytecode

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// ConstantKind identifies the kind of literal loaded by a LoadInstruction
type ConstantKind int

const (
	ConstBool ConstantKind = iota
	ConstInt
	ConstAddress
)

// Constant is a literal value
type Constant struct {
	Kind    ConstantKind
	Bool    bool
	Int     *uint256.Int
	Address string // hex digits without the 0x prefix
}

func BoolConstant(v bool) Constant {
	return Constant{Kind: ConstBool, Bool: v}
}

func IntConstant(v uint64) Constant {
	return Constant{Kind: ConstInt, Int: uint256.NewInt(v)}
}

// ParseIntConstant parses a decimal or 0x-prefixed hex literal that fits
// into 256 bits
func ParseIntConstant(text string) (Constant, error) {
	digits, base := text, 10
	if strings.HasPrefix(text, "0x") {
		digits, base = text[2:], 16
	}
	b, ok := new(big.Int).SetString(digits, base)
	if !ok || b.Sign() < 0 {
		return Constant{}, fmt.Errorf("invalid integer literal %q", text)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return Constant{}, fmt.Errorf("integer literal %q does not fit in 256 bits", text)
	}
	return Constant{Kind: ConstInt, Int: v}, nil
}

func AddressConstant(hex string) Constant {
	return Constant{Kind: ConstAddress, Address: hex}
}

// FitsIn reports whether an integer constant fits into the given bit width
func (c Constant) FitsIn(bits int) bool {
	if c.Kind != ConstInt {
		return false
	}
	return c.Int.BitLen() <= bits
}

func (c Constant) Equals(other Constant) bool {
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case ConstBool:
		return c.Bool == other.Bool
	case ConstInt:
		return c.Int.Eq(other.Int)
	default:
		return c.Address == other.Address
	}
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstBool:
		if c.Bool {
			return "true"
		}
		return "false"
	case ConstInt:
		if c.Int.IsUint64() {
			return fmt.Sprintf("%d", c.Int.Uint64())
		}
		return c.Int.ToBig().String()
	default:
		return "@0x" + c.Address
	}
}
