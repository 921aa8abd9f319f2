package target

import "fmt"

// VariantKind distinguishes the baseline from verification variants
type VariantKind int

const (
	Baseline VariantKind = iota
	Verification
)

// Flavors of verification variants
const (
	RegularFlavor = "regular"
)

// FunctionVariant identifies one annotated copy of a function
type FunctionVariant struct {
	Kind   VariantKind
	Flavor string // only for Verification
}

// BaselineVariant is the variant created from the semantic model
var BaselineVariant = FunctionVariant{Kind: Baseline}

// VerificationVariant creates a verification variant of the given flavor
func VerificationVariant(flavor string) FunctionVariant {
	return FunctionVariant{Kind: Verification, Flavor: flavor}
}

func (v FunctionVariant) IsVerification() bool {
	return v.Kind == Verification
}

// Compare orders the baseline first, then verification flavors by name
func (v FunctionVariant) Compare(other FunctionVariant) int {
	if v.Kind != other.Kind {
		return int(v.Kind) - int(other.Kind)
	}
	switch {
	case v.Flavor < other.Flavor:
		return -1
	case v.Flavor > other.Flavor:
		return 1
	}
	return 0
}

func (v FunctionVariant) String() string {
	if v.Kind == Baseline {
		return "baseline"
	}
	return fmt.Sprintf("verification[%s]", v.Flavor)
}
