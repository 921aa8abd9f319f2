package errors

// Error codes for the Kanso prover back end
// These codes are used in diagnostics and documentation
// to provide consistent error identification across the toolchain.
//
// Error code ranges:
// E0100-E0199: Bytecode loading errors
// E0600-E0699: Function target pipeline errors
// E0900-E0999: Internal errors
// W0600-W0699: Pipeline warnings

const (
	// Bytecode loading errors (E0100-E0199)

	// E0100: Syntax error in textual bytecode
	ErrorSyntax = "E0100"

	// E0101: Temp resolution errors
	ErrorUndefinedTemp = "E0101"

	// E0102: Label resolution errors
	ErrorUndefinedLabel = "E0102"

	// E0103: Callee resolution errors
	ErrorUndefinedFunction = "E0103"

	// E0104: Duplicate declaration of a temp, label or function
	ErrorDuplicateDeclaration = "E0104"

	// E0105: Unknown or malformed type
	ErrorInvalidType = "E0105"

	// E0106: Unknown or malformed attribute
	ErrorInvalidAttribute = "E0106"

	// E0107: Wrong number of operands for an operation
	ErrorInvalidArguments = "E0107"

	// Pipeline errors (E0600-E0699)

	// E0600: Control flow cannot be structured in a function that requires it
	ErrorLoopsNotSupported = "E0600"

	// E0601: Mutable references in a function that requires branch-free encoding
	ErrorMutableReferencesNotSupported = "E0601"

	// E0602: Function declared no_abort may abort
	ErrorMayAbort = "E0602"

	// E0603: Control flow other than loops prevents branch-free encoding
	ErrorControlFlowNotSupported = "E0603"

	// Internal errors (E0900-E0999)

	// E0900: Fixpoint iteration did not converge
	ErrorFixpointNotReached = "E0900"

	// Warning codes

	// W0600: Function has no reachable code after structuring
	WarningEmptyFunction = "W0600"

	// W0601: Temp is read where no definition of it reaches
	WarningUninitializedTemp = "W0601"
)

// GetErrorDescription returns a human-readable description of the error code
func GetErrorDescription(code string) string {
	switch code {
	case ErrorSyntax:
		return "Textual bytecode does not follow the expected syntax"
	case ErrorUndefinedTemp:
		return "Temp is used but not declared as parameter or local"
	case ErrorUndefinedLabel:
		return "Branch target label is not defined in the function"
	case ErrorUndefinedFunction:
		return "Called function is neither a builtin operation nor defined in the module"
	case ErrorDuplicateDeclaration:
		return "Name is declared more than once"
	case ErrorInvalidType:
		return "Type is not a known bytecode type"
	case ErrorInvalidAttribute:
		return "Attribute is not recognized"
	case ErrorInvalidArguments:
		return "Operation is called with the wrong number of operands"
	case ErrorLoopsNotSupported:
		return "Function requires structured, loop-free control flow"
	case ErrorMutableReferencesNotSupported:
		return "Function requires a reference-free encoding"
	case ErrorMayAbort:
		return "Function declared no_abort can abort"
	case ErrorControlFlowNotSupported:
		return "Function requires control flow that can be encoded without branches"
	case ErrorFixpointNotReached:
		return "Analysis over a recursive function group did not converge"
	case WarningEmptyFunction:
		return "Function body is empty"
	case WarningUninitializedTemp:
		return "Temp is read before any definition of it reaches the read"
	default:
		return "Unknown error"
	}
}
