package errors

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"kanso-prover/internal/source"
)

// ErrorLevel represents the severity of a diagnostic
type ErrorLevel string

const (
	Bug     ErrorLevel = "bug"
	Error   ErrorLevel = "error"
	Warning ErrorLevel = "warning"
	Note    ErrorLevel = "note"
	Help    ErrorLevel = "help"
)

// IsError reports whether diagnostics of this level stop the pipeline
func (l ErrorLevel) IsError() bool {
	return l == Bug || l == Error
}

// Diagnostic represents a structured problem report with suggestions and context
type Diagnostic struct {
	Level       ErrorLevel
	Code        string       // Error code like E0600
	Message     string       // Primary message
	Loc         source.Loc   // Location in source
	Suggestions []Suggestion // Suggested fixes
	Notes       []string     // Additional context notes
	HelpText    string       // Help text for the diagnostic
}

func (d Diagnostic) Error() string {
	if d.Code != "" {
		return fmt.Sprintf("%s[%s]: %s (%s)", d.Level, d.Code, d.Message, d.Loc)
	}
	return fmt.Sprintf("%s: %s (%s)", d.Level, d.Message, d.Loc)
}

// Suggestion represents a suggested fix
type Suggestion struct {
	Message     string     // Description of the suggestion
	Replacement string     // Suggested replacement text (optional)
	Loc         source.Loc // Position to apply the fix (optional)
}

// DiagnosticBuilder provides a fluent interface for creating diagnostics
type DiagnosticBuilder struct {
	diag Diagnostic
}

// NewError creates a new error diagnostic builder
func NewError(code, message string, loc source.Loc) *DiagnosticBuilder {
	return newBuilder(Error, code, message, loc)
}

// NewWarning creates a new warning diagnostic builder
func NewWarning(code, message string, loc source.Loc) *DiagnosticBuilder {
	return newBuilder(Warning, code, message, loc)
}

// NewBug creates a builder for internal errors
func NewBug(code, message string, loc source.Loc) *DiagnosticBuilder {
	return newBuilder(Bug, code, message, loc)
}

func newBuilder(level ErrorLevel, code, message string, loc source.Loc) *DiagnosticBuilder {
	return &DiagnosticBuilder{
		diag: Diagnostic{
			Level:   level,
			Code:    code,
			Message: message,
			Loc:     loc,
		},
	}
}

// WithSuggestion adds a suggestion to the diagnostic
func (b *DiagnosticBuilder) WithSuggestion(message string) *DiagnosticBuilder {
	b.diag.Suggestions = append(b.diag.Suggestions, Suggestion{Message: message})
	return b
}

// WithReplacement adds a suggestion with replacement text
func (b *DiagnosticBuilder) WithReplacement(message, replacement string, loc source.Loc) *DiagnosticBuilder {
	b.diag.Suggestions = append(b.diag.Suggestions, Suggestion{
		Message:     message,
		Replacement: replacement,
		Loc:         loc,
	})
	return b
}

// WithNote adds a note to the diagnostic
func (b *DiagnosticBuilder) WithNote(note string) *DiagnosticBuilder {
	b.diag.Notes = append(b.diag.Notes, note)
	return b
}

// WithHelp adds help text to the diagnostic
func (b *DiagnosticBuilder) WithHelp(help string) *DiagnosticBuilder {
	b.diag.HelpText = help
	return b
}

// Build returns the completed diagnostic
func (b *DiagnosticBuilder) Build() Diagnostic {
	return b.diag
}

// Diagnostics is the append-only sink shared by the loader and all pipeline passes
type Diagnostics struct {
	items []Diagnostic
}

// NewDiagnostics creates an empty diagnostic sink
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{}
}

// Add appends a diagnostic
func (d *Diagnostics) Add(diag Diagnostic) {
	d.items = append(d.items, diag)
}

// All returns the diagnostics in the order they were reported
func (d *Diagnostics) All() []Diagnostic {
	return d.items
}

// Len returns the number of diagnostics reported so far
func (d *Diagnostics) Len() int {
	return len(d.items)
}

// HasErrors reports whether any error or bug has been reported
func (d *Diagnostics) HasErrors() bool {
	for _, diag := range d.items {
		if diag.Level.IsError() {
			return true
		}
	}
	return false
}

// Count returns the number of diagnostics with the given level
func (d *Diagnostics) Count(level ErrorLevel) int {
	n := 0
	for _, diag := range d.items {
		if diag.Level == level {
			n++
		}
	}
	return n
}

// Sorted returns the diagnostics ordered by file and position
func (d *Diagnostics) Sorted() []Diagnostic {
	sorted := slices.Clone(d.items)
	slices.SortStableFunc(sorted, func(x, y Diagnostic) int {
		a, b := x.Loc.Start, y.Loc.Start
		switch {
		case a.Filename != b.Filename:
			return strings.Compare(a.Filename, b.Filename)
		case a.Line != b.Line:
			return a.Line - b.Line
		}
		return a.Column - b.Column
	})
	return sorted
}

// Common diagnostics raised by the loader

// UndefinedName creates an error for an unresolved temp, label or function
func UndefinedName(code, kind, name string, loc source.Loc, candidates []string) Diagnostic {
	builder := NewError(code, fmt.Sprintf("undefined %s '%s'", kind, name), loc)

	similar := findSimilarNames(name, candidates)
	if len(similar) == 1 {
		builder = builder.WithSuggestion(fmt.Sprintf("did you mean '%s'?", similar[0]))
	} else if len(similar) > 1 {
		builder = builder.WithSuggestion(fmt.Sprintf("did you mean one of: '%s'?", strings.Join(similar, "', '")))
	}

	return builder.Build()
}

// DuplicateDeclaration creates an error for duplicate declarations
func DuplicateDeclaration(kind, name string, loc source.Loc) Diagnostic {
	return NewError(ErrorDuplicateDeclaration, fmt.Sprintf("duplicate %s '%s'", kind, name), loc).
		WithNote("names must be unique within their function").
		Build()
}

// InvalidAttribute creates an error for unknown function attributes
func InvalidAttribute(name string, loc source.Loc, valid []string) Diagnostic {
	builder := NewError(ErrorInvalidAttribute, fmt.Sprintf("invalid attribute: %s", name), loc).
		WithHelp(fmt.Sprintf("attributes must be one of: #[%s]", strings.Join(valid, "], #[")))

	for _, candidate := range valid {
		if levenshteinDistance(name, candidate) <= 2 {
			builder = builder.WithSuggestion(fmt.Sprintf("did you mean '#[%s]'?", candidate))
		}
	}

	return builder.Build()
}

// InvalidArguments creates an error for operand count mismatches
func InvalidArguments(op string, expected, actual int, loc source.Loc) Diagnostic {
	return NewError(ErrorInvalidArguments,
		fmt.Sprintf("operation '%s' expects %d operands, got %d", op, expected, actual), loc).
		Build()
}

// Common diagnostics raised by pipeline passes

// LoopsNotSupported is reported when a function that must be branch-free cannot be structured
func LoopsNotSupported(function, requirement string, loc source.Loc) Diagnostic {
	return NewError(ErrorLoopsNotSupported,
		fmt.Sprintf("loops are not supported in %s function '%s'", requirement, function), loc).
		WithNote("only acyclic control flow without switches or stop can be encoded").
		Build()
}

// ControlFlowNotSupported is reported when a function that must be
// branch-free has acyclic control flow that still cannot be structured
func ControlFlowNotSupported(function, requirement, reason string, loc source.Loc) Diagnostic {
	return NewError(ErrorControlFlowNotSupported,
		fmt.Sprintf("control flow of %s function '%s' cannot be encoded without branches: %s", requirement, function, reason), loc).
		Build()
}

// MutableReferencesNotSupported is reported when a function that must be branch-free has &mut locals
func MutableReferencesNotSupported(function, requirement string, loc source.Loc) Diagnostic {
	return NewError(ErrorMutableReferencesNotSupported,
		fmt.Sprintf("mutable references are not supported in %s function '%s'", requirement, function), loc).
		Build()
}

// MayAbort is reported when a function declared no_abort can abort
func MayAbort(function string, loc source.Loc) Diagnostic {
	return NewError(ErrorMayAbort, fmt.Sprintf("function '%s' is declared no_abort but may abort", function), loc).
		WithHelp("remove the #[no_abort] attribute or eliminate aborting operations and calls").
		Build()
}

// UninitializedTemp is reported when a read of a local is reached by no write to it
func UninitializedTemp(function, temp string, loc source.Loc) Diagnostic {
	return NewWarning(WarningUninitializedTemp,
		fmt.Sprintf("'%s' is read before it is assigned in '%s'", temp, function), loc).
		WithNote("the value of an unassigned local is unconstrained in the generated conditions").
		Build()
}

// FixpointNotReached is reported when a recursive group does not stabilize
func FixpointNotReached(pass string, functions []string, rounds int) Diagnostic {
	return NewBug(ErrorFixpointNotReached,
		fmt.Sprintf("pass '%s' did not reach a fixpoint after %d rounds", pass, rounds), source.NoLoc).
		WithNote(fmt.Sprintf("recursive group: %s", strings.Join(functions, ", "))).
		Build()
}

func findSimilarNames(target string, candidates []string) []string {
	var similar []string

	for _, candidate := range candidates {
		if levenshteinDistance(target, candidate) <= 2 && len(candidate) > 2 {
			similar = append(similar, candidate)
		}
	}

	return similar
}

// Simple Levenshtein distance implementation for finding similar names
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}
