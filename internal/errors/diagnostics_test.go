package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanso-prover/internal/source"
)

func TestUndefinedNameSuggestions(t *testing.T) {
	loc := source.NewLoc("m.kbc", 1, 5, 4)

	diag := UndefinedName(ErrorUndefinedLabel, "label", "Lels", loc, []string{"Lelse", "Lthen", "Lend"})
	assert.Equal(t, ErrorUndefinedLabel, diag.Code)
	assert.Equal(t, Error, diag.Level)
	require.Len(t, diag.Suggestions, 1)
	assert.Contains(t, diag.Suggestions[0].Message, "one of")
	assert.Contains(t, diag.Suggestions[0].Message, "Lelse")
	assert.Contains(t, diag.Suggestions[0].Message, "Lend")

	diag = UndefinedName(ErrorUndefinedFunction, "function", "completely_different", loc, []string{"f", "g"})
	assert.Empty(t, diag.Suggestions)
}

func TestDiagnosticsSink(t *testing.T) {
	sink := NewDiagnostics()
	assert.False(t, sink.HasErrors())

	sink.Add(NewWarning(WarningEmptyFunction, "empty", source.NewLoc("b.kbc", 3, 1, 1)).Build())
	assert.False(t, sink.HasErrors())

	sink.Add(MayAbort("M::f", source.NewLoc("a.kbc", 9, 1, 1)))
	sink.Add(NewBug(ErrorFixpointNotReached, "stuck", source.NoLoc).Build())
	sink.Add(MayAbort("M::g", source.NewLoc("a.kbc", 2, 1, 1)))

	assert.True(t, sink.HasErrors())
	assert.Equal(t, 4, sink.Len())
	assert.Equal(t, 2, sink.Count(Error))
	assert.Equal(t, 1, sink.Count(Bug))
	assert.Equal(t, 1, sink.Count(Warning))

	sorted := sink.Sorted()
	require.Len(t, sorted, 4)
	assert.Equal(t, "", sorted[0].Loc.Start.Filename)
	assert.Equal(t, 2, sorted[1].Loc.Start.Line)
	assert.Equal(t, 9, sorted[2].Loc.Start.Line)
	assert.Equal(t, "b.kbc", sorted[3].Loc.Start.Filename)

	// Sorting must not reorder the report order
	assert.Equal(t, WarningEmptyFunction, sink.All()[0].Code)
}

func TestBugIsError(t *testing.T) {
	assert.True(t, Bug.IsError())
	assert.True(t, Error.IsError())
	assert.False(t, Warning.IsError())
	assert.False(t, Note.IsError())
}

func TestDiagnosticError(t *testing.T) {
	diag := MayAbort("M::f", source.NewLoc("a.kbc", 4, 2, 1))
	assert.Equal(t, "error[E0602]: function 'M::f' is declared no_abort but may abort (a.kbc:4:2)", diag.Error())
}

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, levenshteinDistance("hello", "hello"))
	assert.Equal(t, 1, levenshteinDistance("hello", "hallo"))
	assert.Equal(t, 1, levenshteinDistance("hello", "helo"))
	assert.Equal(t, 5, levenshteinDistance("hello", ""))
	assert.Equal(t, 3, levenshteinDistance("kitten", "sitting"))
}

func TestSimilarNameFinding(t *testing.T) {
	candidates := []string{"balance", "amount", "total", "balanceOf", "xyz"}

	similar := findSimilarNames("balace", candidates)
	assert.Contains(t, similar, "balance")
	assert.NotContains(t, similar, "xyz")

	similar = findSimilarNames("verydifferent", candidates)
	assert.Empty(t, similar)
}
