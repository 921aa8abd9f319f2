package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"kanso-prover/internal/source"
)

func TestErrorReporter(t *testing.T) {
	src := `module Test
fun f(c: bool) : u64 {
    x := add(y, 1);
    return x;
}`

	reporter := NewErrorReporter("test.kbc", src)

	diag := UndefinedName(ErrorUndefinedTemp, "temp", "y", source.NewLoc("test.kbc", 3, 14, 1), []string{"x", "c", "yy"})
	formatted := reporter.FormatError(diag)

	assert.Contains(t, formatted, "error["+ErrorUndefinedTemp+"]")
	assert.Contains(t, formatted, "undefined temp 'y'")
	assert.Contains(t, formatted, "test.kbc:3:14")
	assert.Contains(t, formatted, "x := add(y, 1);")
	assert.Contains(t, formatted, "fun f(c: bool) : u64 {")
}

func TestErrorReporterUsesReporterFilename(t *testing.T) {
	reporter := NewErrorReporter("fallback.kbc", "nop;")

	diag := NewError(ErrorSyntax, "unexpected token", source.NewLoc("", 1, 1, 3)).Build()
	formatted := reporter.FormatError(diag)

	assert.Contains(t, formatted, "fallback.kbc:1:1")
}

func TestErrorReporterUnknownLocation(t *testing.T) {
	reporter := NewErrorReporter("test.kbc", "nop;")

	diag := FixpointNotReached("noabort", []string{"M::a", "M::b"}, 7)
	formatted := reporter.FormatError(diag)

	assert.Contains(t, formatted, "bug["+ErrorFixpointNotReached+"]")
	assert.Contains(t, formatted, "after 7 rounds")
	assert.Contains(t, formatted, "M::a, M::b")
	assert.NotContains(t, formatted, "-->")
}

func TestWarningFormatting(t *testing.T) {
	reporter := NewErrorReporter("test.kbc", "fun f() {\n}")

	diag := NewWarning(WarningEmptyFunction, "function 'f' has no instructions", source.NewLoc("test.kbc", 1, 5, 1)).
		WithHelp("add a return instruction").
		Build()
	formatted := reporter.FormatError(diag)

	assert.Contains(t, formatted, "warning[W0600]")
	assert.Contains(t, formatted, "has no instructions")
	assert.Contains(t, formatted, "add a return instruction")
}

func TestSuggestionsAndNotes(t *testing.T) {
	reporter := NewErrorReporter("test.kbc", "#[pur]\nfun f() { return; }")

	diag := InvalidAttribute("pur", source.NewLoc("test.kbc", 1, 3, 3), []string{"verify", "pure", "no_abort"})
	formatted := reporter.FormatError(diag)

	assert.Contains(t, formatted, "did you mean '#[pure]'?")
	assert.Contains(t, formatted, "#[verify], #[pure], #[no_abort]")

	diag = LoopsNotSupported("M::f", "pure", source.NewLoc("test.kbc", 2, 5, 1))
	formatted = reporter.FormatError(diag)
	assert.Contains(t, formatted, "note:")
	assert.Contains(t, formatted, "acyclic control flow")
}

func TestUnderline(t *testing.T) {
	marker := styleFor(Error).underline(10, 5)

	assert.Equal(t, 9, strings.Count(marker, " "))
	assert.Equal(t, 5, strings.Count(marker, "^"))

	// zero length still points at the column
	marker = styleFor(Warning).underline(1, 0)
	assert.Equal(t, 1, strings.Count(marker, "^"))
}

func TestErrorLevels(t *testing.T) {
	reporter := NewErrorReporter("test.kbc", "test")
	loc := source.NewLoc("test.kbc", 1, 1, 4)

	errorDiag := Diagnostic{Level: Error, Message: "test error", Loc: loc}
	warningDiag := Diagnostic{Level: Warning, Message: "test warning", Loc: loc}

	assert.Contains(t, reporter.FormatError(errorDiag), "error")
	assert.Contains(t, reporter.FormatError(warningDiag), "warning")
	assert.Contains(t, reporter.FormatError(errorDiag), "test error")
}

type sources map[string]string

func (s sources) Source(filename string) (string, bool) {
	content, ok := s[filename]
	return content, ok
}

func TestReporterOverSeveralFiles(t *testing.T) {
	reporter := NewReporter(sources{
		"a.kbc": "module A\nfun f() { nop; }",
		"b.kbc": "module B\nfun g() { abort 1; }",
	}, "a.kbc")

	first := reporter.FormatError(NewError(ErrorSyntax, "first", source.NewLoc("a.kbc", 2, 11, 4)).Build())
	second := reporter.FormatError(NewError(ErrorSyntax, "second", source.NewLoc("b.kbc", 2, 11, 8)).Build())

	assert.Contains(t, first, "fun f() { nop; }")
	assert.NotContains(t, first, "abort 1")
	assert.Contains(t, second, "fun g() { abort 1; }")
	assert.Contains(t, second, "b.kbc:2:11")
}

func TestReporterWithoutSourceText(t *testing.T) {
	reporter := NewReporter(sources{}, "missing.kbc")

	formatted := reporter.FormatError(NewError(ErrorSyntax, "oops", source.NewLoc("missing.kbc", 4, 2, 1)).Build())

	assert.Contains(t, formatted, "missing.kbc:4:2")
	assert.NotContains(t, formatted, "^")
}

func TestReportSummary(t *testing.T) {
	reporter := NewErrorReporter("test.kbc", "nop;")
	loc := source.NewLoc("test.kbc", 1, 1, 3)

	var out strings.Builder
	err := reporter.Report(&out, []Diagnostic{
		NewError(ErrorSyntax, "one", loc).Build(),
		NewError(ErrorSyntax, "two", loc).Build(),
		NewWarning(WarningEmptyFunction, "three", loc).Build(),
	})

	assert.NoError(t, err)
	assert.Contains(t, out.String(), "2 errors")
	assert.Contains(t, out.String(), "1 warning")
	assert.Contains(t, out.String(), "emitted")
	assert.Empty(t, Summary(0, 0))
}
